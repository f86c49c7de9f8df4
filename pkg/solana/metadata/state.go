package metadata

import (
	"crypto/ed25519"
	"strings"

	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/pointer"
)

type Key uint8

const (
	KeyUninitialized Key = iota
	KeyEditionV1
	KeyMasterEditionV1
	KeyReservationListV1
	KeyMetadataV1
	KeyReservationListV2
	KeyMasterEditionV2
	KeyEditionMarker
)

type TokenStandard uint8

const (
	TokenStandardNonFungible TokenStandard = iota
	TokenStandardFungibleAsset
	TokenStandardFungible
	TokenStandardNonFungibleEdition
	TokenStandardProgrammableNonFungible
)

// MetadataAccountSize is the fixed size the program allocates for metadata.
const MetadataAccountSize = 679

const MasterEditionAccountSize = 282

// Fixed string widths the program pads metadata fields to.
const (
	paddedNameLength   = MaxNameLength
	paddedSymbolLength = MaxSymbolLength
	paddedURILength    = MaxURILength
)

type Metadata struct {
	Key             Key
	UpdateAuthority ed25519.PublicKey
	Mint            ed25519.PublicKey
	Data            DataV2

	PrimarySaleHappened bool
	IsMutable           bool
	EditionNonce        *uint8
	TokenStandard       *TokenStandard

	CollectionDetailsSize *uint64
}

// Marshal encodes the metadata the way the program stores it, with string
// fields padded and the account zero filled to MetadataAccountSize.
func (m *Metadata) Marshal() []byte {
	w := &writer{b: make([]byte, 0, MetadataAccountSize)}

	w.u8(uint8(m.Key))
	w.key(m.UpdateAuthority)
	w.key(m.Mint)
	w.string(pad(m.Data.Name, paddedNameLength))
	w.string(pad(m.Data.Symbol, paddedSymbolLength))
	w.string(pad(m.Data.URI, paddedURILength))
	w.u16(m.Data.SellerFeeBasisPoints)
	if m.Data.Creators != nil {
		w.u8(1)
		w.u32(uint32(len(m.Data.Creators)))
		for _, c := range m.Data.Creators {
			w.key(c.Address)
			w.bool(c.Verified)
			w.u8(c.Share)
		}
	} else {
		w.u8(0)
	}
	w.bool(m.PrimarySaleHappened)
	w.bool(m.IsMutable)
	if m.EditionNonce != nil {
		w.u8(1)
		w.u8(*m.EditionNonce)
	} else {
		w.u8(0)
	}
	if m.TokenStandard != nil {
		w.u8(1)
		w.u8(uint8(*m.TokenStandard))
	} else {
		w.u8(0)
	}
	if m.Data.Collection != nil {
		w.u8(1)
		w.bool(m.Data.Collection.Verified)
		w.key(m.Data.Collection.Key)
	} else {
		w.u8(0)
	}
	if m.Data.Uses != nil {
		w.u8(1)
		w.u8(m.Data.Uses.UseMethod)
		w.u64(m.Data.Uses.Remaining)
		w.u64(m.Data.Uses.Total)
	} else {
		w.u8(0)
	}
	if m.CollectionDetailsSize != nil {
		w.u8(1)
		w.u8(0)
		w.u64(*m.CollectionDetailsSize)
	} else {
		w.u8(0)
	}
	// programmable config
	w.u8(0)

	if len(w.b) < MetadataAccountSize {
		w.b = append(w.b, make([]byte, MetadataAccountSize-len(w.b))...)
	}
	return w.b
}

// Unmarshal decodes a metadata account. Padding is trimmed from string
// fields. Trailing optional fields absent from older accounts are left unset.
func (m *Metadata) Unmarshal(b []byte) error {
	r := &reader{b: b}

	m.Key = Key(r.u8())
	if r.err == nil && m.Key != KeyMetadataV1 {
		return errors.Wrapf(ErrInvalidAccountData, "unexpected key %d", m.Key)
	}
	m.UpdateAuthority = r.key()
	m.Mint = r.key()
	m.Data = readDataV2Prefix(r)
	m.PrimarySaleHappened = r.bool()
	m.IsMutable = r.bool()
	if r.err != nil {
		return errors.Wrap(ErrInvalidAccountData, r.err.Error())
	}

	if r.off < len(b) && r.option() {
		m.EditionNonce = pointer.Uint8(r.u8())
	}
	if r.off < len(b) && r.option() {
		standard := TokenStandard(r.u8())
		m.TokenStandard = &standard
	}
	if r.off < len(b) && r.option() {
		m.Data.Collection = &Collection{
			Verified: r.bool(),
			Key:      r.key(),
		}
	}
	if r.off < len(b) && r.option() {
		m.Data.Uses = &Uses{
			UseMethod: r.u8(),
			Remaining: r.u64(),
			Total:     r.u64(),
		}
	}
	if r.off < len(b) && r.option() {
		r.u8()
		m.CollectionDetailsSize = pointer.Uint64(r.u64())
	}
	if r.err != nil {
		return errors.Wrap(ErrInvalidAccountData, r.err.Error())
	}

	return nil
}

// readDataV2Prefix reads the Data struct as stored in the account, which
// omits collection and uses; those follow later in the layout.
func readDataV2Prefix(r *reader) DataV2 {
	var d DataV2
	d.Name = trim(r.string())
	d.Symbol = trim(r.string())
	d.URI = trim(r.string())
	d.SellerFeeBasisPoints = r.u16()
	if r.option() {
		n := r.u32()
		if n > MaxCreatorLimit && r.err == nil {
			r.err = errors.Errorf("too many creators: %d", n)
			return d
		}
		d.Creators = make([]Creator, 0, n)
		for j := uint32(0); j < n && r.err == nil; j++ {
			d.Creators = append(d.Creators, Creator{
				Address:  r.key(),
				Verified: r.bool(),
				Share:    r.u8(),
			})
		}
	}
	return d
}

type MasterEdition struct {
	Key       Key
	Supply    uint64
	MaxSupply *uint64
}

func (e *MasterEdition) Marshal() []byte {
	w := &writer{b: make([]byte, 0, MasterEditionAccountSize)}
	w.u8(uint8(e.Key))
	w.u64(e.Supply)
	if e.MaxSupply != nil {
		w.u8(1)
		w.u64(*e.MaxSupply)
	} else {
		w.u8(0)
	}
	w.b = append(w.b, make([]byte, MasterEditionAccountSize-len(w.b))...)
	return w.b
}

func (e *MasterEdition) Unmarshal(b []byte) error {
	r := &reader{b: b}
	e.Key = Key(r.u8())
	if r.err == nil && e.Key != KeyMasterEditionV2 {
		return errors.Wrapf(ErrInvalidAccountData, "unexpected key %d", e.Key)
	}
	e.Supply = r.u64()
	e.MaxSupply = nil
	if r.option() {
		e.MaxSupply = pointer.Uint64(r.u64())
	}
	if r.err != nil {
		return errors.Wrap(ErrInvalidAccountData, r.err.Error())
	}
	return nil
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("\x00", n-len(s))
}

func trim(s string) string {
	return strings.TrimRight(s, "\x00")
}
