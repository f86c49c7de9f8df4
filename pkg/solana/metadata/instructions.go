package metadata

import (
	"bytes"
	"crypto/ed25519"

	"github.com/blocto/solana-go-sdk/program/metaplex/token_metadata"
	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/pointer"
	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/solana/system"
	"github.com/code-payments/nft-minter/pkg/solana/token"
)

type Creator struct {
	Address  ed25519.PublicKey
	Verified bool
	Share    uint8
}

type Collection struct {
	Verified bool
	Key      ed25519.PublicKey
}

type Uses struct {
	UseMethod uint8
	Remaining uint64
	Total     uint64
}

// DataV2 is the user supplied portion of a metadata account.
type DataV2 struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             []Creator
	Collection           *Collection
	Uses                 *Uses
}

type CreateMetadataAccountV3InstructionAccounts struct {
	Metadata        ed25519.PublicKey
	Mint            ed25519.PublicKey
	MintAuthority   ed25519.PublicKey
	Payer           ed25519.PublicKey
	UpdateAuthority ed25519.PublicKey
}

type CreateMetadataAccountV3InstructionArgs struct {
	Data      DataV2
	IsMutable bool
}

// NewCreateMetadataAccountV3Instruction creates the metadata account for a
// mint. The update authority is required to sign.
func NewCreateMetadataAccountV3Instruction(
	accounts *CreateMetadataAccountV3InstructionAccounts,
	args *CreateMetadataAccountV3InstructionArgs,
) solana.Instruction {
	data := token_metadata.DataV2{
		Name:                 args.Data.Name,
		Symbol:               args.Data.Symbol,
		Uri:                  args.Data.URI,
		SellerFeeBasisPoints: args.Data.SellerFeeBasisPoints,
	}
	if len(args.Data.Creators) > 0 {
		creators := make([]token_metadata.Creator, len(args.Data.Creators))
		for i, c := range args.Data.Creators {
			creators[i] = token_metadata.Creator{
				Address:  toPublicKey(c.Address),
				Verified: c.Verified,
				Share:    c.Share,
			}
		}
		data.Creators = &creators
	}
	if args.Data.Collection != nil {
		data.Collection = &token_metadata.Collection{
			Verified: args.Data.Collection.Verified,
			Key:      toPublicKey(args.Data.Collection.Key),
		}
	}
	if args.Data.Uses != nil {
		data.Uses = &token_metadata.Uses{
			UseMethod: token_metadata.UseMethod(args.Data.Uses.UseMethod),
			Remaining: args.Data.Uses.Remaining,
			Total:     args.Data.Uses.Total,
		}
	}

	return toInstruction(token_metadata.CreateMetadataAccountV3(token_metadata.CreateMetadataAccountV3Param{
		Metadata:                toPublicKey(accounts.Metadata),
		Mint:                    toPublicKey(accounts.Mint),
		MintAuthority:           toPublicKey(accounts.MintAuthority),
		Payer:                   toPublicKey(accounts.Payer),
		UpdateAuthority:         toPublicKey(accounts.UpdateAuthority),
		UpdateAuthorityIsSigner: true,
		IsMutable:               args.IsMutable,
		Data:                    data,
	}))
}

type DecompiledCreateMetadataAccountV3 struct {
	CreateMetadataAccountV3InstructionAccounts
	CreateMetadataAccountV3InstructionArgs

	UpdateAuthorityIsSigner bool
	CollectionDetailsSize   *uint64
}

func DecompileCreateMetadataAccountV3(m solana.Message, index int) (*DecompiledCreateMetadataAccountV3, error) {
	i, err := instructionAt(m, index, CommandCreateMetadataAccountV3)
	if err != nil {
		return nil, err
	}

	if len(i.Accounts) < 6 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if !bytes.Equal(m.Accounts[i.Accounts[5]], system.ProgramKey[:]) {
		return nil, errors.New("system program key mismatch")
	}

	v := &DecompiledCreateMetadataAccountV3{
		CreateMetadataAccountV3InstructionAccounts: CreateMetadataAccountV3InstructionAccounts{
			Metadata:        m.Accounts[i.Accounts[0]],
			Mint:            m.Accounts[i.Accounts[1]],
			MintAuthority:   m.Accounts[i.Accounts[2]],
			Payer:           m.Accounts[i.Accounts[3]],
			UpdateAuthority: m.Accounts[i.Accounts[4]],
		},
		UpdateAuthorityIsSigner: m.IsSigner(int(i.Accounts[4])),
	}

	r := &reader{b: i.Data, off: 1}
	v.Data = readDataV2(r)
	v.IsMutable = r.bool()
	if r.option() {
		// CollectionDetails::V1 { size: u64 }
		if variant := r.u8(); variant != 0 && r.err == nil {
			return nil, errors.Wrapf(ErrInvalidInstructionData, "unknown collection details variant %d", variant)
		}
		size := r.u64()
		v.CollectionDetailsSize = &size
	}

	if r.err != nil {
		return nil, errors.Wrap(ErrInvalidInstructionData, r.err.Error())
	}
	if r.off != len(i.Data) {
		return nil, errors.Wrapf(ErrInvalidInstructionData, "%d trailing bytes", len(i.Data)-r.off)
	}

	return v, nil
}

func readDataV2(r *reader) DataV2 {
	var d DataV2
	d.Name = r.string()
	d.Symbol = r.string()
	d.URI = r.string()
	d.SellerFeeBasisPoints = r.u16()
	if r.option() {
		n := r.u32()
		for j := uint32(0); j < n && r.err == nil; j++ {
			d.Creators = append(d.Creators, Creator{
				Address:  r.key(),
				Verified: r.bool(),
				Share:    r.u8(),
			})
		}
	}
	if r.option() {
		d.Collection = &Collection{
			Verified: r.bool(),
			Key:      r.key(),
		}
	}
	if r.option() {
		d.Uses = &Uses{
			UseMethod: r.u8(),
			Remaining: r.u64(),
			Total:     r.u64(),
		}
	}
	return d
}

type CreateMasterEditionV3InstructionAccounts struct {
	Edition         ed25519.PublicKey
	Mint            ed25519.PublicKey
	UpdateAuthority ed25519.PublicKey
	MintAuthority   ed25519.PublicKey
	Payer           ed25519.PublicKey
	Metadata        ed25519.PublicKey
}

type CreateMasterEditionV3InstructionArgs struct {
	// MaxSupply of nil allows unlimited prints; 0 makes the edition unique.
	MaxSupply *uint64
}

// NewCreateMasterEditionV3Instruction upgrades a mint with supply 1 into a
// master edition, moving its mint and freeze authorities to the edition.
func NewCreateMasterEditionV3Instruction(
	accounts *CreateMasterEditionV3InstructionAccounts,
	args *CreateMasterEditionV3InstructionArgs,
) solana.Instruction {
	ixn := toInstruction(token_metadata.CreateMasterEditionV3(token_metadata.CreateMasterEditionParam{
		Edition:         toPublicKey(accounts.Edition),
		Mint:            toPublicKey(accounts.Mint),
		UpdateAuthority: toPublicKey(accounts.UpdateAuthority),
		MintAuthority:   toPublicKey(accounts.MintAuthority),
		Metadata:        toPublicKey(accounts.Metadata),
		Payer:           toPublicKey(accounts.Payer),
		MaxSupply:       args.MaxSupply,
	}))

	// The program writes the edition, the mint authorities and the metadata
	// token standard.
	for i, a := range ixn.Accounts {
		if bytes.Equal(a.PublicKey, accounts.Edition) || bytes.Equal(a.PublicKey, accounts.Mint) || bytes.Equal(a.PublicKey, accounts.Metadata) {
			ixn.Accounts[i].IsWritable = true
		}
	}
	return ixn
}

type DecompiledCreateMasterEditionV3 struct {
	CreateMasterEditionV3InstructionAccounts
	CreateMasterEditionV3InstructionArgs
}

func DecompileCreateMasterEditionV3(m solana.Message, index int) (*DecompiledCreateMasterEditionV3, error) {
	i, err := instructionAt(m, index, CommandCreateMasterEditionV3)
	if err != nil {
		return nil, err
	}

	if len(i.Accounts) < 8 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if !bytes.Equal(m.Accounts[i.Accounts[6]], token.ProgramKey) {
		return nil, errors.New("token program key mismatch")
	}
	if !bytes.Equal(m.Accounts[i.Accounts[7]], system.ProgramKey[:]) {
		return nil, errors.New("system program key mismatch")
	}

	v := &DecompiledCreateMasterEditionV3{
		CreateMasterEditionV3InstructionAccounts: CreateMasterEditionV3InstructionAccounts{
			Edition:         m.Accounts[i.Accounts[0]],
			Mint:            m.Accounts[i.Accounts[1]],
			UpdateAuthority: m.Accounts[i.Accounts[2]],
			MintAuthority:   m.Accounts[i.Accounts[3]],
			Payer:           m.Accounts[i.Accounts[4]],
			Metadata:        m.Accounts[i.Accounts[5]],
		},
	}

	r := &reader{b: i.Data, off: 1}
	if r.option() {
		v.MaxSupply = pointer.Uint64(r.u64())
	}
	if r.err != nil {
		return nil, errors.Wrap(ErrInvalidInstructionData, r.err.Error())
	}
	if r.off != len(i.Data) {
		return nil, errors.Wrapf(ErrInvalidInstructionData, "%d trailing bytes", len(i.Data)-r.off)
	}

	return v, nil
}

func instructionAt(m solana.Message, index int, command Command) (solana.CompiledInstruction, error) {
	if index >= len(m.Instructions) {
		return solana.CompiledInstruction{}, errors.Errorf("instruction doesn't exist at %d", index)
	}

	i := m.Instructions[index]
	if !bytes.Equal(m.Accounts[i.ProgramIndex], ProgramKey) {
		return i, solana.ErrIncorrectProgram
	}
	if len(i.Data) == 0 || Command(i.Data[0]) != command {
		return i, solana.ErrIncorrectInstruction
	}

	return i, nil
}
