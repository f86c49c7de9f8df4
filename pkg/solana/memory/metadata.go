package memory

import (
	"bytes"

	"github.com/code-payments/nft-minter/pkg/pointer"
	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/solana/metadata"
)

func (l *Ledger) executeMetadata(m solana.Message, index int) error {
	data := m.Instructions[index].Data
	if len(data) == 0 {
		return errInvalidInstructionData
	}

	switch metadata.Command(data[0]) {
	case metadata.CommandCreateMetadataAccountV3:
		create, err := metadata.DecompileCreateMetadataAccountV3(m, index)
		if err != nil {
			return errInvalidInstructionData
		}
		if !isSigner(m, create.MintAuthority) || !isSigner(m, create.Payer) {
			return errMissingRequiredSignature
		}
		return l.createMetadata(m, create)
	case metadata.CommandCreateMasterEditionV3:
		create, err := metadata.DecompileCreateMasterEditionV3(m, index)
		if err != nil {
			return errInvalidInstructionData
		}
		if !isSigner(m, create.MintAuthority) || !isSigner(m, create.UpdateAuthority) || !isSigner(m, create.Payer) {
			return errMissingRequiredSignature
		}
		return l.createMasterEdition(create)
	default:
		return errInvalidInstructionData
	}
}

func (l *Ledger) createMetadata(m solana.Message, create *metadata.DecompiledCreateMetadataAccountV3) error {
	expected, _, err := metadata.GetMetadataAddress(create.Mint)
	if err != nil || !bytes.Equal(expected, create.Metadata) {
		return errInvalidArgument
	}
	_, editionNonce, err := metadata.GetMasterEditionAddress(create.Mint)
	if err != nil {
		return errInvalidArgument
	}

	mint, ok := l.mint(create.Mint)
	if !ok {
		return errUninitializedAccount
	}
	if !bytes.Equal(mint.MintAuthority, create.MintAuthority) {
		return errInvalidAccountData
	}
	if err := validateData(m, &create.Data); err != nil {
		return err
	}
	if _, exists := l.accounts[string(create.Metadata)]; exists {
		return errAccountAlreadyInitialized
	}

	standard := metadata.TokenStandardFungible
	if mint.Decimals == 0 {
		standard = metadata.TokenStandardFungibleAsset
	}

	md := &metadata.Metadata{
		Key:                   metadata.KeyMetadataV1,
		UpdateAuthority:       create.UpdateAuthority,
		Mint:                  create.Mint,
		Data:                  create.Data,
		IsMutable:             create.IsMutable,
		EditionNonce:          pointer.Uint8(editionNonce),
		TokenStandard:         &standard,
		CollectionDetailsSize: create.CollectionDetailsSize,
	}

	if err := l.createAccount(create.Payer, create.Metadata, metadata.ProgramKey, RentExemption(metadata.MetadataAccountSize), metadata.MetadataAccountSize); err != nil {
		return err
	}
	l.accounts[string(create.Metadata)].Data = md.Marshal()
	return nil
}

func validateData(m solana.Message, data *metadata.DataV2) error {
	if len(data.Name) > metadata.MaxNameLength ||
		len(data.Symbol) > metadata.MaxSymbolLength ||
		len(data.URI) > metadata.MaxURILength ||
		data.SellerFeeBasisPoints > metadata.MaxSellerFeeBasisPoints {
		return errInvalidArgument
	}

	if data.Creators == nil {
		return nil
	}
	if len(data.Creators) == 0 || len(data.Creators) > metadata.MaxCreatorLimit {
		return errInvalidArgument
	}

	var total int
	seen := make(map[string]struct{})
	for _, c := range data.Creators {
		if _, ok := seen[string(c.Address)]; ok {
			return errInvalidArgument
		}
		seen[string(c.Address)] = struct{}{}

		if c.Verified && !isSigner(m, c.Address) {
			return errMissingRequiredSignature
		}
		total += int(c.Share)
	}
	if total != 100 {
		return errInvalidArgument
	}
	return nil
}

func (l *Ledger) createMasterEdition(create *metadata.DecompiledCreateMasterEditionV3) error {
	expectedEdition, _, err := metadata.GetMasterEditionAddress(create.Mint)
	if err != nil || !bytes.Equal(expectedEdition, create.Edition) {
		return errInvalidArgument
	}
	expectedMetadata, _, err := metadata.GetMetadataAddress(create.Mint)
	if err != nil || !bytes.Equal(expectedMetadata, create.Metadata) {
		return errInvalidArgument
	}

	metadataInfo, ok := l.accounts[string(create.Metadata)]
	if !ok || !bytes.Equal(metadataInfo.Owner, metadata.ProgramKey) {
		return errUninitializedAccount
	}
	var md metadata.Metadata
	if err := md.Unmarshal(metadataInfo.Data); err != nil {
		return errInvalidAccountData
	}
	if !bytes.Equal(md.UpdateAuthority, create.UpdateAuthority) || !bytes.Equal(md.Mint, create.Mint) {
		return errInvalidAccountData
	}

	mint, ok := l.mint(create.Mint)
	if !ok {
		return errUninitializedAccount
	}
	if !bytes.Equal(mint.MintAuthority, create.MintAuthority) {
		return errInvalidAccountData
	}
	// Editions must be indivisible and backed by exactly one token.
	if mint.Decimals != 0 || mint.Supply != 1 {
		return errInvalidArgument
	}
	if _, exists := l.accounts[string(create.Edition)]; exists {
		return errAccountAlreadyInitialized
	}

	if err := l.createAccount(create.Payer, create.Edition, metadata.ProgramKey, RentExemption(metadata.MasterEditionAccountSize), metadata.MasterEditionAccountSize); err != nil {
		return err
	}
	edition := &metadata.MasterEdition{
		Key:       metadata.KeyMasterEditionV2,
		MaxSupply: pointer.Uint64Copy(create.MaxSupply),
	}
	l.accounts[string(create.Edition)].Data = edition.Marshal()

	mint.MintAuthority = create.Edition
	mint.FreezeAuthority = create.Edition
	l.accounts[string(create.Mint)].Data = mint.Marshal()

	standard := metadata.TokenStandardNonFungible
	md.TokenStandard = &standard
	metadataInfo.Data = md.Marshal()
	return nil
}
