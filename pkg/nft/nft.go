package nft

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/pointer"
	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/solana/metadata"
	"github.com/code-payments/nft-minter/pkg/solana/token"
)

// mintNFT mints a single token into the token account, then attaches
// metadata and a master edition with no prints. Metadata and edition are
// only created once the token has been minted.
func (m *Minter) mintNFT(ctx context.Context, result *Result) error {
	if err := m.mintTo(ctx, result); err != nil {
		return err
	}
	if err := m.createMetadata(ctx, result); err != nil {
		return err
	}
	return m.createMasterEdition(ctx, result)
}

func (m *Minter) mintTo(ctx context.Context, result *Result) error {
	sig, err := m.submit(ctx, step{
		stage: StageMintTo,
		instructions: []solana.Instruction{
			token.MintTo(result.Mint, result.TokenAccount, result.Wallet, 1),
		},
		landed: func() (bool, error) {
			balance, err := m.client.GetTokenAccountBalance(result.TokenAccount, m.commitment)
			if err != nil {
				return false, err
			}
			return balance > 0, nil
		},
	})
	if err != nil {
		return err
	}

	result.Minted = true
	result.Signatures[StageMintTo] = sig

	if !m.cfg.Verify {
		return nil
	}

	balance, err := m.client.GetTokenAccountBalance(result.TokenAccount, m.commitment)
	if err != nil {
		return newStageError(StageMintTo, errors.Wrap(err, "failed to read token balance"))
	}
	if balance != 1 {
		return newStageError(StageMintTo, errors.Wrapf(errVerificationFailed, "token account holds %d tokens", balance))
	}

	return nil
}

func (m *Minter) creators(wallet ed25519.PublicKey) ([]metadata.Creator, error) {
	if len(m.cfg.Creators) == 0 {
		return []metadata.Creator{
			{Address: wallet, Verified: true, Share: 100},
		}, nil
	}

	creators := make([]metadata.Creator, len(m.cfg.Creators))
	for i, c := range m.cfg.Creators {
		address, err := base58.Decode(c.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid creator address %q", c.Address)
		}

		creators[i] = metadata.Creator{
			Address:  address,
			Verified: bytes.Equal(address, wallet),
			Share:    c.Share,
		}
	}
	return creators, nil
}

func (m *Minter) createMetadata(ctx context.Context, result *Result) error {
	address, _, err := metadata.GetMetadataAddress(result.Mint)
	if err != nil {
		return &StageError{Stage: StageMetadata, Kind: KindUnknown, Err: errors.Wrap(err, "failed to derive metadata address")}
	}

	creators, err := m.creators(result.Wallet)
	if err != nil {
		return &StageError{Stage: StageMetadata, Kind: KindUnknown, Err: err}
	}

	sig, err := m.submit(ctx, step{
		stage: StageMetadata,
		instructions: []solana.Instruction{
			metadata.NewCreateMetadataAccountV3Instruction(
				&metadata.CreateMetadataAccountV3InstructionAccounts{
					Metadata:        address,
					Mint:            result.Mint,
					MintAuthority:   result.Wallet,
					Payer:           result.Wallet,
					UpdateAuthority: result.Wallet,
				},
				&metadata.CreateMetadataAccountV3InstructionArgs{
					Data: metadata.DataV2{
						Name:                 m.cfg.Name,
						Symbol:               m.cfg.Symbol,
						URI:                  m.cfg.URI,
						SellerFeeBasisPoints: m.cfg.SellerFeeBasisPoints,
						Creators:             creators,
					},
					IsMutable: m.cfg.IsMutable,
				},
			),
		},
		landed: m.accountExists(address),
	})
	if err != nil {
		return err
	}

	result.Metadata = address
	result.Signatures[StageMetadata] = sig

	if !m.cfg.Verify {
		return nil
	}

	info, err := m.client.GetAccountInfo(address, m.commitment)
	if err != nil {
		return newStageError(StageMetadata, errors.Wrap(err, "failed to read metadata"))
	}

	var md metadata.Metadata
	if err := md.Unmarshal(info.Data); err != nil {
		return newStageError(StageMetadata, errors.Wrapf(errVerificationFailed, "invalid metadata account: %v", err))
	}
	if md.Data.Name != m.cfg.Name || md.Data.Symbol != m.cfg.Symbol || md.Data.URI != m.cfg.URI {
		return newStageError(StageMetadata, errors.Wrap(errVerificationFailed, "metadata does not match configuration"))
	}
	if !bytes.Equal(md.UpdateAuthority, result.Wallet) || !bytes.Equal(md.Mint, result.Mint) {
		return newStageError(StageMetadata, errors.Wrap(errVerificationFailed, "metadata authority or mint mismatch"))
	}

	return nil
}

func (m *Minter) createMasterEdition(ctx context.Context, result *Result) error {
	address, _, err := metadata.GetMasterEditionAddress(result.Mint)
	if err != nil {
		return &StageError{Stage: StageMasterEdition, Kind: KindUnknown, Err: errors.Wrap(err, "failed to derive edition address")}
	}

	sig, err := m.submit(ctx, step{
		stage: StageMasterEdition,
		instructions: []solana.Instruction{
			metadata.NewCreateMasterEditionV3Instruction(
				&metadata.CreateMasterEditionV3InstructionAccounts{
					Edition:         address,
					Mint:            result.Mint,
					UpdateAuthority: result.Wallet,
					MintAuthority:   result.Wallet,
					Payer:           result.Wallet,
					Metadata:        result.Metadata,
				},
				&metadata.CreateMasterEditionV3InstructionArgs{
					MaxSupply: pointer.Uint64(0),
				},
			),
		},
		landed: m.accountExists(address),
	})
	if err != nil {
		return err
	}

	result.MasterEdition = address
	result.Signatures[StageMasterEdition] = sig

	if !m.cfg.Verify {
		return nil
	}

	info, err := m.client.GetAccountInfo(address, m.commitment)
	if err != nil {
		return newStageError(StageMasterEdition, errors.Wrap(err, "failed to read master edition"))
	}

	var edition metadata.MasterEdition
	if err := edition.Unmarshal(info.Data); err != nil {
		return newStageError(StageMasterEdition, errors.Wrapf(errVerificationFailed, "invalid master edition account: %v", err))
	}
	if edition.MaxSupply == nil || *edition.MaxSupply != 0 {
		return newStageError(StageMasterEdition, errors.Wrap(errVerificationFailed, "master edition allows prints"))
	}

	mint, err := m.tokens.GetMint(result.Mint, m.commitment)
	if err != nil {
		return newStageError(StageMasterEdition, errors.Wrap(err, "failed to read mint"))
	}
	if mint.Supply != 1 || !bytes.Equal(mint.MintAuthority, address) {
		return newStageError(StageMasterEdition, errors.Wrap(errVerificationFailed, "mint authority was not transferred to the edition"))
	}

	return nil
}

func (m *Minter) accountExists(address ed25519.PublicKey) func() (bool, error) {
	return func() (bool, error) {
		_, err := m.client.GetAccountInfo(address, m.commitment)
		return landed(err, solana.ErrNoAccountInfo)
	}
}
