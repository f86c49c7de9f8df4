package nft

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/solana/system"
	"github.com/code-payments/nft-minter/pkg/solana/token"
)

// createMint creates and initializes a mint with the wallet as its mint and
// freeze authority.
func (m *Minter) createMint(ctx context.Context, result *Result) error {
	mintKey, err := newKeypair()
	if err != nil {
		return &StageError{Stage: StageMint, Kind: KindUnknown, Err: err}
	}
	mint := mintKey.Public().(ed25519.PublicKey)

	lamports, err := m.client.GetMinimumBalanceForRentExemption(token.MintSize)
	if err != nil {
		return newStageError(StageMint, errors.Wrap(err, "failed to get rent exemption"))
	}

	sig, err := m.submit(ctx, step{
		stage:   StageMint,
		signers: []ed25519.PrivateKey{mintKey},
		instructions: []solana.Instruction{
			system.CreateAccount(result.Wallet, mint, token.ProgramKey, lamports, token.MintSize),
			token.InitializeMint(mint, result.Wallet, result.Wallet, m.cfg.Decimals),
		},
		landed: func() (bool, error) {
			_, err := m.tokens.GetMint(mint, m.commitment)
			return landed(err, token.ErrAccountNotFound, token.ErrInvalidMint)
		},
	})
	if err != nil {
		return err
	}

	result.Mint = mint
	result.Signatures[StageMint] = sig

	if !m.cfg.Verify {
		return nil
	}

	state, err := m.tokens.GetMint(mint, m.commitment)
	if err != nil {
		return newStageError(StageMint, errors.Wrap(err, "failed to read mint"))
	}
	if state.Decimals != m.cfg.Decimals {
		return newStageError(StageMint, errors.Wrapf(errVerificationFailed, "mint has %d decimals", state.Decimals))
	}
	if !bytes.Equal(state.MintAuthority, result.Wallet) {
		return newStageError(StageMint, errors.Wrap(errVerificationFailed, "mint authority is not the wallet"))
	}

	return nil
}

// landed interprets the result of reading back a step's effects. Any of
// absent indicates the step has not landed.
func landed(err error, absent ...error) (bool, error) {
	if err == nil {
		return true, nil
	}
	for _, a := range absent {
		if errors.Is(err, a) {
			return false, nil
		}
	}
	return false, err
}
