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

// createTokenAccount creates a token account for the mint, owned by the
// wallet. Depending on configuration it is either a fresh keypair account or
// the wallet's associated token account.
func (m *Minter) createTokenAccount(ctx context.Context, result *Result) error {
	var s step
	var account ed25519.PublicKey

	if m.cfg.UseAssociatedTokenAccount {
		instruction, address, err := token.CreateAssociatedTokenAccountIdempotent(result.Wallet, result.Wallet, result.Mint)
		if err != nil {
			return &StageError{Stage: StageTokenAccount, Kind: KindUnknown, Err: err}
		}

		account = address
		s = step{
			stage:        StageTokenAccount,
			instructions: []solana.Instruction{instruction},
		}
	} else {
		accountKey, err := newKeypair()
		if err != nil {
			return &StageError{Stage: StageTokenAccount, Kind: KindUnknown, Err: err}
		}
		account = accountKey.Public().(ed25519.PublicKey)

		lamports, err := m.client.GetMinimumBalanceForRentExemption(token.AccountSize)
		if err != nil {
			return newStageError(StageTokenAccount, errors.Wrap(err, "failed to get rent exemption"))
		}

		s = step{
			stage:   StageTokenAccount,
			signers: []ed25519.PrivateKey{accountKey},
			instructions: []solana.Instruction{
				system.CreateAccount(result.Wallet, account, token.ProgramKey, lamports, token.AccountSize),
				token.InitializeAccount(account, result.Mint, result.Wallet),
			},
		}
	}

	s.landed = func() (bool, error) {
		_, err := m.tokens.GetAccount(account, result.Mint, m.commitment)
		return landed(err, token.ErrAccountNotFound, token.ErrInvalidTokenAccount)
	}

	sig, err := m.submit(ctx, s)
	if err != nil {
		return err
	}

	result.TokenAccount = account
	result.Signatures[StageTokenAccount] = sig

	if !m.cfg.Verify {
		return nil
	}

	state, err := m.tokens.GetAccount(account, result.Mint, m.commitment)
	if err != nil {
		return newStageError(StageTokenAccount, errors.Wrap(err, "failed to read token account"))
	}
	if !bytes.Equal(state.Owner, result.Wallet) {
		return newStageError(StageTokenAccount, errors.Wrap(errVerificationFailed, "token account is not owned by the wallet"))
	}
	if state.Amount != 0 {
		return newStageError(StageTokenAccount, errors.Wrapf(errVerificationFailed, "token account holds %d tokens", state.Amount))
	}

	return nil
}
