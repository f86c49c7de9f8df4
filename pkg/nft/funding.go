package nft

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/retry"
	"github.com/code-payments/nft-minter/pkg/retry/backoff"
	"github.com/code-payments/nft-minter/pkg/solana"
)

var errNotFunded = errors.New("wallet not funded")

// ensureFunded returns once the wallet holds a positive balance, requesting a
// single airdrop if it starts empty. It returns the airdrop signature, if one
// was requested.
func (m *Minter) ensureFunded(ctx context.Context, wallet ed25519.PublicKey) (*solana.Signature, error) {
	log := m.log.WithField("method", "ensureFunded")

	balance, err := m.client.GetBalance(wallet, m.commitment)
	if err != nil && !errors.Is(err, solana.ErrNoBalance) {
		return nil, newStageError(StageFunding, errors.Wrap(err, "failed to get balance"))
	}

	fmt.Fprintf(m.out, "Wallet Pubkey: %s\n", base58.Encode(wallet))
	fmt.Fprintf(m.out, "Wallet Balance: %d\n", balance)

	if balance > 0 {
		log.WithField("balance", balance).Debug("wallet already funded")
		return nil, nil
	}

	sig, err := m.client.RequestAirdrop(wallet, m.cfg.AirdropAmount, m.commitment)
	if err != nil {
		return nil, newStageError(StageFunding, err)
	}
	log.WithField("signature", sig.String()).Info("airdrop requested")

	fmt.Fprintf(m.out, "Airdropping funds to %s", base58.Encode(wallet))
	defer fmt.Fprintln(m.out)

	waitCtx := ctx
	if m.cfg.FundingTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.cfg.FundingTimeout)
		defer cancel()
	}

	_, err = retry.RetryContext(
		waitCtx,
		func() error {
			balance, err := m.client.GetBalance(wallet, m.commitment)
			if err != nil && !errors.Is(err, solana.ErrNoBalance) {
				return errors.Wrap(err, "failed to get balance")
			}
			if balance > 0 {
				log.WithField("balance", balance).Debug("airdrop landed")
				return nil
			}

			fmt.Fprint(m.out, ".")
			return errNotFunded
		},
		retry.RetriableErrors(errNotFunded),
		retry.ContextBackoff(waitCtx, backoff.Constant(m.cfg.FundingPollInterval), m.cfg.FundingPollInterval),
	)
	switch {
	case err == nil:
		return &sig, nil
	case ctx.Err() != nil:
		return &sig, &StageError{Stage: StageFunding, Kind: KindCancelled, Err: ctx.Err()}
	case waitCtx.Err() != nil:
		return &sig, &StageError{
			Stage: StageFunding,
			Kind:  KindFundingTimeout,
			Err:   errors.Errorf("airdrop did not land within %v", m.cfg.FundingTimeout),
		}
	default:
		return &sig, newStageError(StageFunding, err)
	}
}
