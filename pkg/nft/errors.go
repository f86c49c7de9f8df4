package nft

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/wallet"
)

// Stage identifies a step of a run.
type Stage string

const (
	StageWallet        Stage = "wallet"
	StageFunding       Stage = "funding"
	StageMint          Stage = "mint"
	StageTokenAccount  Stage = "token_account"
	StageMintTo        Stage = "mint_to"
	StageMetadata      Stage = "metadata"
	StageMasterEdition Stage = "master_edition"
)

// Kind classifies why a stage failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindLocalIO is a failure reading or writing the keypair file.
	KindLocalIO
	// KindCorruptIdentity is a keypair file that exists but cannot be decoded.
	KindCorruptIdentity
	// KindNetwork is a failure to reach, or get an answer from, the RPC node.
	KindNetwork
	// KindRejected is a transaction or state rejected by the ledger.
	KindRejected
	// KindAirdropDenied is a faucet refusing to fund the wallet.
	KindAirdropDenied
	// KindFundingTimeout is an airdrop that did not land before the deadline.
	KindFundingTimeout
	// KindConfirmationTimeout is a transaction not observed reaching the
	// requested commitment.
	KindConfirmationTimeout
	// KindCancelled is a run stopped by its context.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindLocalIO:
		return "local_io"
	case KindCorruptIdentity:
		return "corrupt_identity"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	case KindAirdropDenied:
		return "airdrop_denied"
	case KindFundingTimeout:
		return "funding_timeout"
	case KindConfirmationTimeout:
		return "confirmation_timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retriable reports whether a submission that failed with this kind may be
// attempted again.
func (k Kind) Retriable() bool {
	return k == KindNetwork || k == KindConfirmationTimeout
}

// StageError is returned by Minter.Run when a stage fails.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the StageError in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind
	}
	return KindUnknown
}

func newStageError(stage Stage, err error) *StageError {
	return &StageError{
		Stage: stage,
		Kind:  classify(err),
		Err:   err,
	}
}

var errVerificationFailed = errors.New("verification failed")

func classify(err error) Kind {
	var txErr *solana.TransactionError
	var stageErr *StageError

	switch {
	case errors.As(err, &stageErr):
		return stageErr.Kind
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, wallet.ErrCorruptKeypair):
		return KindCorruptIdentity
	case errors.Is(err, wallet.ErrKeypairIO):
		return KindLocalIO
	case errors.Is(err, solana.ErrAirdropRejected):
		return KindAirdropDenied
	case errors.As(err, &txErr), errors.Is(err, errVerificationFailed):
		return KindRejected
	case solana.IsConfirmationTimeout(err):
		return KindConfirmationTimeout
	case solana.IsTransient(err):
		return KindNetwork
	default:
		return KindNetwork
	}
}
