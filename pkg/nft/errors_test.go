package nft

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/code-payments/nft-minter/pkg/solana"
	"github.com/code-payments/nft-minter/pkg/solana/token"
	"github.com/code-payments/nft-minter/pkg/wallet"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		err      error
		expected Kind
	}{
		{context.Canceled, KindCancelled},
		{errors.Wrap(context.DeadlineExceeded, "rpc"), KindCancelled},
		{errors.Wrap(wallet.ErrCorruptKeypair, "bad length"), KindCorruptIdentity},
		{errors.Wrap(wallet.ErrKeypairIO, "permission denied"), KindLocalIO},
		{errors.Wrap(solana.ErrAirdropRejected, "rate limited"), KindAirdropDenied},
		{solana.NewInstructionTransactionError(1, token.ErrorAlreadyInUse), KindRejected},
		{errors.Wrap(solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound), "submit"), KindRejected},
		{errors.Wrap(errVerificationFailed, "wrong owner"), KindRejected},
		{errors.Wrap(solana.ErrSignatureNotFound, "not confirmed"), KindConfirmationTimeout},
		{solana.ErrCommitmentNotReached, KindConfirmationTimeout},
		{errors.New("connection reset by peer"), KindNetwork},
		{&StageError{Stage: StageMint, Kind: KindFundingTimeout, Err: errors.New("x")}, KindFundingTimeout},
	} {
		assert.Equal(t, tc.expected, classify(tc.err), tc.err.Error())
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	err := errors.Wrap(newStageError(StageMetadata, errVerificationFailed), "run")
	assert.Equal(t, KindRejected, KindOf(err))

	var stageErr *StageError
	assert.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageMetadata, stageErr.Stage)
	assert.True(t, errors.Is(err, errVerificationFailed))
	assert.Equal(t, "metadata stage failed (rejected): verification failed", stageErr.Error())
}

func TestKind_Retriable(t *testing.T) {
	for kind := KindUnknown; kind <= KindCancelled; kind++ {
		expected := kind == KindNetwork || kind == KindConfirmationTimeout
		assert.Equal(t, expected, kind.Retriable(), kind.String())
	}
}
