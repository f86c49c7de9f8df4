package solana

import (
	"context"
	"crypto/ed25519"

	"github.com/pkg/errors"
)

// NewSignedTransaction builds a transaction paid for by payer against the
// latest blockhash and signs it with payer and the additional signers.
func NewSignedTransaction(
	client Client,
	payer ed25519.PrivateKey,
	signers []ed25519.PrivateKey,
	instructions ...Instruction,
) (Transaction, error) {
	bh, err := client.GetLatestBlockhash()
	if err != nil {
		return Transaction{}, errors.Wrap(err, "failed to get recent blockhash")
	}

	txn := NewTransaction(payer.Public().(ed25519.PublicKey), instructions...)
	txn.SetBlockhash(bh)

	if err := txn.Sign(append([]ed25519.PrivateKey{payer}, signers...)...); err != nil {
		return Transaction{}, errors.Wrap(err, "failed to sign transaction")
	}
	if !txn.IsFullySigned() {
		return Transaction{}, errors.New("transaction is missing required signatures")
	}
	if len(txn.Marshal()) > MaxTransactionSize {
		return Transaction{}, errors.Errorf("transaction exceeds max size of %d bytes", MaxTransactionSize)
	}

	return txn, nil
}

// SendAndConfirm submits txn with preflight enabled and polls its status until
// commitment is reached.
//
// The same transaction may be sent any number of times. If an earlier send
// already landed, the rejection is ignored and the existing status is
// confirmed instead.
func SendAndConfirm(ctx context.Context, client Client, commitment Commitment, txn Transaction) (Signature, error) {
	sig := txn.Signature()

	if err := ctx.Err(); err != nil {
		return sig, err
	}

	if _, err := client.SubmitTransaction(txn, commitment); err != nil && !IsAlreadyProcessed(err) {
		return sig, errors.Wrap(err, "failed to submit transaction")
	}

	if err := ctx.Err(); err != nil {
		return sig, err
	}

	if _, err := client.GetSignatureStatus(sig, commitment); err != nil {
		return sig, errors.Wrapf(err, "transaction %s not confirmed", sig)
	}

	return sig, nil
}

// SubmitAndConfirm signs a new transaction with NewSignedTransaction and
// sends it with SendAndConfirm.
//
// The returned signature is valid whenever the transaction was signed, even
// if submission or confirmation failed, so callers can report it.
func SubmitAndConfirm(
	ctx context.Context,
	client Client,
	commitment Commitment,
	payer ed25519.PrivateKey,
	signers []ed25519.PrivateKey,
	instructions ...Instruction,
) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}

	txn, err := NewSignedTransaction(client, payer, signers, instructions...)
	if err != nil {
		return Signature{}, err
	}

	return SendAndConfirm(ctx, client, commitment, txn)
}

// IsAlreadyProcessed reports whether err is the rejection of a transaction
// whose signature the ledger has already seen.
func IsAlreadyProcessed(err error) bool {
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		return false
	}

	switch txErr.ErrorKey() {
	case TransactionErrorAlreadyProcessed, TransactionErrorDuplicateSignature:
		return true
	}
	return false
}

// IsConfirmationTimeout reports whether err means a submitted transaction was
// never observed reaching the requested commitment.
func IsConfirmationTimeout(err error) bool {
	return errors.Is(err, ErrSignatureNotFound) || errors.Is(err, ErrCommitmentNotReached)
}
