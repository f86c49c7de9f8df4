// Package nft mints a single edition non-fungible token.
//
// A run proceeds through a fixed sequence of stages: load the wallet, fund
// it, create a mint, create a token account, then mint one token and attach
// metadata and a master edition. The first failing stage ends the run with a
// *StageError describing what failed and why.
package nft

import (
	"context"
	"crypto/ed25519"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/nft-minter/pkg/retry"
	"github.com/code-payments/nft-minter/pkg/retry/backoff"
	"github.com/code-payments/nft-minter/pkg/solana"
	compute_budget "github.com/code-payments/nft-minter/pkg/solana/computebudget"
	"github.com/code-payments/nft-minter/pkg/solana/token"
	"github.com/code-payments/nft-minter/pkg/wallet"
)

const maxRetryDelay = 10 * time.Second

// Result describes the accounts and transactions produced by a run. Fields
// for stages that did not complete are left unset.
type Result struct {
	RunID string

	Wallet        ed25519.PublicKey
	WalletCreated bool

	AirdropSignature *solana.Signature

	Mint          ed25519.PublicKey
	TokenAccount  ed25519.PublicKey
	Metadata      ed25519.PublicKey
	MasterEdition ed25519.PublicKey

	// Signatures holds the signature of the transaction that completed each
	// stage.
	Signatures map[Stage]solana.Signature

	// Minted is set once the token has been minted into the token account.
	Minted bool
}

// Minter runs the minting stages against a ledger.
type Minter struct {
	log        *logrus.Entry
	cfg        Config
	client     solana.Client
	tokens     *token.Client
	commitment solana.Commitment
	out        io.Writer
	retryDelay time.Duration
	runID      string

	// key is the wallet used for every signature in the run.
	key ed25519.PrivateKey
}

// Option configures a Minter.
type Option func(*Minter)

// WithOutput sets where progress lines are written. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(m *Minter) {
		m.out = w
	}
}

// WithRetryDelay sets the base delay between submission attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Minter) {
		m.retryDelay = d
	}
}

// WithWallet uses key instead of loading the wallet from the configured path.
func WithWallet(key ed25519.PrivateKey) Option {
	return func(m *Minter) {
		m.key = key
	}
}

// NewMinter returns a Minter for the provided configuration.
func NewMinter(cfg Config, client solana.Client, opts ...Option) (*Minter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	commitment, _ := solana.ParseCommitment(cfg.Commitment)
	runID := uuid.New().String()

	m := &Minter{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type":   "nft/minter",
			"run_id": runID,
		}),
		cfg:        cfg,
		client:     client,
		tokens:     token.NewClient(client),
		commitment: commitment,
		out:        io.Discard,
		retryDelay: 500 * time.Millisecond,
		runID:      runID,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Run executes every stage in order, stopping at the first failure. The
// returned Result is never nil, and records what was created before a
// failure.
func (m *Minter) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:      m.runID,
		Signatures: make(map[Stage]solana.Signature),
	}

	if err := m.loadWallet(result); err != nil {
		return result, err
	}
	m.log.WithField("wallet", base58.Encode(result.Wallet)).Info("starting run")

	sig, err := m.ensureFunded(ctx, result.Wallet)
	result.AirdropSignature = sig
	if err != nil {
		return result, err
	}

	if err := m.createMint(ctx, result); err != nil {
		return result, err
	}
	if err := m.createTokenAccount(ctx, result); err != nil {
		return result, err
	}
	if err := m.mintNFT(ctx, result); err != nil {
		return result, err
	}

	m.log.WithFields(logrus.Fields{
		"mint":           base58.Encode(result.Mint),
		"token_account":  base58.Encode(result.TokenAccount),
		"metadata":       base58.Encode(result.Metadata),
		"master_edition": base58.Encode(result.MasterEdition),
	}).Info("run complete")

	return result, nil
}

func (m *Minter) loadWallet(result *Result) error {
	if m.key == nil {
		key, created, err := wallet.LoadOrCreate(m.cfg.WalletPath, wallet.Options{
			RecreateCorrupt: m.cfg.RecreateCorruptWallet,
		})
		if err != nil {
			return newStageError(StageWallet, err)
		}

		m.key = key
		result.WalletCreated = created
	}

	result.Wallet = m.key.Public().(ed25519.PublicKey)
	return nil
}

// step is a single transaction submitted on behalf of a stage.
type step struct {
	stage        Stage
	signers      []ed25519.PrivateKey
	instructions []solana.Instruction

	// landed reports whether the effects of the step are already present on
	// the ledger. It is only consulted once the blockhash of the previous
	// attempt has expired, when that attempt can no longer land.
	landed func() (bool, error)
}

// submit sends s, retrying network failures and confirmation timeouts up to
// the configured attempt limit.
//
// The step is signed once and the same transaction is sent on every retry, so
// an attempt that lands late is confirmed instead of applied twice. A new
// transaction is only signed after the blockhash of the previous one expires.
func (m *Minter) submit(ctx context.Context, s step) (solana.Signature, error) {
	log := m.log.WithField("stage", s.stage)

	instructions := s.instructions
	if m.cfg.ComputeUnitPrice > 0 {
		instructions = append([]solana.Instruction{compute_budget.SetComputeUnitPrice(m.cfg.ComputeUnitPrice)}, instructions...)
	}

	var (
		txn  solana.Transaction
		last solana.Signature
	)
	_, err := retry.RetryContext(
		ctx,
		func() error {
			if len(txn.Signatures) > 0 {
				expired, err := m.expired(txn)
				if err != nil {
					return newStageError(s.stage, err)
				}

				if expired {
					if s.landed != nil {
						ok, err := s.landed()
						if err != nil {
							return newStageError(s.stage, err)
						}
						if ok {
							log.WithField("signature", last.String()).Info("previous attempt landed")
							return nil
						}
					}

					log.WithField("signature", last.String()).Debug("blockhash expired, signing a new transaction")
					txn = solana.Transaction{}
				}
			}

			if len(txn.Signatures) == 0 {
				signed, err := solana.NewSignedTransaction(m.client, m.key, s.signers, instructions...)
				if err != nil {
					stageErr := newStageError(s.stage, err)
					log.WithError(err).WithField("kind", stageErr.Kind).Warn("failed to sign transaction")
					return stageErr
				}

				txn = signed
				last = txn.Signature()
			}

			sig, err := solana.SendAndConfirm(ctx, m.client, m.commitment, txn)
			if err != nil {
				stageErr := newStageError(s.stage, err)
				log.WithError(err).WithField("kind", stageErr.Kind).Warn("submission failed")
				return stageErr
			}

			log.WithField("signature", sig.String()).Debug("transaction confirmed")
			return nil
		},
		retry.RetriableIf(func(err error) bool {
			return KindOf(err).Retriable()
		}),
		retry.Limit(m.cfg.MaxAttempts),
		retry.ContextBackoff(ctx, backoff.BinaryExponential(m.retryDelay), maxRetryDelay),
	)
	if err != nil {
		if ctx.Err() != nil && KindOf(err) != KindRejected {
			return last, &StageError{Stage: s.stage, Kind: KindCancelled, Err: ctx.Err()}
		}
		if _, ok := err.(*StageError); !ok {
			err = newStageError(s.stage, err)
		}
		return last, err
	}

	return last, nil
}

// expired reports whether txn can no longer be processed by the cluster.
func (m *Minter) expired(txn solana.Transaction) (bool, error) {
	valid, err := m.client.IsBlockhashValid(txn.Message.RecentBlockhash, m.commitment)
	if err != nil {
		return false, errors.Wrap(err, "failed to check blockhash")
	}
	return !valid, nil
}

func newKeypair() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate keypair")
	}
	return key, nil
}
