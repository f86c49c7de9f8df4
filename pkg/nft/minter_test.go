package nft

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/nft-minter/pkg/solana"
	compute_budget "github.com/code-payments/nft-minter/pkg/solana/computebudget"
	"github.com/code-payments/nft-minter/pkg/solana/memory"
	"github.com/code-payments/nft-minter/pkg/solana/metadata"
	"github.com/code-payments/nft-minter/pkg/solana/token"
	"github.com/code-payments/nft-minter/pkg/testutil"
)

type testEnv struct {
	ledger *memory.Ledger
	client solana.Client
	key    ed25519.PrivateKey
	wallet ed25519.PublicKey
	out    *bytes.Buffer
	cfg    Config
}

func setup(t *testing.T) *testEnv {
	key := testutil.GenerateSolanaKeypair(t)

	cfg := DefaultConfig()
	cfg.WalletPath = filepath.Join(t.TempDir(), "wallet.json")
	cfg.FundingPollInterval = time.Millisecond
	cfg.Name = "Test NFT"
	cfg.Symbol = "TEST"
	cfg.URI = "https://example.com/nft.json"

	ledger := memory.New()
	return &testEnv{
		ledger: ledger,
		client: ledger,
		key:    key,
		wallet: key.Public().(ed25519.PublicKey),
		out:    &bytes.Buffer{},
		cfg:    cfg,
	}
}

func (e *testEnv) run(t *testing.T, ctx context.Context) (*Result, error) {
	m, err := NewMinter(e.cfg, e.client,
		WithWallet(e.key),
		WithOutput(e.out),
		WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, err)

	return m.Run(ctx)
}

func TestRun_EndToEnd(t *testing.T) {
	env := setup(t)

	// Balance observed as [0, 0, 0, positive].
	env.ledger.SetAirdropLatency(2)

	result, err := env.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.ledger.Calls(memory.MethodRequestAirdrop))
	assert.Equal(t, 4, env.ledger.Calls(memory.MethodGetBalance))
	require.NotNil(t, result.AirdropSignature)

	assert.True(t, strings.Contains(env.out.String(), "Airdropping funds to "+base58.Encode(env.wallet)+"..\n"), env.out.String())

	assert.EqualValues(t, env.wallet, result.Wallet)
	assert.NotEmpty(t, result.RunID)
	assert.True(t, result.Minted)
	assert.Len(t, result.Signatures, 5)

	tokens := token.NewClient(env.ledger)

	account, err := tokens.GetAccount(result.TokenAccount, result.Mint, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, env.wallet, account.Owner)
	assert.EqualValues(t, 1, account.Amount)

	expectedMetadata, _, err := metadata.GetMetadataAddress(result.Mint)
	require.NoError(t, err)
	assert.EqualValues(t, expectedMetadata, result.Metadata)

	info, ok := env.ledger.Account(result.Metadata)
	require.True(t, ok)
	var md metadata.Metadata
	require.NoError(t, md.Unmarshal(info.Data))
	assert.Equal(t, "Test NFT", md.Data.Name)
	assert.Equal(t, "TEST", md.Data.Symbol)
	assert.Equal(t, "https://example.com/nft.json", md.Data.URI)
	assert.True(t, md.IsMutable)
	require.Len(t, md.Data.Creators, 1)
	assert.EqualValues(t, env.wallet, md.Data.Creators[0].Address)
	assert.True(t, md.Data.Creators[0].Verified)

	expectedEdition, _, err := metadata.GetMasterEditionAddress(result.Mint)
	require.NoError(t, err)
	assert.EqualValues(t, expectedEdition, result.MasterEdition)

	info, ok = env.ledger.Account(result.MasterEdition)
	require.True(t, ok)
	var edition metadata.MasterEdition
	require.NoError(t, edition.Unmarshal(info.Data))
	require.NotNil(t, edition.MaxSupply)
	assert.Zero(t, *edition.MaxSupply)

	mint, err := tokens.GetMint(result.Mint, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 0, mint.Decimals)
	assert.EqualValues(t, 1, mint.Supply)
	assert.EqualValues(t, result.MasterEdition, mint.MintAuthority)

	// wallet, mint, token account, metadata, edition
	assert.Equal(t, 5, env.ledger.AccountCount())
}

func TestRun_AlreadyFunded(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)

	result, err := env.run(t, context.Background())
	require.NoError(t, err)

	assert.Nil(t, result.AirdropSignature)
	assert.Equal(t, 0, env.ledger.Calls(memory.MethodRequestAirdrop))
	assert.Equal(t, 1, env.ledger.Calls(memory.MethodGetBalance))
	assert.NotContains(t, env.out.String(), "Airdropping")
}

func TestRun_AirdropDenied(t *testing.T) {
	env := setup(t)
	env.ledger.RejectAirdrops(true)

	result, err := env.run(t, context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageFunding, stageErr.Stage)
	assert.Equal(t, KindAirdropDenied, stageErr.Kind)
	assert.True(t, errors.Is(err, solana.ErrAirdropRejected))

	assert.Equal(t, 1, env.ledger.Calls(memory.MethodRequestAirdrop))
	assert.Equal(t, 0, env.ledger.Calls(memory.MethodSendTransaction))
	assert.Empty(t, result.Mint)
	assert.Empty(t, result.TokenAccount)
	assert.Zero(t, env.ledger.AccountCount())
}

func TestRun_FundingTimeout(t *testing.T) {
	env := setup(t)
	env.cfg.FundingTimeout = 20 * time.Millisecond
	env.ledger.SetAirdropLatency(1_000_000)

	start := time.Now()
	_, err := env.run(t, context.Background())
	assert.Equal(t, KindFundingTimeout, KindOf(err))
	assert.True(t, time.Since(start) < 5*time.Second)

	assert.Equal(t, 1, env.ledger.Calls(memory.MethodRequestAirdrop))
	assert.Equal(t, 0, env.ledger.Calls(memory.MethodSendTransaction))
}

func TestRun_Cancelled(t *testing.T) {
	env := setup(t)
	env.ledger.SetAirdropLatency(1_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := NewMinter(env.cfg, env.ledger, WithWallet(env.key), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Run(ctx)
		errCh <- err
	}()

	require.NoError(t, testutil.WaitFor(time.Second, time.Millisecond, func() bool {
		return env.ledger.Calls(memory.MethodGetBalance) > 2
	}))
	cancel()

	err = <-errCh
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, env.ledger.Calls(memory.MethodRequestAirdrop))
}

func TestRun_MintToFailure(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)
	env.ledger.FailInstruction(token.ProgramKey, byte(token.CommandMintTo), token.ErrorOwnerMismatch)

	result, err := env.run(t, context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageMintTo, stageErr.Stage)
	assert.Equal(t, KindRejected, stageErr.Kind)
	testutil.AssertInstructionError(t, err, 0, token.ErrorOwnerMismatch)

	// Rejections are not retried: mint, token account, then one mint attempt.
	assert.Equal(t, 3, env.ledger.Calls(memory.MethodSendTransaction))

	assert.False(t, result.Minted)
	assert.NotEmpty(t, result.Mint)
	assert.NotEmpty(t, result.TokenAccount)
	assert.Empty(t, result.Metadata)
	assert.Empty(t, result.MasterEdition)

	balance, err := env.ledger.GetTokenAccountBalance(result.TokenAccount, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Zero(t, balance)

	metadataAddress, _, err := metadata.GetMetadataAddress(result.Mint)
	require.NoError(t, err)
	_, ok := env.ledger.Account(metadataAddress)
	assert.False(t, ok)
}

func TestRun_RetriesNetworkFailures(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)
	env.ledger.FailNext(memory.MethodSendTransaction, errors.New("connection reset by peer"))
	env.ledger.FailNext(memory.MethodGetLatestBlockhash, errors.New("i/o timeout"))

	result, err := env.run(t, context.Background())
	require.NoError(t, err)
	assert.True(t, result.Minted)

	assert.Equal(t, 6, env.ledger.Calls(memory.MethodSendTransaction))
	assert.Len(t, env.ledger.Submitted(), 5)
}

func TestRun_RetryLimit(t *testing.T) {
	env := setup(t)
	env.cfg.MaxAttempts = 3
	env.ledger.SetBalance(env.wallet, 1e9)

	failure := errors.New("connection refused")
	env.ledger.FailNext(memory.MethodSendTransaction, failure, failure, failure)

	result, err := env.run(t, context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageMint, stageErr.Stage)
	assert.Equal(t, KindNetwork, stageErr.Kind)
	assert.True(t, errors.Is(err, failure))

	assert.Equal(t, 3, env.ledger.Calls(memory.MethodSendTransaction))
	assert.Empty(t, result.Mint)
	assert.Equal(t, 1, env.ledger.AccountCount())
}

func TestRun_ConfirmationTimeoutsDoNotDuplicate(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)
	env.ledger.HideNextStatuses(5)

	result, err := env.run(t, context.Background())
	require.NoError(t, err)

	// Every stage landed on its first submission. Retries sent the same
	// transaction again and observed it.
	assert.Equal(t, 10, env.ledger.Calls(memory.MethodSendTransaction))
	assert.Equal(t, 5, env.ledger.Calls(memory.MethodGetLatestBlockhash))
	assert.Len(t, env.ledger.Submitted(), 5)
	assert.Equal(t, 5, env.ledger.AccountCount())

	balance, err := env.ledger.GetTokenAccountBalance(result.TokenAccount, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

// lateLedger intercepts the first transaction carrying a token instruction
// with the provided command. When hold is set, that transaction only lands
// once the next transaction is submitted. When miss is set, the first status
// query for it reports nothing. When expire is set, every blockhash expires
// as soon as its status is first queried.
type lateLedger struct {
	*memory.Ledger

	command token.Command
	hold    bool
	miss    bool
	expire  bool

	matched solana.Signature
}

func (l *lateLedger) SubmitTransaction(txn solana.Transaction, commitment solana.Commitment) (solana.Signature, error) {
	match := l.matched == (solana.Signature{}) && hasTokenCommand(txn, l.command)
	if match && l.hold {
		l.Ledger.HoldNextTransactions(1)
	}

	sig, err := l.Ledger.SubmitTransaction(txn, commitment)
	if match {
		l.matched = sig
	}
	return sig, err
}

func (l *lateLedger) GetSignatureStatus(sig solana.Signature, commitment solana.Commitment) (*solana.SignatureStatus, error) {
	if sig != l.matched {
		return l.Ledger.GetSignatureStatus(sig, commitment)
	}

	var (
		status *solana.SignatureStatus
		err    = solana.ErrSignatureNotFound
	)
	if l.miss {
		l.miss = false
	} else {
		status, err = l.Ledger.GetSignatureStatus(sig, commitment)
	}

	if l.expire {
		l.expire = false
		l.Ledger.ExpireBlockhashes()
	}
	return status, err
}

func hasTokenCommand(txn solana.Transaction, command token.Command) bool {
	for _, i := range txn.Message.Instructions {
		program := txn.Message.Accounts[i.ProgramIndex]
		if bytes.Equal(program, token.ProgramKey) && len(i.Data) > 0 && i.Data[0] == byte(command) {
			return true
		}
	}
	return false
}

func TestRun_LateLandingIsNotDuplicated(t *testing.T) {
	for _, tc := range []struct {
		name    string
		command token.Command
		stage   Stage
	}{
		{"mint", token.CommandInitializeMint, StageMint},
		{"token_account", token.CommandInitializeAccount, StageTokenAccount},
		{"mint_to", token.CommandMintTo, StageMintTo},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)
			env.ledger.SetBalance(env.wallet, 1e9)

			late := &lateLedger{Ledger: env.ledger, command: tc.command, hold: true}
			env.client = late

			result, err := env.run(t, context.Background())
			require.NoError(t, err)
			assert.True(t, result.Minted)

			// The held transaction landed ahead of its own re-broadcast, which
			// was then confirmed rather than signed again.
			assert.Equal(t, late.matched, result.Signatures[tc.stage])
			assert.Equal(t, 6, env.ledger.Calls(memory.MethodSendTransaction))
			assert.Equal(t, 5, env.ledger.Calls(memory.MethodGetLatestBlockhash))
			assert.Len(t, env.ledger.Submitted(), 5)
			assert.Equal(t, 5, env.ledger.AccountCount())

			balance, err := env.ledger.GetTokenAccountBalance(result.TokenAccount, solana.CommitmentConfirmed)
			require.NoError(t, err)
			assert.EqualValues(t, 1, balance)

			_, ok := env.ledger.Account(result.MasterEdition)
			assert.True(t, ok)
		})
	}
}

func TestRun_ExpiredAttemptIsSignedAgain(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)

	// The held mint-to is dropped when its blockhash expires, so it never
	// lands.
	late := &lateLedger{Ledger: env.ledger, command: token.CommandMintTo, hold: true, expire: true}
	env.client = late

	result, err := env.run(t, context.Background())
	require.NoError(t, err)
	assert.True(t, result.Minted)

	assert.NotEqual(t, late.matched, result.Signatures[StageMintTo])
	assert.Equal(t, 6, env.ledger.Calls(memory.MethodSendTransaction))
	assert.Equal(t, 6, env.ledger.Calls(memory.MethodGetLatestBlockhash))
	assert.Len(t, env.ledger.Submitted(), 5)

	balance, err := env.ledger.GetTokenAccountBalance(result.TokenAccount, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

func TestRun_ExpiredAttemptThatLanded(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)

	// The mint-to executes but its status is missed until the blockhash has
	// expired, leaving the ledger state as the only evidence it landed.
	late := &lateLedger{Ledger: env.ledger, command: token.CommandMintTo, miss: true, expire: true}
	env.client = late

	result, err := env.run(t, context.Background())
	require.NoError(t, err)
	assert.True(t, result.Minted)

	assert.Equal(t, late.matched, result.Signatures[StageMintTo])
	assert.Equal(t, 5, env.ledger.Calls(memory.MethodSendTransaction))
	assert.Equal(t, 5, env.ledger.Calls(memory.MethodGetLatestBlockhash))

	balance, err := env.ledger.GetTokenAccountBalance(result.TokenAccount, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

func TestRun_AssociatedTokenAccount(t *testing.T) {
	env := setup(t)
	env.cfg.UseAssociatedTokenAccount = true
	env.ledger.SetBalance(env.wallet, 1e9)

	result, err := env.run(t, context.Background())
	require.NoError(t, err)

	expected, err := token.GetAssociatedAccount(env.wallet, result.Mint)
	require.NoError(t, err)
	assert.EqualValues(t, expected, result.TokenAccount)

	balance, err := env.ledger.GetTokenAccountBalance(expected, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

func TestRun_ComputeUnitPrice(t *testing.T) {
	env := setup(t)
	env.cfg.ComputeUnitPrice = 1000
	env.ledger.SetBalance(env.wallet, 1e9)

	_, err := env.run(t, context.Background())
	require.NoError(t, err)

	submitted := env.ledger.Submitted()
	require.Len(t, submitted, 5)
	for _, txn := range submitted {
		price, err := compute_budget.DecompileSetComputeUnitPrice(txn.Message, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1000, price)
	}
}

func TestRun_Creators(t *testing.T) {
	env := setup(t)
	env.ledger.SetBalance(env.wallet, 1e9)

	other := testutil.GenerateSolanaKeys(t, 1)[0]
	env.cfg.SellerFeeBasisPoints = 500
	env.cfg.IsMutable = false
	env.cfg.Creators = []CreatorConfig{
		{Address: base58.Encode(env.wallet), Share: 60},
		{Address: base58.Encode(other), Share: 40},
	}

	result, err := env.run(t, context.Background())
	require.NoError(t, err)

	info, ok := env.ledger.Account(result.Metadata)
	require.True(t, ok)
	var md metadata.Metadata
	require.NoError(t, md.Unmarshal(info.Data))
	assert.False(t, md.IsMutable)
	assert.EqualValues(t, 500, md.Data.SellerFeeBasisPoints)
	require.Len(t, md.Data.Creators, 2)
	assert.True(t, md.Data.Creators[0].Verified)
	assert.False(t, md.Data.Creators[1].Verified)
	assert.EqualValues(t, other, md.Data.Creators[1].Address)
}

func TestRun_WalletFromFile(t *testing.T) {
	env := setup(t)

	m, err := NewMinter(env.cfg, env.ledger, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	// The wallet is created before funding is attempted.
	env.ledger.RejectAirdrops(true)
	result, err := m.Run(context.Background())
	assert.Equal(t, KindAirdropDenied, KindOf(err))
	assert.True(t, result.WalletCreated)

	_, err = os.Stat(env.cfg.WalletPath)
	require.NoError(t, err)

	m, err = NewMinter(env.cfg, env.ledger, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	second, err := m.Run(context.Background())
	assert.Equal(t, KindAirdropDenied, KindOf(err))
	assert.False(t, second.WalletCreated)
	assert.Equal(t, result.Wallet, second.Wallet)
}

func TestRun_CorruptWallet(t *testing.T) {
	env := setup(t)
	require.NoError(t, os.WriteFile(env.cfg.WalletPath, []byte("{garbage"), 0600))

	m, err := NewMinter(env.cfg, env.ledger)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageWallet, stageErr.Stage)
	assert.Equal(t, KindCorruptIdentity, stageErr.Kind)
	assert.Equal(t, 0, env.ledger.Calls(memory.MethodGetBalance))

	env.cfg.RecreateCorruptWallet = true
	env.ledger.SetAirdropLatency(0)
	m, err = NewMinter(env.cfg, env.ledger, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.WalletCreated)
}
