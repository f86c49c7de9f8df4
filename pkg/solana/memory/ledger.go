// Package memory provides an in memory solana.Client that executes the
// system, token, associated token account, compute budget and token metadata
// instructions used to mint NFTs.
package memory

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/nft-minter/pkg/solana"
)

const (
	// LamportsPerSignature is the fee charged to the payer per signature.
	LamportsPerSignature = 5000

	accountStorageOverhead = 128
	lamportsPerByteYear    = 3480
	exemptionThreshold     = 2
)

// Method names used to key injected faults and call counts.
const (
	MethodGetAccountInfo         = "getAccountInfo"
	MethodGetBalance             = "getBalance"
	MethodGetLatestBlockhash     = "getLatestBlockhash"
	MethodGetMinimumBalance      = "getMinimumBalanceForRentExemption"
	MethodGetSignatureStatuses   = "getSignatureStatuses"
	MethodGetTokenAccountBalance = "getTokenAccountBalance"
	MethodIsBlockhashValid       = "isBlockhashValid"
	MethodRequestAirdrop         = "requestAirdrop"
	MethodSendTransaction        = "sendTransaction"
)

// Ledger is a single node, instantly finalizing ledger.
type Ledger struct {
	log *logrus.Entry

	mu          sync.Mutex
	slot        uint64
	accounts    map[string]*solana.AccountInfo
	statuses    map[solana.Signature]*solana.SignatureStatus
	blockhashes map[solana.Blockhash]struct{}
	submitted   []solana.Transaction

	calls map[string]int

	// Injected behaviour.
	faults          map[string][]error
	rejectAirdrops  bool
	airdropLatency  int
	pendingAirdrops []*pendingAirdrop
	hiddenStatuses  int
	hidden          map[solana.Signature]int
	holdNext        int
	held            []solana.Transaction
	instructionFail map[instructionKey]error
}

type pendingAirdrop struct {
	account  ed25519.PublicKey
	lamports uint64
	wait     int
}

type instructionKey struct {
	program string
	command byte
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{
		log:             logrus.StandardLogger().WithField("type", "solana/memory"),
		accounts:        make(map[string]*solana.AccountInfo),
		statuses:        make(map[solana.Signature]*solana.SignatureStatus),
		blockhashes:     make(map[solana.Blockhash]struct{}),
		calls:           make(map[string]int),
		faults:          make(map[string][]error),
		hidden:          make(map[solana.Signature]int),
		instructionFail: make(map[instructionKey]error),
	}
}

// SetBalance credits account with lamports, creating it as a system account
// if needed.
func (l *Ledger) SetBalance(account ed25519.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := l.getOrCreateSystemAccount(account)
	info.Lamports = lamports
}

// SetAccount stores info at address, replacing any existing account.
func (l *Ledger) SetAccount(address ed25519.PublicKey, info solana.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts[string(address)] = cloneAccount(&info)
}

// Account returns a copy of the account at address.
func (l *Ledger) Account(address ed25519.PublicKey) (solana.AccountInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[string(address)]
	if !ok {
		return solana.AccountInfo{}, false
	}
	return *cloneAccount(info), true
}

// AccountCount returns the number of accounts held by the ledger.
func (l *Ledger) AccountCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.accounts)
}

// Submitted returns every transaction that executed successfully.
func (l *Ledger) Submitted() []solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]solana.Transaction(nil), l.submitted...)
}

// Calls returns how many times method was invoked, including failed calls.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.calls[method]
}

// FailNext makes the next len(errs) calls to method return the provided
// errors, in order, without side effects.
func (l *Ledger) FailNext(method string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.faults[method] = append(l.faults[method], errs...)
}

// RejectAirdrops makes the faucet deny every request.
func (l *Ledger) RejectAirdrops(reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rejectAirdrops = reject
}

// SetAirdropLatency delays accepted airdrops until n balance queries of the
// recipient have observed the old balance.
func (l *Ledger) SetAirdropLatency(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.airdropLatency = n
}

// HideNextStatuses makes the next n executed transactions report no status
// for their first status query, as if confirmation was slow.
func (l *Ledger) HideNextStatuses(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hiddenStatuses = n
}

// HoldNextTransactions makes the next n accepted transactions land late: the
// signature is returned but nothing executes, and no status is reported, until
// the next call to SubmitTransaction. Held transactions whose blockhash
// expires first are dropped.
func (l *Ledger) HoldNextTransactions(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.holdNext = n
}

// ExpireBlockhashes invalidates every blockhash handed out so far.
func (l *Ledger) ExpireBlockhashes() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.blockhashes = make(map[solana.Blockhash]struct{})

	if len(l.held) > 0 {
		l.log.WithField("count", len(l.held)).Debug("dropping held transactions")
		l.held = nil
	}
}

// FailInstruction makes every instruction for program with the provided
// leading data byte fail with err.
func (l *Ledger) FailInstruction(program ed25519.PublicKey, command byte, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.instructionFail[instructionKey{program: string(program), command: command}] = err
}

// GetAccountInfo implements solana.Client.GetAccountInfo
func (l *Ledger) GetAccountInfo(address ed25519.PublicKey, _ solana.Commitment) (solana.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetAccountInfo); err != nil {
		return solana.AccountInfo{}, err
	}

	info, ok := l.accounts[string(address)]
	if !ok {
		return solana.AccountInfo{}, solana.ErrNoAccountInfo
	}
	return *cloneAccount(info), nil
}

// GetBalance implements solana.Client.GetBalance
func (l *Ledger) GetBalance(address ed25519.PublicKey, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetBalance); err != nil {
		return 0, err
	}

	var balance uint64
	if info, ok := l.accounts[string(address)]; ok {
		balance = info.Lamports
	}

	l.settleAirdrops(address)
	return balance, nil
}

// GetLatestBlockhash implements solana.Client.GetLatestBlockhash
func (l *Ledger) GetLatestBlockhash() (solana.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetLatestBlockhash); err != nil {
		return solana.Blockhash{}, err
	}

	l.slot++
	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], l.slot)
	bh := solana.Blockhash(sha256.Sum256(slot[:]))
	l.blockhashes[bh] = struct{}{}
	return bh, nil
}

// GetMinimumBalanceForRentExemption implements solana.Client.GetMinimumBalanceForRentExemption
func (l *Ledger) GetMinimumBalanceForRentExemption(size uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetMinimumBalance); err != nil {
		return 0, err
	}
	return RentExemption(size), nil
}

// RentExemption returns the lamports an account of size bytes must hold to be
// exempt from rent.
func RentExemption(size uint64) uint64 {
	return (accountStorageOverhead + size) * lamportsPerByteYear * exemptionThreshold
}

// GetSignatureStatus implements solana.Client.GetSignatureStatus. Transactions
// execute synchronously, so the status is returned without polling.
func (l *Ledger) GetSignatureStatus(sig solana.Signature, commitment solana.Commitment) (*solana.SignatureStatus, error) {
	statuses, err := l.GetSignatureStatuses([]solana.Signature{sig})
	if err != nil {
		return nil, err
	}

	s := statuses[0]
	if s == nil {
		return nil, solana.ErrSignatureNotFound
	}
	if s.ErrorResult != nil {
		return s, s.ErrorResult
	}
	if !s.Reached(commitment) {
		return s, solana.ErrCommitmentNotReached
	}
	return s, nil
}

// GetSignatureStatuses implements solana.Client.GetSignatureStatuses
func (l *Ledger) GetSignatureStatuses(sigs []solana.Signature) ([]*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetSignatureStatuses); err != nil {
		return nil, err
	}

	statuses := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		if n := l.hidden[sig]; n > 0 {
			l.hidden[sig] = n - 1
			continue
		}

		if s, ok := l.statuses[sig]; ok {
			cloned := *s
			statuses[i] = &cloned
		}
	}
	return statuses, nil
}

// GetTokenAccountBalance implements solana.Client.GetTokenAccountBalance
func (l *Ledger) GetTokenAccountBalance(address ed25519.PublicKey, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetTokenAccountBalance); err != nil {
		return 0, err
	}

	account, ok := l.tokenAccount(address)
	if !ok {
		return 0, solana.ErrNoBalance
	}
	return account.Amount, nil
}

// IsBlockhashValid implements solana.Client.IsBlockhashValid
func (l *Ledger) IsBlockhashValid(bh solana.Blockhash, _ solana.Commitment) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodIsBlockhashValid); err != nil {
		return false, err
	}

	_, ok := l.blockhashes[bh]
	return ok, nil
}

// RequestAirdrop implements solana.Client.RequestAirdrop
func (l *Ledger) RequestAirdrop(address ed25519.PublicKey, lamports uint64, _ solana.Commitment) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodRequestAirdrop); err != nil {
		return solana.Signature{}, err
	}
	if l.rejectAirdrops {
		return solana.Signature{}, errors.Wrap(solana.ErrAirdropRejected, "faucet disabled")
	}

	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return solana.Signature{}, err
	}

	l.pendingAirdrops = append(l.pendingAirdrops, &pendingAirdrop{
		account:  append(ed25519.PublicKey{}, address...),
		lamports: lamports,
		wait:     l.airdropLatency,
	})
	l.settleAirdrops(nil)
	l.statuses[sig] = l.finalizedStatus()

	l.log.WithField("account", base58.Encode(address)).WithField("lamports", lamports).Debug("airdrop accepted")

	return sig, nil
}

// SubmitTransaction implements solana.Client.SubmitTransaction. The
// transaction executes atomically; a failure is returned as the
// *solana.TransactionError preflight simulation would report.
func (l *Ledger) SubmitTransaction(txn solana.Transaction, _ solana.Commitment) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(txn.Signatures) == 0 {
		return solana.Signature{}, solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
	}
	sig := txn.Signature()

	l.landHeld()

	if err := l.enter(MethodSendTransaction); err != nil {
		return sig, err
	}

	if _, ok := l.statuses[sig]; ok {
		return sig, solana.NewTransactionError(solana.TransactionErrorAlreadyProcessed)
	}
	if _, ok := l.blockhashes[txn.Message.RecentBlockhash]; !ok {
		return sig, solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound)
	}
	if !txn.VerifySignatures() {
		return sig, solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
	}

	if l.holdNext > 0 {
		l.holdNext--
		l.held = append(l.held, txn)
		l.log.WithField("signature", sig.String()).Debug("transaction held")
		return sig, nil
	}

	if err := l.execute(txn); err != nil {
		l.log.WithError(err).WithField("signature", sig.String()).Debug("transaction failed")
		return sig, err
	}

	l.submitted = append(l.submitted, txn)
	l.statuses[sig] = l.finalizedStatus()
	if l.hiddenStatuses > 0 {
		l.hiddenStatuses--
		l.hidden[sig] = 1
	}

	return sig, nil
}

// landHeld executes held transactions in the order they were accepted. A
// failure is recorded in the transaction's status, as it would be on chain.
func (l *Ledger) landHeld() {
	for _, txn := range l.held {
		sig := txn.Signature()

		status := l.finalizedStatus()
		if err := l.execute(txn); err != nil {
			l.log.WithError(err).WithField("signature", sig.String()).Debug("held transaction failed")

			var txErr *solana.TransactionError
			if !errors.As(err, &txErr) {
				txErr = solana.NewTransactionError(solana.TransactionErrorInstructionError)
			}
			status.ErrorResult = txErr
		} else {
			l.submitted = append(l.submitted, txn)
		}

		l.statuses[sig] = status
	}
	l.held = nil
}

// enter records a call to method and pops an injected fault, if any.
func (l *Ledger) enter(method string) error {
	l.calls[method]++

	if queued := l.faults[method]; len(queued) > 0 {
		l.faults[method] = queued[1:]
		return queued[0]
	}
	return nil
}

// settleAirdrops credits pending airdrops that have waited long enough. A
// balance query for observed counts towards the wait of its airdrops.
func (l *Ledger) settleAirdrops(observed ed25519.PublicKey) {
	remaining := l.pendingAirdrops[:0]
	for _, p := range l.pendingAirdrops {
		if observed != nil && string(observed) == string(p.account) && p.wait > 0 {
			p.wait--
		}

		if p.wait > 0 {
			remaining = append(remaining, p)
			continue
		}

		info := l.getOrCreateSystemAccount(p.account)
		info.Lamports += p.lamports
	}
	l.pendingAirdrops = remaining
}

func (l *Ledger) finalizedStatus() *solana.SignatureStatus {
	return &solana.SignatureStatus{
		Slot:               l.slot,
		ConfirmationStatus: "finalized",
	}
}

func (l *Ledger) getOrCreateSystemAccount(address ed25519.PublicKey) *solana.AccountInfo {
	info, ok := l.accounts[string(address)]
	if !ok {
		info = &solana.AccountInfo{
			Owner: make(ed25519.PublicKey, ed25519.PublicKeySize),
		}
		l.accounts[string(address)] = info
	}
	return info
}

func cloneAccount(info *solana.AccountInfo) *solana.AccountInfo {
	return &solana.AccountInfo{
		Data:       append([]byte(nil), info.Data...),
		Owner:      append(ed25519.PublicKey(nil), info.Owner...),
		Lamports:   info.Lamports,
		Executable: info.Executable,
	}
}
