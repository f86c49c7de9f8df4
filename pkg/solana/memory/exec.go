package memory

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/nft-minter/pkg/solana"
	compute_budget "github.com/code-payments/nft-minter/pkg/solana/computebudget"
	"github.com/code-payments/nft-minter/pkg/solana/metadata"
	"github.com/code-payments/nft-minter/pkg/solana/system"
	"github.com/code-payments/nft-minter/pkg/solana/token"
)

// System program errors.
const (
	ErrorAccountAlreadyInUse solana.CustomError = iota
	ErrorResultWithNegativeLamports
)

var (
	errInvalidArgument           = instructionError(solana.InstructionErrorInvalidArgument)
	errInvalidInstructionData    = instructionError(solana.InstructionErrorInvalidInstructionData)
	errInvalidAccountData        = instructionError(solana.InstructionErrorInvalidAccountData)
	errIncorrectProgramID        = instructionError(solana.InstructionErrorIncorrectProgramID)
	errMissingRequiredSignature  = instructionError(solana.InstructionErrorMissingRequiredSignature)
	errAccountAlreadyInitialized = instructionError(solana.InstructionErrorAccountAlreadyInitialized)
	errUninitializedAccount      = instructionError(solana.InstructionErrorUninitializedAccount)
	errReadonlyDataModified      = instructionError(solana.InstructionErrorReadonlyDataModified)
)

func instructionError(key solana.InstructionErrorKey) error {
	return errors.New(string(key))
}

// execute applies every instruction in txn, rolling back all changes if any
// of them fail.
func (l *Ledger) execute(txn solana.Transaction) error {
	m := txn.Message
	payer := m.Accounts[0]

	fee := LamportsPerSignature * uint64(len(txn.Signatures))
	payerInfo, ok := l.accounts[string(payer)]
	if !ok {
		return solana.NewTransactionError(solana.TransactionErrorAccountNotFound)
	}
	if payerInfo.Lamports < fee {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}

	snapshot := l.cloneAccounts()

	payerInfo.Lamports -= fee
	for i := range m.Instructions {
		before := l.cloneAccounts()

		err := l.executeInstruction(m, i)
		if err == nil {
			err = l.checkReadonly(m, before)
		}
		if err != nil {
			l.accounts = snapshot
			return solana.NewInstructionTransactionError(i, err)
		}
	}

	return nil
}

func (l *Ledger) cloneAccounts() map[string]*solana.AccountInfo {
	cloned := make(map[string]*solana.AccountInfo, len(l.accounts))
	for k, v := range l.accounts {
		cloned[k] = cloneAccount(v)
	}
	return cloned
}

// checkReadonly fails if an account the message does not mark writable was
// created or changed.
func (l *Ledger) checkReadonly(m solana.Message, before map[string]*solana.AccountInfo) error {
	for i, key := range m.Accounts {
		if m.IsWritable(i) {
			continue
		}

		prev, existed := before[string(key)]
		cur, exists := l.accounts[string(key)]
		if existed != exists {
			return errReadonlyDataModified
		}
		if !exists {
			continue
		}
		if prev.Lamports != cur.Lamports || !bytes.Equal(prev.Data, cur.Data) || !bytes.Equal(prev.Owner, cur.Owner) {
			return errReadonlyDataModified
		}
	}
	return nil
}

func (l *Ledger) executeInstruction(m solana.Message, index int) error {
	i := m.Instructions[index]
	program := m.Accounts[i.ProgramIndex]

	if len(i.Data) > 0 {
		if err, ok := l.instructionFail[instructionKey{program: string(program), command: i.Data[0]}]; ok {
			return err
		}
	}

	switch {
	case bytes.Equal(program, system.ProgramKey[:]):
		return l.executeSystem(m, index)
	case bytes.Equal(program, compute_budget.ProgramKey):
		if _, err := compute_budget.DecompileSetComputeUnitPrice(m, index); err != nil {
			return errInvalidInstructionData
		}
		return nil
	case bytes.Equal(program, token.ProgramKey):
		return l.executeToken(m, index)
	case bytes.Equal(program, token.AssociatedTokenAccountProgramKey):
		return l.executeAssociatedTokenAccount(m, index)
	case bytes.Equal(program, metadata.ProgramKey):
		return l.executeMetadata(m, index)
	default:
		return errIncorrectProgramID
	}
}

func (l *Ledger) executeSystem(m solana.Message, index int) error {
	create, err := system.DecompileCreateAccount(m, index)
	if err != nil {
		return errInvalidInstructionData
	}
	if !isSigner(m, create.Funder) || !isSigner(m, create.Address) {
		return errMissingRequiredSignature
	}

	return l.createAccount(create.Funder, create.Address, create.Owner, create.Lamports, create.Size)
}

func (l *Ledger) createAccount(funder, address, owner ed25519.PublicKey, lamports, size uint64) error {
	if existing, ok := l.accounts[string(address)]; ok {
		if existing.Lamports > 0 || len(existing.Data) > 0 || !bytes.Equal(existing.Owner, system.ProgramKey[:]) {
			return ErrorAccountAlreadyInUse
		}
	}

	funderInfo, ok := l.accounts[string(funder)]
	if !ok || funderInfo.Lamports < lamports {
		return ErrorResultWithNegativeLamports
	}

	funderInfo.Lamports -= lamports
	l.accounts[string(address)] = &solana.AccountInfo{
		Data:     make([]byte, size),
		Owner:    append(ed25519.PublicKey{}, owner...),
		Lamports: lamports,
	}
	return nil
}

func (l *Ledger) executeToken(m solana.Message, index int) error {
	cmd, err := token.GetCommand(m, index)
	if err != nil {
		return errInvalidInstructionData
	}

	switch cmd {
	case token.CommandInitializeMint:
		init, err := token.DecompileInitializeMint(m, index)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		return l.initializeMint(init)
	case token.CommandInitializeAccount:
		init, err := token.DecompileInitializeAccount(m, index)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		return l.initializeTokenAccount(init.Account, init.Mint, init.Owner)
	case token.CommandMintTo:
		mintTo, err := token.DecompileMintTo(m, index)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		if !isSigner(m, mintTo.Authority) {
			return errMissingRequiredSignature
		}
		return l.mintTo(mintTo)
	default:
		return token.ErrorInvalidInstruction
	}
}

func (l *Ledger) initializeMint(init *token.DecompiledInitializeMint) error {
	info, ok := l.accounts[string(init.Mint)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return errIncorrectProgramID
	}
	if len(info.Data) != token.MintSize {
		return errInvalidAccountData
	}

	var mint token.Mint
	mint.Unmarshal(info.Data)
	if mint.IsInitialized {
		return token.ErrorAlreadyInUse
	}
	if info.Lamports < RentExemption(token.MintSize) {
		return token.ErrorNotRentExempt
	}

	mint = token.Mint{
		MintAuthority:   init.MintAuthority,
		Decimals:        init.Decimals,
		IsInitialized:   true,
		FreezeAuthority: init.FreezeAuthority,
	}
	info.Data = mint.Marshal()
	return nil
}

func (l *Ledger) initializeTokenAccount(address, mintAddress, owner ed25519.PublicKey) error {
	info, ok := l.accounts[string(address)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return errIncorrectProgramID
	}
	if len(info.Data) != token.AccountSize {
		return errInvalidAccountData
	}

	var account token.Account
	account.Unmarshal(info.Data)
	if account.State != token.AccountStateUninitialized {
		return token.ErrorAlreadyInUse
	}
	if info.Lamports < RentExemption(token.AccountSize) {
		return token.ErrorNotRentExempt
	}
	if _, ok := l.mint(mintAddress); !ok {
		return token.ErrorInvalidMint
	}

	account = token.Account{
		Mint:  mintAddress,
		Owner: owner,
		State: token.AccountStateInitialized,
	}
	info.Data = account.Marshal()
	return nil
}

func (l *Ledger) mintTo(mintTo *token.DecompiledMintTo) error {
	mint, ok := l.mint(mintTo.Mint)
	if !ok {
		return token.ErrorUninitializedState
	}
	account, ok := l.tokenAccount(mintTo.Dest)
	if !ok {
		return token.ErrorUninitializedState
	}
	if !bytes.Equal(account.Mint, mintTo.Mint) {
		return token.ErrorMintMismatch
	}
	if len(mint.MintAuthority) == 0 {
		return token.ErrorFixedSupply
	}
	if !bytes.Equal(mint.MintAuthority, mintTo.Authority) {
		return token.ErrorOwnerMismatch
	}
	if mint.Supply+mintTo.Amount < mint.Supply || account.Amount+mintTo.Amount < account.Amount {
		return token.ErrorOverflow
	}

	mint.Supply += mintTo.Amount
	account.Amount += mintTo.Amount
	l.accounts[string(mintTo.Mint)].Data = mint.Marshal()
	l.accounts[string(mintTo.Dest)].Data = account.Marshal()
	return nil
}

func (l *Ledger) executeAssociatedTokenAccount(m solana.Message, index int) error {
	create, err := token.DecompileCreateAssociatedAccount(m, index)
	if err != nil {
		return errInvalidInstructionData
	}
	if !isSigner(m, create.Subsidizer) {
		return errMissingRequiredSignature
	}

	expected, err := token.GetAssociatedAccount(create.Owner, create.Mint)
	if err != nil || !bytes.Equal(expected, create.Address) {
		return errInvalidArgument
	}

	if existing, ok := l.tokenAccount(create.Address); ok {
		if create.Idempotent && bytes.Equal(existing.Owner, create.Owner) && bytes.Equal(existing.Mint, create.Mint) {
			return nil
		}
		return errAccountAlreadyInitialized
	}

	if err := l.createAccount(create.Subsidizer, create.Address, token.ProgramKey, RentExemption(token.AccountSize), token.AccountSize); err != nil {
		return err
	}
	return l.initializeTokenAccount(create.Address, create.Mint, create.Owner)
}

func (l *Ledger) mint(address ed25519.PublicKey) (*token.Mint, bool) {
	info, ok := l.accounts[string(address)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return nil, false
	}

	var mint token.Mint
	if !mint.Unmarshal(info.Data) || !mint.IsInitialized {
		return nil, false
	}
	return &mint, true
}

func (l *Ledger) tokenAccount(address ed25519.PublicKey) (*token.Account, bool) {
	info, ok := l.accounts[string(address)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return nil, false
	}

	var account token.Account
	if !account.Unmarshal(info.Data) || account.State == token.AccountStateUninitialized {
		return nil, false
	}
	return &account, true
}

func isSigner(m solana.Message, key ed25519.PublicKey) bool {
	for i, account := range m.Accounts {
		if m.IsSigner(i) && bytes.Equal(account, key) {
			return true
		}
	}
	return false
}
