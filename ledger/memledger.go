package ledger

import (
	"context"
	"sync"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/types"
)

// MemLedger is a minimal in-memory ICRC-1/2 ledger used by tests and by a
// local single-process deployment that has no real ledger canister to
// dial. It is not a production ledger client — the protocol only ever
// talks to Ledger/Minter through the interfaces in this package, so a
// production build swaps this out for a real inter-canister client
// without touching protocol logic.
type MemLedger struct {
	mu         sync.Mutex
	balances   map[types.Account]uint64
	allowances map[types.Account]map[types.Account]uint64
	supply     uint64
	nextBlock  uint64
}

// NewMemLedger constructs an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances:   make(map[types.Account]uint64),
		allowances: make(map[types.Account]map[types.Account]uint64),
	}
}

// Credit sets up an initial balance for owner, used by tests and by a
// genesis/airdrop step. It does not affect TotalSupply, matching a
// collateral ledger the protocol does not mint.
func (l *MemLedger) Credit(owner types.Account, amountE8s uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] += amountE8s
}

// Approve records owner's allowance for spender, the ICRC-2 counterpart to
// TransferFrom.
func (l *MemLedger) Approve(owner, spender types.Account, amountE8s uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[types.Account]uint64)
	}
	l.allowances[owner][spender] = amountE8s
}

func (l *MemLedger) nextBlockIndex() uint64 {
	idx := l.nextBlock
	l.nextBlock++
	return idx
}

// BalanceOf implements Ledger.
func (l *MemLedger) BalanceOf(_ context.Context, account types.Account) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Allowance implements Ledger.
func (l *MemLedger) Allowance(_ context.Context, owner, spender types.Account) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender], nil
}

// Transfer implements Ledger.
func (l *MemLedger) Transfer(_ context.Context, args TransferArgs) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[args.From] < args.AmountE8s {
		return 0, protoerrors.ErrTransfer
	}
	l.balances[args.From] -= args.AmountE8s
	l.balances[args.To] += args.AmountE8s
	return l.nextBlockIndex(), nil
}

// TransferFrom implements Ledger, decrementing the spender's allowance.
func (l *MemLedger) TransferFrom(_ context.Context, args TransferFromArgs) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowances[args.From][args.Spender]
	if allowed < args.AmountE8s {
		return 0, protoerrors.ErrTransferFrom
	}
	if l.balances[args.From] < args.AmountE8s {
		return 0, protoerrors.ErrTransferFrom
	}
	l.allowances[args.From][args.Spender] = allowed - args.AmountE8s
	l.balances[args.From] -= args.AmountE8s
	l.balances[args.To] += args.AmountE8s
	return l.nextBlockIndex(), nil
}

// Mint implements Minter.
func (l *MemLedger) Mint(_ context.Context, to types.Account, amountE8s uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] += amountE8s
	l.supply += amountE8s
	return l.nextBlockIndex(), nil
}

// Burn implements Minter.
func (l *MemLedger) Burn(_ context.Context, from types.Account, amountE8s uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amountE8s {
		return 0, protoerrors.ErrTransferFrom
	}
	l.balances[from] -= amountE8s
	l.supply -= amountE8s
	return l.nextBlockIndex(), nil
}

// TotalSupply implements Minter.
func (l *MemLedger) TotalSupply(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply, nil
}
