// Package ledger defines the external ICRC-1/2 token ledger contract the
// protocol transfers icUSD and ICP collateral through. It is a capability
// interface only — no transport is implemented here, matching the
// external-collaborator boundary the protocol draws around the ledger
// canister.
package ledger

import (
	"context"

	"icusdprotocol/types"
)

// TransferArgs mirrors the ICRC-1 icrc1_transfer argument shape.
type TransferArgs struct {
	From      types.Account
	To        types.Account
	AmountE8s uint64
	Memo      []byte
	CreatedAt uint64
}

// TransferFromArgs mirrors the ICRC-2 icrc2_transfer_from argument shape,
// used to pull collateral the caller has pre-approved.
type TransferFromArgs struct {
	Spender   types.Account
	From      types.Account
	To        types.Account
	AmountE8s uint64
	Memo      []byte
	CreatedAt uint64
}

// Ledger is the capability surface the protocol needs from an ICRC-1/2
// token canister, for both the icUSD ledger and the collateral (ICP)
// ledger.
type Ledger interface {
	// BalanceOf returns the current balance of the given account.
	BalanceOf(ctx context.Context, account types.Account) (uint64, error)

	// Transfer moves funds from the protocol's own account to a recipient,
	// returning the ledger's assigned block index.
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)

	// Allowance returns the amount the owner has approved the protocol to
	// spend on its behalf.
	Allowance(ctx context.Context, owner, spender types.Account) (uint64, error)

	// TransferFrom pulls funds from an account that has approved the
	// protocol as spender, used to take collateral deposits.
	TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error)
}

// Minter is implemented by ledgers the protocol has mint/burn authority
// over (the icUSD ledger itself, as opposed to the external ICP ledger).
type Minter interface {
	Ledger
	Mint(ctx context.Context, to types.Account, amountE8s uint64) (uint64, error)
	Burn(ctx context.Context, from types.Account, amountE8s uint64) (uint64, error)
	// TotalSupply returns icrc1_total_supply, used by the fatal-invariant
	// check that total vault debt never exceeds total icUSD supply.
	TotalSupply(ctx context.Context) (uint64, error)
}
