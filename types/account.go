// Package types defines the wire-level identifier and amount primitives
// shared by every protocol package.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AccountHRP is the bech32 human-readable part used for principal encoding.
const AccountHRP = "icusd"

// ErrInvalidAccount is returned when a bech32 string does not decode to a
// 32-byte canister/owner principal.
var ErrInvalidAccount = errors.New("types: invalid account address")

// Account identifies a caller or payee: either an IC principal (canister or
// user) or, for the optional subaccount scheme some ledgers use, a principal
// plus a 32-byte subaccount discriminator. Only the 32-byte principal digest
// is modeled here; subaccounts are carried as an opaque suffix.
type Account struct {
	Principal  [32]byte
	Subaccount [32]byte
	HasSub     bool
}

// NewAccount builds an Account from a raw principal digest.
func NewAccount(principal [32]byte) Account {
	return Account{Principal: principal}
}

// WithSubaccount returns a copy of a carrying the given subaccount.
func (a Account) WithSubaccount(sub [32]byte) Account {
	a.Subaccount = sub
	a.HasSub = true
	return a
}

// IsZero reports whether a is the anonymous/unset principal.
func (a Account) IsZero() bool {
	for _, b := range a.Principal {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two accounts refer to the same principal and
// subaccount.
func (a Account) Equal(other Account) bool {
	return a.Principal == other.Principal && a.HasSub == other.HasSub && a.Subaccount == other.Subaccount
}

// String renders the account as a bech32 address for logs and CLI output.
func (a Account) String() string {
	data, err := bech32.ConvertBits(a.Principal[:], 8, 5, true)
	if err != nil {
		return hex.EncodeToString(a.Principal[:])
	}
	encoded, err := bech32.Encode(AccountHRP, data)
	if err != nil {
		return hex.EncodeToString(a.Principal[:])
	}
	if a.HasSub {
		return encoded + "." + hex.EncodeToString(a.Subaccount[:8])
	}
	return encoded
}

// ParseAccount decodes a bech32-encoded principal produced by String.
func ParseAccount(s string) (Account, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if hrp != AccountHRP {
		return Account{}, fmt.Errorf("%w: unexpected hrp %q", ErrInvalidAccount, hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if len(decoded) != 32 {
		return Account{}, fmt.Errorf("%w: length %d", ErrInvalidAccount, len(decoded))
	}
	var out Account
	copy(out.Principal[:], decoded)
	return out, nil
}
