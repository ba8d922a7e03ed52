package types

import "fmt"

// E8sScale is the number of fractional digits used for icUSD and ICP
// amounts throughout the protocol, matching the eight-decimal convention of
// the ICP ledger.
const E8sScale = 8

// E8s is an unsigned token amount expressed in units of 1e-8. It saturates
// rather than wraps: Add/Sub never silently overflow past uint64 bounds.
type E8s uint64

// Add returns a+b, saturating at the maximum uint64 value.
func (a E8s) Add(b E8s) E8s {
	sum := uint64(a) + uint64(b)
	if sum < uint64(a) {
		return E8s(^uint64(0))
	}
	return E8s(sum)
}

// Sub returns a-b, saturating at zero when b > a.
func (a E8s) Sub(b E8s) E8s {
	if b > a {
		return 0
	}
	return a - b
}

// LessThan reports whether a < b.
func (a E8s) LessThan(b E8s) bool { return a < b }

// IsZero reports whether the amount is zero.
func (a E8s) IsZero() bool { return a == 0 }

// String renders the amount with its implied eight decimal places.
func (a E8s) String() string {
	whole := uint64(a) / 1_0000_0000
	frac := uint64(a) % 1_0000_0000
	return fmt.Sprintf("%d.%08d", whole, frac)
}
