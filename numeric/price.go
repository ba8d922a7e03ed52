package numeric

import "github.com/holiman/uint256"

// priceScale gives Price eight fractional digits, matching the e8s
// convention used for token amounts so a Price can be multiplied directly
// against an E8s-denominated collateral balance.
var priceScale = uint256.NewInt(1_0000_0000)

// Price is USD-per-ICP, fixed point with eight fractional digits.
type Price struct {
	v uint256.Int
}

// PriceFromE8s builds a Price from its raw e8s-scaled integer form, as
// reported by an oracle.
func PriceFromE8s(raw uint64) Price {
	var p Price
	p.v.SetUint64(raw)
	return p
}

// IsZero reports whether the price is unset.
func (p Price) IsZero() bool { return p.v.IsZero() }

// Uint64 returns the raw e8s-scaled integer form.
func (p Price) Uint64() uint64 { return p.v.Uint64() }

// CollateralForValue converts a USD value (e8s icUSD-equivalent) into the
// collateral amount (e8s ICP) it corresponds to at this price, the inverse
// of ValueOf.
func (p Price) CollateralForValue(valueE8s uint64) (uint64, error) {
	if p.v.IsZero() {
		return 0, ErrDivisionByZero
	}
	numerator, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(valueE8s), priceScale)
	if overflow {
		return 0, ErrOverflow
	}
	out := divHalfDown(numerator, &p.v)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}

// ValueOf converts a collateral amount (e8s ICP) into its USD value (e8s
// icUSD-equivalent), rounding half down.
func (p Price) ValueOf(collateralE8s uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(&p.v, uint256.NewInt(collateralE8s))
	if overflow {
		return 0, ErrOverflow
	}
	out := divHalfDown(product, priceScale)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}
