package numeric

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// ratioScale gives Ratio sixteen fractional digits of precision, matching
// the protocol's internal collateral-ratio representation.
var ratioScale = uint256.NewInt(1_0000_0000_0000_0000)

// divHalfDown divides num by den, rounding down on an exact tie (remainder
// exactly half of den). This is the protocol's default monetary rounding
// mode: every shared Ratio operation uses it unless a caller explicitly
// needs a ceiling (e.g. a fee the protocol must never under-collect).
func divHalfDown(num, den *uint256.Int) *uint256.Int {
	quotient := new(uint256.Int).Div(num, den)
	remainder := new(uint256.Int).Mod(num, den)
	twiceRemainder := new(uint256.Int).Lsh(remainder, 1)
	if twiceRemainder.Gt(den) {
		quotient.AddUint64(quotient, 1)
	}
	return quotient
}

// divCeil divides num by den, rounding any nonzero remainder up.
func divCeil(num, den *uint256.Int) *uint256.Int {
	quotient := new(uint256.Int).Div(num, den)
	remainder := new(uint256.Int).Mod(num, den)
	if !remainder.IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	return quotient
}

// Ratio is an unsigned fixed-point number with sixteen fractional digits,
// used for collateral ratios and pool product/sum snapshots. It never goes
// negative: callers express "no ratio" as a zero value and special-case it.
type Ratio struct {
	v uint256.Int
}

// One is the Ratio value 1.0.
func One() Ratio { return Ratio{v: *ratioScale} }

// Zero is the Ratio value 0.0.
func Zero() Ratio { return Ratio{} }

// RatioFromUint64 builds a Ratio equal to the given whole number.
func RatioFromUint64(n uint64) Ratio {
	var r Ratio
	r.v.Mul(uint256.NewInt(n), ratioScale)
	return r
}

// RatioFromFraction builds num/den as a Ratio, rounding half down.
func RatioFromFraction(num, den uint64) (Ratio, error) {
	if den == 0 {
		return Ratio{}, ErrDivisionByZero
	}
	numerator := new(uint256.Int).Mul(uint256.NewInt(num), ratioScale)
	var out Ratio
	out.v = *divHalfDown(numerator, uint256.NewInt(den))
	return out, nil
}

// IsZero reports whether r is exactly 0.
func (r Ratio) IsZero() bool { return r.v.IsZero() }

// Cmp returns -1, 0, or 1 comparing r to other.
func (r Ratio) Cmp(other Ratio) int { return r.v.Cmp(&other.v) }

// LessThan reports whether r < other.
func (r Ratio) LessThan(other Ratio) bool { return r.Cmp(other) < 0 }

// GreaterOrEqual reports whether r >= other.
func (r Ratio) GreaterOrEqual(other Ratio) bool { return r.Cmp(other) >= 0 }

// Add returns r+other, reporting overflow instead of wrapping.
func (r Ratio) Add(other Ratio) (Ratio, error) {
	var out Ratio
	_, overflow := out.v.AddOverflow(&r.v, &other.v)
	if overflow {
		return Ratio{}, ErrOverflow
	}
	return out, nil
}

// Sub returns r-other, saturating at zero (ratios never go negative; a
// caller computing e.g. remaining headroom clamps there deliberately).
func (r Ratio) Sub(other Ratio) Ratio {
	if r.v.Lt(&other.v) {
		return Ratio{}
	}
	var out Ratio
	out.v.Sub(&r.v, &other.v)
	return out
}

// Mul returns r*other using ray-style fixed-point multiplication: the raw
// product is divided back down by the scale with round-half-down.
func (r Ratio) Mul(other Ratio) (Ratio, error) {
	product, overflow := new(uint256.Int).MulOverflow(&r.v, &other.v)
	if overflow {
		return Ratio{}, ErrOverflow
	}
	var out Ratio
	out.v = *divHalfDown(product, ratioScale)
	return out, nil
}

// Div returns r/other using ray-style fixed-point division, round-half-down.
func (r Ratio) Div(other Ratio) (Ratio, error) {
	if other.v.IsZero() {
		return Ratio{}, ErrDivisionByZero
	}
	numerator, overflow := new(uint256.Int).MulOverflow(&r.v, ratioScale)
	if overflow {
		return Ratio{}, ErrOverflow
	}
	var out Ratio
	out.v = *divHalfDown(numerator, &other.v)
	return out, nil
}

// MulInt scales a raw e8s-denominated integer amount by r, rounding half
// down. This is the primary bridge between Ratio math and E8s token
// amounts.
func (r Ratio) MulInt(amount uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(&r.v, uint256.NewInt(amount))
	if overflow {
		return 0, ErrOverflow
	}
	out := divHalfDown(product, ratioScale)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}

// MulIntCeil scales amount by r like MulInt, but rounds any nonzero
// remainder up instead of down. Used where the protocol must never
// under-collect, such as the borrow fee.
func (r Ratio) MulIntCeil(amount uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(&r.v, uint256.NewInt(amount))
	if overflow {
		return 0, ErrOverflow
	}
	out := divCeil(product, ratioScale)
	if !out.IsUint64() {
		return 0, ErrOverflow
	}
	return out.Uint64(), nil
}

// MarshalJSON encodes r as a hex string of its 32-byte big-endian form, so
// a Ratio embedded in a snapshot round-trips exactly instead of losing
// precision through a decimal float.
func (r Ratio) MarshalJSON() ([]byte, error) {
	b := r.v.Bytes32()
	return json.Marshal(hex.EncodeToString(b[:]))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("ratio: decode hex: %w", err)
	}
	var buf [32]byte
	if len(raw) > 32 {
		return fmt.Errorf("ratio: encoded value too wide (%d bytes)", len(raw))
	}
	copy(buf[32-len(raw):], raw)
	r.v.SetBytes32(buf[:])
	return nil
}

// String renders r with its implied sixteen decimal places.
func (r Ratio) String() string {
	whole := new(uint256.Int).Div(&r.v, ratioScale)
	frac := new(uint256.Int).Mod(&r.v, ratioScale)
	fracStr := frac.Dec()
	for len(fracStr) < 16 {
		fracStr = "0" + fracStr
	}
	return fmt.Sprintf("%s.%s", whole.Dec(), fracStr)
}
