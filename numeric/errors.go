package numeric

import "errors"

// ErrOverflow is returned when a fixed-point operation would wrap past the
// 256-bit word the ratio/price types are backed by.
var ErrOverflow = errors.New("numeric: overflow")

// ErrDivisionByZero is returned by any division with a zero divisor.
var ErrDivisionByZero = errors.New("numeric: division by zero")

// ErrPriceStale is returned by callers that validate an oracle Price's age
// against a staleness threshold before using it.
var ErrPriceStale = errors.New("numeric: price stale")
