package numeric

// CollateralRatio computes collateral-value / debt as a Ratio. A vault with
// zero debt has no meaningful ratio; callers treat that as "infinitely
// healthy" rather than calling this function.
func CollateralRatio(collateralE8s uint64, debtE8s uint64, price Price) (Ratio, error) {
	if debtE8s == 0 {
		return Ratio{}, ErrDivisionByZero
	}
	valueE8s, err := price.ValueOf(collateralE8s)
	if err != nil {
		return Ratio{}, err
	}
	num, err := RatioFromFraction(valueE8s, debtE8s)
	if err != nil {
		return Ratio{}, err
	}
	return num, nil
}

// MaxBorrowableE8s returns the additional icUSD a vault with the given
// collateral and existing debt could still borrow at price while remaining
// at or above minCR, floored at zero.
func MaxBorrowableE8s(collateralE8s, existingDebtE8s uint64, price Price, minCR Ratio) (uint64, error) {
	if minCR.IsZero() {
		return 0, ErrDivisionByZero
	}
	valueE8s, err := price.ValueOf(collateralE8s)
	if err != nil {
		return 0, err
	}
	capacity, err := RatioFromFraction(valueE8s, 1)
	if err != nil {
		return 0, err
	}
	capacity, err = capacity.Div(minCR)
	if err != nil {
		return 0, err
	}
	grossE8s, err := capacity.MulInt(1)
	if err != nil {
		return 0, err
	}
	if grossE8s <= existingDebtE8s {
		return 0, nil
	}
	return grossE8s - existingDebtE8s, nil
}
