// Package feeengine implements the borrow-fee and redemption-fee curves,
// both supply-responsive: each resolves a basis-point rate from the
// circulating icUSD supply and clamps it between a floor and a ceiling.
package feeengine

import (
	"math"
	"time"

	"icusdprotocol/numeric"
)

// ReferenceSupplyE8s is S_ref: the circulating icUSD supply at which the
// borrow-fee curve reaches its ceiling. Fixed at 1,000,000 icUSD, a round
// number sized for a newly launched protocol.
const ReferenceSupplyE8s = 1_000_000 * 1_0000_0000

// RedemptionDecayHalfLife is the half-life the redemption-fee base decays
// toward its floor with, absent further redemptions.
const RedemptionDecayHalfLife = 12 * time.Hour

// Curve holds the basis-point floor and ceiling both fee curves clamp
// between.
type Curve struct {
	MinBps uint64
	MaxBps uint64
}

// supplyBumpBps returns the basis-point bump both fee curves add as
// circulating supply approaches ReferenceSupplyE8s, scaling linearly from 0
// at zero supply to the curve's full span (MaxBps-MinBps) at or beyond
// ReferenceSupplyE8s.
func supplyBumpBps(curve Curve, circulatingSupplyE8s uint64) (uint64, error) {
	span := curve.MaxBps - curve.MinBps
	ratio, err := numeric.RatioFromFraction(circulatingSupplyE8s, ReferenceSupplyE8s)
	if err != nil {
		return 0, err
	}
	one := numeric.One()
	if ratio.GreaterOrEqual(one) {
		ratio = one
	}
	return ratio.MulInt(span)
}

// BorrowFeeRate returns the borrow fee rate at the given circulating
// supply: it rises from MinBps toward MaxBps as supply approaches and
// exceeds ReferenceSupplyE8s, so early borrowers pay less and the curve
// self-moderates growth once the protocol is well established.
func BorrowFeeRate(curve Curve, circulatingSupplyE8s uint64) (numeric.Ratio, error) {
	bump, err := supplyBumpBps(curve, circulatingSupplyE8s)
	if err != nil {
		return numeric.Ratio{}, err
	}
	return bpsToRatio(curve.MinBps + bump)
}

// RedemptionFeeRate returns the redemption fee rate given the base rate
// left over from the last redemption, the time elapsed since then, and the
// current circulating supply. The base decays exponentially toward MinBps
// with half-life RedemptionDecayHalfLife, and the same supply-responsive
// bump BorrowFeeRate applies is added on top before clamping to MaxBps, so
// redemption fees rise with protocol growth even absent recent redemptions.
// Callers bump lastBaseBps upward after each redemption via
// NextRedemptionBase.
func RedemptionFeeRate(curve Curve, lastBaseBps uint64, elapsed time.Duration, circulatingSupplyE8s uint64) (numeric.Ratio, error) {
	supplyBump, err := supplyBumpBps(curve, circulatingSupplyE8s)
	if err != nil {
		return numeric.Ratio{}, err
	}

	var decayedBps uint64
	if lastBaseBps > curve.MinBps {
		if elapsed <= 0 {
			decayedBps = lastBaseBps - curve.MinBps
		} else {
			halvings := float64(elapsed) / float64(RedemptionDecayHalfLife)
			decayedBps = uint64(float64(lastBaseBps-curve.MinBps)*math.Exp2(-halvings) + 0.5)
		}
	}

	bps := curve.MinBps + decayedBps + supplyBump
	if bps > curve.MaxBps {
		bps = curve.MaxBps
	}
	return bpsToRatio(bps)
}

// NextRedemptionBase computes the new base rate (in bps) after a redemption
// that burns redeemedE8s out of a circulating supply of totalSupplyE8s,
// bumping the base proportionally to the fraction redeemed.
func NextRedemptionBase(curve Curve, currentBps uint64, redeemedE8s, totalSupplyE8s uint64) (uint64, error) {
	if totalSupplyE8s == 0 {
		return currentBps, nil
	}
	fraction, err := numeric.RatioFromFraction(redeemedE8s, totalSupplyE8s)
	if err != nil {
		return 0, err
	}
	// A full-supply redemption would add 10,000 bps (100%) to the base;
	// partial redemptions scale linearly.
	bump, err := fraction.MulInt(10_000)
	if err != nil {
		return 0, err
	}
	next := currentBps + bump
	if next > curve.MaxBps {
		next = curve.MaxBps
	}
	return next, nil
}

func bpsToRatio(bps uint64) (numeric.Ratio, error) {
	return numeric.RatioFromFraction(bps, 10_000)
}
