package feeengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"icusdprotocol/numeric"
)

var curve = Curve{MinBps: 50, MaxBps: 500}

func TestBorrowFeeRateAtZeroSupplyIsFloor(t *testing.T) {
	rate, err := BorrowFeeRate(curve, 0)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, curve.MinBps)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestBorrowFeeRateAtReferenceSupplyIsCeiling(t *testing.T) {
	rate, err := BorrowFeeRate(curve, ReferenceSupplyE8s)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, curve.MaxBps)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestBorrowFeeRateClampsBeyondReference(t *testing.T) {
	rate, err := BorrowFeeRate(curve, ReferenceSupplyE8s*10)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, curve.MaxBps)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestRedemptionFeeRateDecaysTowardFloor(t *testing.T) {
	rate, err := RedemptionFeeRate(curve, 400, RedemptionDecayHalfLife, 0)
	require.NoError(t, err)
	// One half-life: base decays exactly halfway from 400 to the 50bps
	// floor, landing at 225bps: 50 + (400-50)*0.5.
	want, _ := ratioFromBps(t, 225)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestRedemptionFeeRateNoElapsedTimeKeepsBase(t *testing.T) {
	rate, err := RedemptionFeeRate(curve, 300, 0, 0)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, 300)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestRedemptionFeeRateAtOrBelowFloorReturnsFloor(t *testing.T) {
	rate, err := RedemptionFeeRate(curve, 50, time.Hour, 0)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, curve.MinBps)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestRedemptionFeeRateAddsSupplyTermOnTopOfDecayedBase(t *testing.T) {
	// At the reference supply the full 450bps span is added even with no
	// decayed base left over, so the floor-only base of 50bps becomes 500.
	rate, err := RedemptionFeeRate(curve, 50, time.Hour, ReferenceSupplyE8s)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, curve.MaxBps)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestRedemptionFeeRateClampsCombinedDecayAndSupplyAtCeiling(t *testing.T) {
	rate, err := RedemptionFeeRate(curve, 400, 0, ReferenceSupplyE8s)
	require.NoError(t, err)
	want, _ := ratioFromBps(t, curve.MaxBps)
	require.Equal(t, 0, rate.Cmp(want))
}

func TestNextRedemptionBaseScalesWithFractionRedeemed(t *testing.T) {
	// Redeeming 10% of supply adds 10% of 10,000bps (1,000bps) to the base,
	// which pushes 50+1000 past MaxBps and clamps there.
	next, err := NextRedemptionBase(curve, 50, 100, 1000)
	require.NoError(t, err)
	require.Equal(t, curve.MaxBps, next)
}

func TestNextRedemptionBaseSmallFractionDoesNotClamp(t *testing.T) {
	// Redeeming 0.1% of supply adds 10bps, staying under MaxBps.
	next, err := NextRedemptionBase(curve, 50, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(60), next)
}

func TestNextRedemptionBaseClampsAtCeiling(t *testing.T) {
	next, err := NextRedemptionBase(curve, 450, 1000, 1000)
	require.NoError(t, err)
	require.Equal(t, curve.MaxBps, next)
}

func TestNextRedemptionBaseZeroSupplyNoOp(t *testing.T) {
	next, err := NextRedemptionBase(curve, 123, 100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(123), next)
}

func ratioFromBps(t *testing.T, bps uint64) (numeric.Ratio, bool) {
	t.Helper()
	r, err := bpsToRatio(bps)
	require.NoError(t, err)
	return r, true
}
