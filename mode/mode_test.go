package mode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"icusdprotocol/numeric"
)

func criticalTCR(t *testing.T) numeric.Ratio {
	t.Helper()
	r, err := numeric.RatioFromFraction(15000, 10000) // 1.50
	require.NoError(t, err)
	return r
}

func TestSelectorEntersRecoveryBelowCritical(t *testing.T) {
	sel := NewSelector(criticalTCR(t))
	tcr, err := numeric.RatioFromFraction(14000, 10000) // 1.40
	require.NoError(t, err)

	got := sel.Observe(tcr, false)
	require.Equal(t, Recovery, got)
}

func TestSelectorStaysGeneralAvailabilityAtOrAboveCritical(t *testing.T) {
	sel := NewSelector(criticalTCR(t))
	got := sel.Observe(criticalTCR(t), false)
	require.Equal(t, GeneralAvailability, got)
}

func TestSelectorHysteresisRequiresRecoveryToClear(t *testing.T) {
	sel := NewSelector(criticalTCR(t))
	low, err := numeric.RatioFromFraction(14000, 10000)
	require.NoError(t, err)
	require.Equal(t, Recovery, sel.Observe(low, false))

	// The first tick at or above the critical threshold does not clear
	// Recovery by itself; it must hold for one more tick.
	require.Equal(t, Recovery, sel.Observe(criticalTCR(t), false))

	// A second consecutive healthy tick clears it.
	require.Equal(t, GeneralAvailability, sel.Observe(criticalTCR(t), false))

	// Re-entering Recovery and then observing a single healthy tick
	// followed by a relapse must stay in Recovery, not exit early.
	require.Equal(t, Recovery, sel.Observe(low, false))
	above, err := numeric.RatioFromFraction(16000, 10000)
	require.NoError(t, err)
	require.Equal(t, Recovery, sel.Observe(above, false), "a single healthy tick is not enough to clear")
	require.Equal(t, Recovery, sel.Observe(low, false), "a relapse before the second healthy tick resets the debounce")
	require.Equal(t, Recovery, sel.Observe(above, false), "first healthy tick after the relapse")
	require.Equal(t, GeneralAvailability, sel.Observe(above, false), "second consecutive healthy tick clears Recovery")
}

func TestSelectorZeroDebtIsMaximallyHealthy(t *testing.T) {
	sel := NewSelector(criticalTCR(t))
	require.Equal(t, Recovery, sel.Observe(numeric.Zero(), false))
	require.Equal(t, GeneralAvailability, sel.Observe(numeric.Zero(), true))
}

func TestSelectorOverrideTakesPrecedence(t *testing.T) {
	sel := NewSelector(criticalTCR(t))
	readOnly := ReadOnly
	sel.SetOverride(&readOnly)

	healthy, err := numeric.RatioFromFraction(30000, 10000)
	require.NoError(t, err)
	require.Equal(t, ReadOnly, sel.Observe(healthy, false))

	sel.SetOverride(nil)
	require.Equal(t, GeneralAvailability, sel.Observe(healthy, false))
}

func TestMinCollateralRatioSelectsByMode(t *testing.T) {
	general, err := numeric.RatioFromFraction(13300, 10000)
	require.NoError(t, err)
	recovery, err := numeric.RatioFromFraction(15000, 10000)
	require.NoError(t, err)

	require.Equal(t, 0, MinCollateralRatio(GeneralAvailability, general, recovery).Cmp(general))
	require.Equal(t, 0, MinCollateralRatio(Recovery, general, recovery).Cmp(recovery))
	require.Equal(t, 0, MinCollateralRatio(ReadOnly, general, recovery).Cmp(general))
}

func TestModeString(t *testing.T) {
	require.Equal(t, "general_availability", GeneralAvailability.String())
	require.Equal(t, "recovery", Recovery.String())
	require.Equal(t, "read_only", ReadOnly.String())
}
