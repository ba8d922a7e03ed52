// Package mode implements the protocol-wide mode selector: a three-state
// mode driven by the total collateral ratio plus an operator override,
// consulted before every mutating vault/redemption/liquidation operation.
package mode

import "icusdprotocol/numeric"

// Mode is the protocol's current operating state.
type Mode int

const (
	// GeneralAvailability is the normal operating mode: all operations are
	// permitted subject to the general minimum collateral ratio.
	GeneralAvailability Mode = iota
	// Recovery tightens the minimum collateral ratio and disables
	// operations that would reduce a vault's health, engaging once the
	// total collateral ratio falls below the critical threshold.
	Recovery
	// ReadOnly halts every mutating operation; only an operator override
	// can enter or leave this mode.
	ReadOnly
)

// String renders the mode name, used in log fields and event payloads.
func (m Mode) String() string {
	switch m {
	case GeneralAvailability:
		return "general_availability"
	case Recovery:
		return "recovery"
	case ReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

// Selector derives the protocol's mode from the current total collateral
// ratio, with hysteresis so a TCR oscillating around the critical
// threshold does not flap the mode every tick, and an operator override
// that takes precedence over the TCR rule entirely.
type Selector struct {
	criticalTCR numeric.Ratio
	inRecovery  bool
	pendingExit bool // one healthy tick already observed while in Recovery
	override    *Mode
}

// NewSelector constructs a Selector that enters Recovery once TCR drops
// below criticalTCR.
func NewSelector(criticalTCR numeric.Ratio) *Selector {
	return &Selector{criticalTCR: criticalTCR}
}

// SetOverride forces the mode regardless of TCR, until cleared. This is the
// only way to enter or leave ReadOnly.
func (s *Selector) SetOverride(m *Mode) {
	s.override = m
}

// Observe updates the hysteresis state from the latest total collateral
// ratio and returns the resulting mode. tcr should be the registry's total
// collateral value over total debt. Callers pass totalDebtZero=true when
// total debt is zero, which Observe treats as maximally healthy; a zero
// tcr with totalDebtZero=false is below the critical ratio like any other.
func (s *Selector) Observe(tcr numeric.Ratio, totalDebtZero bool) Mode {
	if s.override != nil {
		s.pendingExit = false
		if *s.override == ReadOnly {
			return ReadOnly
		}
		if *s.override == Recovery {
			s.inRecovery = true
			return Recovery
		}
		s.inRecovery = false
		return GeneralAvailability
	}

	if totalDebtZero {
		s.inRecovery = false
		s.pendingExit = false
		return GeneralAvailability
	}

	if s.inRecovery {
		// Hysteresis: once in Recovery, a TCR at or above the critical
		// threshold must hold for two consecutive observations before
		// Recovery clears — a single tick back above the line is not
		// enough, guarding against a TCR oscillating right at the
		// boundary flapping the mode every tick.
		if tcr.GreaterOrEqual(s.criticalTCR) {
			if s.pendingExit {
				s.inRecovery = false
				s.pendingExit = false
				return GeneralAvailability
			}
			s.pendingExit = true
			return Recovery
		}
		s.pendingExit = false
		return Recovery
	}

	if tcr.LessThan(s.criticalTCR) {
		s.inRecovery = true
		s.pendingExit = false
		return Recovery
	}
	return GeneralAvailability
}

// MinCollateralRatio returns the minimum collateral ratio vault operations
// must maintain under m, choosing between the general and recovery
// thresholds supplied by the caller's configuration.
func MinCollateralRatio(m Mode, general, recovery numeric.Ratio) numeric.Ratio {
	if m == Recovery {
		return recovery
	}
	return general
}
