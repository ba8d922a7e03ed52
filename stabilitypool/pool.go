// Package stabilitypool implements the liquidation-absorbing stability
// pool using the product-snapshot algorithm: every depositor's compounded
// balance and accumulated collateral gain is derived lazily from two
// pool-global scalars (P, S) and the depositor's snapshot of them at their
// last touch, so a liquidation updates O(1) state regardless of depositor
// count. The index decays multiplicatively rather than growing, since
// liquidations shrink (rather than grow) each depositor's share.
package stabilitypool

import (
	"sync"

	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/numeric"
	"icusdprotocol/types"
)

// RescaleFactor is multiplied into P whenever a liquidation would otherwise
// round P down to zero, preserving precision across the "scale" boundary.
// Snapshots taken before a rescale are adjusted by this factor when read
// after it.
var RescaleFactor = numeric.RatioFromUint64(1_000_000_000)

// minPBeforeRescale is the threshold below which a post-liquidation P is
// considered to have underflowed and must be rescaled.
var minPBeforeRescale = func() numeric.Ratio {
	r, _ := numeric.RatioFromFraction(1, 1_000_000_000)
	return r
}()

// Snapshot captures the pool-global scalars at the moment a depositor's
// balance was last reconciled.
type Snapshot struct {
	P     numeric.Ratio
	S     numeric.Ratio
	Scale uint64
}

// Deposit is one depositor's position: the nominal principal recorded at
// their last touch, plus the snapshot needed to derive their current
// compounded balance and collateral gain.
type Deposit struct {
	PrincipalE8s uint64
	Snapshot     Snapshot
}

// Pool is the stability pool's global state.
type Pool struct {
	mu       sync.Mutex
	p        numeric.Ratio
	s        numeric.Ratio
	scale    uint64
	totalE8s uint64
	deposits map[types.Account]Deposit
}

// NewPool constructs an empty stability pool with P=1, S=0.
func NewPool() *Pool {
	return &Pool{
		p:        numeric.One(),
		s:        numeric.Zero(),
		deposits: make(map[types.Account]Deposit),
	}
}

// State is the serializable form of a Pool's entire state, used to seed a
// fresh process from a persisted snapshot instead of replaying every
// Provide/Withdraw/Absorb event from the start of the log.
type State struct {
	P        numeric.Ratio
	S        numeric.Ratio
	Scale    uint64
	TotalE8s uint64
	Deposits map[types.Account]Deposit
}

// ExportState captures the pool's entire state for persistence.
func (pool *Pool) ExportState() State {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	deposits := make(map[types.Account]Deposit, len(pool.deposits))
	for owner, d := range pool.deposits {
		deposits[owner] = d
	}
	return State{
		P:        pool.p,
		S:        pool.s,
		Scale:    pool.scale,
		TotalE8s: pool.totalE8s,
		Deposits: deposits,
	}
}

// NewPoolFromState reconstructs a Pool from a previously exported State.
func NewPoolFromState(state State) *Pool {
	deposits := make(map[types.Account]Deposit, len(state.Deposits))
	for owner, d := range state.Deposits {
		deposits[owner] = d
	}
	return &Pool{
		p:        state.P,
		s:        state.S,
		scale:    state.Scale,
		totalE8s: state.TotalE8s,
		deposits: deposits,
	}
}

// TotalDeposits returns the pool's current aggregate icUSD value.
func (pool *Pool) TotalDeposits() uint64 {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.totalE8s
}

func (pool *Pool) snapshotNow() Snapshot {
	return Snapshot{P: pool.p, S: pool.s, Scale: pool.scale}
}

// compounded returns a deposit's current icUSD value given the pool's
// present P and scale.
func compounded(d Deposit, p numeric.Ratio, scale uint64) (uint64, error) {
	if d.PrincipalE8s == 0 {
		return 0, nil
	}
	hops := scale - d.Snapshot.Scale
	if hops > 1 {
		return 0, nil
	}
	ratio, err := p.Div(d.Snapshot.P)
	if err != nil {
		return 0, err
	}
	// The stored P was multiplied up by RescaleFactor at the scale
	// boundary; a snapshot from before it reads the true decay back out
	// by dividing the same factor.
	if hops == 1 {
		ratio, err = ratio.Div(RescaleFactor)
		if err != nil {
			return 0, err
		}
	}
	return ratio.MulInt(d.PrincipalE8s)
}

// collateralGain returns the collateral a deposit has accrued since its
// last touch.
func collateralGain(d Deposit, s numeric.Ratio, scale uint64) (uint64, error) {
	if d.PrincipalE8s == 0 {
		return 0, nil
	}
	hops := scale - d.Snapshot.Scale
	if hops > 1 {
		return 0, nil
	}
	diff := s.Sub(d.Snapshot.S)
	perUnit, err := diff.Div(d.Snapshot.P)
	if err != nil {
		return 0, err
	}
	// Same correction as compounded: undo the RescaleFactor the stored
	// scalars picked up at the scale boundary.
	if hops == 1 {
		perUnit, err = perUnit.Div(RescaleFactor)
		if err != nil {
			return 0, err
		}
	}
	return perUnit.MulInt(d.PrincipalE8s)
}

// touch reconciles a depositor's recorded principal to its current
// compounded value and re-snapshots it against the pool's present
// scalars, returning the collateral gain accrued since the last touch.
// Callers pay this gain out or add it to a pending-transfer record.
func (pool *Pool) touch(owner types.Account) (compoundedE8s, gainE8s uint64, err error) {
	d, ok := pool.deposits[owner]
	if !ok {
		return 0, 0, nil
	}
	compoundedE8s, err = compounded(d, pool.p, pool.scale)
	if err != nil {
		return 0, 0, err
	}
	gainE8s, err = collateralGain(d, pool.s, pool.scale)
	if err != nil {
		return 0, 0, err
	}
	pool.deposits[owner] = Deposit{PrincipalE8s: compoundedE8s, Snapshot: pool.snapshotNow()}
	return compoundedE8s, gainE8s, nil
}

// Provide deposits amountE8s of icUSD into the pool on behalf of owner,
// returning any collateral gain accrued since the depositor's last touch
// so the caller can pay it out alongside.
func (pool *Pool) Provide(owner types.Account, amountE8s uint64) (pendingGainE8s uint64, err error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	compoundedE8s, gain, err := pool.touch(owner)
	if err != nil {
		return 0, err
	}
	pool.deposits[owner] = Deposit{PrincipalE8s: compoundedE8s + amountE8s, Snapshot: pool.snapshotNow()}
	pool.totalE8s += amountE8s
	return gain, nil
}

// Withdraw removes up to amountE8s of a depositor's compounded balance
// from the pool, returning the amount actually withdrawn and any
// collateral gain accrued since the depositor's last touch.
func (pool *Pool) Withdraw(owner types.Account, amountE8s uint64) (withdrawnE8s, pendingGainE8s uint64, err error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	compoundedE8s, gain, err := pool.touch(owner)
	if err != nil {
		return 0, 0, err
	}
	if compoundedE8s == 0 {
		return 0, gain, nil
	}
	withdrawnE8s = amountE8s
	if withdrawnE8s > compoundedE8s {
		withdrawnE8s = compoundedE8s
	}
	remaining := compoundedE8s - withdrawnE8s
	pool.deposits[owner] = Deposit{PrincipalE8s: remaining, Snapshot: pool.snapshotNow()}
	if pool.totalE8s < withdrawnE8s {
		pool.totalE8s = 0
	} else {
		pool.totalE8s -= withdrawnE8s
	}
	return withdrawnE8s, gain, nil
}

// Claim reconciles a depositor's position and returns its accrued
// collateral gain without altering principal.
func (pool *Pool) Claim(owner types.Account) (gainE8s uint64, err error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	_, gain, err := pool.touch(owner)
	return gain, err
}

// CompoundedBalance returns a depositor's current icUSD-denominated stake
// without mutating any state.
func (pool *Pool) CompoundedBalance(owner types.Account) (uint64, error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	d, ok := pool.deposits[owner]
	if !ok {
		return 0, nil
	}
	return compounded(d, pool.p, pool.scale)
}

// ScalarsHealthy reports whether the pool's decay product is still
// strictly positive. A zero P means every depositor's compounded balance
// has been irrecoverably rounded away — the state Absorb's total-equals-
// debt refusal exists to prevent.
func (pool *Pool) ScalarsHealthy() bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return !pool.p.IsZero()
}

// Absorb applies a liquidated vault's debt and collateral to the pool: debt
// is burned out of the pool proportionally to every depositor's share (via
// the P update) and collateral is credited the same way (via the S
// update). It refuses when the pool is empty, when debtE8s exceeds the
// pool's total deposits, and when it equals them exactly, since the
// (T-D)/T update would then drive P to zero; callers fall back to
// redistribution in those cases.
func (pool *Pool) Absorb(debtE8s, collateralE8s uint64) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if debtE8s == 0 {
		return nil
	}
	if pool.totalE8s == 0 || debtE8s > pool.totalE8s {
		return protoerrors.ErrPoolAbsorptionRefused
	}
	if debtE8s == pool.totalE8s {
		return protoerrors.ErrPoolAbsorptionRefused
	}

	collateralPerUnit, err := numeric.RatioFromFraction(collateralE8s, pool.totalE8s)
	if err != nil {
		return err
	}
	scaledGain, err := collateralPerUnit.Mul(pool.p)
	if err != nil {
		return err
	}
	newS, err := pool.s.Add(scaledGain)
	if err != nil {
		return err
	}

	remainingFraction, err := numeric.RatioFromFraction(pool.totalE8s-debtE8s, pool.totalE8s)
	if err != nil {
		return err
	}
	newP, err := pool.p.Mul(remainingFraction)
	if err != nil {
		return err
	}

	pool.s = newS
	if newP.LessThan(minPBeforeRescale) && !newP.IsZero() {
		rescaled, err := newP.Mul(RescaleFactor)
		if err != nil {
			return err
		}
		pool.p = rescaled
		pool.scale++
	} else {
		pool.p = newP
	}

	pool.totalE8s -= debtE8s
	return nil
}
