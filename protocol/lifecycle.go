package protocol

import (
	"context"
	"time"

	"icusdprotocol/core/events"
	"icusdprotocol/core/eventlog"
	"icusdprotocol/mode"
	"icusdprotocol/types"
)

// Init installs the protocol for the first time, writing the genesis
// event. Callers must not call Init on a log that already has records —
// use Restore instead.
func (p *Protocol) Init(ctx context.Context, now time.Time) error {
	if p.log.Len() != 0 {
		return nil
	}
	return p.emit(ctx, events.Init{Timestamp: now.UnixNano(), DeveloperFeeTo: p.accounts.Developer})
}

// Upgrade applies an operator-issued mode override (or clears it when
// modeOverride is nil), the only mutation the upgrade surface exposes.
func (p *Protocol) Upgrade(ctx context.Context, caller types.Account, modeOverride *mode.Mode, now time.Time) error {
	var tag string
	if modeOverride != nil {
		tag = modeOverride.String()
	}
	p.modeSel.SetOverride(modeOverride)
	return p.emit(ctx, events.Upgrade{Timestamp: now.UnixNano(), Caller: caller, ModeForce: tag})
}

// Restore rebuilds the registry, stability pool, and mode/fee-engine state
// from the event log by folding every record in order: the in-memory
// state after folding log[0..k] equals the state after the k-th committed
// call. Called once at process start before any live traffic is accepted.
func (p *Protocol) Restore(ctx context.Context) error {
	return p.log.Fold(p.decoder, func(rec eventlog.Record) error {
		return p.applyReplay(rec.Event)
	})
}
