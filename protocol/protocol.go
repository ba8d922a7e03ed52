// Package protocol wires every component (registry, fee engine, mode
// selector, price cache, stability pool, liquidation engine, redemption
// router, pending-transfer manager) into the single Protocol type that
// exposes the protocol's public operation surface. It owns the event log
// the other packages only append to, opens an OpenTelemetry span around
// every public operation, and is the place the fatal invariants are
// actually enforced: a violation halts mutation, it does not merely get
// logged.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"icusdprotocol/config"
	protoerrors "icusdprotocol/core/errors"
	"icusdprotocol/core/events"
	"icusdprotocol/core/eventlog"
	"icusdprotocol/feeengine"
	"icusdprotocol/internal/pause"
	"icusdprotocol/ledger"
	"icusdprotocol/liquidation"
	"icusdprotocol/mode"
	"icusdprotocol/numeric"
	"icusdprotocol/observability/metrics"
	"icusdprotocol/pendingtransfer"
	"icusdprotocol/priceoracle"
	"icusdprotocol/redemption"
	"icusdprotocol/stabilitypool"
	"icusdprotocol/types"
	"icusdprotocol/vault"
)

var tracer = otel.Tracer("icusdprotocol/protocol")

// Accounts bundles the well-known accounts the protocol itself acts as or
// pays fees to.
type Accounts struct {
	Protocol  types.Account // custodies pulled collateral and pooled icUSD
	Developer types.Account
}

// Protocol is the top-level canister-equivalent: one method per public
// operation, plus the init/upgrade lifecycle and the query surface. It is
// safe for concurrent use; the per-owner and per-subsystem locks inside
// vault.Ops/redemption.Router serialize conflicting mutations.
type Protocol struct {
	cfg      *config.Config
	accounts Accounts

	log     *eventlog.Log
	decoder eventlog.Decoder

	registry *vault.Registry
	pool     *stabilitypool.Pool
	ops      *vault.Ops
	router   *redemption.Router
	liq      *liquidation.Engine
	modeSel  *mode.Selector
	prices   *priceoracle.Cache
	pauses   *pause.Switch
	pending  *pendingtransfer.Manager

	// generalCR/recoveryCR double as both the minimum vault collateral
	// ratio and the liquidation threshold for their respective modes
	// (1.33 in GeneralAvailability, 1.50 in Recovery).
	generalCR  numeric.Ratio
	recoveryCR numeric.Ratio

	icusd ledger.Minter

	metrics *metrics.ProtocolMetrics
	logger  *slog.Logger

	mu     sync.RWMutex
	halted bool
	haltedReason string
}

// New constructs a Protocol bound to the given collaborators. log must
// already be open (possibly non-empty, in which case callers should call
// Restore before accepting traffic).
func New(cfg *config.Config, log *eventlog.Log, icusd ledger.Minter, collateral ledger.Ledger, oracle priceoracle.Oracle, accounts Accounts, logger *slog.Logger) (*Protocol, error) {
	generalCR, err := numeric.RatioFromFraction(cfg.MinCollateralRatioGeneralBps, 10_000)
	if err != nil {
		return nil, err
	}
	recoveryCR, err := numeric.RatioFromFraction(cfg.MinCollateralRatioRecoveryBps, 10_000)
	if err != nil {
		return nil, err
	}
	criticalTCR, err := numeric.RatioFromFraction(cfg.CriticalTCRBps, 10_000)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	// The pending-transfer queue shares the event log's backing store, so
	// intents recorded before a crash are reloaded alongside the log.
	pending, err := pendingtransfer.NewManager(log.DB(), collateral, icusd, accounts.Protocol, pendingtransfer.RetryPolicy{
		BaseDelay:   time.Duration(cfg.TransferRetryBaseMillis) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.TransferRetryMaxMillis) * time.Millisecond,
		MaxAttempts: cfg.TransferRetryMaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	p := &Protocol{
		cfg:        cfg,
		accounts:   accounts,
		log:        log,
		decoder:    eventlog.ProtocolDecoder{},
		registry:   vault.NewRegistry(),
		pool:       stabilitypool.NewPool(),
		modeSel:    mode.NewSelector(criticalTCR),
		prices:     priceoracle.NewCache(oracle, cfg.PriceStaleness()),
		pauses:     pause.NewSwitch(),
		pending:    pending,
		icusd:      icusd,
		metrics:    metrics.Protocol(),
		logger:     logger,
		generalCR:  generalCR,
		recoveryCR: recoveryCR,
	}

	feeCurve := feeengine.Curve{MinBps: cfg.MinBorrowFeeBps, MaxBps: cfg.MaxBorrowFeeBps}
	redemptionCurve := feeengine.Curve{MinBps: cfg.MinRedemptionFeeBps, MaxBps: cfg.MaxRedemptionFeeBps}

	p.ops = vault.NewOps(p.registry, icusd, collateral, p.prices, p.modeSel, vault.Params{
		MinCollateralRatioGeneral:  generalCR,
		MinCollateralRatioRecovery: recoveryCR,
		BorrowFeeCurve:             feeCurve,
		MinVaultDebtE8s:            cfg.MinVaultDebtE8s,
		MinVaultCollateralE8s:      cfg.MinVaultCollateralE8s,
		DeveloperFeeAccount:        accounts.Developer,
	}, accounts.Protocol, pending, p.emit)

	p.router = redemption.NewRouter(p.registry, icusd, pending, redemption.Params{
		FeeCurve:            redemptionCurve,
		MinRedeemE8s:        cfg.MinRedeemE8s,
		DeveloperFeeAccount: accounts.Developer,
	}, accounts.Protocol, p.emit)

	p.liq = liquidation.NewEngine(p.registry, p.pool, icusd, pending, liquidation.Params{
		BonusBps: cfg.LiquidationBonusBps,
	}, accounts.Protocol, p.emit)

	return p, nil
}

// emit appends event to the log and mirrors it into metrics/logging. It is
// the single choke point every component's mutation funnels through — any
// state change not emitted as an event is a bug, so the components never
// touch the log directly, they only ever call this closure.
func (p *Protocol) emit(ctx context.Context, event events.Event) error {
	_, span := tracer.Start(ctx, "eventlog.append", trace.WithAttributes(attribute.String("event_type", event.EventType())))
	defer span.End()

	rec, err := p.log.Append(time.Now().UnixNano(), event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", protoerrors.ErrGeneric, err)
	}
	p.logger.Info("event appended", slog.Uint64("index", rec.Index), slog.String("event_type", event.EventType()))
	return nil
}

// Halted reports whether a fatal invariant violation has halted mutating
// operations. Queries remain available.
func (p *Protocol) Halted() (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.halted, p.haltedReason
}

func (p *Protocol) halt(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.halted {
		p.halted = true
		p.haltedReason = reason
		p.logger.Error("protocol halted: fatal invariant violated", slog.String("reason", reason))
	}
}

func (p *Protocol) requireNotHalted() error {
	if halted, reason := p.Halted(); halted {
		return fmt.Errorf("%w: halted: %s", protoerrors.ErrTemporarilyUnavailable, reason)
	}
	return nil
}

// checkFatalInvariants re-derives the halting conditions after every
// committed mutation. A negative balance implied by arithmetic can't
// arise here (every amount is an unsigned e8s quantity), so the two left
// to check on the ledger/pool boundary are the circulating-supply bound
// and the stability-pool scalar's positivity.
func (p *Protocol) checkFatalInvariants(ctx context.Context) {
	if !p.pool.ScalarsHealthy() {
		p.halt("stability pool decay product reached zero")
		return
	}

	totalCollateral, totalDebt := p.registry.Totals()
	_ = totalCollateral

	supply, err := p.icusd.TotalSupply(ctx)
	if err != nil {
		p.logger.Warn("invariant check: total supply unavailable", slog.String("error", err.Error()))
		return
	}
	if totalDebt > supply {
		p.halt(fmt.Sprintf("sum of vault debt (%d) exceeds total icUSD supply (%d)", totalDebt, supply))
	}
}

// observeMode recomputes the total collateral ratio from the registry at
// price and feeds it through the mode selector's hysteresis, returning the
// resulting mode.
func (p *Protocol) observeMode(price numeric.Price) mode.Mode {
	totalCollateral, totalDebt := p.registry.Totals()
	if totalDebt == 0 {
		return p.modeSel.Observe(numeric.Zero(), true)
	}
	tcr, err := numeric.CollateralRatio(totalCollateral, totalDebt, price)
	if err != nil {
		// A price of zero cannot happen once the staleness guard has
		// passed (Current never returns a zero Price it fetched itself),
		// but treat it defensively as maximally unhealthy rather than
		// panicking.
		return p.modeSel.Observe(numeric.Zero(), false)
	}
	return p.modeSel.Observe(tcr, false)
}

// liquidationThreshold returns the active mode's liquidation threshold: the
// same ratio vault operations enforce as the minimum collateral ratio,
// since liquidation picks up any vault falling below the mode's own floor.
func (p *Protocol) liquidationThreshold(currentMode mode.Mode) numeric.Ratio {
	return mode.MinCollateralRatio(currentMode, p.generalCR, p.recoveryCR)
}

// currentSupply returns the circulating icUSD used as the fee curves'
// input, falling back to the registry's own debt total if the ledger
// query fails.
func (p *Protocol) currentSupply(ctx context.Context) uint64 {
	supply, err := p.icusd.TotalSupply(ctx)
	if err != nil {
		_, totalDebt := p.registry.Totals()
		return totalDebt
	}
	return supply
}

// Pauses exposes the operator pause switch so an admin tool can toggle a
// single subsystem without forcing the whole protocol into ReadOnly.
func (p *Protocol) Pauses() *pause.Switch { return p.pauses }

// Metrics exposes the in-process Prometheus registry for a caller to poll
// (e.g. a test, or an operator console) — no HTTP endpoint is served.
func (p *Protocol) Metrics() *metrics.ProtocolMetrics { return p.metrics }

// PendingTransfers exposes the pending-transfer manager for operator
// reconciliation tooling.
func (p *Protocol) PendingTransfers() *pendingtransfer.Manager { return p.pending }

// Prices exposes the price cache so a caller can drive scheduled refresh.
func (p *Protocol) Prices() *priceoracle.Cache { return p.prices }

// refreshObservability pushes the latest registry/pool snapshot into the
// metrics registry; called after every committed mutation.
func (p *Protocol) refreshObservability(currentMode mode.Mode) {
	totalCollateral, totalDebt := p.registry.Totals()
	p.metrics.ObserveRegistry(p.registry.Len(), totalCollateral, totalDebt)
	p.metrics.ObserveMode(currentMode.String(), []string{
		mode.GeneralAvailability.String(), mode.Recovery.String(), mode.ReadOnly.String(),
	})
	p.metrics.SetPendingQueueDepth(len(p.pending.Pending()))
}
