package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProtocolMetrics is an in-process Prometheus registry tracking vault,
// liquidation, and pending-transfer counters. Nothing in this package
// serves them over HTTP — per the protocol's scope, metrics endpoints are
// out of bounds — but keeping an in-memory registry gives tests and an
// operator CLI a structured snapshot to read.
type ProtocolMetrics struct {
	vaultsOpen        prometheus.Gauge
	totalCollateral   prometheus.Gauge
	totalDebt         prometheus.Gauge
	modeGauge         *prometheus.GaugeVec
	liquidationsTotal *prometheus.CounterVec
	redemptionsTotal  prometheus.Counter
	pendingQueueDepth prometheus.Gauge
	transferFailures  prometheus.Counter
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

// Protocol returns the process-wide protocol metrics registry, lazily
// constructing and registering it on first use.
func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			vaultsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "icusd_vaults_open",
				Help: "Number of currently open vaults.",
			}),
			totalCollateral: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "icusd_total_collateral_e8s",
				Help: "Aggregate collateral locked across every vault, in e8s.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "icusd_total_debt_e8s",
				Help: "Aggregate icUSD debt outstanding across every vault, in e8s.",
			}),
			modeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "icusd_mode",
				Help: "1 if the protocol is currently in the named mode, else 0.",
			}, []string{"mode"}),
			liquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "icusd_liquidations_total",
				Help: "Count of liquidations by resolution path.",
			}, []string{"path"}),
			redemptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "icusd_redemptions_total",
				Help: "Count of completed redemptions.",
			}),
			pendingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "icusd_pending_transfer_queue_depth",
				Help: "Number of outbound transfers awaiting settlement.",
			}),
			transferFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "icusd_transfer_failures_total",
				Help: "Count of permanently failed outbound transfers.",
			}),
		}
		prometheus.MustRegister(
			protocolRegistry.vaultsOpen,
			protocolRegistry.totalCollateral,
			protocolRegistry.totalDebt,
			protocolRegistry.modeGauge,
			protocolRegistry.liquidationsTotal,
			protocolRegistry.redemptionsTotal,
			protocolRegistry.pendingQueueDepth,
			protocolRegistry.transferFailures,
		)
	})
	return protocolRegistry
}

// ObserveRegistry records the registry-wide open-vault count and totals.
func (m *ProtocolMetrics) ObserveRegistry(openVaults int, collateralE8s, debtE8s uint64) {
	m.vaultsOpen.Set(float64(openVaults))
	m.totalCollateral.Set(float64(collateralE8s))
	m.totalDebt.Set(float64(debtE8s))
}

// ObserveMode sets the active-mode gauge, zeroing every other mode label.
func (m *ProtocolMetrics) ObserveMode(active string, all []string) {
	for _, mode := range all {
		if mode == active {
			m.modeGauge.WithLabelValues(mode).Set(1)
		} else {
			m.modeGauge.WithLabelValues(mode).Set(0)
		}
	}
}

// IncLiquidation increments the liquidation counter for the given
// resolution path ("absorbed" or "redistributed").
func (m *ProtocolMetrics) IncLiquidation(path string) {
	m.liquidationsTotal.WithLabelValues(path).Inc()
}

// IncRedemption increments the completed-redemption counter.
func (m *ProtocolMetrics) IncRedemption() {
	m.redemptionsTotal.Inc()
}

// SetPendingQueueDepth records the current pending-transfer backlog size.
func (m *ProtocolMetrics) SetPendingQueueDepth(depth int) {
	m.pendingQueueDepth.Set(float64(depth))
}

// IncTransferFailure increments the permanent-transfer-failure counter.
func (m *ProtocolMetrics) IncTransferFailure() {
	m.transferFailures.Inc()
}
