package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics counts the outcomes of the payment and delivery pipeline.
type EngineMetrics struct {
	sessions    *prometheus.CounterVec
	failovers   *prometheus.CounterVec
	callbacks   *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	stockClaims *prometheus.CounterVec
}

// NewEngineMetrics registers the engine counters. A nil registerer yields
// a no-op recorder.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	m := &EngineMetrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digistore_payment_sessions_total",
			Help: "Payment sessions requested, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digistore_payment_failovers_total",
			Help: "Session creations that fell back to the backup provider.",
		}, []string{"from", "to"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digistore_callbacks_total",
			Help: "Provider callbacks handled, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digistore_deliveries_total",
			Help: "Delivery attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		stockClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digistore_stock_claims_total",
			Help: "Preloaded stock claims, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.sessions, m.failovers, m.callbacks, m.deliveries, m.stockClaims)
	return m
}

func (m *EngineMetrics) IncSession(provider, outcome string) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *EngineMetrics) IncFailover(from, to string) {
	if m == nil || m.failovers == nil {
		return
	}
	m.failovers.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *EngineMetrics) IncCallback(provider, outcome string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

func (m *EngineMetrics) IncDelivery(strategy, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(strategy), normalizeLabel(outcome)).Inc()
}

func (m *EngineMetrics) IncStockClaim(outcome string) {
	if m == nil || m.stockClaims == nil {
		return
	}
	m.stockClaims.WithLabelValues(normalizeLabel(outcome)).Inc()
}
