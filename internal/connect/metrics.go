package connect

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes recorded by Metrics.
const (
	outcomeSuccess        = "success"
	outcomeInvalidGrant   = "invalid_grant"
	outcomeTransient      = "transient"
	outcomeNoRefreshToken = "no_refresh_token"
	outcomeCurrent        = "already_current"
	outcomeDisconnected   = "disconnected"
)

// Flow outcomes recorded by Metrics.
const (
	flowInitiated      = "initiated"
	flowConnected      = "connected"
	flowInvalidState   = "invalid_state"
	flowExchangeFailed = "exchange_failed"
)

// Metrics holds the Prometheus collectors of a Manager. A nil *Metrics
// records nothing.
type Metrics struct {
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshInflight prometheus.Gauge
	flows           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg, or the
// default registerer when reg is nil. Collectors already registered are
// reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "area_connect",
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "area_connect",
			Name:      "token_refresh_duration_seconds",
			Help:      "Latency of provider refresh calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		refreshInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "area_connect",
			Name:      "token_refreshes_inflight",
			Help:      "Refreshes currently running",
		}),
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "area_connect",
			Name:      "oauth_flows_total",
			Help:      "Authorization flow events by provider and outcome",
		}, []string{"provider", "outcome"}),
	}

	var err error
	if m.refreshes, err = register(reg, m.refreshes); err != nil {
		return nil, err
	}
	if m.refreshDuration, err = register(reg, m.refreshDuration); err != nil {
		return nil, err
	}
	if m.refreshInflight, err = register(reg, m.refreshInflight); err != nil {
		return nil, err
	}
	if m.flows, err = register(reg, m.flows); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector on duplicates.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) refresh(provider, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) refreshStarted(provider string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.refreshInflight.Inc()
	return func() {
		m.refreshInflight.Dec()
		m.refreshDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) flow(provider, outcome string) {
	if m == nil {
		return
	}
	m.flows.WithLabelValues(provider, outcome).Inc()
}
