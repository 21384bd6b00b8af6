// Package metrics описывает Prometheus метрики прокси токенов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"token-proxy/model"
)

// Значения метки result для запросов /api/token.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultRejected = "rejected"
	ResultError    = "error"
)

const namespace = "token_proxy"

// Metrics содержит коллекторы прокси; регистрируются в переданном Registerer.
type Metrics struct {
	TokenRequests  *prometheus.CounterVec
	ProviderFetch  *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	JournalDropped prometheus.Counter
}

// New создаёт и регистрирует коллекторы.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokenRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "token_requests_total",
				Help:      "Requests to /api/token by result (hit, miss, rejected, error)",
			},
			[]string{"result"},
		),
		ProviderFetch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "fetches_total",
				Help:      "Token requests sent to the identity provider by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of token requests to the identity provider",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		JournalDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "journal",
				Name:      "dropped_total",
				Help:      "Fetch events dropped because the journal queue was full",
			},
		),
	}

	reg.MustRegister(m.TokenRequests, m.ProviderFetch, m.FetchDuration, m.JournalDropped)

	return m
}

// ObserveFetch учитывает одно обращение к провайдеру.
func (m *Metrics) ObserveFetch(event model.FetchEvent) {
	m.ProviderFetch.WithLabelValues(string(event.Outcome)).Inc()
	m.FetchDuration.Observe(event.Duration.Seconds())
}

// ObserveTokenRequest учитывает ответ /api/token.
func (m *Metrics) ObserveTokenRequest(result string) {
	m.TokenRequests.WithLabelValues(result).Inc()
}
