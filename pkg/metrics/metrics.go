// Package metrics exposes Prometheus metrics for the overlay engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics and implements engine.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       *prometheus.CounterVec
	TurnsActive      prometheus.Gauge
	TokensTotal      *prometheus.CounterVec
	StrayEventsTotal *prometheus.CounterVec
	FallbacksTotal   prometheus.Counter
}

// New creates a Metrics instance with everything registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "attend"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of settled turns",
		},
		[]string{"status"},
	)

	turnsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_active",
			Help:      "Number of turns currently in flight",
		},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total answer tokens received",
		},
		[]string{"channel"},
	)

	strayEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stray_events_total",
			Help:      "Stream events dropped because their turn had settled",
		},
		[]string{"kind"},
	)

	fallbacksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Turns answered by the fallback channel",
		},
	)

	registry.MustRegister(
		turnsTotal,
		turnsActive,
		tokensTotal,
		strayEventsTotal,
		fallbacksTotal,
	)

	return &Metrics{
		registry:         registry,
		TurnsTotal:       turnsTotal,
		TurnsActive:      turnsActive,
		TokensTotal:      tokensTotal,
		StrayEventsTotal: strayEventsTotal,
		FallbacksTotal:   fallbacksTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TurnStarted records a new turn entering flight.
func (m *Metrics) TurnStarted() {
	m.TurnsActive.Inc()
}

// TurnSettled records a turn leaving flight with its terminal status.
func (m *Metrics) TurnSettled(status string) {
	m.TurnsActive.Dec()
	m.TurnsTotal.WithLabelValues(status).Inc()
}

// TokenReceived records one answer token from a channel.
func (m *Metrics) TokenReceived(channel string) {
	m.TokensTotal.WithLabelValues(channel).Inc()
}

// StrayDropped records a dropped late stream event.
func (m *Metrics) StrayDropped(kind string) {
	m.StrayEventsTotal.WithLabelValues(kind).Inc()
}

// FallbackEngaged records a primary-to-fallback switch.
func (m *Metrics) FallbackEngaged() {
	m.FallbacksTotal.Inc()
}
