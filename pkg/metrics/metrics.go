// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	CandidatesSelected *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	ExtractionDropped  prometheus.Counter
	Conversations      prometheus.Gauge
	BusDropped         *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Default returns the shared collectors, registering them on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dotpersona_turns_total",
				Help: "Conversation turns processed, by outcome",
			}, []string{"outcome"}),
			CandidatesSelected: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dotpersona_candidates_selected_total",
				Help: "Selected response candidates, by generator source",
			}, []string{"source"}),
			StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dotpersona_store_errors_total",
				Help: "Memory store calls that failed or timed out, by operation",
			}, []string{"op"}),
			TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "dotpersona_turn_duration_seconds",
				Help:    "Wall time of a full conversation turn",
				Buckets: prometheus.DefBuckets,
			}),
			ExtractionDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dotpersona_extraction_dropped_total",
				Help: "Fragment extraction jobs dropped because the queue was full",
			}),
			Conversations: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "dotpersona_conversations",
				Help: "Stored conversations at the last maintenance run",
			}),
			BusDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dotpersona_bus_dropped_total",
				Help: "Channel messages dropped because the bus queue was full, by direction",
			}, []string{"direction"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) RecordTurn(outcome string, elapsed time.Duration) {
	if m == nil || m.TurnsTotal == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordSelection(source string) {
	if m == nil || m.CandidatesSelected == nil {
		return
	}
	m.CandidatesSelected.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordStoreError(op string) {
	if m == nil || m.StoreErrors == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordExtractionDropped() {
	if m == nil || m.ExtractionDropped == nil {
		return
	}
	m.ExtractionDropped.Inc()
}

func (m *Metrics) SetConversations(n int) {
	if m == nil || m.Conversations == nil {
		return
	}
	m.Conversations.Set(float64(n))
}

func (m *Metrics) RecordBusDropped(direction string) {
	if m == nil || m.BusDropped == nil {
		return
	}
	m.BusDropped.WithLabelValues(direction).Inc()
}
