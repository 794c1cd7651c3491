package playback

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the playback collectors.
type Metrics struct {
	messagesTotal *prometheus.CounterVec
	playDuration  prometheus.Histogram
	pending       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "homespeak",
				Name:      "playback_messages_total",
				Help:      "Messages handed to the audio sink by outcome",
			},
			[]string{"outcome"}, // played, failed, abandoned
		),
		playDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homespeak",
			Name:      "playback_duration_seconds",
			Help:      "Wall time spent rendering a message",
			Buckets:   []float64{.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homespeak",
			Name:      "playback_pending",
			Help:      "Messages waiting for their turn",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.messagesTotal, m.playDuration, m.pending)
	}
	return m
}

func (m *Metrics) played(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues("played").Inc()
	m.playDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues("failed").Inc()
}

func (m *Metrics) abandoned() {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues("abandoned").Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
