package speech

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "homespeak"

// Metrics are the speech service collectors.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	synthesisDuration *prometheus.HistogramVec
	fallbacksTotal    *prometheus.CounterVec
	audioBytesTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_requests_total",
				Help:      "Total number of speak requests by backend and outcome",
			},
			[]string{"backend", "outcome"}, // outcome: hit, synthesized, error
		),
		synthesisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "speech_duration_seconds",
				Help:      "Time to produce audio for a request, cache lookups included",
				Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend", "cached"},
		),
		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_fallbacks_total",
				Help:      "Requests served by a fallback backend",
			},
			[]string{"from", "to"},
		),
		audioBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "speech_audio_bytes_total",
				Help:      "Bytes of audio returned by backend",
			},
			[]string{"backend"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.synthesisDuration, m.fallbacksTotal, m.audioBytesTotal)
	}
	return m
}

func (m *Metrics) observe(backendID string, cached bool, bytes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome, c := "synthesized", "false"
	if cached {
		outcome, c = "hit", "true"
	}
	m.requestsTotal.WithLabelValues(backendID, outcome).Inc()
	m.synthesisDuration.WithLabelValues(backendID, c).Observe(elapsed.Seconds())
	m.audioBytesTotal.WithLabelValues(backendID).Add(float64(bytes))
}

func (m *Metrics) failed(backendID string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(backendID, "error").Inc()
}

func (m *Metrics) fellBack(from, to string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(from, to).Inc()
}
