// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"perun.network/provenance-backend/chain"
)

// Submission outcomes recorded by Metrics.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
	OutcomeTimeout   = "timeout"
	OutcomeReverted  = "reverted"
	OutcomeNetwork   = "network"
	OutcomeError     = "error"
)

// Metrics instruments the submitter. A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	inFlight    prometheus.Gauge
}

// NewMetrics registers the submitter metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Checkpoint submissions by contract function and outcome.",
		}, []string{"function", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "submission_seconds",
			Help:      "Time from submission to confirmation or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"backend"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "provenance",
			Subsystem: "ledger",
			Name:      "submissions_in_flight",
			Help:      "Checkpoint submissions waiting for their backend.",
		}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) finished(fn chain.Function, kind chain.Kind, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.submissions.WithLabelValues(string(fn), Outcome(err)).Inc()
	m.latency.WithLabelValues(kind.String()).Observe(took.Seconds())
}

// Outcome classifies the result of a submission.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeConfirmed
	case errors.Is(err, chain.ErrUserRejected):
		return OutcomeRejected
	case errors.Is(err, chain.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, chain.ErrReverted):
		return OutcomeReverted
	case errors.Is(err, chain.ErrNetwork):
		return OutcomeNetwork
	}
	return OutcomeError
}
