// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability provides Prometheus metrics for the credential policies.
package observability

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/samber/oops"

	"github.com/holomush/credpolicy/internal/credential"
)

// Metrics records credential policy events. It implements
// credential.Observer and is safe for concurrent use.
type Metrics struct {
	FailedAttempts    prometheus.Counter
	AttemptsAtFailure prometheus.Histogram
	Lockouts          prometheus.Counter
	LockoutSeconds    prometheus.Histogram
	Unlocks           *prometheus.CounterVec
	Reuses            prometheus.Counter

	now func() time.Time
}

// NewMetrics creates the credential metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FailedAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credpolicy_failed_attempts_total",
			Help: "Total number of failed authentication attempts registered",
		}),
		AttemptsAtFailure: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "credpolicy_consecutive_failures",
			Help:    "Consecutive failure count observed at each failed attempt",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credpolicy_lockouts_total",
			Help: "Total number of times a credential was locked",
		}),
		LockoutSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "credpolicy_lockout_seconds",
			Help:    "Length of each lock from the moment it was set",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8),
		}),
		Unlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credpolicy_unlocks_total",
				Help: "Total number of cleared locks by reason",
			},
			[]string{"reason"},
		),
		Reuses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credpolicy_password_reuse_detected_total",
			Help: "Total number of candidate secrets rejected as recently used",
		}),
		now: time.Now,
	}

	reg.MustRegister(
		m.FailedAttempts,
		m.AttemptsAtFailure,
		m.Lockouts,
		m.LockoutSeconds,
		m.Unlocks,
		m.Reuses,
	)
	return m
}

// WithClock makes lock lengths relative to clock instead of the wall clock.
func (m *Metrics) WithClock(clock credential.Clock) *Metrics {
	if clock != nil {
		m.now = clock.Now
	}
	return m
}

// FailedAttempt implements credential.Observer.
func (m *Metrics) FailedAttempt(attempts int) {
	m.FailedAttempts.Inc()
	m.AttemptsAtFailure.Observe(float64(attempts))
}

// Locked implements credential.Observer.
func (m *Metrics) Locked(until time.Time) {
	m.Lockouts.Inc()
	if d := until.Sub(m.now()); d > 0 {
		m.LockoutSeconds.Observe(d.Seconds())
	}
}

// Unlocked implements credential.Observer.
func (m *Metrics) Unlocked(reason credential.UnlockReason) {
	m.Unlocks.WithLabelValues(string(reason)).Inc()
}

// ReuseDetected implements credential.Observer.
func (m *Metrics) ReuseDetected() {
	m.Reuses.Inc()
}

// WriteText writes every metric gathered from g in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return oops.Code("METRICS_GATHER_FAILED").Wrap(err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return oops.Code("METRICS_ENCODE_FAILED").With("metric", mf.GetName()).Wrap(err)
		}
	}
	return nil
}

var _ credential.Observer = (*Metrics)(nil)
