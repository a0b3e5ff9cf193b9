// Package metrics exposes the CMS's prometheus counters. Ambient
// observability carried forward even though Non-goals exclude
// general-purpose CA tooling — metrics are part of the ambient stack, not
// a feature the Non-goals name.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CertificatesIssued counts successful CREATE operations, labeled by
	// the requested usage.
	CertificatesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvacms",
		Name:      "certificates_issued_total",
		Help:      "Number of end-entity certificates issued, by usage.",
	}, []string{"usage"})

	// CertificatesRevoked counts REVOKE/DENY transitions.
	CertificatesRevoked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvacms",
		Name:      "certificates_revoked_total",
		Help:      "Number of certificates transitioned to REVOKED.",
	}, []string{"reason"})

	// SweepTransitions counts certstore.Sweeper-driven transitions, by
	// target status.
	SweepTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pvacms",
		Name:      "sweep_transitions_total",
		Help:      "Number of lifecycle transitions applied by the background sweep.",
	}, []string{"to_status"})

	// StatusSignFailures counts degraded-status fallbacks.
	StatusSignFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pvacms",
		Name:      "status_sign_failures_total",
		Help:      "Number of times status signing failed and a degraded value was published instead.",
	})

	// MonitorSubscribers tracks the live MONITOR connection count across
	// all status PVs.
	MonitorSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pvacms",
		Name:      "monitor_subscribers",
		Help:      "Current number of live MONITOR websocket subscriptions.",
	})
)

// MustRegister registers every collector against reg, the way a
// cmd/pvacms main wires metrics into its own registry rather than the
// global default (testable, and avoids double-registration across
// package-level init in tests).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(CertificatesIssued, CertificatesRevoked, SweepTransitions, StatusSignFailures, MonitorSubscribers)
}
