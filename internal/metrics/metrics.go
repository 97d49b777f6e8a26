// Package metrics holds the Prometheus collectors for authentication.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for AuthAttempts. Resolver outcomes are used verbatim on success.
const (
	ResultExpired     = "expired_or_reused"
	ResultNotLinked   = "not_linked"
	ResultRejected    = "rejected"
	ResultMalformed   = "malformed"
	ResultRateLimited = "rate_limited"
	ResultTimeout     = "storage_timeout"
	ResultError       = "error"
)

// AuthAttempts counts authentication attempts by credential kind and result.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "idcore_auth_attempts_total",
		Help: "Total number of authentication attempts",
	},
	[]string{"kind", "result"},
)

// AuthDuration observes authentication latency by credential kind.
var AuthDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "idcore_auth_duration_seconds",
		Help:    "Authentication duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// ChallengesIssued counts issued k1 challenges.
var ChallengesIssued = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "idcore_challenges_issued_total",
	Help: "Total number of issued challenges",
})

// ChallengesSwept counts expired challenges and email tokens removed by the sweeper.
var ChallengesSwept = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "idcore_challenges_swept_total",
	Help: "Total number of expired challenges and email tokens evicted",
})

// EventsDropped counts account events dropped on a full queue.
var EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "idcore_events_dropped_total",
	Help: "Total number of account events dropped because the queue was full",
})

// RegisterMetrics registers the package collectors with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts, AuthDuration, ChallengesIssued, ChallengesSwept, EventsDropped)
}

// RecordAuth records one authentication attempt.
func RecordAuth(kind, result string, d time.Duration) {
	AuthAttempts.WithLabelValues(kind, result).Inc()
	AuthDuration.WithLabelValues(kind).Observe(d.Seconds())
}
