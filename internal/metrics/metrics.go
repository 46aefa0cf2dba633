// Package metrics holds the Prometheus instruments for the seller node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequests         *prometheus.CounterVec
	PaymentChallenges    *prometheus.CounterVec
	PaymentVerifications *prometheus.CounterVec
	PaymentSettlements   *prometheus.CounterVec
	TasksCreated         prometheus.Counter
	TasksCompleted       *prometheus.CounterVec
	TasksSwept           prometheus.Counter
	TaskDuration         prometheus.Histogram
	RateLimitDenials     *prometheus.CounterVec
	RegistrationAttempts *prometheus.CounterVec
}

// New registers all instruments on reg and returns them. Pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_http_requests_total",
			Help: "HTTP requests served, by path, method and status code.",
		}, []string{"path", "method", "status"}),
		PaymentChallenges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_payment_challenges_total",
			Help: "402 responses issued, by operation and reason.",
		}, []string{"operation", "reason"}),
		PaymentVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_payment_verifications_total",
			Help: "Facilitator verification calls, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		PaymentSettlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_payment_settlements_total",
			Help: "Settlement attempts after successful responses, by outcome.",
		}, []string{"operation", "outcome"}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "seller_tasks_created_total",
			Help: "Tasks accepted by POST /execute.",
		}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_tasks_completed_total",
			Help: "Tasks reaching a terminal state, by status.",
		}, []string{"status"}),
		TasksSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "seller_tasks_swept_total",
			Help: "Tasks failed by the janitor for exceeding their deadline.",
		}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seller_task_execution_seconds",
			Help:    "Wall-clock task execution time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_ratelimit_denials_total",
			Help: "Requests rejected by the rate limiter, by rule path.",
		}, []string{"rule"}),
		RegistrationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seller_registration_attempts_total",
			Help: "Marketplace registration attempts, by outcome.",
		}, []string{"outcome"}),
	}
}
