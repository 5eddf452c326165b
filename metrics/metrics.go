// Package metrics exposes operation counters on the prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsCreated counts successful request creations.
	RequestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_requests_created_total",
		Help: "Number of oracle requests created",
	})

	// Proposals counts accepted answer proposals.
	Proposals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_proposals_total",
		Help: "Number of answer proposals accepted",
	})

	// Disputes counts accepted disputes.
	Disputes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_disputes_total",
		Help: "Number of disputes accepted",
	})

	// Resolutions counts resolved requests by path (undisputed, disputed)
	// and cancellations.
	Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_resolutions_total",
		Help: "Number of requests reaching a terminal state",
	}, []string{"outcome"})

	// Payments counts facilitator interactions by operation and result.
	Payments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_payments_total",
		Help: "Number of payment operations by kind and result",
	}, []string{"operation", "result"})

	// PaymentChallenges counts 402 responses served.
	PaymentChallenges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oracle_payment_challenges_total",
		Help: "Number of 402 payment challenges issued",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsCreated,
		Proposals,
		Disputes,
		Resolutions,
		Payments,
		PaymentChallenges,
	)
}
