package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PaymentStatusTransitions is a payment status transition counter
	// labeled by the (from, to) pair. It is registered here, but nothing
	// in this module increments it; TryUpdateStatus does not record into it.
	PaymentStatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Total number of payment status transitions",
		},
		[]string{"from", "to"},
	)

	// WebhookDispatchTotal counts inbound webhook deliveries and
	// retry-queue replays per provider and outcome (unknown_provider,
	// auth_failed, malformed, applied, queued_retry, retry_applied,
	// retry_rescheduled, dead_lettered).
	WebhookDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dispatch_total",
			Help: "Total number of webhook deliveries processed",
		},
		[]string{"provider", "outcome"},
	)

	// CredentialFanoutTotal counts per-server credential issuance
	// attempts during subscription purchase, labeled by protocol and
	// outcome (issued, already_exists, failed).
	CredentialFanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_fanout_total",
			Help: "Total number of VPN credential fan-out attempts",
		},
		[]string{"protocol", "outcome"},
	)

	// ProcessingLockStaleRecoveries is a counter for stale processing
	// locks that were force-released and reacquired (§4.2.1 self-healing).
	// It is registered here, but nothing in this module increments it;
	// TryAcquireProcessingLock does not record into it.
	ProcessingLockStaleRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_lock_stale_recoveries_total",
			Help: "Total number of stale payment processing locks reclaimed",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(PaymentStatusTransitions)
	prometheus.MustRegister(WebhookDispatchTotal)
	prometheus.MustRegister(CredentialFanoutTotal)
	prometheus.MustRegister(ProcessingLockStaleRecoveries)
}
