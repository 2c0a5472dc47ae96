package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OwnershipChecks records account ownership proofs by result (success|missing|stale|mismatch|error).
	OwnershipChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletrecovery_ownership_checks_total",
			Help: "Total number of account ownership signature checks",
		},
		[]string{"result"},
	)

	// SecurityCodesIssued counts issued security codes by method kind and message variant.
	SecurityCodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletrecovery_security_codes_issued_total",
			Help: "Total number of security codes issued",
		},
		[]string{"kind", "variant"},
	)

	// SecurityCodeValidations counts code validations by outcome code (ok or the error code).
	SecurityCodeValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletrecovery_security_code_validations_total",
			Help: "Total number of security code validation attempts",
		},
		[]string{"result"},
	)

	// ChainCalls counts JSON-RPC calls against the chain by method and result (ok|error).
	ChainCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletrecovery_chain_calls_total",
			Help: "Total number of chain RPC calls",
		},
		[]string{"method", "result"},
	)

	// MessagesDispatched counts outbound messages by channel (email|sms) and result (sent|skipped|error).
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletrecovery_messages_dispatched_total",
			Help: "Total number of outbound email and SMS messages",
		},
		[]string{"channel", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletrecovery_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
