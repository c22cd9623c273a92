package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrations_created_total",
		Help: "Total number of registrations created",
	})

	RegistrationsCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrations_canceled_total",
		Help: "Total number of registrations canceled",
	})

	CartConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_conflicts_total",
		Help: "Total number of cart changes rejected due to stale registration versions",
	})

	CheckoutsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_created_total",
		Help: "Total number of checkouts created",
	})

	CheckoutsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_completed_total",
		Help: "Total number of checkouts completed",
	})

	CheckoutsCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_canceled_total",
		Help: "Total number of checkouts canceled",
	})

	CheckoutReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_reconcile_failures_total",
		Help: "Total number of failures after provider-confirmed completion, requiring manual reconciliation",
	})

	HooksDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hooks_delivered_total",
		Help: "Total number of hook deliveries that succeeded",
	}, []string{"event"})

	HooksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hooks_failed_total",
		Help: "Total number of hook delivery attempts that failed",
	}, []string{"event"})

	HookRetriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hook_retries_scheduled_total",
		Help: "Total number of hook delivery retries scheduled",
	})

	HooksAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hooks_abandoned_total",
		Help: "Total number of hook work items abandoned after exhausting retries",
	})

	HooksConfigDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hooks_config_drift_total",
		Help: "Total number of stored hook jobs rejected because their config is no longer live",
	})

	HookDeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hook_delivery_latency_seconds",
		Help:    "Latency of hook delivery attempts",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
