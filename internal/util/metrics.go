package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_started_total",
		Help: "Total number of pending orders with a payment session",
	})

	CheckoutsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_rejected_total",
		Help: "Total number of rejected checkout requests",
	}, []string{"reason"})

	CheckoutReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_idempotent_replays_total",
		Help: "Total number of checkout responses replayed for a repeated idempotency key",
	})

	PaymentSessionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_session_latency_seconds",
		Help:    "Latency of payment session creation",
		Buckets: prometheus.DefBuckets,
	})

	OrdersFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_finalized_total",
		Help: "Total number of pending orders converted into orders",
	})

	FinalizationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_finalizations_failed_total",
		Help: "Total number of failed finalizations",
	}, []string{"reason"})

	FinalizationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_finalization_latency_seconds",
		Help:    "Latency of the finalization transaction",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Total number of payment webhook events by type and outcome",
	}, []string{"type", "outcome"})

	PaymentAmountMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_amount_mismatch_total",
		Help: "Total number of paid sessions whose amount differs from the pending order total",
	})

	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of confirmation emails handed to the email service",
	})

	NotificationsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Total number of confirmation emails not sent",
	}, []string{"reason"})

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
