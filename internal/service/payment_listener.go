package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/port"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Webhook outcomes recorded in metrics
const (
	outcomeFinalized = "finalized"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeUnpaid    = "unpaid"
	outcomeFailed    = "failed"
	outcomeExpired   = "expired"
	outcomeRejected  = "rejected"
)

// ListenerConfig bounds the listener's outbound calls
type ListenerConfig struct {
	DBTimeout         time.Duration
	PaymentTimeout    time.Duration
	LockTTL           time.Duration
	ProcessedEventTTL time.Duration
	TicketURL         func(sessionID string) string
}

// PaymentListener reacts to verified payment processor webhooks
type PaymentListener struct {
	payments  port.PaymentProcessor
	pending   port.PendingOrderStore
	finalizer *OrderFinalizer
	guard     port.WebhookGuard
	events    port.EventPublisher
	cfg       ListenerConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewPaymentListener creates a new payment listener. guard may be nil.
func NewPaymentListener(
	payments port.PaymentProcessor,
	pending port.PendingOrderStore,
	finalizer *OrderFinalizer,
	guard port.WebhookGuard,
	events port.EventPublisher,
	cfg ListenerConfig,
) *PaymentListener {
	if cfg.TicketURL == nil {
		cfg.TicketURL = func(sessionID string) string { return "/api/v1/tickets?session_id=" + sessionID }
	}
	return &PaymentListener{
		payments:  payments,
		pending:   pending,
		finalizer: finalizer,
		guard:     guard,
		events:    events,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// HandleWebhook verifies payload against signature and applies the event.
// A nil error acknowledges the delivery; any error asks the processor to
// deliver it again, except validation and authenticity errors.
func (l *PaymentListener) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentListener.HandleWebhook")
	defer span.End()

	event, err := l.payments.ParseEvent(payload, signature)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unverified", outcomeRejected).Inc()
		l.logger.Warn("Rejected webhook", zap.Error(err))
		util.RecordError(span, err)
		return err
	}
	span.SetAttributes(attribute.String("event_id", event.ID), attribute.String("event_type", event.Type))

	switch event.Kind {
	case port.PaymentSessionCompleted, port.PaymentSessionAsyncSucceeded:
		err = l.handlePaid(ctx, event)
	case port.PaymentSessionExpired, port.PaymentSessionAsyncFailed:
		err = l.handleFailed(ctx, event)
	default:
		l.record(event, outcomeIgnored)
		return nil
	}
	if err != nil {
		util.RecordError(span, err)
	}
	return err
}

func (l *PaymentListener) handlePaid(ctx context.Context, event *port.PaymentEvent) error {
	if !event.Paid {
		l.logger.Info("Session completed without payment yet", zap.String("event_id", event.ID))
		l.record(event, outcomeUnpaid)
		return nil
	}
	if event.CorrelationToken == "" {
		l.record(event, outcomeRejected)
		return apperr.Validation("event %s carries no pending order id", event.ID)
	}
	if l.seen(ctx, event.ID) {
		l.record(event, outcomeDuplicate)
		return nil
	}

	pending, err := l.loadPending(ctx, event.CorrelationToken)
	if err != nil {
		l.record(event, outcomeFailed)
		return err
	}
	if pending.Status == models.PendingStatusPaid {
		l.logger.Info("Duplicate payment confirmation",
			zap.String("event_id", event.ID), zap.String("pending_order_id", pending.ID))
		l.markSeen(ctx, event.ID)
		l.record(event, outcomeDuplicate)
		return nil
	}
	l.checkAmount(event, pending)

	release, err := l.lock(ctx, pending.ID)
	if err != nil {
		l.record(event, outcomeFailed)
		return err
	}
	defer release()

	result, err := l.finalizer.Finalize(ctx, pending.ID, event.SessionID)
	if errors.Is(err, ErrAlreadyFinalized) {
		l.markSeen(ctx, event.ID)
		l.record(event, outcomeDuplicate)
		return nil
	}
	if err != nil {
		l.publishFinalizationFailed(ctx, pending.ID, event.SessionID, err)
		l.record(event, outcomeFailed)
		return err
	}

	l.publishFinalized(ctx, event, pending, result)
	l.markSeen(ctx, event.ID)
	l.record(event, outcomeFinalized)
	return nil
}

// checkAmount flags a paid amount that differs from the pending order total.
// The payment is already captured, so finalization still proceeds.
func (l *PaymentListener) checkAmount(event *port.PaymentEvent, pending *models.PendingOrder) {
	if event.AmountTotal == 0 || event.AmountTotal == pending.TotalCents {
		return
	}
	util.PaymentAmountMismatchTotal.Inc()
	l.logger.Error("Paid amount differs from pending order total",
		zap.String("event_id", event.ID),
		zap.String("pending_order_id", pending.ID),
		zap.Int64("amount_paid", event.AmountTotal),
		zap.Int64("total_cents", pending.TotalCents))
}

// handleFailed closes an abandoned checkout. The transition is conditional,
// so a late expiry never touches a paid order.
func (l *PaymentListener) handleFailed(ctx context.Context, event *port.PaymentEvent) error {
	if event.CorrelationToken == "" {
		l.record(event, outcomeRejected)
		return apperr.Validation("event %s carries no pending order id", event.ID)
	}
	if l.seen(ctx, event.ID) {
		l.record(event, outcomeDuplicate)
		return nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, l.cfg.DBTimeout)
	defer cancel()

	changed, err := l.pending.MarkPendingFailed(dbCtx, event.CorrelationToken)
	if err != nil {
		l.logger.Warn("Failed to mark pending order failed",
			zap.String("pending_order_id", event.CorrelationToken), zap.Error(err))
		l.record(event, outcomeFailed)
		return nil
	}

	if changed && l.events != nil {
		failed := &models.PendingOrderFailedEvent{
			BaseEvent:        l.baseEvent(models.EventTypePendingOrderFailed),
			PendingOrderID:   event.CorrelationToken,
			PaymentSessionID: event.SessionID,
			Reason:           event.Type,
		}
		if err := l.events.PublishPendingOrderFailed(ctx, failed); err != nil {
			l.logger.Error("Failed to publish PendingOrderFailed event", zap.Error(err))
		}
	}

	l.markSeen(ctx, event.ID)
	l.record(event, outcomeExpired)
	return nil
}

func (l *PaymentListener) loadPending(ctx context.Context, id string) (*models.PendingOrder, error) {
	dbCtx, cancel := context.WithTimeout(ctx, l.cfg.DBTimeout)
	defer cancel()

	pending, err := l.pending.GetPendingOrder(dbCtx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, apperr.NotFound("pending order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Dependency("failed to read pending order", err)
	}
	return pending, nil
}

// lock serializes concurrent deliveries for one pending order. Without
// Redis the database row lock alone decides.
func (l *PaymentListener) lock(ctx context.Context, pendingID string) (func(), error) {
	noop := func() {}
	if l.guard == nil {
		return noop, nil
	}

	key := fmt.Sprintf("finalize:%s", pendingID)
	token, ok, err := l.guard.AcquireLock(ctx, key, l.cfg.LockTTL)
	if err != nil {
		l.logger.Warn("Finalization lock unavailable, relying on database guard",
			zap.String("pending_order_id", pendingID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, apperr.Conflict(fmt.Sprintf("finalization of %s already in progress", pendingID), nil)
	}

	return func() {
		if err := l.guard.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			l.logger.Warn("Failed to release finalization lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (l *PaymentListener) seen(ctx context.Context, eventID string) bool {
	if l.guard == nil || eventID == "" {
		return false
	}
	processed, err := l.guard.IsWebhookEventProcessed(ctx, eventID)
	if err != nil {
		l.logger.Warn("Webhook dedup unavailable", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return processed
}

func (l *PaymentListener) markSeen(ctx context.Context, eventID string) {
	if l.guard == nil || eventID == "" {
		return
	}
	if err := l.guard.MarkWebhookEventProcessed(ctx, eventID, l.cfg.ProcessedEventTTL); err != nil {
		l.logger.Warn("Failed to remember webhook event", zap.String("event_id", eventID), zap.Error(err))
	}
}

// recipientEmail prefers the address in the event and falls back to
// re-reading the session from the processor.
func (l *PaymentListener) recipientEmail(ctx context.Context, event *port.PaymentEvent) string {
	if event.CustomerEmail != "" {
		return event.CustomerEmail
	}
	if event.SessionID == "" {
		return ""
	}

	payCtx, cancel := context.WithTimeout(ctx, l.cfg.PaymentTimeout)
	defer cancel()

	email, err := l.payments.CustomerEmail(payCtx, event.SessionID)
	if err != nil {
		l.logger.Warn("Could not retrieve customer email",
			zap.String("payment_session_id", event.SessionID), zap.Error(err))
		return ""
	}
	return email
}

func (l *PaymentListener) publishFinalized(ctx context.Context, event *port.PaymentEvent, pending *models.PendingOrder, result *FinalizedOrder) {
	if l.events == nil {
		return
	}
	sessionID := event.SessionID
	if sessionID == "" {
		sessionID = pending.PaymentSessionID
	}
	name := event.CustomerName
	if name == "" {
		name = pending.Customer.Name
	}

	finalized := &models.OrderFinalizedEvent{
		BaseEvent:        l.baseEvent(models.EventTypeOrderFinalized),
		OrderID:          result.Order.ID,
		PendingOrderID:   pending.ID,
		PaymentSessionID: sessionID,
		TicketNumber:     result.Order.TicketNumber,
		TicketURL:        l.cfg.TicketURL(sessionID),
		CustomerName:     name,
		RecipientEmail:   l.recipientEmail(ctx, event),
		TotalCents:       pending.TotalCents,
	}
	if err := l.events.PublishOrderFinalized(ctx, finalized); err != nil {
		l.logger.Error("Failed to publish OrderFinalized event",
			zap.String("order_id", result.Order.ID), zap.Error(err))
	}
}

func (l *PaymentListener) publishFinalizationFailed(ctx context.Context, pendingID, sessionID string, cause error) {
	if l.events == nil {
		return
	}
	failed := &models.OrderFinalizationFailedEvent{
		BaseEvent:        l.baseEvent(models.EventTypeOrderFinalizationFailed),
		PendingOrderID:   pendingID,
		PaymentSessionID: sessionID,
		Reason:           failureReason(cause),
	}
	if err := l.events.PublishOrderFinalizationFailed(ctx, failed); err != nil {
		l.logger.Error("Failed to publish OrderFinalizationFailed event", zap.Error(err))
	}
}

func (l *PaymentListener) baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: l.now().UTC(),
	}
}

func (l *PaymentListener) record(event *port.PaymentEvent, outcome string) {
	util.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()
}
