package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/port"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Notifier sends a confirmation without reporting failures
type Notifier interface {
	Dispatch(ctx context.Context, c notify.Confirmation)
}

// NotificationWorker turns OrderFinalized events into confirmation emails
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	processed    port.ProcessedEventStore
	notifier     Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	processed port.ProcessedEventStore,
	notifier Notifier,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		processed:    processed,
		notifier:     notifier,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderFinalized(w.handleOrderFinalized)
	return w
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// handleOrderFinalized claims the event before sending, so a redelivered
// event never produces a second email. A crash between the claim and the
// send loses that email.
func (w *NotificationWorker) handleOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error {
	claimed, err := w.processed.ClaimEvent(ctx, event.EventID, event.EventType)
	if err != nil {
		return err
	}
	if !claimed {
		w.logger.Info("Skipping already processed event",
			zap.String("event_id", event.EventID), zap.String("order_id", event.OrderID))
		return nil
	}

	w.notifier.Dispatch(ctx, notify.Confirmation{
		RecipientEmail: event.RecipientEmail,
		CustomerName:   event.CustomerName,
		TicketNumber:   event.TicketNumber,
		TicketURL:      event.TicketURL,
		TotalCents:     event.TotalCents,
	})
	return nil
}
