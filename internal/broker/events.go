package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func pendingKey(pendingOrderID string) string {
	return fmt.Sprintf("pending-%s", pendingOrderID)
}

// PublishCheckoutStarted publishes CheckoutStarted event
func (ep *EventPublisher) PublishCheckoutStarted(ctx context.Context, event *models.CheckoutStartedEvent) error {
	return ep.producer.PublishEvent(ctx, pendingKey(event.PendingOrderID), event.EventType, event)
}

// PublishOrderFinalized publishes OrderFinalized event
func (ep *EventPublisher) PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error {
	return ep.producer.PublishEvent(ctx, pendingKey(event.PendingOrderID), event.EventType, event)
}

// PublishOrderFinalizationFailed publishes OrderFinalizationFailed event
func (ep *EventPublisher) PublishOrderFinalizationFailed(ctx context.Context, event *models.OrderFinalizationFailedEvent) error {
	return ep.producer.PublishEvent(ctx, pendingKey(event.PendingOrderID), event.EventType, event)
}

// PublishPendingOrderFailed publishes PendingOrderFailed event
func (ep *EventPublisher) PublishPendingOrderFailed(ctx context.Context, event *models.PendingOrderFailedEvent) error {
	return ep.producer.PublishEvent(ctx, pendingKey(event.PendingOrderID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderFinalized func(context.Context, *models.OrderFinalizedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderFinalized registers a handler for OrderFinalized events
func (eh *EventHandler) OnOrderFinalized(handler func(context.Context, *models.OrderFinalizedEvent) error) {
	eh.onOrderFinalized = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// messages are logged and skipped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderFinalized:
		if eh.onOrderFinalized != nil {
			var event models.OrderFinalizedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("Dropping undecodable OrderFinalized event",
					zap.String("event_id", baseEvent.EventID), zap.Error(err))
				return nil
			}
			return eh.onOrderFinalized(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
