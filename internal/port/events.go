package port

import (
	"context"

	"checkout-service/internal/models"
)

// EventPublisher publishes domain events. Callers treat every publish as
// best-effort and log failures.
type EventPublisher interface {
	PublishCheckoutStarted(ctx context.Context, event *models.CheckoutStartedEvent) error
	PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error
	PublishOrderFinalizationFailed(ctx context.Context, event *models.OrderFinalizationFailedEvent) error
	PublishPendingOrderFailed(ctx context.Context, event *models.PendingOrderFailedEvent) error
}
