package port

import (
	"context"
	"time"
)

// CheckoutCache replays checkout responses for a repeated idempotency key
type CheckoutCache interface {
	GetCheckoutResponse(ctx context.Context, key string) ([]byte, bool, error)
	SaveCheckoutResponse(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// WebhookGuard short-circuits duplicate webhook deliveries. It is an
// accelerator only; the database transition is the source of truth.
type WebhookGuard interface {
	IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}
