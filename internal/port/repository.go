package port

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"
)

// ErrNotFound is returned by stores when a row does not exist
var ErrNotFound = errors.New("record not found")

// InventoryLedger reads authoritative product rows
type InventoryLedger interface {
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
}

// PendingOrderStore persists checkout attempts
type PendingOrderStore interface {
	CreatePendingOrder(ctx context.Context, order *models.PendingOrder) error
	GetPendingOrder(ctx context.Context, id string) (*models.PendingOrder, error)
	GetPendingOrderByPaymentSession(ctx context.Context, sessionID string) (*models.PendingOrder, error)
	AttachPaymentSession(ctx context.Context, id, sessionID string) error
	// MarkPendingFailed moves a pending order to failed only if it is still
	// pending; it reports whether the transition happened.
	MarkPendingFailed(ctx context.Context, id string) (bool, error)
}

// OrderReader reads confirmed orders
type OrderReader interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
}

// FinalizationTx is the unit of work of one finalization. Every method runs
// inside the same transaction; nothing is visible to other readers until the
// function passed to WithinTx returns nil and the commit succeeds.
type FinalizationTx interface {
	LockPendingOrder(ctx context.Context, id string) (*models.PendingOrder, error)
	// LockProducts locks the rows in ascending id order.
	LockProducts(ctx context.Context, ids []string) ([]models.Product, error)
	NextTicketSequence(ctx context.Context) (int64, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItems(ctx context.Context, items []models.OrderItem) error
	// DecrementStock subtracts qty only while stock >= qty and reports
	// whether the row was updated.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	MarkPendingPaid(ctx context.Context, pendingID, orderID, sessionID string, paidAt time.Time) (bool, error)
}

// TxRunner runs fn in one transaction, committing only when fn returns nil
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx FinalizationTx) error) error
}

// ProcessedEventStore records consumed broker events
type ProcessedEventStore interface {
	// ClaimEvent records the event and reports false if it was already recorded.
	ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error)
}
