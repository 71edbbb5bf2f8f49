package models

import "time"

// Event types
const (
	EventTypeCheckoutStarted         = "CHECKOUT_STARTED"
	EventTypeOrderFinalized          = "ORDER_FINALIZED"
	EventTypeOrderFinalizationFailed = "ORDER_FINALIZATION_FAILED"
	EventTypePendingOrderFailed      = "PENDING_ORDER_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutStartedEvent published when a pending order and its payment session exist
type CheckoutStartedEvent struct {
	BaseEvent
	PendingOrderID   string `json:"pending_order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	TotalCents       int64  `json:"total_cents"`
}

// OrderFinalizedEvent published once per confirmed order; it carries
// everything the confirmation email needs.
type OrderFinalizedEvent struct {
	BaseEvent
	OrderID          string `json:"order_id"`
	PendingOrderID   string `json:"pending_order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	TicketNumber     string `json:"ticket_number"`
	TicketURL        string `json:"ticket_url"`
	CustomerName     string `json:"customer_name"`
	RecipientEmail   string `json:"recipient_email,omitempty"`
	TotalCents       int64  `json:"total_cents"`
}

// OrderFinalizationFailedEvent published when a paid session could not be
// turned into an order; the pending order stays pending for reconciliation.
type OrderFinalizationFailedEvent struct {
	BaseEvent
	PendingOrderID   string `json:"pending_order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	Reason           string `json:"reason"`
}

// PendingOrderFailedEvent published when a payment session expired or failed
type PendingOrderFailedEvent struct {
	BaseEvent
	PendingOrderID   string `json:"pending_order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	Reason           string `json:"reason"`
}
