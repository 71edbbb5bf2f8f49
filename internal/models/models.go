package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a row of the inventory ledger
type Product struct {
	ID    string          `db:"id" json:"id"`
	Name  string          `db:"name" json:"name"`
	Price decimal.Decimal `db:"price" json:"price"`
	Stock int             `db:"stock" json:"stock"`
}

// Customer identifies the buyer of a checkout
type Customer struct {
	Name  string `db:"customer_name" json:"name"`
	Phone string `db:"customer_phone" json:"phone"`
}

// MaxLineQty bounds the quantity of one product in an order. Stock and
// order_items.qty are INTEGER columns.
const MaxLineQty = math.MaxInt32

// PendingItem is one cart line captured at checkout time
type PendingItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

// PendingItems is stored as a JSONB snapshot on the pending order row
type PendingItems []PendingItem

// Value implements driver.Valuer. The snapshot is sent as text; lib/pq
// would encode a []byte as bytea.
func (p PendingItems) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (p *PendingItems) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*p = nil
		return nil
	default:
		return fmt.Errorf("unsupported pending items type %T", src)
	}
	return json.Unmarshal(data, p)
}

// PendingOrder is a checkout attempt awaiting payment confirmation
type PendingOrder struct {
	ID               string `db:"id" json:"id"`
	Customer         `json:"customer"`
	Items            PendingItems `db:"items" json:"items"`
	TotalCents       int64        `db:"total_cents" json:"total_cents"`
	Status           string       `db:"status" json:"status"`
	PaymentSessionID string       `db:"payment_session_id" json:"payment_session_id,omitempty"`
	OrderID          string       `db:"order_id" json:"order_id,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	PaidAt           *time.Time   `db:"paid_at" json:"paid_at,omitempty"`
}

// Order is the confirmed, finalized purchase record
type Order struct {
	ID             string `db:"id" json:"id"`
	TicketNumber   string `db:"ticket_number" json:"ticket_number"`
	Customer       `json:"customer"`
	Total          decimal.Decimal `db:"total" json:"total"`
	Status         string          `db:"status" json:"status"`
	PendingOrderID string          `db:"pending_order_id" json:"pending_order_id"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// OrderItem represents items in an order
type OrderItem struct {
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Qty       int             `db:"qty" json:"qty"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// Pending order statuses
const (
	PendingStatusPending = "pending"
	PendingStatusPaid    = "paid"
	PendingStatusFailed  = "failed"
)

// Order statuses
const (
	OrderStatusConfirmed = "confirmed"
)
