package store

import (
	"context"

	"checkout-service/internal/models"
)

const orderColumns = `id, ticket_number, customer_name, customer_phone, total, status,
	pending_order_id, created_at`

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if err := missingUUID("order", id); err != nil {
		return nil, err
	}
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT order_id, product_id, name, price, qty, line_total FROM order_items WHERE order_id = $1 ORDER BY product_id",
		orderID)
	return items, err
}

// ClaimEvent marks an event as processed and reports whether this call was the first
func (s *Store) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
