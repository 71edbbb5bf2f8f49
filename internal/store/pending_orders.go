package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
)

const pendingOrderColumns = `id, customer_name, customer_phone, items, total_cents, status,
	COALESCE(payment_session_id, '') AS payment_session_id,
	COALESCE(order_id::text, '') AS order_id,
	created_at, paid_at`

// CreatePendingOrder inserts a pending order
func (s *Store) CreatePendingOrder(ctx context.Context, order *models.PendingOrder) error {
	query := `
		INSERT INTO pending_orders (id, customer_name, customer_phone, items, total_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return s.db.GetContext(ctx, &order.CreatedAt, query,
		order.ID, order.Name, order.Phone, order.Items, order.TotalCents, order.Status)
}

// GetPendingOrder retrieves a pending order by ID
func (s *Store) GetPendingOrder(ctx context.Context, id string) (*models.PendingOrder, error) {
	if err := missingUUID("pending order", id); err != nil {
		return nil, err
	}
	var order models.PendingOrder
	err := s.db.GetContext(ctx, &order,
		"SELECT "+pendingOrderColumns+" FROM pending_orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "pending order", id)
	}
	return &order, nil
}

// GetPendingOrderByPaymentSession retrieves the pending order correlated with a payment session
func (s *Store) GetPendingOrderByPaymentSession(ctx context.Context, sessionID string) (*models.PendingOrder, error) {
	var order models.PendingOrder
	err := s.db.GetContext(ctx, &order,
		"SELECT "+pendingOrderColumns+" FROM pending_orders WHERE payment_session_id = $1", sessionID)
	if err != nil {
		return nil, notFound(err, "pending order for session", sessionID)
	}
	return &order, nil
}

// AttachPaymentSession stores the payment session id on a pending order
func (s *Store) AttachPaymentSession(ctx context.Context, id, sessionID string) error {
	if err := missingUUID("pending order", id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_orders SET payment_session_id = $1 WHERE id = $2", sessionID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("pending order %s not updated", id)
	}
	return nil
}

// MarkPendingFailed moves a pending order to failed if it is still pending
func (s *Store) MarkPendingFailed(ctx context.Context, id string) (bool, error) {
	if missingUUID("pending order", id) != nil {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_orders SET status = 'failed' WHERE id = $1 AND status = 'pending'", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
