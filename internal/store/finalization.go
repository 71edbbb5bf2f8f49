package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/port"

	"github.com/jmoiron/sqlx"
)

// WithinTx runs fn inside one READ COMMITTED transaction. Row locks taken
// by fn serialize competing finalizations; the transaction is rolled back
// unless fn returns nil and the commit succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx port.FinalizationTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&finalizationTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type finalizationTx struct {
	tx *sqlx.Tx
}

func (f *finalizationTx) LockPendingOrder(ctx context.Context, id string) (*models.PendingOrder, error) {
	if err := missingUUID("pending order", id); err != nil {
		return nil, err
	}
	var order models.PendingOrder
	err := f.tx.GetContext(ctx, &order,
		"SELECT "+pendingOrderColumns+" FROM pending_orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "pending order", id)
	}
	return &order, nil
}

func (f *finalizationTx) LockProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	query, args, err := sqlx.In(
		"SELECT id, name, price, stock FROM products WHERE id IN (?) ORDER BY id FOR UPDATE", sorted)
	if err != nil {
		return nil, err
	}
	query = f.tx.Rebind(query)

	var products []models.Product
	if err := f.tx.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	return products, nil
}

func (f *finalizationTx) NextTicketSequence(ctx context.Context) (int64, error) {
	var n int64
	if err := f.tx.GetContext(ctx, &n, "SELECT nextval('order_ticket_seq')"); err != nil {
		return 0, fmt.Errorf("failed to allocate ticket number: %w", err)
	}
	return n, nil
}

func (f *finalizationTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, ticket_number, customer_name, customer_phone, total, status, pending_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return f.tx.GetContext(ctx, &order.CreatedAt, query,
		order.ID, order.TicketNumber, order.Name, order.Phone, order.Total, order.Status, order.PendingOrderID)
}

func (f *finalizationTx) InsertOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := f.tx.NamedExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, name, price, qty, line_total)
		VALUES (:order_id, :product_id, :name, :price, :qty, :line_total)`, items)
	return err
}

func (f *finalizationTx) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	res, err := f.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		qty, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkPendingPaid also records sessionID when no payment session was attached
// at checkout, so the ticket lookup by session keeps working.
func (f *finalizationTx) MarkPendingPaid(ctx context.Context, pendingID, orderID, sessionID string, paidAt time.Time) (bool, error) {
	res, err := f.tx.ExecContext(ctx,
		`UPDATE pending_orders
		 SET status = 'paid', paid_at = $1, order_id = $2,
		     payment_session_id = COALESCE(payment_session_id, NULLIF($3, ''))
		 WHERE id = $4 AND status = 'pending'`,
		paidAt, orderID, sessionID, pendingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
