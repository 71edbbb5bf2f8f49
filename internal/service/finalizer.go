package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/port"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrAlreadyFinalized is returned when the pending order is already paid.
// Callers treat it as a successful no-op.
var ErrAlreadyFinalized = errors.New("pending order already finalized")

// FinalizedOrder is the result of a successful finalization
type FinalizedOrder struct {
	Order *models.Order
	Items []models.OrderItem
}

// OrderFinalizer converts a paid pending order into a confirmed order
type OrderFinalizer struct {
	tx      port.TxRunner
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewOrderFinalizer creates a finalizer whose transactions are bounded by timeout
func NewOrderFinalizer(tx port.TxRunner, timeout time.Duration) *OrderFinalizer {
	return &OrderFinalizer{
		tx:      tx,
		timeout: timeout,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// Finalize creates the order, its items and the stock decrements, and marks
// the pending order paid, all in one transaction. The transaction does not
// observe cancellation of ctx; it is bounded by the finalizer timeout only.
// sessionID fills in the pending order's payment session when it was never
// attached; it may be empty.
func (f *OrderFinalizer) Finalize(ctx context.Context, pendingID, sessionID string) (*FinalizedOrder, error) {
	ctx, span := util.StartSpan(ctx, "OrderFinalizer.Finalize", attribute.String("pending_order_id", pendingID))
	defer span.End()

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	start := time.Now()
	var result *FinalizedOrder
	err := f.tx.WithinTx(txCtx, func(tx port.FinalizationTx) error {
		var err error
		result, err = f.finalize(txCtx, tx, pendingID, sessionID)
		return err
	})
	util.FinalizationLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, ErrAlreadyFinalized) {
		f.logger.Info("Pending order already finalized", zap.String("pending_order_id", pendingID))
		return nil, err
	}
	if err != nil {
		var classified *apperr.Error
		if !errors.As(err, &classified) {
			err = apperr.Dependency("finalization transaction failed", err)
		}
		util.FinalizationsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		f.logger.Error("Finalization failed", zap.String("pending_order_id", pendingID), zap.Error(err))
		return nil, err
	}

	util.OrdersFinalizedTotal.Inc()
	span.SetAttributes(attribute.String("order_id", result.Order.ID), attribute.String("ticket_number", result.Order.TicketNumber))
	f.logger.Info("Order finalized",
		zap.String("pending_order_id", pendingID),
		zap.String("order_id", result.Order.ID),
		zap.String("ticket_number", result.Order.TicketNumber))
	return result, nil
}

func (f *OrderFinalizer) finalize(ctx context.Context, tx port.FinalizationTx, pendingID, sessionID string) (*FinalizedOrder, error) {
	pending, err := tx.LockPendingOrder(ctx, pendingID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, apperr.NotFound("pending order %s not found", pendingID)
	}
	if err != nil {
		return nil, apperr.Dependency("failed to lock pending order", err)
	}

	switch pending.Status {
	case models.PendingStatusPaid:
		return nil, ErrAlreadyFinalized
	case models.PendingStatusFailed:
		return nil, apperr.Conflict(fmt.Sprintf("pending order %s has failed", pendingID), nil)
	}
	if len(pending.Items) == 0 {
		return nil, apperr.Validation("pending order %s has no items", pendingID)
	}

	quantities := make(map[string]int, len(pending.Items))
	for _, item := range pending.Items {
		if item.Qty <= 0 || item.Qty > models.MaxLineQty-quantities[item.ProductID] {
			return nil, apperr.Validation("pending order %s has an invalid quantity %d for %s", pendingID, item.Qty, item.ProductID)
		}
		quantities[item.ProductID] += item.Qty
	}
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, apperr.Dependency("failed to lock products", err)
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var problems []apperr.Problem
	for _, id := range ids {
		product, ok := byID[id]
		if !ok {
			problems = append(problems, apperr.Problem{ProductID: id, Reason: apperr.ReasonNotFound})
			continue
		}
		if product.Stock < quantities[id] {
			problems = append(problems, apperr.Problem{
				ProductID: id,
				Reason:    apperr.ReasonInsufficientStock,
				Requested: quantities[id],
				Available: product.Stock,
			})
		}
	}
	if len(problems) > 0 {
		return nil, apperr.Conflict("insufficient stock", problems)
	}

	seq, err := tx.NextTicketSequence(ctx)
	if err != nil {
		return nil, apperr.Dependency("failed to allocate ticket number", err)
	}

	now := f.now().UTC()
	order := &models.Order{
		ID:             uuid.NewString(),
		TicketNumber:   FormatTicketNumber(seq),
		Customer:       pending.Customer,
		Status:         models.OrderStatusConfirmed,
		PendingOrderID: pending.ID,
		CreatedAt:      now,
	}

	items := buildOrderItems(order.ID, pending.Items, byID)
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	order.Total = total

	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, apperr.Dependency("failed to insert order", err)
	}
	if err := tx.InsertOrderItems(ctx, items); err != nil {
		return nil, apperr.Dependency("failed to insert order items", err)
	}

	for _, id := range ids {
		ok, err := tx.DecrementStock(ctx, id, quantities[id])
		if err != nil {
			return nil, apperr.Dependency("failed to decrement stock", err)
		}
		if !ok {
			return nil, apperr.Conflict("insufficient stock", []apperr.Problem{
				{ProductID: id, Reason: apperr.ReasonInsufficientStock, Requested: quantities[id]},
			})
		}
	}

	ok, err := tx.MarkPendingPaid(ctx, pending.ID, order.ID, sessionID, now)
	if err != nil {
		return nil, apperr.Dependency("failed to mark pending order paid", err)
	}
	if !ok {
		return nil, ErrAlreadyFinalized
	}

	return &FinalizedOrder{Order: order, Items: items}, nil
}

// buildOrderItems merges snapshot lines per product. Prices come from the
// snapshot, names from the locked product row.
func buildOrderItems(orderID string, snapshot models.PendingItems, products map[string]models.Product) []models.OrderItem {
	index := make(map[string]int, len(snapshot))
	items := make([]models.OrderItem, 0, len(snapshot))
	for _, line := range snapshot {
		if at, ok := index[line.ProductID]; ok {
			items[at].Qty += line.Qty
			items[at].LineTotal = items[at].Price.Mul(decimal.NewFromInt(int64(items[at].Qty)))
			continue
		}
		name := line.Name
		if product, ok := products[line.ProductID]; ok && product.Name != "" {
			name = product.Name
		}
		index[line.ProductID] = len(items)
		items = append(items, models.OrderItem{
			OrderID:   orderID,
			ProductID: line.ProductID,
			Name:      name,
			Price:     line.UnitPrice,
			Qty:       line.Qty,
			LineTotal: line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))),
		})
	}
	return items
}

func failureReason(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		for _, p := range apperr.ProblemsOf(err) {
			if p.Reason == apperr.ReasonInsufficientStock {
				return apperr.ReasonInsufficientStock
			}
		}
		return "conflict"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindValidation:
		return "validation"
	default:
		return "dependency"
	}
}
