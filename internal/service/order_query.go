package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/port"
	"checkout-service/internal/util"
)

// OrderDetails is a confirmed order with its lines
type OrderDetails struct {
	Order *models.Order      `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// OrderQueryService reads confirmed orders
type OrderQueryService struct {
	orders  port.OrderReader
	pending port.PendingOrderStore
	timeout time.Duration
}

func NewOrderQueryService(orders port.OrderReader, pending port.PendingOrderStore, timeout time.Duration) *OrderQueryService {
	return &OrderQueryService{orders: orders, pending: pending, timeout: timeout}
}

// GetOrder returns an order and its items
func (s *OrderQueryService) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderQueryService.GetOrder")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperr.Validation("order id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, apperr.Dependency("failed to read order", err)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperr.Dependency("failed to read order items", err)
	}
	return &OrderDetails{Order: order, Items: items}, nil
}

// GetTicketBySession resolves the order paid through a payment session.
// It reports not found until the session has been finalized.
func (s *OrderQueryService) GetTicketBySession(ctx context.Context, sessionID string) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderQueryService.GetTicketBySession")
	defer span.End()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pending, err := s.pending.GetPendingOrderByPaymentSession(dbCtx, sessionID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, apperr.NotFound("no checkout for session %s", sessionID)
	}
	if err != nil {
		return nil, apperr.Dependency("failed to read pending order", err)
	}
	if pending.Status != models.PendingStatusPaid || pending.OrderID == "" {
		return nil, apperr.NotFound("ticket for session %s is not ready", sessionID)
	}

	return s.GetOrder(ctx, pending.OrderID)
}
