package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
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

// CheckoutRequest represents a cart submitted by the storefront. Any total
// sent by the client is ignored.
type CheckoutRequest struct {
	Customer models.Customer       `json:"customer"`
	Items    []CheckoutItemRequest `json:"items"`
}

// CheckoutItemRequest represents a cart line
type CheckoutItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// CheckoutResponse is returned to the browser to mount the embedded payment form
type CheckoutResponse struct {
	ClientSessionToken string `json:"client_session_token"`
	PublicKey          string `json:"public_key"`
	PendingOrderID     string `json:"pending_order_id"`
}

// CheckoutConfig bounds the checkout's outbound calls
type CheckoutConfig struct {
	Currency       string
	Description    string
	DBTimeout      time.Duration
	PaymentTimeout time.Duration
	IdempotencyTTL time.Duration
}

// CheckoutService validates carts and opens payment sessions
type CheckoutService struct {
	ledger   port.InventoryLedger
	pending  port.PendingOrderStore
	payments port.PaymentProcessor
	cache    port.CheckoutCache
	events   port.EventPublisher
	cfg      CheckoutConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service. cache may be nil.
func NewCheckoutService(
	ledger port.InventoryLedger,
	pending port.PendingOrderStore,
	payments port.PaymentProcessor,
	cache port.CheckoutCache,
	events port.EventPublisher,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.Description == "" {
		cfg.Description = "Pedido"
	}
	return &CheckoutService{
		ledger:   ledger,
		pending:  pending,
		payments: payments,
		cache:    cache,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

type cartLine struct {
	productID string
	qty       int
}

// StartCheckout validates the cart against the inventory ledger, records a
// pending order and opens a payment session for the server-side total.
func (s *CheckoutService) StartCheckout(ctx context.Context, req *CheckoutRequest, idempotencyKey string) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.StartCheckout")
	defer span.End()

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if resp := s.replay(ctx, idempotencyKey); resp != nil {
		util.CheckoutReplaysTotal.Inc()
		return resp, nil
	}

	customer, lines, err := normalizeCart(req)
	if err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("validation").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("ledger_error").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	if problems := checkAvailability(lines, products); len(problems) > 0 {
		util.CheckoutsRejectedTotal.WithLabelValues("unavailable").Inc()
		s.logger.Info("Checkout rejected", zap.Int("problems", len(problems)))
		return nil, apperr.Conflict("some items cannot be fulfilled", problems)
	}

	snapshot, totalCents, err := priceCart(lines, products)
	if err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	pending := &models.PendingOrder{
		ID:         uuid.NewString(),
		Customer:   customer,
		Items:      snapshot,
		TotalCents: totalCents,
		Status:     models.PendingStatusPending,
		CreatedAt:  s.now().UTC(),
	}
	span.SetAttributes(attribute.String("pending_order_id", pending.ID), attribute.Int64("total_cents", totalCents))

	if err := s.createPending(ctx, pending); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	session, err := s.openSession(ctx, pending)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.attachSession(ctx, pending.ID, session.ID)
	s.publishStarted(ctx, pending, session.ID)

	util.CheckoutsStartedTotal.Inc()
	s.logger.Info("Checkout started",
		zap.String("pending_order_id", pending.ID),
		zap.String("payment_session_id", session.ID),
		zap.Int64("total_cents", totalCents))

	resp := &CheckoutResponse{
		ClientSessionToken: session.ClientSecret,
		PublicKey:          s.payments.PublicKey(),
		PendingOrderID:     pending.ID,
	}
	s.remember(ctx, idempotencyKey, resp)
	return resp, nil
}

// normalizeCart trims the customer, checks every line and merges lines
// for the same product, keeping first-seen order.
func normalizeCart(req *CheckoutRequest) (models.Customer, []cartLine, error) {
	if req == nil {
		return models.Customer{}, nil, apperr.Validation("request body is required")
	}
	customer := models.Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Phone: strings.TrimSpace(req.Customer.Phone),
	}
	if customer.Name == "" {
		return customer, nil, apperr.Validation("customer name is required")
	}
	if customer.Phone == "" {
		return customer, nil, apperr.Validation("customer phone is required")
	}
	if len(req.Items) == 0 {
		return customer, nil, apperr.Validation("cart is empty")
	}

	index := make(map[string]int, len(req.Items))
	lines := make([]cartLine, 0, len(req.Items))
	for i, item := range req.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return customer, nil, apperr.Validation("item %d has no product id", i)
		}
		if item.Qty <= 0 {
			return customer, nil, apperr.Validation("item %s has a non-positive quantity", id)
		}
		if item.Qty > models.MaxLineQty {
			return customer, nil, apperr.Validation("item %s quantity exceeds %d", id, models.MaxLineQty)
		}
		if at, ok := index[id]; ok {
			if lines[at].qty > models.MaxLineQty-item.Qty {
				return customer, nil, apperr.Validation("item %s quantity exceeds %d", id, models.MaxLineQty)
			}
			lines[at].qty += item.Qty
			continue
		}
		index[id] = len(lines)
		lines = append(lines, cartLine{productID: id, qty: item.Qty})
	}
	return customer, lines, nil
}

func (s *CheckoutService) loadProducts(ctx context.Context, lines []cartLine) (map[string]models.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.productID)
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()

	products, err := s.ledger.GetProductsByIDs(dbCtx, ids)
	if err != nil {
		return nil, apperr.Dependency("failed to read products", err)
	}

	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func checkAvailability(lines []cartLine, products map[string]models.Product) []apperr.Problem {
	var problems []apperr.Problem
	for _, line := range lines {
		product, ok := products[line.productID]
		if !ok {
			problems = append(problems, apperr.Problem{ProductID: line.productID, Reason: apperr.ReasonNotFound})
			continue
		}
		if line.qty > product.Stock {
			problems = append(problems, apperr.Problem{
				ProductID: line.productID,
				Reason:    apperr.ReasonInsufficientStock,
				Requested: line.qty,
				Available: product.Stock,
			})
		}
	}
	return problems
}

var (
	hundred       = decimal.NewFromInt(100)
	maxTotalCents = decimal.NewFromInt(math.MaxInt64)
)

// priceCart snapshots each line at the current price and returns the total
// in minor units.
func priceCart(lines []cartLine, products map[string]models.Product) (models.PendingItems, int64, error) {
	snapshot := make(models.PendingItems, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		product := products[line.productID]
		snapshot = append(snapshot, models.PendingItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Qty:       line.qty,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.qty))))
	}

	cents := total.Mul(hundred).Round(0)
	if !cents.IsPositive() {
		return nil, 0, apperr.Validation("order total must be positive, got %s", total.StringFixed(2))
	}
	if cents.GreaterThan(maxTotalCents) {
		return nil, 0, apperr.Validation("order total %s is too large", total.StringFixed(2))
	}
	return snapshot, cents.IntPart(), nil
}

func (s *CheckoutService) createPending(ctx context.Context, pending *models.PendingOrder) error {
	dbCtx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()

	if err := s.pending.CreatePendingOrder(dbCtx, pending); err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("store_error").Inc()
		return apperr.Dependency("failed to create pending order", err)
	}
	return nil
}

func (s *CheckoutService) openSession(ctx context.Context, pending *models.PendingOrder) (*port.PaymentSession, error) {
	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	start := time.Now()
	session, err := s.payments.CreateSession(payCtx, port.SessionRequest{
		CorrelationToken: pending.ID,
		AmountCents:      pending.TotalCents,
		Currency:         s.cfg.Currency,
		Description:      s.cfg.Description,
	})
	util.PaymentSessionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.CheckoutsRejectedTotal.WithLabelValues("payment_error").Inc()
		s.logger.Error("Failed to create payment session",
			zap.String("pending_order_id", pending.ID), zap.Error(err))
		return nil, apperr.Dependency("failed to create payment session", err)
	}
	return session, nil
}

// attachSession correlates the session with the pending order. A failure
// only costs the ticket lookup by session id, so it is logged.
func (s *CheckoutService) attachSession(ctx context.Context, pendingID, sessionID string) {
	dbCtx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()

	if err := s.pending.AttachPaymentSession(dbCtx, pendingID, sessionID); err != nil {
		s.logger.Warn("Failed to attach payment session to pending order",
			zap.String("pending_order_id", pendingID),
			zap.String("payment_session_id", sessionID),
			zap.Error(err))
	}
}

func (s *CheckoutService) publishStarted(ctx context.Context, pending *models.PendingOrder, sessionID string) {
	if s.events == nil {
		return
	}
	event := &models.CheckoutStartedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.NewString(),
			EventType: models.EventTypeCheckoutStarted,
			Timestamp: s.now().UTC(),
		},
		PendingOrderID:   pending.ID,
		PaymentSessionID: sessionID,
		TotalCents:       pending.TotalCents,
	}
	if err := s.events.PublishCheckoutStarted(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutStarted event", zap.Error(err))
	}
}

func (s *CheckoutService) replay(ctx context.Context, key string) *CheckoutResponse {
	if key == "" || s.cache == nil {
		return nil
	}
	payload, ok, err := s.cache.GetCheckoutResponse(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency cache unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var resp CheckoutResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.logger.Warn("Discarding unreadable cached checkout response", zap.String("key", key), zap.Error(err))
		return nil
	}
	s.logger.Info("Replaying checkout response",
		zap.String("key", key), zap.String("pending_order_id", resp.PendingOrderID))
	return &resp
}

func (s *CheckoutService) remember(ctx context.Context, key string, resp *CheckoutResponse) {
	if key == "" || s.cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.SaveCheckoutResponse(ctx, key, payload, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to cache checkout response", zap.String("key", key), zap.Error(err))
	}
}

// FormatTicketNumber renders a ticket sequence value
func FormatTicketNumber(seq int64) string {
	return fmt.Sprintf("T-%05d", seq)
}
