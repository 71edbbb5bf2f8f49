package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFinalizer(store *memStore) *OrderFinalizer {
	return NewOrderFinalizer(store, time.Second)
}

func TestFinalizeConvertsPendingOrder(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 2})

	result, err := newTestFinalizer(store).Finalize(context.Background(), "po-1", "")

	require.NoError(t, err)
	assert.Equal(t, "T-00001", result.Order.TicketNumber)
	assert.Equal(t, models.OrderStatusConfirmed, result.Order.Status)
	assert.Equal(t, "po-1", result.Order.PendingOrderID)
	assert.Equal(t, "20", result.Order.Total.String())
	require.Len(t, result.Items, 1)
	assert.Equal(t, 2, result.Items[0].Qty)
	assert.Equal(t, "20", result.Items[0].LineTotal.String())

	assert.Equal(t, 3, store.stock("A"))
	assert.Equal(t, 1, store.orderCount())
	pending := store.pendingByID("po-1")
	assert.Equal(t, models.PendingStatusPaid, pending.Status)
	assert.Equal(t, result.Order.ID, pending.OrderID)
	assert.NotNil(t, pending.PaidAt)
}

func TestFinalizeTwiceIsNoOp(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 2})
	finalizer := newTestFinalizer(store)

	_, err := finalizer.Finalize(context.Background(), "po-1", "")
	require.NoError(t, err)
	_, err = finalizer.Finalize(context.Background(), "po-1", "")

	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.Equal(t, 3, store.stock("A"))
	assert.Equal(t, 1, store.orderCount())
}

func TestFinalizeInsufficientStockWritesNothing(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5), product("B", "1.00", 0))
	store.seedPending("po-1", cartLine{productID: "A", qty: 2}, cartLine{productID: "B", qty: 1})
	store.setStock("A", 1)

	_, err := newTestFinalizer(store).Finalize(context.Background(), "po-1", "")

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, []apperr.Problem{
		{ProductID: "A", Reason: apperr.ReasonInsufficientStock, Requested: 2, Available: 1},
		{ProductID: "B", Reason: apperr.ReasonInsufficientStock, Requested: 1, Available: 0},
	}, apperr.ProblemsOf(err))
	assert.Zero(t, store.orderCount())
	assert.Equal(t, 1, store.stock("A"))
	assert.Equal(t, models.PendingStatusPending, store.pendingByID("po-1").Status)
}

func TestFinalizeRollsBackOnMidwayFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"decrement fails after insert", func(s *memStore) { s.failDecrement = errors.New("deadlock detected") }},
		{"commit fails", func(s *memStore) { s.failCommit = errors.New("connection lost") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(product("A", "10.00", 5))
			store.seedPending("po-1", cartLine{productID: "A", qty: 2})
			tt.setup(store)

			_, err := newTestFinalizer(store).Finalize(context.Background(), "po-1", "")

			require.Error(t, err)
			assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))
			assert.Zero(t, store.orderCount())
			assert.Equal(t, 5, store.stock("A"))
			assert.Equal(t, models.PendingStatusPending, store.pendingByID("po-1").Status)
		})
	}
}

func TestFinalizeRejectsUnknownAndFailedPendingOrders(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 1})
	_, err := store.MarkPendingFailed(context.Background(), "po-1")
	require.NoError(t, err)
	finalizer := newTestFinalizer(store)

	_, err = finalizer.Finalize(context.Background(), "missing", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = finalizer.Finalize(context.Background(), "po-1", "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Zero(t, store.orderCount())
	assert.Equal(t, 5, store.stock("A"))
}

func TestFinalizeRejectsInvalidSnapshotQuantities(t *testing.T) {
	tests := []struct {
		name  string
		lines []cartLine
	}{
		{"negative", []cartLine{{productID: "A", qty: -2}, {productID: "B", qty: 1}}},
		{"zero", []cartLine{{productID: "A", qty: 0}}},
		{"merged beyond limit", []cartLine{{productID: "A", qty: models.MaxLineQty}, {productID: "A", qty: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(product("A", "1.00", 5), product("B", "100.00", 5))
			store.seedPending("po-1", tt.lines...)

			_, err := newTestFinalizer(store).Finalize(context.Background(), "po-1", "")

			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Zero(t, store.orderCount())
			assert.Equal(t, 5, store.stock("A"))
			assert.Equal(t, 5, store.stock("B"))
			assert.Equal(t, models.PendingStatusPending, store.pendingByID("po-1").Status)
		})
	}
}

func TestFinalizeRecordsMissingPaymentSession(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 1})
	store.seedPending("po-2", cartLine{productID: "A", qty: 1})
	store.detachSession("po-1")
	finalizer := newTestFinalizer(store)

	_, err := finalizer.Finalize(context.Background(), "po-1", "cs_late")
	require.NoError(t, err)
	_, err = finalizer.Finalize(context.Background(), "po-2", "cs_other")
	require.NoError(t, err)

	assert.Equal(t, "cs_late", store.pendingByID("po-1").PaymentSessionID)
	assert.Equal(t, "cs_po-2", store.pendingByID("po-2").PaymentSessionID)
}

func TestFinalizeIgnoresCallerCancellation(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFinalizer(store).Finalize(ctx, "po-1", "")

	require.NoError(t, err)
	assert.Equal(t, models.PendingStatusPaid, store.pendingByID("po-1").Status)
}

func TestFinalizeConcurrentDuplicatesCreateOneOrder(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 2})
	finalizer := newTestFinalizer(store)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := finalizer.Finalize(context.Background(), "po-1", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, noops int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyFinalized):
			noops++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, noops)
	assert.Equal(t, 1, store.orderCount())
	assert.Equal(t, 3, store.stock("A"))
}

func TestFinalizeCompetingOrdersNeverOversell(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	const orders = 6
	for i := 0; i < orders; i++ {
		store.seedPending(fmt.Sprintf("po-%d", i), cartLine{productID: "A", qty: 2})
	}
	finalizer := newTestFinalizer(store)

	var wg sync.WaitGroup
	results := make(chan *FinalizedOrder, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result, err := finalizer.Finalize(context.Background(), id, "")
			if err == nil {
				results <- result
				return
			}
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		}(fmt.Sprintf("po-%d", i))
	}
	wg.Wait()
	close(results)

	tickets := make(map[string]bool)
	for r := range results {
		assert.False(t, tickets[r.Order.TicketNumber], "duplicate ticket %s", r.Order.TicketNumber)
		tickets[r.Order.TicketNumber] = true
	}
	assert.Len(t, tickets, 2)
	assert.Equal(t, 2, store.orderCount())
	assert.Equal(t, 1, store.stock("A"))
}
