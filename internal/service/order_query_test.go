package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderQueries(t *testing.T) {
	store := newMemStore(product("A", "10.00", 5))
	store.seedPending("po-1", cartLine{productID: "A", qty: 2})
	store.seedPending("po-2", cartLine{productID: "A", qty: 1})
	result, err := newTestFinalizer(store).Finalize(context.Background(), "po-1", "")
	require.NoError(t, err)

	queries := NewOrderQueryService(store, store, time.Second)

	details, err := queries.GetOrder(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Order.TicketNumber, details.Order.TicketNumber)
	assert.Len(t, details.Items, 1)

	ticket, err := queries.GetTicketBySession(context.Background(), "cs_po-1")
	require.NoError(t, err)
	assert.Equal(t, result.Order.ID, ticket.Order.ID)

	_, err = queries.GetTicketBySession(context.Background(), "cs_po-2")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "unpaid session has no ticket yet")

	_, err = queries.GetTicketBySession(context.Background(), "cs_unknown")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = queries.GetTicketBySession(context.Background(), " ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = queries.GetOrder(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
