package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingItemsColumn(t *testing.T) {
	items := PendingItems{
		{ProductID: "A", Name: "Camiseta", UnitPrice: decimal.RequireFromString("10.00"), Qty: 2},
		{ProductID: "B", Name: "Taza", UnitPrice: decimal.RequireFromString("3.35"), Qty: 1},
	}

	value, err := items.Value()
	require.NoError(t, err)
	text, ok := value.(string)
	require.True(t, ok, "jsonb parameters must be sent as text")

	var scanned PendingItems
	require.NoError(t, scanned.Scan([]byte(text)))
	require.Len(t, scanned, 2)
	assert.True(t, items[1].UnitPrice.Equal(scanned[1].UnitPrice))
	assert.Equal(t, "A", scanned[0].ProductID)
	assert.Equal(t, 2, scanned[0].Qty)

	empty, err := PendingItems(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	assert.Error(t, scanned.Scan(42))
}
