package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStore_AddMergesSameProduct(t *testing.T) {
	s := New()
	p := Item{ProductID: "1", Title: "Mug", UnitPrice: d("10.00")}

	s.Add(p)
	s.Add(p)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestStore_UpdateQuantity(t *testing.T) {
	s := New()
	s.Add(Item{ProductID: "1", UnitPrice: d("10")})
	s.Add(Item{ProductID: "2", UnitPrice: d("5")})

	s.UpdateQuantity("1", 4)
	assert.Equal(t, 4, s.Items()[0].Quantity)

	s.UpdateQuantity("1", 0)
	require.Len(t, s.Items(), 1)
	assert.Equal(t, "2", s.Items()[0].ProductID)

	s.UpdateQuantity("2", -3)
	assert.True(t, s.IsEmpty())

	s.UpdateQuantity("missing", 2)
	assert.True(t, s.IsEmpty())
}

func TestStore_RemoveAndClear(t *testing.T) {
	s := New()
	s.Add(Item{ProductID: "1", UnitPrice: d("1")})
	s.Add(Item{ProductID: "2", UnitPrice: d("1")})

	s.Remove("1")
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.True(t, s.IsEmpty())
	assert.True(t, s.Subtotal().IsZero())
}

func TestStore_SubtotalIsSumOfLines(t *testing.T) {
	s, err := FromItems([]Item{
		{ProductID: "1", UnitPrice: d("10.00"), Quantity: 2},
		{ProductID: "2", UnitPrice: d("5.00"), Quantity: 1},
	})
	require.NoError(t, err)
	assert.True(t, s.Subtotal().Equal(d("25.00")))
}

func TestStore_TotalsWithTax(t *testing.T) {
	s, err := FromItems([]Item{
		{ProductID: "1", UnitPrice: d("10.00"), Quantity: 2},
		{ProductID: "2", UnitPrice: d("5.00"), Quantity: 1},
	})
	require.NoError(t, err)

	got := s.Totals(d("0.08"), decimal.Zero)

	assert.Equal(t, "25.00", got.Subtotal.StringFixed(2))
	assert.Equal(t, "2.00", got.Tax.StringFixed(2))
	assert.Equal(t, "27.00", got.Total.StringFixed(2))
}

func TestStore_TotalsRoundsTax(t *testing.T) {
	s, err := FromItems([]Item{{ProductID: "1", UnitPrice: d("0.99"), Quantity: 7}})
	require.NoError(t, err)

	got := s.Totals(d("0.08"), d("4.5"))

	// 6.93 * 0.08 = 0.5544
	assert.Equal(t, "0.55", got.Tax.StringFixed(2))
	assert.Equal(t, "11.98", got.Total.StringFixed(2))
}

func TestFromItems_MergesAndValidates(t *testing.T) {
	s, err := FromItems([]Item{
		{ProductID: "1", UnitPrice: d("3"), Quantity: 1},
		{ProductID: "1", UnitPrice: d("3"), Quantity: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, 3, s.Items()[0].Quantity)

	tests := []struct {
		name string
		item Item
	}{
		{name: "missing id", item: Item{Quantity: 1}},
		{name: "zero quantity", item: Item{ProductID: "1"}},
		{name: "negative price", item: Item{ProductID: "1", Quantity: 1, UnitPrice: d("-1")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromItems([]Item{tt.item})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
