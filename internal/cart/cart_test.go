package cart

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pickup-orders/internal/orders"
)

type fakeCatalog map[string]orders.Product

func (c fakeCatalog) Products(_ context.Context, ids []string) (map[string]orders.Product, error) {
	out := map[string]orders.Product{}
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type brokenCatalog struct{}

func (brokenCatalog) Products(context.Context, []string) (map[string]orders.Product, error) {
	return nil, errors.New("ledger offline")
}

func TestAddMergesAndValidates(t *testing.T) {
	c := New()
	require.NoError(t, c.Add("bread", 1))
	require.NoError(t, c.Add(" bread ", 2))
	require.NoError(t, c.Add("apple", 1))

	assert.ErrorIs(t, c.Add("apple", 0), orders.ErrValidation)
	assert.ErrorIs(t, c.Add("", 1), orders.ErrValidation)

	assert.Equal(t, []orders.Line{{ProductID: "apple", Qty: 1}, {ProductID: "bread", Qty: 3}}, c.Lines())
	assert.Equal(t, 2, c.Len())

	c.Remove("apple")
	c.Remove("never-added")
	assert.Equal(t, []orders.Line{{ProductID: "bread", Qty: 3}}, c.Lines())
}

func TestLinesIsACopy(t *testing.T) {
	c := FromLines([]orders.Line{{ProductID: "a", Qty: 1}, {ProductID: "a", Qty: 1}})
	lines := c.Lines()
	lines[0].Qty = 99
	assert.Equal(t, 2, c.Lines()[0].Qty)
}

func TestSnapshotJoinsLiveData(t *testing.T) {
	catalog := fakeCatalog{
		"apple": {ID: "apple", Name: "Apple", PriceCents: 250, StockQuantity: 5, ReservedQuantity: 4, Active: true},
		"bread": {ID: "bread", Name: "Bread", PriceCents: 100, StockQuantity: 10, Active: true},
		"cider": {ID: "cider", Name: "Cider", PriceCents: 900, StockQuantity: 10, Active: false},
	}
	c := FromLines([]orders.Line{
		{ProductID: "apple", Qty: 2},
		{ProductID: "bread", Qty: 3},
		{ProductID: "cider", Qty: 1},
		{ProductID: "gone", Qty: 1},
	})

	snap, err := c.Snapshot(context.Background(), catalog)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 4)

	apple := snap.Lines[0]
	assert.Equal(t, "Apple", apple.Name)
	assert.Equal(t, 1, apple.Available)
	assert.True(t, apple.Short)
	assert.Equal(t, int64(500), apple.SubtotalCents)

	assert.False(t, snap.Lines[1].Short)
	assert.True(t, snap.Lines[2].Unavailable)
	assert.True(t, snap.Lines[3].Unavailable)
	assert.Equal(t, int64(500+300), snap.TotalCents)

	// the cart itself is untouched by what the snapshot found
	assert.Equal(t, 4, c.Len())
}

func TestSnapshotEmptyCart(t *testing.T) {
	snap, err := New().Snapshot(context.Background(), brokenCatalog{})
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.Zero(t, snap.TotalCents)
}

func TestSnapshotPropagatesCatalogErrors(t *testing.T) {
	c := FromLines([]orders.Line{{ProductID: "apple", Qty: 1}})
	_, err := c.Snapshot(context.Background(), brokenCatalog{})
	assert.Error(t, err)
}

func TestMemorySessions(t *testing.T) {
	s := NewMemorySessions()
	ctx := context.Background()

	c, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, c.Empty())

	require.NoError(t, c.Add("apple", 2))
	require.NoError(t, s.Save(ctx, "sess-1", c))

	again, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, c.Lines(), again.Lines())

	other, err := s.Load(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, other.Empty())

	require.NoError(t, s.Delete(ctx, "sess-1"))
	gone, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, gone.Empty())
}
