package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/orders"
)

func newRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func TestPriceItemsSnapshotsAndMerges(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery("FROM products").
		WithArgs([]string{"p-tomato", "p-honey"}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "price_cents"}).
			AddRow("p-honey", int64(699)).
			AddRow("p-tomato", int64(499)))

	items, err := repo.PriceItems(context.Background(), []orders.ItemInput{
		{ProductID: "p-tomato", Qty: 1},
		{ProductID: "p-honey", Qty: 1},
		{ProductID: "p-tomato", Qty: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []orders.LineItem{
		{ProductID: "p-tomato", Quantity: 2, UnitPriceCents: 499},
		{ProductID: "p-honey", Quantity: 1, UnitPriceCents: 699},
	}, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceItemsUnknownProduct(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM products").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "price_cents"}).AddRow("p-tomato", int64(499)))

	_, err := repo.PriceItems(context.Background(), []orders.ItemInput{
		{ProductID: "p-tomato", Qty: 1},
		{ProductID: "p-kale", Qty: 3},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPriceItemsValidatesBeforeQuerying(t *testing.T) {
	repo, mock := newRepo(t)

	_, err := repo.PriceItems(context.Background(), nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = repo.PriceItems(context.Background(), []orders.ItemInput{{ProductID: "p-tomato", Qty: 0}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	vendor := "v-greenacre"

	mock.ExpectQuery("FROM products").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "vendor_id", "name", "unit", "price_cents", "stock", "updated_at"}).
			AddRow("p-honey", &vendor, "Wildflower honey", "jar", int64(699), 12, now).
			AddRow("p-tomato", nil, "Heirloom tomato", "lb", int64(499), 40, now))

	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "v-greenacre", *products[0].VendorID)
	assert.Nil(t, products[1].VendorID)
	assert.Equal(t, 40, products[1].Stock)
}
