package inventory

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/agrimarket/internal/orders"
)

func newRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func expectOrderLock(mock pgxmock.PgxPoolIface, orderID string) {
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(orderID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func expectSkipCheck(mock pgxmock.PgxPoolIface, orderID string, skip bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(orderID, "RELEASED", "cancelled").
		WillReturnRows(pgxmock.NewRows([]string{"skip"}).AddRow(skip))
}

func TestRepoReserveAllCommits(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	expectOrderLock(mock, "o-1")
	expectSkipCheck(mock, "o-1", false)
	mock.ExpectQuery("SELECT stock FROM products").
		WithArgs("p-tomato").
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(10))
	mock.ExpectExec("UPDATE products SET stock = stock -").
		WithArgs("p-tomato", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs("o-1", "p-tomato", 2, "RESERVED").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	outcome, details, err := repo.ReserveAll(context.Background(), "o-1", []orders.ItemQty{{ProductID: "p-tomato", Qty: 2}})
	require.NoError(t, err)
	assert.Equal(t, Reserved, outcome)
	assert.Empty(t, details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoReserveAllRollsBackOnShortfall(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	expectOrderLock(mock, "o-1")
	expectSkipCheck(mock, "o-1", false)
	mock.ExpectQuery("SELECT stock FROM products").
		WithArgs("p-tomato").
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(10))
	mock.ExpectExec("UPDATE products SET stock = stock -").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO reservations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT stock FROM products").
		WithArgs("p-honey").
		WillReturnRows(pgxmock.NewRows([]string{"stock"}).AddRow(1))
	mock.ExpectRollback()

	outcome, details, err := repo.ReserveAll(context.Background(), "o-1", []orders.ItemQty{
		{ProductID: "p-tomato", Qty: 2},
		{ProductID: "p-honey", Qty: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome)
	assert.Equal(t, []orders.StockRejectedDetail{{ProductID: "p-honey", Required: 3, Available: 1}}, details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoReserveAllSkipsReleasedOrder(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	expectOrderLock(mock, "o-1")
	expectSkipCheck(mock, "o-1", true)
	mock.ExpectCommit()

	outcome, details, err := repo.ReserveAll(context.Background(), "o-1", []orders.ItemQty{{ProductID: "p-tomato", Qty: 2}})
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)
	assert.Empty(t, details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoReleaseAll(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	expectOrderLock(mock, "o-1")
	mock.ExpectQuery("FROM reservations").
		WithArgs("o-1", "RESERVED").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "qty"}).AddRow("p-tomato", 2))
	mock.ExpectExec("UPDATE products SET stock = stock \\+").
		WithArgs("p-tomato", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE reservations SET status").
		WithArgs("o-1", "RESERVED", "RELEASED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := repo.ReleaseAll(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoReleaseBeforeReserveWritesTombstone(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	expectOrderLock(mock, "o-1")
	mock.ExpectQuery("FROM reservations").
		WithArgs("o-1", "RESERVED").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "qty"}))
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs("o-1", "", "RELEASED").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := repo.ReleaseAll(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
