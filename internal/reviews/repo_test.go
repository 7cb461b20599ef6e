package reviews

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
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

var factCols = []string{"user_id", "status", "deleted", "has_product", "reviewed"}

func TestRepoFacts(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM orders o").
		WithArgs("o-spring", "p-honey", "u-ana").
		WillReturnRows(pgxmock.NewRows(factCols).AddRow("u-ana", "delivered", false, true, false))

	f, err := repo.Facts(context.Background(), "u-ana", "p-honey", "o-spring")
	require.NoError(t, err)
	assert.Equal(t, Facts{OwnerID: "u-ana", Status: orders.StatusDelivered, HasProduct: true}, f)
	assert.NoError(t, f.check("u-ana", "p-honey", "o-spring"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoFactsMissingOrder(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM orders o").WillReturnRows(pgxmock.NewRows(factCols))

	_, err := repo.Facts(context.Background(), "u-ana", "p-honey", "o-404")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func newReview() *Review {
	return &Review{ID: "rv-1", UserID: "u-ana", ProductID: "p-honey", OrderID: "o-spring", Rating: 5, Comment: "great"}
}

func TestRepoInsert(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO reviews").
		WithArgs("rv-1", "u-ana", "p-honey", "o-spring", 5, "great", "delivered").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	rv := newReview()
	require.NoError(t, repo.Insert(context.Background(), rv))
	assert.Equal(t, now, rv.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoInsertUniqueViolation(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("INSERT INTO reviews").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "reviews_user_product_order_key"})

	err := repo.Insert(context.Background(), newReview())
	assert.ErrorIs(t, err, apperr.ErrDuplicateReview)
}

func TestRepoInsertGuardRejects(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("INSERT INTO reviews").WillReturnRows(pgxmock.NewRows([]string{"created_at"}))

	err := repo.Insert(context.Background(), newReview())
	assert.ErrorIs(t, err, apperr.ErrNotEligible)
}

func TestRepoInsertStoreFailure(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("INSERT INTO reviews").WillReturnError(errors.New("conn reset"))

	err := repo.Insert(context.Background(), newReview())
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}

func TestRepoSummary(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM reviews").
		WithArgs("p-honey").
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(int64(3), int64(13)))

	s, err := repo.Summary(context.Background(), "p-honey")
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Count)
	assert.Equal(t, "4.3", s.Average.String())
}

func TestRepoListForProduct(t *testing.T) {
	repo, mock := newRepo(t)
	now := time.Now()
	mock.ExpectQuery("FROM reviews").
		WithArgs("p-honey").
		WillReturnRows(pgxmock.NewRows([]string{"review_id", "user_id", "product_id", "order_id", "rating", "comment", "created_at"}).
			AddRow("rv-2", "u-ana", "p-honey", "o-summer", 4, "good", now).
			AddRow("rv-1", "u-ana", "p-honey", "o-spring", 5, "great", now.Add(-time.Hour)))

	list, err := repo.ListForProduct(context.Background(), "p-honey")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rv-2", list[0].ID)
	assert.Equal(t, 5, list[1].Rating)
}
