package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/auth"
)

type fakeStore struct {
	mu      sync.Mutex
	err     error
	entries []Entry
	ctxErrs []error

	gotLimit, gotOffset int
}

func (s *fakeStore) Insert(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *fakeStore) Query(_ context.Context, _ Filter, limit, offset int) ([]Entry, int64, error) {
	s.gotLimit, s.gotOffset = limit, offset
	return s.entries, int64(len(s.entries)), nil
}

var admin = auth.Actor{UserID: "u-ada", Role: auth.RoleAdmin}

func TestLogWritesEntry(t *testing.T) {
	store := &fakeStore{}
	rec := &Recorder{Store: store, Log: zap.NewNop()}

	rec.Log(context.Background(), admin, "order.soft_delete", "orders", "o-1", map[string]any{"reason": "fraud"})
	rec.Log(context.Background(), auth.System, "payment.record", "payment_logs", "pl-1", nil)

	require.Len(t, store.entries, 2)
	assert.Equal(t, "u-ada", *store.entries[0].UserID)
	assert.JSONEq(t, `{"reason":"fraud"}`, string(store.entries[0].Details))
	assert.Nil(t, store.entries[1].UserID)
	assert.JSONEq(t, `{}`, string(store.entries[1].Details))
}

func TestLogSurvivesCancelledRequest(t *testing.T) {
	store := &fakeStore{}
	rec := &Recorder{Store: store, Log: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Log(ctx, admin, "order.status", "orders", "o-1", nil)

	require.Len(t, store.ctxErrs, 1)
	assert.NoError(t, store.ctxErrs[0])
	assert.Len(t, store.entries, 1)
}

func TestLogFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &fakeStore{err: apperr.Persistence(errors.New("conn refused"), "insert audit log")}
	rec := &Recorder{Store: store, Log: zap.New(core)}

	assert.NotPanics(t, func() {
		rec.Log(context.Background(), admin, "order.status", "orders", "o-1", nil)
	})
	entries := logs.FilterMessage("audit write failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "order.status", fields["action"])
	assert.Equal(t, "o-1", fields["record_id"])
	assert.Equal(t, "PERSISTENCE", fields["error_kind"])
}

func TestLogFailureWithoutLogger(t *testing.T) {
	rec := &Recorder{Store: &fakeStore{err: errors.New("conn refused")}}
	assert.NotPanics(t, func() {
		rec.Log(context.Background(), admin, "order.soft_delete", "orders", "o-1", map[string]any{"bad": func() {}})
	})
}

func TestQueryPaging(t *testing.T) {
	store := &fakeStore{}
	rec := &Recorder{Store: store, Log: zap.NewNop()}

	_, err := rec.Query(context.Background(), auth.Actor{UserID: "u-sam", Role: auth.RoleStaff}, Filter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	page, err := rec.Query(context.Background(), admin, Filter{Table: "orders", Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, PageSize, page.PageSize)
	assert.Equal(t, PageSize, store.gotLimit)
	assert.Equal(t, 50, store.gotOffset)

	page, err = rec.Query(context.Background(), admin, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 0, store.gotOffset)
}

func TestRepoInsertAndQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := &Repo{DB: mock}
	now := time.Now()

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs("al-1", pgxmock.AnyArg(), "order.create", "orders", "o-1", []byte(`{"items":2}`)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	admin := "u-ada"
	e := &Entry{ID: "al-1", UserID: &admin, Action: "order.create", Table: "orders", RecordID: "o-1", Details: json.RawMessage(`{"items":2}`)}
	require.NoError(t, repo.Insert(context.Background(), e))
	assert.Equal(t, now, e.CreatedAt)

	mock.ExpectQuery("SELECT count").
		WithArgs("orders", "o-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("FROM audit_logs").
		WithArgs("orders", "o-1", PageSize, 0).
		WillReturnRows(pgxmock.NewRows([]string{"log_id", "user_id", "action", "table_name", "record_id", "details", "created_at"}).
			AddRow("al-1", &admin, "order.create", "orders", "o-1", []byte(`{"items":2}`), now))

	entries, total, err := repo.Query(context.Background(), Filter{Table: "orders", RecordID: "o-1"}, PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"items":2}`, string(entries[0].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}
