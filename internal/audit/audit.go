// Package audit keeps the append-only trail of privileged actions.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/auth"
)

const (
	PageSize     = 25
	writeTimeout = 3 * time.Second
)

type Entry struct {
	ID        string          `json:"log_id"`
	UserID    *string         `json:"user_id"`
	Action    string          `json:"action"`
	Table     string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

type Filter struct {
	Table    string
	RecordID string
	Page     int
}

type Page struct {
	Entries  []Entry `json:"entries"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter, limit, offset int) ([]Entry, int64, error)
}

type Recorder struct {
	Store Store
	Log   *zap.Logger
}

// Log appends an audit row. It never fails the caller: errors are logged.
// The write outlives a cancelled request context.
func (r *Recorder) Log(ctx context.Context, actor auth.Actor, action, table, recordID string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("table", table),
		zap.String("record_id", recordID),
	}
	body, err := json.Marshal(details)
	if err != nil {
		r.logger().Error("audit details not serializable", append(fields, zap.Error(err))...)
		body = []byte(`{}`)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	e := &Entry{
		ID:       uuid.NewString(),
		UserID:   actor.Ref(),
		Action:   action,
		Table:    table,
		RecordID: recordID,
		Details:  body,
	}
	if err := r.Store.Insert(wctx, e); err != nil {
		apperr.LogError(r.logger(), err, "audit write failed", fields...)
	}
}

// Query pages through the trail, newest first, PageSize rows per page.
func (r *Recorder) Query(ctx context.Context, actor auth.Actor, f Filter) (Page, error) {
	if !actor.Can(auth.CapViewAudit) {
		return Page{}, apperr.Forbidden("view_audit is required")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	entries, total, err := r.Store.Query(ctx, f, PageSize, (f.Page-1)*PageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Total: total, Page: f.Page, PageSize: PageSize}, nil
}

func (r *Recorder) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
