package audit

import (
	"context"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/postgres"
)

type Repo struct{ DB postgres.Querier }

func (r *Repo) Insert(ctx context.Context, e *Entry) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO audit_logs(log_id, user_id, action, table_name, record_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		e.ID, e.UserID, e.Action, e.Table, e.RecordID, []byte(e.Details),
	).Scan(&e.CreatedAt)
	return apperr.Persistence(err, "insert audit log")
}

func (r *Repo) Query(ctx context.Context, f Filter, limit, offset int) ([]Entry, int64, error) {
	var total int64
	if err := r.DB.QueryRow(ctx, `
		SELECT count(*) FROM audit_logs
		WHERE ($1 = '' OR table_name = $1) AND ($2 = '' OR record_id = $2)`,
		f.Table, f.RecordID,
	).Scan(&total); err != nil {
		return nil, 0, apperr.Persistence(err, "count audit logs")
	}

	rows, err := r.DB.Query(ctx, `
		SELECT log_id, user_id, action, table_name, record_id, details, created_at
		FROM audit_logs
		WHERE ($1 = '' OR table_name = $1) AND ($2 = '' OR record_id = $2)
		ORDER BY created_at DESC, log_id
		LIMIT $3 OFFSET $4`,
		f.Table, f.RecordID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Persistence(err, "query audit logs")
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Table, &e.RecordID, &details, &e.CreatedAt); err != nil {
			return nil, 0, apperr.Persistence(err, "scan audit log")
		}
		e.Details = details
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Persistence(err, "read audit logs")
	}
	return out, total, nil
}
