package events

import (
	"context"
	"database/sql"
	"strings"

	"intakeline/internal/db"
	"intakeline/internal/domain"
)

type Reader struct {
	DB *sql.DB
}

// Query filters the audit trail. BeforeID pages backwards from a cursor.
type Query struct {
	ClientID  string
	EventType string
	BeforeID  int64
	Limit     int
}

// Latest returns events newest first.
func (r Reader) Latest(ctx context.Context, q Query) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if q.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, q.ClientID)
	}
	if q.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, q.EventType)
	}
	if q.BeforeID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, q.BeforeID)
	}
	query := `SELECT id,event_type,old_value,new_value,description,client_id,user_id,created_at FROM event_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			old, nw sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &old, &nw, &e.Description, &e.ClientID, &e.UserID, &created); err != nil {
			return nil, err
		}
		e.OldValue = db.ScanString(old)
		e.NewValue = db.ScanString(nw)
		if e.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountForClient returns how many entries exist for a client.
func (r Reader) CountForClient(ctx context.Context, clientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM event_log WHERE client_id=?`, clientID).Scan(&n)
	return n, err
}
