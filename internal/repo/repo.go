package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/store"
)

// Repo serves read models straight from the database. Writes that belong to
// a transition go through Store.InTx instead.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = store.ErrNotFound

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const clientColumns = `id,first_name,last_name,email,phone,intake_status,status_changed_at,execution_deadline,agent_id,created_at`

func scanClient(row scanner) (domain.Client, error) {
	var (
		c                      domain.Client
		email, phone, agent    sql.NullString
		deadline               sql.NullString
		statusChanged, created string
	)
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &email, &phone, &c.IntakeStatus, &statusChanged, &deadline, &agent, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Email = email.String
	c.Phone = phone.String
	c.AgentID = db.ScanString(agent)
	if c.StatusChangedAt, err = db.ParseTime(statusChanged); err != nil {
		return c, err
	}
	if c.CreatedAt, err = db.ParseTime(created); err != nil {
		return c, err
	}
	if c.ExecutionDeadline, err = db.ScanTime(deadline); err != nil {
		return c, err
	}
	return c, nil
}

func getClient(ctx context.Context, q querier, id string) (domain.Client, error) {
	return scanClient(q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=?`, id))
}

func insertClient(ctx context.Context, q querier, c domain.Client) error {
	_, err := q.ExecContext(ctx, `INSERT INTO clients(`+clientColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.FirstName, c.LastName, nullable(c.Email), nullable(c.Phone), string(c.IntakeStatus),
		db.FormatTime(c.StatusChangedAt), db.NullableTime(c.ExecutionDeadline), db.NullableString(c.AgentID), db.FormatTime(c.CreatedAt))
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	return getClient(ctx, r.DB, id)
}

// ClientFilters narrows ListClients. Zero values match everything.
type ClientFilters struct {
	Status  domain.IntakeStatus
	AgentID string
	Limit   int
}

func (r Repo) ListClients(ctx context.Context, f ClientFilters) ([]domain.Client, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "intake_status=?")
		args = append(args, string(f.Status))
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	query := `SELECT ` + clientColumns + ` FROM clients`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountClientsByStatus returns the pipeline funnel.
func (r Repo) CountClientsByStatus(ctx context.Context) (map[domain.IntakeStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT intake_status, count(*) FROM clients GROUP BY intake_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.IntakeStatus]int{}
	for rows.Next() {
		var (
			status domain.IntakeStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
