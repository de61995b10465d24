package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/store"
)

const taskColumns = `id,client_id,type,status,title,platform,assigned_to,due_at,created_at,updated_at,completed_at`

func scanTask(row scanner) (domain.Task, error) {
	var (
		t                    domain.Task
		platform, assignedTo sql.NullString
		dueAt, completedAt   sql.NullString
		created, updated     string
	)
	err := row.Scan(&t.ID, &t.ClientID, &t.Type, &t.Status, &t.Title, &platform, &assignedTo, &dueAt, &created, &updated, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Platform = db.ScanString(platform)
	t.AssignedTo = db.ScanString(assignedTo)
	if t.DueAt, err = db.ScanTime(dueAt); err != nil {
		return t, err
	}
	if t.CompletedAt, err = db.ScanTime(completedAt); err != nil {
		return t, err
	}
	if t.CreatedAt, err = db.ParseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return t, err
	}
	return t, nil
}

// taskFilterSQL renders a filter as a WHERE clause body.
func taskFilterSQL(f store.TaskFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if len(f.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func listTasks(ctx context.Context, q querier, f store.TaskFilter) ([]domain.Task, error) {
	where, args := taskFilterSQL(f)
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// taskSink implements store.TaskSink on a transaction.
type taskSink struct {
	q querier
}

func (s taskSink) CreateMany(ctx context.Context, tasks []domain.Task) error {
	for _, t := range tasks {
		_, err := s.q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.ClientID, string(t.Type), string(t.Status), t.Title, db.NullableString(t.Platform), db.NullableString(t.AssignedTo),
			db.NullableTime(t.DueAt), db.FormatTime(t.CreatedAt), db.FormatTime(t.UpdatedAt), db.NullableTime(t.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.Type, err)
		}
	}
	return nil
}

func (s taskSink) CancelMany(ctx context.Context, f store.TaskFilter, at time.Time) (int64, error) {
	if f.ClientID == "" {
		return 0, errors.New("cancel tasks: client id required")
	}
	where, args := taskFilterSQL(f)
	args = append([]any{string(domain.TaskCancelled), db.FormatTime(at)}, args...)
	res, err := s.q.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s taskSink) List(ctx context.Context, f store.TaskFilter) ([]domain.Task, error) {
	return listTasks(ctx, s.q, f)
}

func (s taskSink) Get(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (s taskSink) Update(ctx context.Context, t domain.Task) error {
	res, err := s.q.ExecContext(ctx, `UPDATE tasks SET status=?, title=?, assigned_to=?, due_at=?, updated_at=?, completed_at=? WHERE id=?`,
		string(t.Status), t.Title, db.NullableString(t.AssignedTo), db.NullableTime(t.DueAt), db.FormatTime(t.UpdatedAt),
		db.NullableTime(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks reads tasks outside of any unit of work.
func (r Repo) ListTasks(ctx context.Context, f store.TaskFilter) ([]domain.Task, error) {
	return listTasks(ctx, r.DB, f)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// CountOpenTasks counts PENDING and IN_PROGRESS tasks for a client.
func (r Repo) CountOpenTasks(ctx context.Context, clientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE client_id=? AND status IN (?,?)`,
		clientID, string(domain.TaskPending), string(domain.TaskInProgress)).Scan(&n)
	return n, err
}
