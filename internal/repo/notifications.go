package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"intakeline/internal/db"
	"intakeline/internal/domain"
)

const notificationColumns = `id,user_id,type,title,message,link,read_at,created_at`

func scanNotification(row scanner) (domain.Notification, error) {
	var (
		n            domain.Notification
		link, readAt sql.NullString
		created      string
	)
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &link, &readAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.Link = link.String
	if n.ReadAt, err = db.ScanTime(readAt); err != nil {
		return n, err
	}
	if n.CreatedAt, err = db.ParseTime(created); err != nil {
		return n, err
	}
	return n, nil
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, nullable(n.Link), db.NullableTime(n.ReadAt), db.FormatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's inbox newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead stamps read_at for a notification owned by userID.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=COALESCE(read_at, ?) WHERE id=? AND user_id=?`,
		db.FormatTime(at), id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
