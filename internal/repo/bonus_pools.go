package repo

import (
	"context"
	"database/sql"
	"errors"

	"intakeline/internal/db"
	"intakeline/internal/domain"
)

// InsertBonusPool creates the pool unless one already exists for the client.
// It reports whether a row was written.
func (r Repo) InsertBonusPool(ctx context.Context, p domain.BonusPool) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO bonus_pools(id,client_id,status,created_at) VALUES (?,?,?,?)`,
		p.ID, p.ClientID, p.Status, db.FormatTime(p.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetBonusPool(ctx context.Context, clientID string) (domain.BonusPool, error) {
	var (
		p       domain.BonusPool
		created string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,client_id,status,created_at FROM bonus_pools WHERE client_id=?`, clientID).
		Scan(&p.ID, &p.ClientID, &p.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt, err = db.ParseTime(created)
	return p, err
}
