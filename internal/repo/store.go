package repo

import (
	"context"
	"database/sql"
	"fmt"

	"intakeline/internal/db"
	"intakeline/internal/domain"
	"intakeline/internal/events"
	"intakeline/internal/store"
)

// Store implements store.Store on sqlite. Connections are opened with
// BEGIN IMMEDIATE, so units of work are serialized by the database write lock.
type Store struct {
	DB     *sql.DB
	Events events.Writer
}

func NewStore(conn *sql.DB) Store {
	return Store{DB: conn, Events: events.Writer{}}
}

func (s Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	unit := &txUnit{tx: sqlTx, events: s.Events}
	if err = fn(ctx, unit); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type txUnit struct {
	tx     *sql.Tx
	events events.Writer
}

func (u *txUnit) GetClient(ctx context.Context, id string) (domain.Client, error) {
	return getClient(ctx, u.tx, id)
}

func (u *txUnit) InsertClient(ctx context.Context, c domain.Client) error {
	if err := insertClient(ctx, u.tx, c); err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (u *txUnit) UpdateClientStatus(ctx context.Context, c domain.Client, from domain.IntakeStatus) error {
	res, err := u.tx.ExecContext(ctx, `UPDATE clients SET intake_status=?, status_changed_at=?, execution_deadline=? WHERE id=? AND intake_status=?`,
		string(c.IntakeStatus), db.FormatTime(c.StatusChangedAt), db.NullableTime(c.ExecutionDeadline), c.ID, string(from))
	if err != nil {
		return fmt.Errorf("update client status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("client %s no longer %s: %w", c.ID, from, store.ErrConflict)
	}
	return nil
}

func (u *txUnit) GetPlatformVerification(ctx context.Context, clientID, platform string, status domain.VerificationStatus) (domain.PlatformVerification, error) {
	return scanVerification(u.tx.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM platform_verifications WHERE client_id=? AND platform=? AND status=?`,
		clientID, platform, string(status)))
}

func (u *txUnit) FindPlatformVerification(ctx context.Context, clientID, platform string) (domain.PlatformVerification, error) {
	return findVerification(ctx, u.tx, clientID, platform)
}

func (u *txUnit) InsertPlatformVerification(ctx context.Context, pv domain.PlatformVerification) error {
	return insertVerification(ctx, u.tx, pv)
}

func (u *txUnit) UpdatePlatformVerification(ctx context.Context, pv domain.PlatformVerification) error {
	return updateVerification(ctx, u.tx, pv)
}

func (u *txUnit) Audit() store.AuditLog {
	return u.events.Bind(u.tx)
}

func (u *txUnit) Tasks() store.TaskSink {
	return taskSink{q: u.tx}
}
