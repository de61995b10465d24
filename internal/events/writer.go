package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"intakeline/internal/db"
	"intakeline/internal/domain"
)

// Writer appends audit entries to event_log. It never updates or deletes;
// the schema rejects both.
type Writer struct {
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes entry inside tx. A zero CreatedAt is stamped with the
// writer's clock.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entry domain.Event) error {
	if tx == nil {
		return errors.New("events: append requires a transaction")
	}
	if entry.EventType == "" {
		return errors.New("events: event type required")
	}
	if entry.ClientID == "" {
		return errors.New("events: client id required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.now()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO event_log(event_type,old_value,new_value,description,client_id,user_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		entry.EventType, db.NullableString(entry.OldValue), db.NullableString(entry.NewValue), entry.Description,
		entry.ClientID, entry.UserID, db.FormatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Bind returns an audit log whose appends join tx.
func (w Writer) Bind(tx *sql.Tx) TxLog {
	return TxLog{w: w, tx: tx}
}

// TxLog is a Writer bound to one transaction.
type TxLog struct {
	w  Writer
	tx *sql.Tx
}

func (l TxLog) Append(ctx context.Context, entry domain.Event) error {
	return l.w.Append(ctx, l.tx, entry)
}
