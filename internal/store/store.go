// Package store defines the persistence ports the engine runs against. The
// engine only sees these interfaces; internal/repo provides the sqlite
// implementation.
package store

import (
	"context"
	"errors"
	"time"

	"intakeline/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost a race with
	// another writer of the same row.
	ErrConflict = errors.New("conflict")
)

// TaskFilter selects tasks of one client. Empty slices match everything.
type TaskFilter struct {
	ClientID string
	Statuses []domain.TaskStatus
	Types    []domain.TaskType
}

// AuditLog appends immutable event entries.
type AuditLog interface {
	Append(ctx context.Context, entry domain.Event) error
}

// TaskSink manages task records inside the current unit of work.
type TaskSink interface {
	CreateMany(ctx context.Context, tasks []domain.Task) error
	CancelMany(ctx context.Context, filter TaskFilter, at time.Time) (int64, error)
	List(ctx context.Context, filter TaskFilter) ([]domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, t domain.Task) error
}

// Tx is one atomic unit of work. Everything written through a Tx commits or
// rolls back together.
type Tx interface {
	GetClient(ctx context.Context, id string) (domain.Client, error)
	InsertClient(ctx context.Context, c domain.Client) error
	// UpdateClientStatus writes status, status_changed_at and
	// execution_deadline only if the stored status still equals from.
	UpdateClientStatus(ctx context.Context, c domain.Client, from domain.IntakeStatus) error

	// GetPlatformVerification returns the record for (client, platform) only
	// when it is currently in status; any other state yields ErrNotFound.
	GetPlatformVerification(ctx context.Context, clientID, platform string, status domain.VerificationStatus) (domain.PlatformVerification, error)
	FindPlatformVerification(ctx context.Context, clientID, platform string) (domain.PlatformVerification, error)
	InsertPlatformVerification(ctx context.Context, pv domain.PlatformVerification) error
	UpdatePlatformVerification(ctx context.Context, pv domain.PlatformVerification) error

	Audit() AuditLog
	Tasks() TaskSink
}

// Store opens units of work. Implementations must serialize concurrent units
// touching the same client so that a status read and the following write are
// never interleaved with another transition.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
