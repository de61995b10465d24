// Package commission opens the bonus pool a client's agent earns from once
// the client is approved.
package commission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"intakeline/internal/domain"
)

const StatusEligible = "ELIGIBLE"

// PoolStore persists bonus pools. InsertBonusPool reports false when the
// client already has one.
type PoolStore interface {
	InsertBonusPool(ctx context.Context, p domain.BonusPool) (bool, error)
}

// Bootstrapper implements engine.CommissionBootstrapper.
type Bootstrapper struct {
	Pools  PoolStore
	Now    func() time.Time
	Logger *slog.Logger
}

// Bootstrap creates the client's pool. Calling it again for the same client
// is a no-op.
func (b Bootstrapper) Bootstrap(ctx context.Context, clientID string) error {
	if clientID == "" {
		return errors.New("commission: client id required")
	}
	if b.Pools == nil {
		return errors.New("commission: pool store not configured")
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	created, err := b.Pools.InsertBonusPool(ctx, domain.BonusPool{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Status:    StatusEligible,
		CreatedAt: now().UTC(),
	})
	if err != nil {
		return err
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if created {
		logger.Info("bonus pool opened", "client_id", clientID)
	} else {
		logger.Debug("bonus pool already exists", "client_id", clientID)
	}
	return nil
}
