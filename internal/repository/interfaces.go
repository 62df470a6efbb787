package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
)

// PreferenceRepository persists NotificationPreference rows. Get
// returns (nil, nil) when no row matches the exact scope.
type PreferenceRepository interface {
	Get(ctx context.Context, userID uuid.UUID, channel model.Channel, group string, scope model.PreferenceScope) (*model.NotificationPreference, error)
	Create(ctx context.Context, pref *model.NotificationPreference) error
	UpdateEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.NotificationPreference, error)
}

// NotificationLogRepository is the append-only attempt record. Rows are
// created at dispatch start and updated once at the terminal outcome.
type NotificationLogRepository interface {
	Create(ctx context.Context, entry *model.NotificationLog) error
	UpdateOutcome(ctx context.Context, entry *model.NotificationLog) error
	List(ctx context.Context, filter model.NotificationLogFilter) ([]*model.NotificationLog, error)
	Count(ctx context.Context, filter model.NotificationLogFilter) (int, error)
}

// DeadLetterRepository holds notifications that exhausted their retry
// budget.
type DeadLetterRepository interface {
	Create(ctx context.Context, entry *model.DeadLetterEntry) error
	Get(ctx context.Context, id uuid.UUID) (*model.DeadLetterEntry, error)
	List(ctx context.Context, limit, offset int) ([]*model.DeadLetterEntry, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteOlderThan removes at most batchSize entries created before
	// cutoff, returning the number removed. Batched so the cleanup job
	// never locks the whole table against concurrent writes.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
