package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository"
)

type deadLetterRepository struct {
	BaseRepository
}

func NewDeadLetterRepository(base BaseRepository) repository.DeadLetterRepository {
	return &deadLetterRepository{base}
}

func (r *deadLetterRepository) Create(ctx context.Context, entry *model.DeadLetterEntry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if entry.Payload == nil {
		return fmt.Errorf("entry payload cannot be nil")
	}

	query := `
		INSERT INTO dead_letters (
			id, user_id, channel, type, recipient, correlation_id, payload,
			reason, attempts, failure_history, first_failed_at, last_attempt_at,
			reprocessed_from, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Channel,
		entry.Type,
		entry.Recipient,
		entry.CorrelationID,
		entry.Payload,
		entry.Reason,
		entry.Attempts,
		entry.FailureHistory,
		entry.FirstFailedAt,
		entry.LastAttemptAt,
		entry.ReprocessedFrom,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}
	return nil
}

func (r *deadLetterRepository) Get(ctx context.Context, id uuid.UUID) (*model.DeadLetterEntry, error) {
	query := `
		SELECT id, user_id, channel, type, recipient, correlation_id, payload,
			reason, attempts, failure_history, first_failed_at, last_attempt_at,
			reprocessed_from, created_at
		FROM dead_letters
		WHERE id = $1
	`

	var entry model.DeadLetterEntry
	err := r.db.GetContext(ctx, &entry, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return &entry, nil
}

func (r *deadLetterRepository) List(ctx context.Context, limit, offset int) ([]*model.DeadLetterEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, user_id, channel, type, recipient, correlation_id, payload,
			reason, attempts, failure_history, first_failed_at, last_attempt_at,
			reprocessed_from, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	var entries []*model.DeadLetterEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}

func (r *deadLetterRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM dead_letters"); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

func (r *deadLetterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

// DeleteOlderThan purges one batch of stale entries. SKIP LOCKED keeps
// the cleanup job from contending with reprocessing or new writes.
func (r *deadLetterRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	query := `
		DELETE FROM dead_letters
		WHERE id IN (
			SELECT id FROM dead_letters
			WHERE created_at < $1
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
	`
	result, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	return result.RowsAffected()
}
