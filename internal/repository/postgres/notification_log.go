package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository"
)

type notificationLogRepository struct {
	BaseRepository
}

func NewNotificationLogRepository(base BaseRepository) repository.NotificationLogRepository {
	return &notificationLogRepository{base}
}

func (r *notificationLogRepository) Create(ctx context.Context, entry *model.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			id, user_id, channel, type, recipient, status, attempt_count,
			latency_ms, correlation_id, template, content, last_error, sent_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`
	now := time.Now()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Channel,
		entry.Type,
		entry.Recipient,
		entry.Status,
		entry.AttemptCount,
		entry.LatencyMS,
		entry.CorrelationID,
		entry.Template,
		entry.Content,
		entry.LastError,
		entry.SentAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	return nil
}

// UpdateOutcome writes the terminal state of an attempt sequence. Rows
// already in a terminal status are left untouched.
func (r *notificationLogRepository) UpdateOutcome(ctx context.Context, entry *model.NotificationLog) error {
	query := `
		UPDATE notification_logs
		SET status = $1, attempt_count = $2, latency_ms = $3,
			last_error = $4, sent_at = $5, updated_at = $6
		WHERE id = $7
		AND status IN ('pending', 'retrying')
	`
	entry.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		entry.Status,
		entry.AttemptCount,
		entry.LatencyMS,
		entry.LastError,
		entry.SentAt,
		entry.UpdatedAt,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification log: %w", err)
	}
	return nil
}

func buildLogFilter(filter model.NotificationLogFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Channel != nil {
		add("channel = $%d", *filter.Channel)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *notificationLogRepository) List(ctx context.Context, filter model.NotificationLogFilter) ([]*model.NotificationLog, error) {
	where, args := buildLogFilter(filter)

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT id, user_id, channel, type, recipient, status, attempt_count,
			latency_ms, correlation_id, template, content, last_error, sent_at,
			created_at, updated_at
		FROM notification_logs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, limitPos, offsetPos)

	var entries []*model.NotificationLog
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return entries, nil
}

func (r *notificationLogRepository) Count(ctx context.Context, filter model.NotificationLogFilter) (int, error) {
	where, args := buildLogFilter(filter)

	var count int
	query := "SELECT COUNT(*) FROM notification_logs" + where
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count notification logs: %w", err)
	}
	return count, nil
}
