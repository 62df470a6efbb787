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

type preferenceRepository struct {
	BaseRepository
}

func NewPreferenceRepository(base BaseRepository) repository.PreferenceRepository {
	return &preferenceRepository{base}
}

func (r *preferenceRepository) Get(ctx context.Context, userID uuid.UUID, channel model.Channel, group string, scope model.PreferenceScope) (*model.NotificationPreference, error) {
	// IS NOT DISTINCT FROM matches NULL scope columns for the
	// user-level default row.
	query := `
		SELECT id, user_id, channel, pref_group, profile_type, profile_id, enabled, created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
		AND channel = $2
		AND pref_group = $3
		AND profile_type IS NOT DISTINCT FROM $4
		AND profile_id IS NOT DISTINCT FROM $5
	`

	var pref model.NotificationPreference
	err := r.db.GetContext(ctx, &pref, query, userID, channel, group, scope.ProfileType, scope.ProfileID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return &pref, nil
}

func (r *preferenceRepository) Create(ctx context.Context, pref *model.NotificationPreference) error {
	query := `
		INSERT INTO notification_preferences (
			id, user_id, channel, pref_group, profile_type, profile_id, enabled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`
	now := time.Now()
	if pref.ID == uuid.Nil {
		pref.ID = uuid.New()
	}
	pref.CreatedAt = now
	pref.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		pref.ID,
		pref.UserID,
		pref.Channel,
		pref.Group,
		pref.ProfileType,
		pref.ProfileID,
		pref.Enabled,
		pref.CreatedAt,
		pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create preference: %w", err)
	}
	return nil
}

func (r *preferenceRepository) UpdateEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE notification_preferences
		SET enabled = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, enabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update preference: %w", err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("preference %s not found", id)
	}
	return nil
}

func (r *preferenceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.NotificationPreference, error) {
	query := `
		SELECT id, user_id, channel, pref_group, profile_type, profile_id, enabled, created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
		ORDER BY pref_group, channel
	`

	var prefs []*model.NotificationPreference
	if err := r.db.SelectContext(ctx, &prefs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return prefs, nil
}
