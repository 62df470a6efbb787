package preference

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository"
	"github.com/edusphere/notify-api/pkg/logger"
)

// Service answers the delivery gate question and manages opt-in/opt-out
// rows. Resolution is two-tier: a profile-scoped row wins over the
// user-level row, and no row at all means enabled.
type Service struct {
	repo   repository.PreferenceRepository
	logger *logger.Logger
}

func NewService(repo repository.PreferenceRepository, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log,
	}
}

// IsEnabled resolves whether a notification may be delivered. When
// scope names a profile, the profile row is consulted first and the
// user-level row only when no profile row exists.
func (s *Service) IsEnabled(ctx context.Context, userID uuid.UUID, channel model.Channel, group string, scope model.PreferenceScope) (bool, error) {
	if scope.IsProfile() {
		pref, err := s.repo.Get(ctx, userID, channel, group, scope)
		if err != nil {
			return false, fmt.Errorf("failed to resolve profile preference: %w", err)
		}
		if pref != nil {
			return pref.Enabled, nil
		}
	}

	pref, err := s.repo.Get(ctx, userID, channel, group, model.UserScope())
	if err != nil {
		return false, fmt.Errorf("failed to resolve user preference: %w", err)
	}
	if pref != nil {
		return pref.Enabled, nil
	}

	// No row stored: the channel is opt-out, so default enabled.
	return true, nil
}

// Update upserts a single preference row for the exact scope.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, channel model.Channel, group string, scope model.PreferenceScope, enabled bool) error {
	existing, err := s.repo.Get(ctx, userID, channel, group, scope)
	if err != nil {
		return fmt.Errorf("failed to look up preference: %w", err)
	}
	if existing != nil {
		if existing.Enabled == enabled {
			return nil
		}
		return s.repo.UpdateEnabled(ctx, existing.ID, enabled)
	}

	return s.repo.Create(ctx, &model.NotificationPreference{
		UserID:      userID,
		Channel:     channel,
		Group:       group,
		ProfileType: scope.ProfileType,
		ProfileID:   scope.ProfileID,
		Enabled:     enabled,
	})
}

// EnableAll opts the user back into every channel for the given groups.
func (s *Service) EnableAll(ctx context.Context, userID uuid.UUID, groups []string, scope model.PreferenceScope) error {
	return s.setAll(ctx, userID, groups, scope, true)
}

// DisableAll opts the user out of every channel for the given groups.
func (s *Service) DisableAll(ctx context.Context, userID uuid.UUID, groups []string, scope model.PreferenceScope) error {
	return s.setAll(ctx, userID, groups, scope, false)
}

// DisableGroup opts the user out of a whole notification group across
// all channels.
func (s *Service) DisableGroup(ctx context.Context, userID uuid.UUID, group string, scope model.PreferenceScope) error {
	return s.setAll(ctx, userID, []string{group}, scope, false)
}

func (s *Service) setAll(ctx context.Context, userID uuid.UUID, groups []string, scope model.PreferenceScope, enabled bool) error {
	for _, group := range groups {
		for _, channel := range model.AllChannels {
			if err := s.Update(ctx, userID, channel, group, scope, enabled); err != nil {
				return fmt.Errorf("failed to set %s/%s: %w", group, channel, err)
			}
		}
	}
	return nil
}

// List returns every stored preference row for a user.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*model.NotificationPreference, error) {
	return s.repo.ListByUser(ctx, userID)
}
