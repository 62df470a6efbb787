// Package deadletter exposes the dead-letter queue for inspection and
// manual reprocessing.
package deadletter

import (
	"context"

	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

// Redeliverer re-runs a dead-lettered payload with a fresh attempt
// budget.
type Redeliverer interface {
	Redeliver(ctx context.Context, entry *model.DeadLetterEntry) error
}

type Service struct {
	repo     repository.DeadLetterRepository
	pipeline Redeliverer
	logger   *logger.Logger
}

func NewService(repo repository.DeadLetterRepository, pipeline Redeliverer, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		pipeline: pipeline,
		logger:   log,
	}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.DeadLetterEntry, int, error) {
	entries, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.DeadLetterEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.NotFound("dead letter", nil)
	}
	return entry, nil
}

// Reprocess re-enters the delivery pipeline for one entry. The source
// entry is removed either way: on success the notification is through,
// on failure the pipeline has already written a fresh entry linked back
// to this one, which becomes the live record.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	redeliverErr := s.pipeline.Redeliver(ctx, entry)

	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error(err, "failed to delete reprocessed dead letter", "id", id.String())
	}

	if redeliverErr != nil {
		s.logger.ZL.Warn().
			Str("id", id.String()).
			Str("channel", entry.Channel.String()).
			Err(redeliverErr).
			Msg("dead letter reprocessing failed")
		return redeliverErr
	}

	s.logger.ZL.Info().
		Str("id", id.String()).
		Str("channel", entry.Channel.String()).
		Str("correlation_id", entry.CorrelationID).
		Msg("dead letter reprocessed")
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
