package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/edusphere/notify-api/internal/repository"
	"github.com/edusphere/notify-api/pkg/logger"
	"github.com/edusphere/notify-api/pkg/metrics"
)

// DLQCleanupWorker purges dead-letter entries past the retention window.
// Deletes run in batches so a large backlog never holds long locks.
type DLQCleanupWorker struct {
	repo          repository.DeadLetterRepository
	retentionDays int
	batchSize     int
	metrics       *metrics.Metrics
	logger        *logger.Logger
}

func NewDLQCleanupWorker(repo repository.DeadLetterRepository, retentionDays, batchSize int, m *metrics.Metrics, log *logger.Logger) *DLQCleanupWorker {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &DLQCleanupWorker{
		repo:          repo,
		retentionDays: retentionDays,
		batchSize:     batchSize,
		metrics:       m,
		logger:        log,
	}
}

// Run performs one full cleanup pass, deleting batch by batch until no
// stale entries remain. Scheduled via cron from the worker binary.
func (w *DLQCleanupWorker) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	var total int64
	for {
		removed, err := w.repo.DeleteOlderThan(ctx, cutoff, w.batchSize)
		if err != nil {
			return fmt.Errorf("failed to purge dead letters: %w", err)
		}
		total += removed
		w.metrics.DLQPurged.Add(float64(removed))
		if removed < int64(w.batchSize) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if count, err := w.repo.Count(ctx); err == nil {
		w.metrics.DLQSize.Set(float64(count))
	}

	w.logger.ZL.Info().
		Int64("purged", total).
		Time("cutoff", cutoff).
		Msg("dead letter cleanup pass completed")
	return nil
}
