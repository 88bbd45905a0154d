package usecase

import (
	"context"
	"log/slog"
	"time"

	"BookmarkEnricher/internal/ports"
)

// Reaper periodically sweeps documents stuck in Processing — left behind by
// a crashed worker or a lost lease holder — back to Pending and resubmits
// them for enrichment.
type Reaper struct {
	documents  ports.DocumentRepository
	scheduler  ports.Scheduler
	enricher   *Enricher
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewReaper constructs the sweep job. staleAfter bounds how long a document
// may sit in Processing before it is considered abandoned; it must exceed
// the lease TTL or a live holder could be requeued underneath.
func NewReaper(documents ports.DocumentRepository, scheduler ports.Scheduler, enricher *Enricher, staleAfter time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		documents:  documents,
		scheduler:  scheduler,
		enricher:   enricher,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start attaches the sweep to the scheduler.
func (r *Reaper) Start(ctx context.Context) error {
	return r.scheduler.Start(ctx, func(now time.Time) {
		r.sweep(ctx, now)
	})
}

// Stop detaches the sweep from the scheduler.
func (r *Reaper) Stop(ctx context.Context) error {
	return r.scheduler.Stop(ctx)
}

func (r *Reaper) sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-r.staleAfter)
	ids, err := r.documents.RequeueStale(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale sweep failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	r.logger.Info("requeued stale documents", "count", len(ids))
	for _, id := range ids {
		r.enricher.SubmitAsync(id)
	}
}
