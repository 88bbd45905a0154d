package usecase

import (
	"context"
	"testing"
	"time"

	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/pkg/logger"
)

func TestReaperSweepRequeuesAndResubmits(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gen := &fakeGenerator{result: goodResult()}

	pool := NewWorkerPool(1, 8, logger.New("test"))
	pool.Start(t.Context())

	e := newTestEnricher(store, gen, func(d *EnricherDeps) { d.Pool = pool })
	r := NewReaper(store, nil, e, 15*time.Minute, testLogger())

	staleID := seedDocument(store, domain.StatusProcessing)
	stale, _ := store.GetDocument(t.Context(), staleID)
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	_ = store.UpdateDocument(t.Context(), &stale)

	freshID := seedDocument(store, domain.StatusProcessing)
	fresh, _ := store.GetDocument(t.Context(), freshID)
	fresh.UpdatedAt = time.Now()
	_ = store.UpdateDocument(t.Context(), &fresh)

	r.sweep(t.Context(), time.Now())
	pool.Close()

	doc, _ := store.GetDocument(context.Background(), staleID)
	if doc.Status != domain.StatusDone {
		t.Fatalf("stale document should be requeued and enriched, got %s", doc.Status)
	}
	untouched, _ := store.GetDocument(context.Background(), freshID)
	if untouched.Status != domain.StatusProcessing {
		t.Fatalf("fresh in-flight document must not be touched, got %s", untouched.Status)
	}
}
