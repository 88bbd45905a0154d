package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/internalerr"
	"BookmarkEnricher/internal/ports"
)

// EnricherDeps wires all driven adapters into the enrichment use case.
type EnricherDeps struct {
	Documents  ports.DocumentRepository
	Bookmarks  ports.BookmarkRepository
	Generator  ports.GenerationService
	Fetcher    ports.PageFetcher
	Recognizer ports.EntityRecognizer
	Alerts     ports.AlertNotifier
	Leases     *LeaseTable
	Pool       *WorkerPool
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Enricher drives documents through the enrichment lifecycle and owns the
// bookmark intake and regeneration flows. It keeps no state of its own
// beyond the lease table; every outcome is persisted through the
// repositories.
type Enricher struct {
	documents  ports.DocumentRepository
	bookmarks  ports.BookmarkRepository
	generator  ports.GenerationService
	fetcher    ports.PageFetcher
	recognizer ports.EntityRecognizer
	alerts     ports.AlertNotifier
	leases     *LeaseTable
	pool       *WorkerPool
	logger     *slog.Logger
	clock      func() time.Time
}

// NewEnricher constructs the orchestration component.
func NewEnricher(deps EnricherDeps) *Enricher {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		documents:  deps.Documents,
		bookmarks:  deps.Bookmarks,
		generator:  deps.Generator,
		fetcher:    deps.Fetcher,
		recognizer: deps.Recognizer,
		alerts:     deps.Alerts,
		leases:     deps.Leases,
		pool:       deps.Pool,
		logger:     logger,
		clock:      clock,
	}
}

var rootURLExpr = regexp.MustCompile(`^https?://[^/]+/?$`)

// ErrRootURL rejects bookmarking a site's home page; there is no article
// to enrich there.
var ErrRootURL = errors.New("cannot bookmark a root url")

// ErrAlreadyCloned rejects regenerating a document that has been superseded
// already; the bookmark points at its clone.
var ErrAlreadyCloned = errors.New("document is already cloned")

// CreateBookmark fetches and extracts the page, dedupes document and
// bookmark, and returns the bookmark plus whether enrichment was kicked
// off. Enrichment runs as a fire-and-forget background job; the caller
// does not wait for it.
func (e *Enricher) CreateBookmark(ctx context.Context, pageURL, rawHTML, userID string) (domain.Bookmark, bool, error) {
	if userID == "" {
		return domain.Bookmark{}, false, fmt.Errorf("user id is required")
	}
	if rootURLExpr.MatchString(pageURL) {
		return domain.Bookmark{}, false, ErrRootURL
	}

	page, err := e.fetcher.Fetch(ctx, pageURL, rawHTML)
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("fetch page: %w", err)
	}

	if existing, ok, err := e.bookmarks.GetBookmarkByURLAndUser(ctx, page.CleanURL, userID); err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("lookup bookmark: %w", err)
	} else if ok {
		e.logger.Info("bookmark already exists", "url", page.CleanURL, "user", userID)
		return existing, false, nil
	}

	doc, ok, err := e.documents.GetDocumentByURL(ctx, page.CleanURL)
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("lookup document: %w", err)
	}
	if !ok {
		doc = domain.Document{
			Title:        page.Title,
			URL:          page.CleanURL,
			OriginalText: page.FullText,
			Status:       domain.StatusPending,
			UpdatedAt:    e.clock(),
		}
		if err := e.documents.CreateDocument(ctx, &doc); err != nil {
			return domain.Bookmark{}, false, fmt.Errorf("create document: %w", err)
		}
	}

	bm := domain.Bookmark{
		URL:        page.CleanURL,
		UserID:     userID,
		DocumentID: doc.ID,
		UpdatedAt:  e.clock(),
	}
	if err := e.bookmarks.CreateBookmark(ctx, &bm); err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("create bookmark: %w", err)
	}

	e.SubmitAsync(doc.ID)
	return bm, true, nil
}

// SubmitAsync enqueues an enrichment run for the document and returns
// immediately. A full queue or closed pool is logged, not surfaced; the
// reaper will pick the document up later.
func (e *Enricher) SubmitAsync(documentID int64) {
	if e.pool == nil {
		return
	}
	err := e.pool.Submit(func(ctx context.Context) error {
		return e.Submit(ctx, documentID)
	})
	if err != nil {
		e.logger.Warn("could not enqueue enrichment", "document", documentID, "error", err)
	}
}

// Submit runs one enrichment attempt to completion. Only documents in
// Pending, Done or Failure are accepted; the document moves to Processing
// immediately (persisted, so a crash leaves an observable in-flight
// status) and ends in Done, Failure or ApiFailure. Pipeline faults are
// absorbed into the terminal status; the returned error covers only
// pre-flight conditions the caller caused (unknown id, held lease,
// invalid state).
func (e *Enricher) Submit(ctx context.Context, documentID int64) error {
	doc, err := e.documents.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %d: %w", documentID, err)
	}
	if !doc.Status.CanSubmit() {
		return fmt.Errorf("document %d in status %s cannot be submitted", documentID, doc.Status)
	}

	token, err := e.leases.Acquire(documentID)
	if err != nil {
		return fmt.Errorf("document %d: %w", documentID, err)
	}
	defer e.leases.Release(documentID, token)

	doc.Status = domain.StatusProcessing
	doc.UpdatedAt = e.clock()
	if err := e.documents.UpdateDocument(ctx, &doc); err != nil {
		return fmt.Errorf("mark document %d processing: %w", documentID, err)
	}

	e.logger.Info("enrichment started", "document", documentID)

	result, genErr := e.generator.Generate(ctx, doc.OriginalText)
	if genErr != nil {
		e.fail(ctx, &doc, genErr)
		return nil
	}

	// The result lands on a working copy; a failure past this point must
	// keep the previous enrichment fields intact (only status and the
	// timestamp may move), so the original doc is what fail() persists.
	enriched := doc
	e.apply(&enriched, result)

	entities := e.collectEntities(ctx, doc, result)
	if err := e.documents.ReplaceEntities(ctx, doc.ID, entities); err != nil {
		e.fail(ctx, &doc, fmt.Errorf("replace entities: %w", err))
		return nil
	}

	enriched.Status = domain.StatusDone
	enriched.UpdatedAt = e.clock()
	if err := e.documents.UpdateDocument(ctx, &enriched); err != nil {
		return fmt.Errorf("persist document %d: %w", documentID, err)
	}

	e.logger.Info("enrichment finished", "document", documentID,
		"entities", len(entities), "bullets", len(enriched.SummaryBulletPoints))
	return nil
}

// Regenerate clones the document's immutable original text into a fresh
// Pending document, marks the old one Cloned, repoints the owning bookmark
// and records the old id in its history. The clone is enqueued for
// enrichment with a fresh retry budget.
func (e *Enricher) Regenerate(ctx context.Context, documentID int64) (domain.Document, error) {
	old, err := e.documents.GetDocument(ctx, documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document %d: %w", documentID, err)
	}
	if old.Status == domain.StatusCloned {
		return domain.Document{}, fmt.Errorf("document %d: %w", documentID, ErrAlreadyCloned)
	}

	clone := domain.Document{
		Title:        old.Title,
		URL:          old.URL,
		OriginalText: old.OriginalText,
		Status:       domain.StatusPending,
		UpdatedAt:    e.clock(),
	}
	if err := e.documents.CreateDocument(ctx, &clone); err != nil {
		return domain.Document{}, fmt.Errorf("create clone: %w", err)
	}

	old.Status = domain.StatusCloned
	old.UpdatedAt = e.clock()
	if err := e.documents.UpdateDocument(ctx, &old); err != nil {
		return domain.Document{}, fmt.Errorf("mark document %d cloned: %w", documentID, err)
	}

	if _, err := e.bookmarks.RepointBookmark(ctx, old.ID, clone.ID); err != nil {
		return domain.Document{}, fmt.Errorf("repoint bookmark: %w", err)
	}

	e.logger.Info("document regenerated", "old", old.ID, "clone", clone.ID)
	e.SubmitAsync(clone.ID)
	return clone, nil
}

// Document returns the current document plus its entity set.
func (e *Enricher) Document(ctx context.Context, id int64) (domain.Document, []domain.Entity, error) {
	doc, err := e.documents.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	entities, err := e.documents.EntitiesByDocument(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	return doc, entities, nil
}

// Bookmark returns a bookmark by id.
func (e *Enricher) Bookmark(ctx context.Context, id int64) (domain.Bookmark, error) {
	return e.bookmarks.GetBookmark(ctx, id)
}

// BookmarksByUser lists a user's bookmarks, most recently updated first.
func (e *Enricher) BookmarksByUser(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	return e.bookmarks.BookmarksByUser(ctx, userID)
}

// EntitiesByUser lists entities across all documents the user has
// bookmarked.
func (e *Enricher) EntitiesByUser(ctx context.Context, userID string) ([]domain.Entity, error) {
	return e.documents.EntitiesByUser(ctx, userID)
}

// SearchDocuments filters a user's documents by title/summary substring.
func (e *Enricher) SearchDocuments(ctx context.Context, userID, term string) ([]domain.Document, error) {
	return e.documents.SearchDocuments(ctx, userID, term)
}

// DeleteBookmark removes a bookmark together with its current document and
// that document's entities.
func (e *Enricher) DeleteBookmark(ctx context.Context, bookmarkID int64) error {
	bm, err := e.bookmarks.GetBookmark(ctx, bookmarkID)
	if err != nil {
		return fmt.Errorf("load bookmark %d: %w", bookmarkID, err)
	}
	if err := e.documents.DeleteDocument(ctx, bm.DocumentID); err != nil {
		return fmt.Errorf("delete document %d: %w", bm.DocumentID, err)
	}
	if err := e.bookmarks.DeleteBookmark(ctx, bookmarkID); err != nil {
		return fmt.Errorf("delete bookmark %d: %w", bookmarkID, err)
	}
	return nil
}

var bulletPrefixExpr = regexp.MustCompile(`^\s*\d{1,2}\.\s*`)

// apply copies the generation result onto the document, with the
// placeholder texts used when a fallback-mode result carried entities only.
func (e *Enricher) apply(doc *domain.Document, result domain.GenerationResult) {
	if result.OneSentenceSummary != "" {
		doc.ShortSummary = result.OneSentenceSummary
	} else {
		doc.ShortSummary = "No summary was generated"
	}
	doc.IsAbout = result.IsAbout

	if len(result.BulletPoints) > 0 {
		points := make([]string, 0, len(result.BulletPoints))
		for _, p := range result.BulletPoints {
			points = append(points, bulletPrefixExpr.ReplaceAllString(p, ""))
		}
		doc.SummaryBulletPoints = points
	} else {
		doc.SummaryBulletPoints = []string{"No bullet points were generated"}
	}

	if result.Usage != nil {
		doc.ServiceUsageMeta = result.Usage
	}
}

// collectEntities maps the model's records onto entity rows and merges the
// optional NER side-channel. NER errors are logged and ignored; the
// recognizer only ever adds.
func (e *Enricher) collectEntities(ctx context.Context, doc domain.Document, result domain.GenerationResult) []domain.Entity {
	entities := make([]domain.Entity, 0, len(result.Entities))
	for i, extracted := range result.Entities {
		entities = append(entities, domain.Entity{
			DocumentID:  doc.ID,
			Seq:         i,
			Name:        extracted.Name,
			Type:        extracted.Type,
			Description: extracted.Explanation,
			Source:      e.generator.ModelName(),
		})
	}

	if e.recognizer != nil {
		recognized, err := e.recognizer.Recognize(ctx, doc.OriginalText)
		if err != nil {
			e.logger.Warn("ner recognition failed", "document", doc.ID, "error", err)
		} else {
			for _, ent := range recognized {
				ent.DocumentID = doc.ID
				ent.Seq = len(entities)
				entities = append(entities, ent)
			}
		}
	}

	return entities
}

// fail translates a pipeline error into the terminal status and persists
// it. Prior successful enrichment fields stay untouched; only status and
// the timestamp move. A classified service fault additionally raises an
// operator alert.
func (e *Enricher) fail(ctx context.Context, doc *domain.Document, cause error) {
	var svcErr *internalerr.ServiceError
	if errors.As(cause, &svcErr) {
		doc.Status = domain.StatusAPIFailure
		e.logger.Error("enrichment hit a service fault", "document", doc.ID,
			"status_code", svcErr.StatusCode, "reason", svcErr.Reason)
		if e.alerts != nil {
			msg := fmt.Sprintf("document %d: generation service rejected the request (status %d): %s",
				doc.ID, svcErr.StatusCode, svcErr.Reason)
			if aerr := e.alerts.Alert(ctx, msg); aerr != nil {
				e.logger.Warn("alert delivery failed", "error", aerr)
			}
		}
	} else {
		doc.Status = domain.StatusFailure
		e.logger.Error("enrichment failed", "document", doc.ID, "error", cause)
	}

	doc.UpdatedAt = e.clock()
	if err := e.documents.UpdateDocument(ctx, doc); err != nil {
		e.logger.Error("could not persist failure status", "document", doc.ID, "error", err)
	}
}
