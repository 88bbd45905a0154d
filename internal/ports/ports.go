package ports

import (
	"context"
	"time"

	"BookmarkEnricher/internal/domain"
)

// DocumentRepository persists documents and their extracted entities.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id int64) (domain.Document, error)
	GetDocumentByURL(ctx context.Context, url string) (domain.Document, bool, error)
	UpdateDocument(ctx context.Context, doc *domain.Document) error
	DeleteDocument(ctx context.Context, id int64) error

	// ReplaceEntities swaps the whole entity set of a document in one
	// transaction. Old rows of superseded documents are left untouched.
	ReplaceEntities(ctx context.Context, documentID int64, entities []domain.Entity) error
	EntitiesByDocument(ctx context.Context, documentID int64) ([]domain.Entity, error)
	EntitiesByUser(ctx context.Context, userID string) ([]domain.Entity, error)

	// SearchDocuments filters a user's documents by title/summary substring.
	// An empty term returns all of them.
	SearchDocuments(ctx context.Context, userID, term string) ([]domain.Document, error)

	// RequeueStale flips documents stuck in Processing since before cutoff
	// back to Pending and returns their ids.
	RequeueStale(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// BookmarkRepository persists bookmarks and their document associations.
type BookmarkRepository interface {
	CreateBookmark(ctx context.Context, bm *domain.Bookmark) error
	GetBookmark(ctx context.Context, id int64) (domain.Bookmark, error)
	GetBookmarkByURLAndUser(ctx context.Context, url, userID string) (domain.Bookmark, bool, error)
	GetBookmarkByDocument(ctx context.Context, documentID int64) (domain.Bookmark, bool, error)
	BookmarksByUser(ctx context.Context, userID string) ([]domain.Bookmark, error)
	DeleteBookmark(ctx context.Context, id int64) error

	// RepointBookmark moves the bookmark from the old document to its clone
	// and appends the old id to the cloned-documents history.
	RepointBookmark(ctx context.Context, oldDocumentID, newDocumentID int64) (domain.Bookmark, error)
}

// GenerationService turns document text into a structured enrichment result.
// Implementations hold no document identity; retry, truncation and schema
// validation happen behind this boundary.
type GenerationService interface {
	Generate(ctx context.Context, bodyText string) (domain.GenerationResult, error)
	ModelName() string
}

// PageFetcher resolves a URL (or caller-supplied HTML) into extracted text.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL, rawHTML string) (domain.Page, error)
}

// EntityRecognizer is an optional NER side-channel enriching the entity set.
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) ([]domain.Entity, error)
}

// AlertNotifier pushes operator alerts for classified service faults.
type AlertNotifier interface {
	Alert(ctx context.Context, message string) error
}

// Scheduler controls when recurring maintenance jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
