package domain

import "time"

// Status tracks a document through the enrichment lifecycle.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusDone       Status = "Done"
	StatusFailure    Status = "Failure"
	StatusAPIFailure Status = "ApiFailure"
	StatusCloned     Status = "Cloned"
)

// CanSubmit reports whether a document in this status may be (re-)submitted
// for enrichment. Processing, ApiFailure and Cloned documents are refused;
// ApiFailure is remediated through Regenerate, Cloned is terminal.
func (s Status) CanSubmit() bool {
	switch s {
	case StatusPending, StatusDone, StatusFailure:
		return true
	default:
		return false
	}
}

// Document is the enrichment target. OriginalText is immutable after
// creation; the summary fields are replaced wholesale on every successful
// enrichment.
type Document struct {
	ID                  int64
	Title               string
	URL                 string
	OriginalText        string
	ShortSummary        string
	IsAbout             string
	SummaryBulletPoints []string
	Status              Status
	ServiceUsageMeta    map[string]any
	UpdatedAt           time.Time
}

// Entity is a named entity or concept extracted from a document. Entities
// belong to exactly one document and are replaced as a set when the document
// is re-enriched. Seq preserves model output order within a document.
type Entity struct {
	ID          int64
	DocumentID  int64
	Seq         int
	Name        string
	Type        string
	Description string
	Source      string
	WikidataID  string
	Score       *float64
}

// Bookmark ties a user to the current document for a URL. ClonedDocuments
// records the ids of superseded documents, oldest first.
type Bookmark struct {
	ID              int64
	URL             string
	UserID          string
	DocumentID      int64
	ClonedDocuments []int64
	UpdatedAt       time.Time
}

// Page is the extraction result handed over by the page fetcher.
type Page struct {
	CleanURL string
	Title    string
	Author   string
	FullText string
}
