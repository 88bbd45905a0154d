package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/internalerr"
	"BookmarkEnricher/internal/ports"
)

// PostgresRepository persists documents, bookmarks and entities into
// Postgres. Bullet points and service usage metadata are stored as JSON
// text; the cloned-documents history is a native bigint array.
type PostgresRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.DocumentRepository = (*PostgresRepository)(nil)
	_ ports.BookmarkRepository = (*PostgresRepository)(nil)
)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var documentColumns = []string{
	"id", "title", "url", "original_text", "short_summary", "is_about",
	"summary_bullet_points", "status", "llm_service_meta", "updated_at",
}

// CreateDocument inserts the document and fills in its generated id.
func (r *PostgresRepository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	bullets, meta, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	query, args, err := r.sb.
		Insert("document").
		Columns("title", "url", "original_text", "short_summary", "is_about",
			"summary_bullet_points", "status", "llm_service_meta", "updated_at").
		Values(doc.Title, doc.URL, doc.OriginalText, doc.ShortSummary, doc.IsAbout,
			bullets, string(doc.Status), meta, doc.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert document: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&doc.ID); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument loads a document by id.
func (r *PostgresRepository) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	query, args, err := r.sb.
		Select(documentColumns...).
		From("document").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Document{}, fmt.Errorf("build select document: %w", err)
	}

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// GetDocumentByURL loads the most recent non-cloned document for a clean URL.
func (r *PostgresRepository) GetDocumentByURL(ctx context.Context, url string) (domain.Document, bool, error) {
	query, args, err := r.sb.
		Select(documentColumns...).
		From("document").
		Where(sq.Eq{"url": url}).
		Where(sq.NotEq{"status": string(domain.StatusCloned)}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("build select document by url: %w", err)
	}

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("select document by url: %w", err)
	}
	return doc, true, nil
}

// UpdateDocument overwrites the mutable document fields.
func (r *PostgresRepository) UpdateDocument(ctx context.Context, doc *domain.Document) error {
	bullets, meta, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	query, args, err := r.sb.
		Update("document").
		Set("title", doc.Title).
		Set("short_summary", doc.ShortSummary).
		Set("is_about", doc.IsAbout).
		Set("summary_bullet_points", bullets).
		Set("status", string(doc.Status)).
		Set("llm_service_meta", meta).
		Set("updated_at", doc.UpdatedAt).
		Where(sq.Eq{"id": doc.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update document: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %d: %w", doc.ID, internalerr.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes the document; its entities go with it via the
// foreign key cascade.
func (r *PostgresRepository) DeleteDocument(ctx context.Context, id int64) error {
	query, args, err := r.sb.Delete("document").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete document: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// ReplaceEntities swaps the document's entity set inside one transaction.
func (r *PostgresRepository) ReplaceEntities(ctx context.Context, documentID int64, entities []domain.Entity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace entities: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delQuery, delArgs, err := r.sb.Delete("entity").Where(sq.Eq{"document_id": documentID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete entities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}

	if len(entities) > 0 {
		builder := r.sb.
			Insert("entity").
			Columns("document_id", "seq", "name", "type", "description", "source", "wikidata_id", "score")
		for _, ent := range entities {
			builder = builder.Values(documentID, ent.Seq, ent.Name, ent.Type,
				ent.Description, ent.Source, ent.WikidataID, ent.Score)
		}
		insQuery, insArgs, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("build insert entities: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insQuery, insArgs...); err != nil {
			return fmt.Errorf("insert entities: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace entities: %w", err)
	}
	return nil
}

var entityColumns = []string{
	"id", "document_id", "seq", "name", "type", "description", "source", "wikidata_id", "score",
}

// EntitiesByDocument lists a document's entities in model output order.
func (r *PostgresRepository) EntitiesByDocument(ctx context.Context, documentID int64) ([]domain.Entity, error) {
	query, args, err := r.sb.
		Select(entityColumns...).
		From("entity").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select entities: %w", err)
	}
	return r.queryEntities(ctx, query, args)
}

// EntitiesByUser lists entities across all documents currently bookmarked
// by the user.
func (r *PostgresRepository) EntitiesByUser(ctx context.Context, userID string) ([]domain.Entity, error) {
	query, args, err := r.sb.
		Select(
			"e.id", "e.document_id", "e.seq", "e.name", "e.type",
			"e.description", "e.source", "e.wikidata_id", "e.score",
		).
		From("entity e").
		Join("bookmark b ON b.document_id = e.document_id").
		Where(sq.Eq{"b.user_id": userID}).
		OrderBy("e.document_id", "e.seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user entities: %w", err)
	}
	return r.queryEntities(ctx, query, args)
}

func (r *PostgresRepository) queryEntities(ctx context.Context, query string, args []any) ([]domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []domain.Entity
	for rows.Next() {
		var ent domain.Entity
		if err := rows.Scan(&ent.ID, &ent.DocumentID, &ent.Seq, &ent.Name, &ent.Type,
			&ent.Description, &ent.Source, &ent.WikidataID, &ent.Score); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entities, nil
}

// SearchDocuments filters the user's bookmarked documents by a title or
// summary substring. An empty term returns all of them.
func (r *PostgresRepository) SearchDocuments(ctx context.Context, userID, term string) ([]domain.Document, error) {
	builder := r.sb.
		Select(
			"d.id", "d.title", "d.url", "d.original_text", "d.short_summary", "d.is_about",
			"d.summary_bullet_points", "d.status", "d.llm_service_meta", "d.updated_at",
		).
		From("document d").
		Join("bookmark b ON b.document_id = d.id").
		Where(sq.Eq{"b.user_id": userID}).
		OrderBy("d.updated_at DESC")
	if term != "" {
		pattern := "%" + term + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"d.title": pattern},
			sq.ILike{"d.short_summary": pattern},
		})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search documents: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return docs, nil
}

// RequeueStale flips documents stuck in Processing since before cutoff back
// to Pending and returns their ids.
func (r *PostgresRepository) RequeueStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `UPDATE document
              SET status = $1, updated_at = NOW()
              WHERE status = $2 AND updated_at < $3
              RETURNING id`

	rows, err := r.db.QueryContext(ctx, query,
		string(domain.StatusPending), string(domain.StatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("requeue stale: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan requeued id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return ids, nil
}

var bookmarkColumns = []string{
	"id", "url", "user_id", "document_id", "cloned_documents", "updated_at",
}

// CreateBookmark inserts the bookmark and fills in its generated id.
func (r *PostgresRepository) CreateBookmark(ctx context.Context, bm *domain.Bookmark) error {
	cloned := bm.ClonedDocuments
	if cloned == nil {
		cloned = []int64{}
	}
	query, args, err := r.sb.
		Insert("bookmark").
		Columns("url", "user_id", "document_id", "cloned_documents", "updated_at").
		Values(bm.URL, bm.UserID, bm.DocumentID, pq.Int64Array(cloned), bm.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert bookmark: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&bm.ID); err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

// GetBookmark loads a bookmark by id.
func (r *PostgresRepository) GetBookmark(ctx context.Context, id int64) (domain.Bookmark, error) {
	query, args, err := r.sb.
		Select(bookmarkColumns...).
		From("bookmark").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("build select bookmark: %w", err)
	}

	bm, err := scanBookmark(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bookmark{}, fmt.Errorf("bookmark %d: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("select bookmark: %w", err)
	}
	return bm, nil
}

// GetBookmarkByURLAndUser looks up the user's bookmark for a clean URL.
func (r *PostgresRepository) GetBookmarkByURLAndUser(ctx context.Context, url, userID string) (domain.Bookmark, bool, error) {
	query, args, err := r.sb.
		Select(bookmarkColumns...).
		From("bookmark").
		Where(sq.Eq{"url": url, "user_id": userID}).
		ToSql()
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("build select bookmark by url: %w", err)
	}

	bm, err := scanBookmark(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bookmark{}, false, nil
	}
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("select bookmark by url: %w", err)
	}
	return bm, true, nil
}

// GetBookmarkByDocument looks up the bookmark currently pointing at the
// document.
func (r *PostgresRepository) GetBookmarkByDocument(ctx context.Context, documentID int64) (domain.Bookmark, bool, error) {
	query, args, err := r.sb.
		Select(bookmarkColumns...).
		From("bookmark").
		Where(sq.Eq{"document_id": documentID}).
		ToSql()
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("build select bookmark by document: %w", err)
	}

	bm, err := scanBookmark(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bookmark{}, false, nil
	}
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("select bookmark by document: %w", err)
	}
	return bm, true, nil
}

// BookmarksByUser lists a user's bookmarks, most recently updated first.
func (r *PostgresRepository) BookmarksByUser(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	query, args, err := r.sb.
		Select(bookmarkColumns...).
		From("bookmark").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select bookmarks: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bookmarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bookmarks []domain.Bookmark
	for rows.Next() {
		bm, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, bm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return bookmarks, nil
}

// DeleteBookmark removes the bookmark row.
func (r *PostgresRepository) DeleteBookmark(ctx context.Context, id int64) error {
	query, args, err := r.sb.Delete("bookmark").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete bookmark: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	return nil
}

// RepointBookmark moves the bookmark from the old document to its clone and
// appends the old id to the cloned-documents history.
func (r *PostgresRepository) RepointBookmark(ctx context.Context, oldDocumentID, newDocumentID int64) (domain.Bookmark, error) {
	query := `UPDATE bookmark
              SET document_id = $1,
                  cloned_documents = array_append(cloned_documents, $2),
                  updated_at = NOW()
              WHERE document_id = $2
              RETURNING id, url, user_id, document_id, cloned_documents, updated_at`

	bm, err := scanBookmark(r.db.QueryRowContext(ctx, query, newDocumentID, oldDocumentID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bookmark{}, fmt.Errorf("bookmark for document %d: %w", oldDocumentID, internalerr.ErrNotFound)
	}
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("repoint bookmark: %w", err)
	}
	return bm, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc     domain.Document
		status  string
		bullets string
		meta    sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.URL, &doc.OriginalText,
		&doc.ShortSummary, &doc.IsAbout, &bullets, &status, &meta, &doc.UpdatedAt); err != nil {
		return domain.Document{}, err
	}

	doc.Status = domain.Status(status)
	if bullets != "" {
		if err := json.Unmarshal([]byte(bullets), &doc.SummaryBulletPoints); err != nil {
			return domain.Document{}, fmt.Errorf("decode bullet points: %w", err)
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &doc.ServiceUsageMeta); err != nil {
			return domain.Document{}, fmt.Errorf("decode usage meta: %w", err)
		}
	}
	return doc, nil
}

func scanBookmark(row rowScanner) (domain.Bookmark, error) {
	var (
		bm     domain.Bookmark
		cloned pq.Int64Array
	)
	if err := row.Scan(&bm.ID, &bm.URL, &bm.UserID, &bm.DocumentID, &cloned, &bm.UpdatedAt); err != nil {
		return domain.Bookmark{}, err
	}
	bm.ClonedDocuments = []int64(cloned)
	return bm, nil
}

func encodeDocumentJSON(doc *domain.Document) (bullets string, meta sql.NullString, err error) {
	points := doc.SummaryBulletPoints
	if points == nil {
		points = []string{}
	}
	raw, err := json.Marshal(points)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode bullet points: %w", err)
	}
	bullets = string(raw)

	if doc.ServiceUsageMeta != nil {
		rawMeta, err := json.Marshal(doc.ServiceUsageMeta)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode usage meta: %w", err)
		}
		meta = sql.NullString{String: string(rawMeta), Valid: true}
	}
	return bullets, meta, nil
}
