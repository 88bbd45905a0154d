package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/internalerr"
	"BookmarkEnricher/internal/usecase"
)

// Server exposes the enrichment use case over a small JSON HTTP API.
type Server struct {
	enricher *usecase.Enricher
	logger   *slog.Logger
	http     *http.Server
}

// NewServer builds the server with its routes registered.
func NewServer(addr string, enricher *usecase.Enricher, logger *slog.Logger) *Server {
	s := &Server{enricher: enricher, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("POST /bookmarks", s.handleCreateBookmark)
	mux.HandleFunc("GET /bookmarks", s.handleListBookmarks)
	mux.HandleFunc("DELETE /bookmarks/{id}", s.handleDeleteBookmark)
	mux.HandleFunc("GET /documents", s.handleSearchDocuments)
	mux.HandleFunc("GET /entities", s.handleListEntities)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("POST /documents/{id}/regenerate", s.handleRegenerate)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type createBookmarkRequest struct {
	URL    string `json:"url"`
	HTML   string `json:"html"`
	UserID string `json:"user_id"`
}

type bookmarkResponse struct {
	ID              int64   `json:"id"`
	URL             string  `json:"url"`
	UserID          string  `json:"user_id"`
	DocumentID      int64   `json:"document_id"`
	ClonedDocuments []int64 `json:"cloned_documents"`
	UpdatedAt       string  `json:"updated_at"`
}

func (s *Server) handleCreateBookmark(w http.ResponseWriter, r *http.Request) {
	var req createBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	bm, created, err := s.enricher.CreateBookmark(r.Context(), req.URL, req.HTML, req.UserID)
	if errors.Is(err, usecase.ErrRootURL) {
		s.writeError(w, http.StatusBadRequest, "root urls cannot be bookmarked")
		return
	}
	if err != nil {
		s.logger.Error("create bookmark failed", "url", req.URL, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not create bookmark")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, toBookmarkResponse(bm))
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	bookmarks, err := s.enricher.BookmarksByUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("list bookmarks failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not list bookmarks")
		return
	}

	out := make([]bookmarkResponse, 0, len(bookmarks))
	for _, bm := range bookmarks {
		out = append(out, toBookmarkResponse(bm))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	err := s.enricher.DeleteBookmark(r.Context(), id)
	if errors.Is(err, internalerr.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}
	if err != nil {
		s.logger.Error("delete bookmark failed", "bookmark", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not delete bookmark")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entityResponse struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source"`
	WikidataID  string   `json:"wikidata_id,omitempty"`
	Score       *float64 `json:"score,omitempty"`
}

type documentResponse struct {
	ID                  int64            `json:"id"`
	Title               string           `json:"title"`
	URL                 string           `json:"url"`
	ShortSummary        string           `json:"short_summary,omitempty"`
	IsAbout             string           `json:"is_about,omitempty"`
	SummaryBulletPoints []string         `json:"summary_bullet_points,omitempty"`
	Status              string           `json:"status"`
	Entities            []entityResponse `json:"entities,omitempty"`
	UpdatedAt           string           `json:"updated_at"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	doc, entities, err := s.enricher.Document(r.Context(), id)
	if errors.Is(err, internalerr.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("get document failed", "document", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not load document")
		return
	}

	s.writeJSON(w, http.StatusOK, toDocumentResponse(doc, entities))
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	term := r.URL.Query().Get("q")

	docs, err := s.enricher.SearchDocuments(r.Context(), userID, term)
	if err != nil {
		s.logger.Error("search documents failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not search documents")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDocumentResponse(doc, nil))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	entities, err := s.enricher.EntitiesByUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("list entities failed", "user", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not list entities")
		return
	}

	out := make([]entityResponse, 0, len(entities))
	for _, ent := range entities {
		out = append(out, entityResponse{
			Name:        ent.Name,
			Type:        ent.Type,
			Description: ent.Description,
			Source:      ent.Source,
			WikidataID:  ent.WikidataID,
			Score:       ent.Score,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	clone, err := s.enricher.Regenerate(r.Context(), id)
	if errors.Is(err, internalerr.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if errors.Is(err, usecase.ErrAlreadyCloned) {
		s.writeError(w, http.StatusConflict, "document is already cloned")
		return
	}
	if err != nil {
		s.logger.Error("regenerate failed", "document", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not regenerate document")
		return
	}

	s.writeJSON(w, http.StatusAccepted, toDocumentResponse(clone, nil))
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func toBookmarkResponse(bm domain.Bookmark) bookmarkResponse {
	cloned := bm.ClonedDocuments
	if cloned == nil {
		cloned = []int64{}
	}
	return bookmarkResponse{
		ID:              bm.ID,
		URL:             bm.URL,
		UserID:          bm.UserID,
		DocumentID:      bm.DocumentID,
		ClonedDocuments: cloned,
		UpdatedAt:       bm.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toDocumentResponse(doc domain.Document, entities []domain.Entity) documentResponse {
	resp := documentResponse{
		ID:                  doc.ID,
		Title:               doc.Title,
		URL:                 doc.URL,
		ShortSummary:        doc.ShortSummary,
		IsAbout:             doc.IsAbout,
		SummaryBulletPoints: doc.SummaryBulletPoints,
		Status:              string(doc.Status),
		UpdatedAt:           doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, ent := range entities {
		resp.Entities = append(resp.Entities, entityResponse{
			Name:        ent.Name,
			Type:        ent.Type,
			Description: ent.Description,
			Source:      ent.Source,
			WikidataID:  ent.WikidataID,
			Score:       ent.Score,
		})
	}
	return resp
}
