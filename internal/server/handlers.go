package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/corpus"
	"github.com/hyperjump/setsumei/internal/indexer"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type corpusLoadRequest struct {
	Documents []models.IngestRecord `json:"documents,omitempty"`
	// Refresh re-embeds and rebuilds the index after loading; defaults to true.
	Refresh *bool `json:"refresh,omitempty"`
}

type corpusLoadResponse struct {
	Load    *corpus.LoadStats     `json:"load"`
	Refresh *indexer.RefreshStats `json:"refresh,omitempty"`
}

func (s *Server) handleCorpusLoad(w http.ResponseWriter, r *http.Request) {
	var req corpusLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	ctx := r.Context()
	var (
		stats *corpus.LoadStats
		err   error
	)
	if len(req.Documents) > 0 {
		stats, err = s.loader.Ingest(ctx, req.Documents)
	} else {
		stats, err = s.loader.Load(ctx)
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	resp := corpusLoadResponse{Load: stats}
	if req.Refresh == nil || *req.Refresh {
		refresh, err := s.indexer.Sync(ctx)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		resp.Refresh = refresh
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndexRefresh(w http.ResponseWriter, r *http.Request) {
	stats, err := s.indexer.Sync(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel := models.CorpusSelector{Prefix: q.Get("prefix"), Match: q.Get("match")}
	var err error
	if sel.Offset, err = intParam(q, "offset"); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if sel.Limit, err = intParam(q, "limit"); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	docs, err := s.docs.List(r.Context(), sel)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || id == "" {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid document id")
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ready": s.indexer.Ready()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := StatusReport(r.Context(), s.docs, s.indexer, s.config)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// StatusReport describes the document store, cache and index the way
// GET /api/v1/status reports them.
func StatusReport(ctx context.Context, docs DocumentLister, idx IndexManager, cfg *config.Config) (map[string]interface{}, error) {
	docCount, err := docs.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := idx.Status()
	resp := map[string]interface{}{
		"documents":     docCount,
		"cache_entries": st.CacheEntries,
		"cache_digest":  st.CacheDigest,
		"index":         st.Index,
		"stale":         st.Stale,
		"ready":         st.Index.Ready,
	}
	resp["config"] = map[string]interface{}{
		"corpus_directory":     cfg.Corpus.Directory,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"vector_index_type":    cfg.Vector.IndexType,
		"metric":               cfg.Vector.Metric,
		"rationale_enabled":    cfg.Explain.Rationale.Enabled,
		"watch":                cfg.Corpus.Watch,
	}
	if diskBytes, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.KeywordIndexPath,
		cfg.Storage.VectorIndexPath,
	); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	return resp, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// errorStatus maps an error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNotReady):
		return http.StatusServiceUnavailable, "index_not_ready"
	case errors.Is(err, models.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return http.StatusBadGateway, "embedding_unavailable"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}
	s.respondError(w, status, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "code": code})
}
