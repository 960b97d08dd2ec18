package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/corpus"
	"github.com/hyperjump/setsumei/internal/embedcache"
	"github.com/hyperjump/setsumei/internal/embedding"
	"github.com/hyperjump/setsumei/internal/explain"
	"github.com/hyperjump/setsumei/internal/indexer"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/search"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/internal/vector"
)

const dims = 128

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "setsumei.db")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "bleve")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "index", "base")
	cfg.Corpus.Directory = filepath.Join(dir, "corpus")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = dims
	if err := os.MkdirAll(cfg.Corpus.Directory, 0755); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	idx, err := vector.NewIndex(cfg.Vector.IndexType, dims, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	emb := embedding.NewMockEmbedder(dims)
	m := metrics.New()
	cache := embedcache.New(dims, store)
	ix := indexer.NewIndexer(store, emb, cache, idx, indexer.WithIndexPath(cfg.Storage.VectorIndexPath), indexer.WithMetrics(m))
	engine := search.NewEngine(emb, idx, store, explain.New(emb), &cfg.Search, search.WithMetrics(m))
	loader := corpus.NewLoader(store, kw, nil, cfg.Corpus.Directory, corpus.WithExtensions(cfg.Corpus.Extensions))
	srv := NewServer(engine, loader, corpus.NewService(store, kw), ix, cfg, nil, WithMetrics(m))
	return srv.Handler(), cfg.Corpus.Directory
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestSearch_NotReadyBeforeLoad(t *testing.T) {
	h, _ := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/search", map[string]string{"query": "anything"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["code"] != "index_not_ready" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestSearch_InvalidRequests(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/search", map[string]string{"query": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", rec.Code)
	}
}

func TestCorpusLoadSearchAndDocuments(t *testing.T) {
	h, root := newTestServer(t)
	files := map[string]string{
		"doc_001.txt":       "Volcanoes erupt molten lava. Ash clouds follow.",
		"doc_002.txt":       "Penguins swim in cold water. They eat fish.",
		"nested/doc_003.md": "Compilers translate source code. Linkers join objects.",
	}
	for name, text := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(text), 0600); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, h, http.MethodPost, "/api/v1/corpus/load", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var load corpusLoadResponse
	decode(t, rec, &load)
	if load.Load.Loaded != 3 || load.Refresh == nil || load.Refresh.Embedded != 3 {
		t.Fatalf("load response = %+v / %+v", load.Load, load.Refresh)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "penguins eat fish", "top_k": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	decode(t, rec, &resp)
	if len(resp.Results) != 2 || resp.Results[0].DocumentID != "doc_002.txt" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if resp.Results[0].Explanation == nil || len(resp.Results[0].Explanation.SharedTerms) == 0 {
		t.Errorf("missing explanation: %+v", resp.Results[0])
	}

	rec = do(t, h, http.MethodGet, "/api/v1/documents/nested/doc_003.md", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get document status = %d", rec.Code)
	}
	var doc models.Document
	decode(t, rec, &doc)
	if doc.Title != "doc_003" {
		t.Errorf("title = %q", doc.Title)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/documents/missing.txt", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing document status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/documents?prefix=nested/", nil)
	var list struct {
		Documents []*models.Document `json:"documents"`
		Count     int                `json:"count"`
	}
	decode(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("prefix listing count = %d", list.Count)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/documents?match=lava", nil)
	decode(t, rec, &list)
	if list.Count != 1 || list.Documents[0].ID != "doc_001.txt" {
		t.Errorf("match listing = %+v", list.Documents)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/documents?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rec.Code)
	}
}

func TestCorpusLoad_IngestWithoutRefresh(t *testing.T) {
	h, _ := newTestServer(t)
	off := false
	rec := do(t, h, http.MethodPost, "/api/v1/corpus/load", corpusLoadRequest{
		Documents: []models.IngestRecord{{DocumentID: "x", Text: "hello there"}},
		Refresh:   &off,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var load corpusLoadResponse
	decode(t, rec, &load)
	if load.Refresh != nil {
		t.Error("refresh should be skipped")
	}

	rec = do(t, h, http.MethodGet, "/health", nil)
	var health map[string]interface{}
	decode(t, rec, &health)
	if health["ready"] != false {
		t.Errorf("health = %v", health)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/index/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}
	var stats indexer.RefreshStats
	decode(t, rec, &stats)
	if stats.Embedded != 1 {
		t.Errorf("refresh stats = %+v", stats)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/status", nil)
	var status map[string]interface{}
	decode(t, rec, &status)
	if status["ready"] != true || status["documents"].(float64) != 1 || status["stale"] != false {
		t.Errorf("status = %v", status)
	}
}

func TestCorpusLoad_RejectsInvalidRecords(t *testing.T) {
	h, _ := newTestServer(t)
	tests := []struct {
		name string
		rec  models.IngestRecord
	}{
		{"missing id", models.IngestRecord{Text: "hello"}},
		{"markup only", models.IngestRecord{DocumentID: "x", Text: "<p></p>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/corpus/load", corpusLoadRequest{
				Documents: []models.IngestRecord{tt.rec},
			})
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["code"] != "invalid_request" {
				t.Errorf("body = %v", body)
			}
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/documents", nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"x"`) {
		t.Errorf("rejected record was stored: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/search", map[string]string{"query": "q"})
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `setsumei_queries_total{outcome="not_ready"} 1`) {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
		name string
	}{
		{models.ErrNotReady, http.StatusServiceUnavailable, "index_not_ready"},
		{fmt.Errorf("%w: boom", models.ErrEmbeddingUnavailable), http.StatusBadGateway, "embedding_unavailable"},
		{fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, models.ErrUpstreamTimeout), http.StatusGatewayTimeout, "upstream_timeout"},
		{models.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},
		{fmt.Errorf("ingest record: %w", models.ErrInvalidInput), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("doc: %w", models.ErrNotFound), http.StatusNotFound, "not_found"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "upstream_timeout"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		code, name := errorStatus(tt.err)
		if code != tt.code || name != tt.name {
			t.Errorf("errorStatus(%v) = %d %s, want %d %s", tt.err, code, name, tt.code, tt.name)
		}
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	s := NewServer(nil, nil, nil, nil, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}
