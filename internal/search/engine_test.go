package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/embedding"
	"github.com/hyperjump/setsumei/internal/explain"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/internal/vector"
)

func testConfig() *config.SearchConfig {
	return &config.SearchConfig{
		DefaultTopK:    5,
		MaxTopK:        50,
		Workers:        4,
		EmbedTimeout:   time.Second,
		FetchTimeout:   time.Second,
		ExplainTimeout: time.Second,
		PreviewLength:  10,
	}
}

type fixedIndex struct {
	hits []vector.Hit
	err  error
}

func (f *fixedIndex) Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fixedIndex) Metric() vector.Metric { return vector.MetricCosine }

type mapDocs map[string]*models.Document

func (m mapDocs) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if d, ok := m[id]; ok {
		return d, nil
	}
	return nil, models.ErrNotFound
}

type stubExplainer struct {
	failFor string
	block   bool
	calls   atomic.Int32
}

func (s *stubExplainer) Explain(ctx context.Context, query, text string) (*models.Explanation, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if text == s.failFor {
		return nil, errors.New("explainer exploded")
	}
	return &models.Explanation{SharedTerms: []string{"x"}}, nil
}

type failingEmbedder struct {
	*embedding.MockEmbedder
	block bool
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, errors.New("model offline")
}

func threeHits() *fixedIndex {
	return &fixedIndex{hits: []vector.Hit{
		{Position: 2, DocumentID: "a", Score: 0.9},
		{Position: 0, DocumentID: "b", Score: 0.8},
		{Position: 1, DocumentID: "c", Score: 0.7},
	}}
}

func threeDocs() mapDocs {
	return mapDocs{
		"a": {ID: "a", Title: "A", Text: "alpha text that is long"},
		"b": {ID: "b", Title: "B", Text: "beta"},
		"c": {ID: "c", Title: "C", Text: "gamma"},
	}
}

func TestEngine_InvalidQuery(t *testing.T) {
	e := NewEngine(embedding.NewMockEmbedder(4), threeHits(), threeDocs(), nil, testConfig())
	_, err := e.Search(context.Background(), &models.SearchQuery{Query: "   "})
	if !errors.Is(err, models.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestEngine_NotReady(t *testing.T) {
	idx, err := vector.NewIndex("memory", 4, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	e := NewEngine(embedding.NewMockEmbedder(4), idx, threeDocs(), nil, testConfig())
	_, err = e.Search(context.Background(), &models.SearchQuery{Query: "anything"})
	if !errors.Is(err, models.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestEngine_EmbeddingUnavailable(t *testing.T) {
	emb := &failingEmbedder{MockEmbedder: embedding.NewMockEmbedder(4)}
	e := NewEngine(emb, threeHits(), threeDocs(), nil, testConfig())
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "q"})
	if !errors.Is(err, models.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if errors.Is(err, models.ErrUpstreamTimeout) {
		t.Error("plain failure should not be reported as a timeout")
	}
	if resp != nil {
		t.Error("an unembeddable query must not return a response")
	}
}

func TestEngine_EmbeddingTimeout(t *testing.T) {
	emb := &failingEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), block: true}
	cfg := testConfig()
	cfg.EmbedTimeout = 20 * time.Millisecond
	e := NewEngine(emb, threeHits(), threeDocs(), nil, cfg)
	_, err := e.Search(context.Background(), &models.SearchQuery{Query: "q"})
	if !errors.Is(err, models.ErrEmbeddingUnavailable) || !errors.Is(err, models.ErrUpstreamTimeout) {
		t.Fatalf("expected embedding timeout, got %v", err)
	}
}

func TestEngine_SkipsMissingDocumentsKeepingOrder(t *testing.T) {
	docs := threeDocs()
	delete(docs, "b")
	m := metrics.New()
	e := NewEngine(embedding.NewMockEmbedder(4), threeHits(), docs, &stubExplainer{}, testConfig(), WithMetrics(m))

	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "q", TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Skipped != 1 || resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("unexpected response: skipped=%d total=%d", resp.Skipped, resp.Total)
	}
	if resp.Results[0].DocumentID != "a" || resp.Results[1].DocumentID != "c" {
		t.Errorf("order not preserved: %s, %s", resp.Results[0].DocumentID, resp.Results[1].DocumentID)
	}
	if resp.Results[0].Rank != 1 || resp.Results[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", resp.Results[0].Rank, resp.Results[1].Rank)
	}
	if resp.Results[1].Position != 1 || resp.Results[1].Score != 0.7 {
		t.Errorf("hit fields not carried: %+v", resp.Results[1])
	}
	if resp.Results[0].Preview != "alpha text..." {
		t.Errorf("preview = %q", resp.Results[0].Preview)
	}
	if resp.QueryID == "" || resp.Metric != "cosine" || resp.TopK != 3 {
		t.Errorf("response metadata = %+v", resp)
	}
}

func TestEngine_DegradedExplanation(t *testing.T) {
	ex := &stubExplainer{failFor: "beta"}
	e := NewEngine(embedding.NewMockEmbedder(4), threeHits(), threeDocs(), ex, testConfig())

	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	b := resp.Results[1]
	if !b.Degraded || b.Explanation != nil || b.ExplainError == "" {
		t.Errorf("result b should be degraded: %+v", b)
	}
	if b.Score != 0.8 || b.Preview != "beta" {
		t.Errorf("degraded result lost score or preview: %+v", b)
	}
	for _, i := range []int{0, 2} {
		if resp.Results[i].Degraded || resp.Results[i].Explanation == nil {
			t.Errorf("result %d should be explained", i)
		}
	}
}

func TestEngine_ExplainDisabled(t *testing.T) {
	ex := &stubExplainer{}
	e := NewEngine(embedding.NewMockEmbedder(4), threeHits(), threeDocs(), ex, testConfig())
	off := false
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "q", Explain: &off})
	if err != nil {
		t.Fatal(err)
	}
	if ex.calls.Load() != 0 {
		t.Errorf("explainer called %d times", ex.calls.Load())
	}
	for _, r := range resp.Results {
		if r.Explanation != nil {
			t.Error("explanation should be omitted")
		}
	}
}

func TestEngine_Cancellation(t *testing.T) {
	ex := &stubExplainer{block: true}
	cfg := testConfig()
	cfg.ExplainTimeout = time.Minute
	e := NewEngine(embedding.NewMockEmbedder(4), threeHits(), threeDocs(), ex, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := e.Search(ctx, &models.SearchQuery{Query: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "setsumei.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	emb := embedding.NewMockEmbedder(256)
	texts := map[string]string{
		"doc_001.txt": "Cats purr and chase mice. They sleep all day.",
		"doc_002.txt": "Rockets burn fuel to reach orbit. Engines roar.",
	}
	snap := &models.IndexSnapshot{Digest: "d"}
	for _, id := range []string{"doc_001.txt", "doc_002.txt"} {
		if err := store.UpsertDocument(ctx, &models.Document{ID: id, Title: id, Text: texts[id], NormalizedText: texts[id]}); err != nil {
			t.Fatal(err)
		}
		v, _ := emb.Embed(ctx, texts[id])
		snap.Vectors = append(snap.Vectors, v)
		snap.DocumentIDs = append(snap.DocumentIDs, id)
	}
	idx, err := vector.NewIndex("memory", 256, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if err := idx.Build(ctx, snap); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(emb, idx, store, explain.New(emb), testConfig())
	resp, err := e.Search(ctx, &models.SearchQuery{Query: "cats chase mice", TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.Results[0].DocumentID != "doc_001.txt" {
		t.Fatalf("unexpected ranking: %+v", resp.Results)
	}
	exp := resp.Results[0].Explanation
	if exp == nil || len(exp.SharedTerms) == 0 || len(exp.TopSentences) == 0 {
		t.Fatalf("missing explanation: %+v", exp)
	}
	if exp.TopSentences[0].Sentence != "Cats purr and chase mice" {
		t.Errorf("top sentence = %q", exp.TopSentences[0].Sentence)
	}
}
