// Package eval measures retrieval quality against a set of labelled queries.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/setsumei/internal/models"
)

// Item is one labelled query: the document that should rank first.
type Item struct {
	DocID string `json:"doc_id"`
	Query string `json:"query"`
}

// Record is the outcome of one query.
type Record struct {
	Query    string   `json:"query"`
	Expected string   `json:"expected"`
	Returned string   `json:"returned,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Correct  bool     `json:"correct"`
	Error    string   `json:"error,omitempty"`
}

// Summary aggregates the records of a run.
type Summary struct {
	Total        int      `json:"total"`
	Answered     int      `json:"answered"`
	Correct      int      `json:"correct"`
	Failed       int      `json:"failed"`
	Accuracy     float64  `json:"accuracy"`
	PrecisionAt1 float64  `json:"precision_at_1"`
	RecallAt1    float64  `json:"recall_at_1"`
	F1At1        float64  `json:"f1_at_1"`
	Records      []Record `json:"records"`
}

// Searcher runs one query.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// LoadItems reads a JSON array of items.
func LoadItems(filePath string) ([]Item, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read eval file: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse eval file: %w", err)
	}
	for i, it := range items {
		if strings.TrimSpace(it.DocID) == "" || strings.TrimSpace(it.Query) == "" {
			return nil, fmt.Errorf("eval item %d: doc_id and query are required", i)
		}
	}
	return items, nil
}

// Runner evaluates items against a Searcher.
type Runner struct {
	searcher    Searcher
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner issuing up to concurrency queries at once.
func NewRunner(searcher Searcher, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{searcher: searcher, concurrency: concurrency, logger: logger}
}

// Run asks for the single best document for each item. A failed query is
// recorded as incorrect and does not stop the run; cancelling ctx does.
func (r *Runner) Run(ctx context.Context, items []Item) (*Summary, error) {
	records := make([]Record, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	done := 0
	for i, it := range items {
		g.Go(func() error {
			records[i] = r.runOne(gctx, it)
			if err := ctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			done++
			if done%50 == 0 {
				r.logger.Info("evaluation progress", zap.Int("done", done), zap.Int("total", len(items)))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

func (r *Runner) runOne(ctx context.Context, it Item) Record {
	rec := Record{Query: it.Query, Expected: it.DocID}
	resp, err := r.searcher.Search(ctx, &models.SearchQuery{Query: it.Query, TopK: 1})
	if err != nil {
		rec.Error = err.Error()
		r.logger.Warn("evaluation query failed", zap.String("query", it.Query), zap.Error(err))
		return rec
	}
	if len(resp.Results) == 0 {
		return rec
	}
	top := resp.Results[0]
	score := top.Score
	rec.Returned = top.DocumentID
	rec.Score = &score
	rec.Correct = Matches(it.DocID, top.DocumentID)
	return rec
}

// Matches reports whether a returned document id satisfies the expected label.
// Labels may omit the file extension ("doc_001" matches "doc_001.txt").
func Matches(expected, returned string) bool {
	if returned == "" {
		return false
	}
	if expected == returned {
		return true
	}
	return strings.TrimSuffix(returned, path.Ext(returned)) == expected
}

// Summarize computes the aggregate metrics. With one prediction per query,
// precision is measured over answered queries and recall over all queries.
func Summarize(records []Record) *Summary {
	s := &Summary{Total: len(records), Records: records}
	for _, r := range records {
		switch {
		case r.Error != "":
			s.Failed++
		case r.Returned != "":
			s.Answered++
		}
		if r.Correct {
			s.Correct++
		}
	}
	if s.Total > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Total)
		s.RecallAt1 = s.Accuracy
	}
	if s.Answered > 0 {
		s.PrecisionAt1 = float64(s.Correct) / float64(s.Answered)
	}
	if p, r := s.PrecisionAt1, s.RecallAt1; p+r > 0 {
		s.F1At1 = 2 * p * r / (p + r)
	}
	return s
}
