// Package explain produces human-readable reasons why a document matched a
// query: shared keywords and the document sentences closest to the query.
package explain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/embedding"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/rationale"
	"github.com/hyperjump/setsumei/pkg/utils"
)

const (
	DefaultTopSentences     = 2
	DefaultMaxDocumentChars = 20000
	DefaultMaxSentences     = 200

	overlapEpsilon = 1e-5
)

var (
	termPattern     = regexp.MustCompile(`[a-zA-Z]+`)
	sentencePattern = regexp.MustCompile(`[.!?]`)

	stopWords = func() map[string]struct{} {
		m := make(map[string]struct{})
		for _, w := range strings.Fields(`a an the and or but if while with without for on in into by to from
			of is are was were be been being as it this that these those`) {
			m[w] = struct{}{}
		}
		return m
	}()
)

// Explainer computes lexical and sentence-level explanations.
type Explainer struct {
	embedder         embedding.Embedder
	generator        rationale.Generator
	rationaleTimeout time.Duration
	topSentences     int
	maxDocumentChars int
	maxSentences     int
	logger           *zap.Logger
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithLogger sets the logger for degraded rationale calls.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Explainer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRationale enables a generated rationale with its own timeout.
func WithRationale(g rationale.Generator, timeout time.Duration) Option {
	return func(e *Explainer) {
		e.generator = g
		e.rationaleTimeout = timeout
	}
}

// WithTopSentences sets how many sentences Explain returns.
func WithTopSentences(k int) Option {
	return func(e *Explainer) {
		if k > 0 {
			e.topSentences = k
		}
	}
}

// WithLimits bounds the text considered per document.
func WithLimits(maxChars, maxSentences int) Option {
	return func(e *Explainer) {
		if maxChars > 0 {
			e.maxDocumentChars = maxChars
		}
		if maxSentences > 0 {
			e.maxSentences = maxSentences
		}
	}
}

// New returns an explainer that embeds sentences with embedder.
func New(embedder embedding.Embedder, opts ...Option) *Explainer {
	e := &Explainer{
		embedder:         embedder,
		topSentences:     DefaultTopSentences,
		maxDocumentChars: DefaultMaxDocumentChars,
		maxSentences:     DefaultMaxSentences,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Terms returns the distinct lowercase alphabetic tokens of text, minus stop words.
func Terms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, t := range termPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[t]; stop {
			continue
		}
		terms[t] = struct{}{}
	}
	return terms
}

// LexicalOverlap returns the shared terms, sorted, and |shared| / (|query terms| + 1e-5).
func LexicalOverlap(query, text string) ([]string, float64) {
	q := Terms(query)
	d := Terms(text)
	shared := make([]string, 0)
	for t := range q {
		if _, ok := d[t]; ok {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared, float64(len(shared)) / (float64(len(q)) + overlapEpsilon)
}

// LexicalOverlap is the method form of the package function.
func (e *Explainer) LexicalOverlap(query, text string) ([]string, float64) {
	return LexicalOverlap(query, text)
}

// SplitSentences splits on '.', '!' and '?' and drops empty fragments.
func SplitSentences(text string) []string {
	var out []string
	for _, s := range sentencePattern.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TopSentences returns up to k sentences of text ranked by cosine similarity
// to query, best first; equal scores keep document order. Text without
// sentences yields an empty result.
func (e *Explainer) TopSentences(ctx context.Context, query, text string, k int) ([]models.SentenceMatch, error) {
	if k <= 0 {
		return []models.SentenceMatch{}, nil
	}
	text = utils.Clip(text, e.maxDocumentChars)
	sentences := SplitSentences(text)
	if len(sentences) > e.maxSentences {
		sentences = sentences[:e.maxSentences]
	}
	if len(sentences) == 0 {
		return []models.SentenceMatch{}, nil
	}

	inputs := make([]string, 0, len(sentences)+1)
	inputs = append(inputs, query)
	inputs = append(inputs, sentences...)
	vectors, err := e.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embed sentences: got %d vectors for %d inputs", len(vectors), len(inputs))
	}

	q := normalized(vectors[0])
	matches := make([]models.SentenceMatch, len(sentences))
	for i, s := range sentences {
		matches[i] = models.SentenceMatch{
			Sentence: s,
			Index:    i,
			Score:    dot(q, normalized(vectors[i+1])),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Explain combines lexical overlap, the top sentences, and, when configured, a
// generated rationale. Rationale failures are logged and leave Rationale empty.
func (e *Explainer) Explain(ctx context.Context, query, text string) (*models.Explanation, error) {
	shared, ratio := LexicalOverlap(query, text)
	top, err := e.TopSentences(ctx, query, text, e.topSentences)
	if err != nil {
		return nil, err
	}
	exp := &models.Explanation{
		SharedTerms:  shared,
		OverlapRatio: ratio,
		TopSentences: top,
	}
	if e.generator != nil {
		exp.Rationale = e.rationale(ctx, query, exp)
	}
	return exp, nil
}

func (e *Explainer) rationale(ctx context.Context, query string, exp *models.Explanation) string {
	if e.rationaleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.rationaleTimeout)
		defer cancel()
	}
	sentences := make([]string, len(exp.TopSentences))
	for i, s := range exp.TopSentences {
		sentences[i] = s.Sentence
	}
	text, err := e.generator.Generate(ctx, rationale.Prompt(query, exp.SharedTerms, sentences))
	if err != nil {
		e.logger.Warn("rationale unavailable", zap.String("query", query), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	utils.NormalizeL2(out)
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		if i >= len(b) {
			break
		}
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
