package models

// SentenceMatch is a document sentence scored against the query.
type SentenceMatch struct {
	Sentence string  `json:"sentence"`
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
}

// Explanation describes why a document matched a query.
type Explanation struct {
	SharedTerms  []string        `json:"shared_terms"`
	OverlapRatio float64         `json:"overlap_ratio"`
	TopSentences []SentenceMatch `json:"top_sentences"`
	Rationale    string          `json:"rationale,omitempty"`
}

// SearchResult is a single ranked hit. A degraded result carries only the
// score and preview because its explanation could not be produced.
type SearchResult struct {
	DocumentID   string       `json:"document_id"`
	Title        string       `json:"title,omitempty"`
	Score        float64      `json:"score"`
	Rank         int          `json:"rank"`
	Position     int          `json:"position"`
	Preview      string       `json:"preview"`
	Explanation  *Explanation `json:"explanation,omitempty"`
	Degraded     bool         `json:"degraded,omitempty"`
	ExplainError string       `json:"explain_error,omitempty"`
}

// SearchResponse is the response for a search request. Results are in index order.
type SearchResponse struct {
	QueryID   string          `json:"query_id"`
	Query     string          `json:"query"`
	Metric    string          `json:"metric"`
	TopK      int             `json:"top_k"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Skipped   int             `json:"skipped,omitempty"`
	QueryTime int64           `json:"query_time_ms"`
}
