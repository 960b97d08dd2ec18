package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/setsumei/data/db/setsumei.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/setsumei/data/indices/keyword.bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/setsumei/data/indices/vectors"
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".txt", ".md", ".rst", ".html", ".pdf", ".xlsx", ".odt", ".rtf"}
	}
	if cfg.Corpus.Debounce == 0 {
		cfg.Corpus.Debounce = 2 * time.Second
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/setsumei/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.MemoSize == 0 {
		cfg.Embedding.MemoSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "EMBEDDING_API_KEY"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 50
	}
	if cfg.Search.Workers == 0 {
		cfg.Search.Workers = 4
	}
	if cfg.Search.EmbedTimeout == 0 {
		cfg.Search.EmbedTimeout = 10 * time.Second
	}
	if cfg.Search.FetchTimeout == 0 {
		cfg.Search.FetchTimeout = 5 * time.Second
	}
	if cfg.Search.ExplainTimeout == 0 {
		cfg.Search.ExplainTimeout = 15 * time.Second
	}
	if cfg.Search.PreviewLength == 0 {
		cfg.Search.PreviewLength = 200
	}
	if cfg.Explain.TopSentences == 0 {
		cfg.Explain.TopSentences = 2
	}
	if cfg.Explain.MaxDocumentChars == 0 {
		cfg.Explain.MaxDocumentChars = 20000
	}
	if cfg.Explain.MaxSentences == 0 {
		cfg.Explain.MaxSentences = 200
	}
	if cfg.Explain.Rationale.Model == "" {
		cfg.Explain.Rationale.Model = "gemini-2.0-flash"
	}
	if cfg.Explain.Rationale.APIKeyEnv == "" {
		cfg.Explain.Rationale.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Explain.Rationale.Timeout == 0 {
		cfg.Explain.Rationale.Timeout = 8 * time.Second
	}
	if cfg.Explain.Rationale.RequestsPerMinute == 0 {
		cfg.Explain.Rationale.RequestsPerMinute = 10
	}
}
