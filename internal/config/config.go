// Package config provides configuration loading and structs for the setsumei server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	Explain   ExplainConfig   `yaml:"explain"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	// VectorIndexPath is a base name; the index writes <base>.vec and <base>.meta.
	VectorIndexPath string `yaml:"vector_index_path"`
}

// CorpusConfig describes the document directory.
type CorpusConfig struct {
	Directory  string        `yaml:"directory"`
	Extensions []string      `yaml:"extensions"`
	Recursive  *bool         `yaml:"recursive"`
	Watch      bool          `yaml:"watch"`
	Debounce   time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to walk subdirectories; defaults to true when unset.
func (c *CorpusConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "onnx", "http", or "mock".
	Provider   string        `yaml:"provider"`
	ModelPath  string        `yaml:"model_path"`
	OutputName string        `yaml:"output_name"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	MemoSize   int           `yaml:"memo_size"`
	BatchSize  int           `yaml:"batch_size"`
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// VectorConfig holds the index backend and metric.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
	Metric    string `yaml:"metric"`
}

// SearchConfig holds query orchestration settings.
type SearchConfig struct {
	DefaultTopK    int           `yaml:"default_top_k"`
	MaxTopK        int           `yaml:"max_top_k"`
	Workers        int           `yaml:"workers"`
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	ExplainTimeout time.Duration `yaml:"explain_timeout"`
	PreviewLength  int           `yaml:"preview_length"`
}

// ExplainConfig holds explanation settings.
type ExplainConfig struct {
	TopSentences     int             `yaml:"top_sentences"`
	MaxDocumentChars int             `yaml:"max_document_chars"`
	MaxSentences     int             `yaml:"max_sentences"`
	Rationale        RationaleConfig `yaml:"rationale"`
}

// RationaleConfig configures the optional generated rationale.
type RationaleConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed, or if a value is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Corpus.Directory != "" {
		cfg.Corpus.Directory = expandPath(cfg.Corpus.Directory, configDir)
	}

	return &cfg, nil
}

// Validate rejects values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "onnx", "http", "mock":
	default:
		return fmt.Errorf("invalid embedding.provider %q (supported: onnx, http, mock)", c.Embedding.Provider)
	}
	switch strings.ToLower(c.Vector.Metric) {
	case "cosine", "l2":
	default:
		return fmt.Errorf("invalid vector.metric %q (supported: cosine, l2)", c.Vector.Metric)
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds search.max_top_k (%d)",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
