package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/hyperjump/setsumei/internal/models"
)

func init() {
	color.NoColor = true
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"penguins"}, "penguins"},
		{"multiple words", []string{"penguins", "eat", "fish"}, "penguins eat fish"},
		{"single quoted phrase", []string{"penguins eat fish"}, "penguins eat fish"},
		{"inner whitespace collapsed", []string{"penguins  eat\tfish"}, "penguins eat fish"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_DefaultPathFallsBack(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" || cfg.Embedding.Provider != "onnx" {
		t.Errorf("expected built-in defaults, got path %q provider %q", resolved, cfg.Embedding.Provider)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("embedding:\n  provider: mock\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err = loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(resolved) != "config.yaml" || cfg.Embedding.Provider != "mock" {
		t.Errorf("expected ./config.yaml, got path %q provider %q", resolved, cfg.Embedding.Provider)
	}
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("SETSUMEI_TEST_KEY=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SETSUMEI_TEST_KEY", "")
	os.Unsetenv("SETSUMEI_TEST_KEY")
	if err := loadEnv(envFile); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("SETSUMEI_TEST_KEY"); got != "from-file" {
		t.Errorf("SETSUMEI_TEST_KEY = %q", got)
	}
	if err := loadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "setsumei version dev\n" {
		t.Errorf("got %q", out)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	if _, err := execute(t, "search", "-o", "yaml", "penguins"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestInProcessLoadSearchStatus(t *testing.T) {
	configPath := writeProject(t)

	out, err := execute(t, "--config", configPath, "load")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "load.total: 2") || !strings.Contains(out, "refresh.embedded: 2") {
		t.Errorf("unexpected load output:\n%s", out)
	}

	out, err = execute(t, "--config", configPath, "-o", "json", "search", "--server", "", "penguins", "eat", "fish")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	if len(resp.Results) == 0 || resp.Results[0].DocumentID != "doc_002.txt" {
		t.Fatalf("expected doc_002.txt first, got %+v", resp.Results)
	}
	if resp.Results[0].Explanation == nil {
		t.Error("expected an explanation")
	}

	out, err = execute(t, "--config", configPath, "-o", "json", "status", "--server", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status map[string]interface{}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatal(err)
	}
	if status["documents"] != float64(2) || status["ready"] != true || status["stale"] != false {
		t.Errorf("unexpected status: %v", status)
	}

	out, err = execute(t, "--config", configPath, "refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(out, "reused: 2") || !strings.Contains(out, "embedded: 0") {
		t.Errorf("unchanged corpus should be fully reused:\n%s", out)
	}
}

func TestInProcessEval(t *testing.T) {
	configPath := writeProject(t)
	if _, err := execute(t, "--config", configPath, "load"); err != nil {
		t.Fatalf("load: %v", err)
	}
	queries := filepath.Join(filepath.Dir(configPath), "queries.json")
	items := `[{"doc_id":"doc_002","query":"penguins eat fish"},{"doc_id":"doc_001","query":"cats purr and chase mice"}]`
	if err := os.WriteFile(queries, []byte(items), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", configPath, "eval", "--server", "", queries)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !strings.Contains(out, "Evaluated 2 queries") || !strings.Contains(out, "accuracy:       1.0000") {
		t.Errorf("unexpected eval output:\n%s", out)
	}
}

func TestSearchWithoutIndexIsNotReady(t *testing.T) {
	configPath := writeProject(t)
	_, err := execute(t, "--config", configPath, "search", "--server", "", "penguins")
	if err == nil || !strings.Contains(err.Error(), "setsumei load") {
		t.Errorf("expected not-ready hint, got %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpusDir, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"doc_001.txt": "Cats purr and chase mice. They sleep most of the day.",
		"doc_002.txt": "Penguins eat fish and swim in cold water. They cannot fly.",
	}
	for name, text := range files {
		if err := os.WriteFile(filepath.Join(corpusDir, name), []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := `embedding:
  provider: mock
  dimensions: 128
corpus:
  directory: ./corpus
storage:
  database_path: ./data/setsumei.db
  keyword_index_path: ./data/keyword.bleve
  vector_index_path: ./data/vectors
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
