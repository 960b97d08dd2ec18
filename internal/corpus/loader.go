// Package corpus loads corpus files into the document store and keyword index.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/extract"
	"github.com/hyperjump/setsumei/internal/fileid"
	"github.com/hyperjump/setsumei/internal/fingerprint"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

// LoadStats reports the outcome of a corpus load.
type LoadStats struct {
	Total     int `json:"total"`
	Loaded    int `json:"loaded"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
	Words     int `json:"words"`
}

// Loader keeps the document store in step with a corpus directory.
type Loader struct {
	store      storage.Storage
	keywords   keyword.KeywordIndex
	extractor  *extract.Extractor
	root       string
	extensions []string
	recursive  bool
	logger     *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets a logger for load events.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithExtensions restricts loading to files with the given extensions. An empty list accepts all files.
func WithExtensions(exts []string) Option {
	return func(ld *Loader) { ld.extensions = exts }
}

// WithRecursive controls whether subdirectories are walked.
func WithRecursive(recursive bool) Option {
	return func(ld *Loader) { ld.recursive = recursive }
}

// NewLoader creates a loader for the corpus rooted at root. keywords may be nil.
func NewLoader(store storage.Storage, keywords keyword.KeywordIndex, extractor *extract.Extractor, root string, opts ...Option) *Loader {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	ld := &Loader{
		store:     store,
		keywords:  keywords,
		extractor: extractor,
		root:      root,
		recursive: true,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Root returns the corpus directory.
func (ld *Loader) Root() string { return ld.root }

// Load walks the corpus directory, stores new and changed documents and removes
// documents whose files under the root are gone. Unreadable files are logged and counted as failed.
func (ld *Loader) Load(ctx context.Context) (*LoadStats, error) {
	absRoot, err := filepath.Abs(ld.root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	stats := &LoadStats{}
	seen := make(map[string]bool)
	err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absRoot && (!ld.recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ld.Accepts(path) {
			return nil
		}
		// Resolve symlinks so only regular files are loaded.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		stats.Total++
		doc, changed, loadErr := ld.loadFile(ctx, absRoot, path)
		if loadErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			ld.logger.Warn("failed to load corpus file", zap.String("path", path), zap.Error(loadErr))
			if id, idErr := fileid.DocID(absRoot, path); idErr == nil {
				// Keep the previous version rather than dropping it.
				seen[id] = true
			}
			return nil
		}
		seen[doc.ID] = true
		stats.Words += doc.Length
		if changed {
			stats.Loaded++
		} else {
			stats.Unchanged++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	ids, err := ld.store.ListDocumentIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("list documents: %w", err)
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		doc, err := ld.store.GetDocument(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return stats, fmt.Errorf("get document %s: %w", id, err)
		}
		// Ingested records have no file under the root and are left alone.
		if !underRoot(absRoot, doc.Path) {
			continue
		}
		if err := ld.Remove(ctx, id); err != nil {
			return stats, err
		}
		stats.Removed++
	}
	ld.logger.Info("corpus loaded",
		zap.String("root", absRoot),
		zap.Int("total", stats.Total),
		zap.Int("loaded", stats.Loaded),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("removed", stats.Removed),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// LoadFile loads a single corpus file. A file that no longer exists is removed.
func (ld *Loader) LoadFile(ctx context.Context, path string) error {
	absRoot, err := filepath.Abs(ld.root)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		id, idErr := fileid.DocID(absRoot, absPath)
		if idErr != nil {
			return idErr
		}
		return ld.Remove(ctx, id)
	}
	if !ld.Accepts(absPath) {
		return fmt.Errorf("extension %q not in allowed list", filepath.Ext(absPath))
	}
	_, _, err = ld.loadFile(ctx, absRoot, absPath)
	return err
}

// Ingest stores records directly, bypassing the file system.
func (ld *Loader) Ingest(ctx context.Context, records []models.IngestRecord) (*LoadStats, error) {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, err
		}
	}
	stats := &LoadStats{}
	for _, rec := range records {
		title := rec.Title
		if title == "" {
			title = fileid.Title(rec.DocumentID)
		}
		doc, changed, err := ld.save(ctx, newDocument(rec.DocumentID, title, rec.Path, rec.Text))
		if err != nil {
			return stats, err
		}
		stats.Total++
		stats.Words += doc.Length
		if changed {
			stats.Loaded++
		} else {
			stats.Unchanged++
		}
	}
	return stats, nil
}

// Remove deletes a document from the store and keyword index.
func (ld *Loader) Remove(ctx context.Context, id string) error {
	if ld.keywords != nil {
		if err := ld.keywords.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if err := ld.store.DeleteDocument(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	ld.logger.Debug("corpus document removed", zap.String("id", id))
	return nil
}

// Accepts reports whether path has an allowed extension.
func (ld *Loader) Accepts(path string) bool {
	if len(ld.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, a := range ld.extensions {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

func (ld *Loader) loadFile(ctx context.Context, absRoot, path string) (*models.Document, bool, error) {
	id, err := fileid.DocID(absRoot, path)
	if err != nil {
		return nil, false, err
	}
	text, err := ld.extractor.Extract(path)
	if err != nil {
		return nil, false, fmt.Errorf("extract content: %w", err)
	}
	return ld.save(ctx, newDocument(id, fileid.Title(id), path, text))
}

// save upserts doc unless an identical version is already stored. The keyword
// index is refreshed either way so an emptied index repopulates.
func (ld *Loader) save(ctx context.Context, doc *models.Document) (*models.Document, bool, error) {
	changed := true
	if existing, err := ld.store.GetDocument(ctx, doc.ID); err == nil {
		changed = existing.Fingerprint != doc.Fingerprint || existing.Title != doc.Title || existing.Path != doc.Path
		doc.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("get document %s: %w", doc.ID, err)
	}
	if changed {
		if err := ld.store.UpsertDocument(ctx, doc); err != nil {
			return nil, false, fmt.Errorf("failed to store document: %w", err)
		}
		ld.logger.Debug("corpus document stored", zap.String("id", doc.ID), zap.Int("words", doc.Length))
	}
	if ld.keywords != nil {
		if err := ld.keywords.Index(ctx, keywordDocument(doc)); err != nil {
			return nil, false, fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	return doc, changed, nil
}

func underRoot(absRoot, path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func newDocument(id, title, path, text string) *models.Document {
	normalized, fp := fingerprint.Compute(text)
	return &models.Document{
		ID:             id,
		Title:          title,
		Path:           path,
		Text:           text,
		NormalizedText: normalized,
		Fingerprint:    fp,
		Length:         len(strings.Fields(normalized)),
	}
}

// keywordDocument splits underscores in the title so file names like
// "quarterly_report" match "quarterly report"; the standard analyzer keeps them joined.
func keywordDocument(doc *models.Document) *models.Document {
	kd := *doc
	kd.Title = strings.ReplaceAll(doc.Title, "_", " ")
	return &kd
}
