package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hyperjump/setsumei/internal/models"
)

// SaveCacheEntries replaces every persisted cache row in a single transaction.
func (s *SQLiteStorage) SaveCacheEntries(ctx context.Context, entries []models.CacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (document_id, fingerprint, position, dimensions, vector)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.DocumentID, e.Fingerprint, e.Position,
			len(e.Vector), encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("insert cache entry %s: %w", e.DocumentID, err)
		}
	}
	return tx.Commit()
}

// LoadCacheEntries returns every persisted cache row ordered by position.
// Rows whose blob length disagrees with their recorded dimensions are reported
// as models.ErrInconsistent.
func (s *SQLiteStorage) LoadCacheEntries(ctx context.Context) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, fingerprint, position, dimensions, vector
		 FROM cache_entries ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var e models.CacheEntry
		var dims int
		var blob []byte
		if err := rows.Scan(&e.DocumentID, &e.Fingerprint, &e.Position, &dims, &blob); err != nil {
			return nil, err
		}
		if len(blob) != dims*4 {
			return nil, fmt.Errorf("cache entry %s: vector blob is %d bytes for %d dimensions: %w",
				e.DocumentID, len(blob), dims, models.ErrInconsistent)
		}
		e.Vector = decodeVector(blob)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
