// Package store persists the record of processed assets in SQLite. The
// record is the source of truth for idempotency: an asset marked processed
// here always has its full fingerprint retrievable, so the similarity index
// can be rebuilt from this record alone.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"immich-deduper/internal/fingerprint"
	"immich-deduper/internal/index"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_assets (
	asset_id TEXT PRIMARY KEY,
	phash TEXT NOT NULL,
	dhash TEXT NOT NULL,
	embedding BLOB,
	computed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phash ON processed_assets(phash);
CREATE INDEX IF NOT EXISTS idx_dhash ON processed_assets(dhash);`

// Processed is the durable record of processed assets.
type Processed struct {
	db *sql.DB
}

// Open opens (or creates) the record at the given path.
func Open(path string) (*Processed, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open processed record: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create processed record schema: %w", err)
	}

	return &Processed{db: db}, nil
}

// Close closes the underlying database.
func (p *Processed) Close() error {
	return p.db.Close()
}

// Has reports whether the asset has already been processed.
func (p *Processed) Has(assetID string) (bool, error) {
	var count int
	err := p.db.QueryRow("SELECT COUNT(*) FROM processed_assets WHERE asset_id = ?", assetID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check asset %s: %w", assetID, err)
	}
	return count > 0, nil
}

// Put records a fingerprint. Writing the same asset again replaces the
// previous row, so reprocessing is safe.
func (p *Processed) Put(fp *fingerprint.Fingerprint) error {
	computedAt := fp.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	_, err := p.db.Exec(`
		INSERT OR REPLACE INTO processed_assets (asset_id, phash, dhash, embedding, computed_at)
		VALUES (?, ?, ?, ?, ?)`,
		fp.AssetID,
		fp.PHash,
		fp.DHash,
		encodeEmbedding(fp.Embedding),
		computedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record asset %s: %w", fp.AssetID, err)
	}
	return nil
}

// Get returns the stored fingerprint for an asset, or nil if the asset has
// not been processed.
func (p *Processed) Get(assetID string) (*fingerprint.Fingerprint, error) {
	var (
		phash, dhash, computedAt string
		embedding                []byte
	)
	err := p.db.QueryRow(
		"SELECT phash, dhash, embedding, computed_at FROM processed_assets WHERE asset_id = ?",
		assetID,
	).Scan(&phash, &dhash, &embedding, &computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", assetID, err)
	}

	return buildFingerprint(assetID, phash, dhash, embedding, computedAt)
}

// Count returns the number of processed assets.
func (p *Processed) Count() (int, error) {
	var count int
	if err := p.db.QueryRow("SELECT COUNT(*) FROM processed_assets").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count processed assets: %w", err)
	}
	return count, nil
}

// Entries enumerates all assets that carry an embedding, in insertion
// order. This is the input for rebuilding the similarity index.
func (p *Processed) Entries() ([]index.Entry, error) {
	rows, err := p.db.Query(
		"SELECT asset_id, embedding FROM processed_assets WHERE embedding IS NOT NULL ORDER BY rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processed assets: %w", err)
	}
	defer rows.Close()

	var entries []index.Entry
	for rows.Next() {
		var (
			assetID string
			blob    []byte
		)
		if err := rows.Scan(&assetID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan processed asset: %w", err)
		}
		emb := decodeEmbedding(blob)
		if len(emb) == 0 {
			continue
		}
		entries = append(entries, index.Entry{AssetID: assetID, Embedding: emb})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to enumerate processed assets: %w", err)
	}

	return entries, nil
}

func buildFingerprint(assetID, phash, dhash string, embedding []byte, computedAt string) (*fingerprint.Fingerprint, error) {
	phashBits, err := strconv.ParseUint(phash, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stored phash for asset %s: %w", assetID, err)
	}
	dhashBits, err := strconv.ParseUint(dhash, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stored dhash for asset %s: %w", assetID, err)
	}

	fp := &fingerprint.Fingerprint{
		AssetID:   assetID,
		PHash:     phash,
		DHash:     dhash,
		PHashBits: phashBits,
		DHashBits: dhashBits,
		Embedding: decodeEmbedding(embedding),
	}
	if t, err := time.Parse(time.RFC3339, computedAt); err == nil {
		fp.ComputedAt = t
	}
	return fp, nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes. A nil or
// empty vector encodes as nil so the column stays NULL.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return embedding
}
