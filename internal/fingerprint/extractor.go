package fingerprint

import (
	"context"
	"fmt"
	"time"
)

// Extractor turns raw image bytes into a fingerprint. Implementations may
// compute hashes only, embeddings only, or both; callers (the indexing job,
// the resolver) never depend on which strategy is in use.
type Extractor interface {
	Extract(ctx context.Context, assetID string, imageData []byte) (*Fingerprint, error)
}

// HashExtractor computes perceptual hashes only. It needs no network access
// and is fully deterministic.
type HashExtractor struct{}

// NewHashExtractor creates a hash-only extractor.
func NewHashExtractor() *HashExtractor {
	return &HashExtractor{}
}

func (e *HashExtractor) Extract(_ context.Context, assetID string, imageData []byte) (*Fingerprint, error) {
	hashes, err := ComputeHashes(imageData)
	if err != nil {
		return nil, fmt.Errorf("hashing asset %s: %w", assetID, err)
	}

	return &Fingerprint{
		AssetID:    assetID,
		PHash:      hashes.PHash,
		DHash:      hashes.DHash,
		PHashBits:  hashes.PHashBits,
		DHashBits:  hashes.DHashBits,
		ComputedAt: time.Now().UTC(),
	}, nil
}

// HybridExtractor computes perceptual hashes and an embedding vector from
// the embedding server.
type HybridExtractor struct {
	embedder *EmbeddingClient
}

// NewHybridExtractor creates an extractor that computes both hashes and embeddings.
func NewHybridExtractor(embedder *EmbeddingClient) *HybridExtractor {
	return &HybridExtractor{embedder: embedder}
}

func (e *HybridExtractor) Extract(ctx context.Context, assetID string, imageData []byte) (*Fingerprint, error) {
	hashes, err := ComputeHashes(imageData)
	if err != nil {
		return nil, fmt.Errorf("hashing asset %s: %w", assetID, err)
	}

	embedding, err := e.embedder.ComputeEmbedding(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("embedding asset %s: %w", assetID, err)
	}

	return &Fingerprint{
		AssetID:    assetID,
		PHash:      hashes.PHash,
		DHash:      hashes.DHash,
		PHashBits:  hashes.PHashBits,
		DHashBits:  hashes.DHashBits,
		Embedding:  embedding,
		ComputedAt: time.Now().UTC(),
	}, nil
}
