package fingerprint

import (
	"time"
)

// Fingerprint is the content fingerprint of a single asset: a pair of
// 64-bit perceptual hashes and, when an embedding extractor is configured,
// a fixed-length embedding vector.
type Fingerprint struct {
	AssetID string `json:"asset_id"`

	// Perceptual hashes (always computed)
	PHash     string `json:"phash"`
	DHash     string `json:"dhash"`
	PHashBits uint64 `json:"-"`
	DHashBits uint64 `json:"-"`

	// Image embedding (from the frozen vision model, optional)
	Embedding []float32 `json:"embedding,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// HasEmbedding reports whether an embedding vector was computed.
func (f *Fingerprint) HasEmbedding() bool {
	return len(f.Embedding) > 0
}
