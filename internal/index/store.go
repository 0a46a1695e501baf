// Package index implements the persisted nearest-neighbor index over asset
// embeddings: an HNSW graph keyed by asset ID plus an ordered, co-indexed
// asset-ID list. The index only ever grows; there is no removal path.
package index

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW graph parameters for image embeddings
const (
	// MaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	MaxNeighbors = 16

	// SearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	SearchMultiplier = 3
)

const metadataVersion = 1

// ConsistencyError reports a length mismatch between the vector index and
// its co-indexed asset-ID list. It is fatal to the indexing job: appends
// are refused until the store is reconciled from the durable idempotency
// record.
type ConsistencyError struct {
	IDCount     int
	VectorCount int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("similarity index inconsistent: %d identifiers vs %d vectors", e.IDCount, e.VectorCount)
}

// Metadata stores sidecar metadata for validating a persisted index.
type Metadata struct {
	EntryCount int `json:"entry_count"`
	Version    int `json:"version"`
}

// persistedState is the gob-encoded sidecar holding the asset-ID list and
// the raw vectors, co-indexed with the HNSW graph.
type persistedState struct {
	IDs     []string
	Vectors map[string][]float32
}

// Entry is one (asset ID, embedding) pair, used when reconciling the store
// from the durable idempotency record.
type Entry struct {
	AssetID   string
	Embedding []float32
}

// Store is the similarity index: an HNSW graph keyed by asset ID with an
// ordered asset-ID list. Position i in the ID list and the i-th appended
// vector always refer to the same asset.
type Store struct {
	graph        *hnsw.Graph[string]
	ids          []string
	vectors      map[string][]float32
	inconsistent *ConsistencyError
	mu           sync.RWMutex
}

// New creates a new empty similarity index store.
func New() *Store {
	return &Store{
		vectors: make(map[string][]float32),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = MaxNeighbors
	g.Ml = 1.0 / float64(MaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Append adds one (asset ID, embedding) entry to the index. Re-adding an
// identifier that is already present is a reported no-op: Append returns
// false with no error. A pending consistency error refuses the append.
func (s *Store) Append(assetID string, embedding []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inconsistent != nil {
		return false, s.inconsistent
	}

	if _, ok := s.vectors[assetID]; ok {
		return false, nil // already indexed
	}

	if len(embedding) == 0 {
		return false, fmt.Errorf("empty embedding for asset %s", assetID)
	}

	if s.graph == nil {
		s.graph = newGraph()
	}

	s.graph.Add(hnsw.MakeNode(assetID, embedding))
	s.ids = append(s.ids, assetID)
	s.vectors[assetID] = embedding

	return true, nil
}

// Has reports whether the given asset is present in the index.
func (s *Store) Has(assetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vectors[assetID]
	return ok
}

// Count returns the number of indexed assets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns a copy of the asset-ID list in append order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	return ids
}

// Check returns the pending consistency error, if any.
func (s *Store) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inconsistent != nil {
		return s.inconsistent
	}
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns asset IDs and their cosine distances.
func (s *Store) Search(query []float32, k int) ([]string, []float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph == nil {
		return nil, nil, fmt.Errorf("index not initialized")
	}

	neighbors := s.graph.Search(query, k)

	ids := make([]string, len(neighbors))
	distances := make([]float64, len(neighbors))

	for i, n := range neighbors {
		ids[i] = n.Key
		// Compute actual cosine distance for the result
		if vec, ok := s.vectors[n.Key]; ok && len(vec) > 0 {
			distances[i] = CosineDistance(query, vec)
		}
	}

	return ids, distances, nil
}

// SearchWithDistance finds up to k nearest neighbors with cosine distance
// strictly below maxDistance.
func (s *Store) SearchWithDistance(query []float32, k int, maxDistance float64) ([]string, []float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph == nil {
		return nil, nil, fmt.Errorf("index not initialized")
	}

	// Search with more candidates for better recall after filtering
	searchK := k * SearchMultiplier
	if searchK < 100 {
		searchK = 100
	}

	neighbors := s.graph.Search(query, searchK)

	ids := make([]string, 0, k)
	distances := make([]float64, 0, k)

	for _, n := range neighbors {
		vec, ok := s.vectors[n.Key]
		if !ok || len(vec) == 0 {
			continue
		}
		dist := CosineDistance(query, vec)
		if dist >= maxDistance {
			continue
		}
		ids = append(ids, n.Key)
		distances = append(distances, dist)
		if len(ids) >= k {
			break
		}
	}

	return ids, distances, nil
}

// Save persists the index to disk: the HNSW graph at path, the ID list and
// vectors in a gob sidecar, and metadata for validation in a JSON sidecar.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".ids")
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	if err := s.graph.Export(f); err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(persistedState{IDs: s.ids, Vectors: s.vectors}); err != nil {
		return fmt.Errorf("failed to encode identifier list: %w", err)
	}
	if err := os.WriteFile(path+".ids", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write identifier list: %w", err)
	}

	metaData, err := json.Marshal(Metadata{EntryCount: len(s.ids), Version: metadataVersion})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// Load loads the index and its sidecars from disk. A missing index file
// leaves the store empty. A length mismatch between the graph sidecar and
// the identifier list marks the store inconsistent: queries still work but
// appends are refused until Reconcile is called.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // No index yet, start empty
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	graph := saved.Graph
	graph.Distance = hnsw.CosineDistance

	data, err := os.ReadFile(path + ".ids")
	if err != nil {
		return fmt.Errorf("failed to read identifier list: %w", err)
	}

	var state persistedState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&state); err != nil {
		return fmt.Errorf("failed to decode identifier list: %w", err)
	}

	s.graph = graph
	s.ids = state.IDs
	s.vectors = state.Vectors
	if s.vectors == nil {
		s.vectors = make(map[string][]float32)
	}

	if len(s.ids) != len(s.vectors) {
		s.inconsistent = &ConsistencyError{IDCount: len(s.ids), VectorCount: len(s.vectors)}
		return s.inconsistent
	}

	meta, err := loadMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load index metadata: %w", err)
	}
	if meta.EntryCount != len(s.ids) {
		s.inconsistent = &ConsistencyError{IDCount: len(s.ids), VectorCount: meta.EntryCount}
		return s.inconsistent
	}

	return nil
}

// loadMetadata loads the .meta sidecar for a persisted index.
func loadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// Reconcile rebuilds the graph and identifier list from entries enumerated
// out of the durable idempotency record, clearing any pending consistency
// error. Entry order becomes the new append order.
func (s *Store) Reconcile(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graph = nil
	s.ids = nil
	s.vectors = make(map[string][]float32, len(entries))

	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if _, ok := s.vectors[e.AssetID]; ok {
			continue
		}
		if s.graph == nil {
			s.graph = newGraph()
		}
		s.graph.Add(hnsw.MakeNode(e.AssetID, e.Embedding))
		s.ids = append(s.ids, e.AssetID)
		s.vectors[e.AssetID] = e.Embedding
	}

	s.inconsistent = nil
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}
