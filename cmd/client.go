package cmd

import (
	"errors"
	"fmt"

	"immich-deduper/internal/config"
	"immich-deduper/internal/fingerprint"
	"immich-deduper/internal/immich"
	"immich-deduper/internal/index"
	"immich-deduper/internal/store"
)

// newImmichClient builds a client from the environment configuration and
// verifies connectivity and the API key before returning it.
func newImmichClient(cfg *config.Config) (*immich.Client, error) {
	if cfg.Immich.URL == "" {
		return nil, errors.New("IMMICH_URL environment variable is required")
	}
	if cfg.Immich.APIKey == "" {
		return nil, errors.New("IMMICH_API_KEY environment variable is required")
	}

	client, err := immich.NewClientWithCapture(cfg.Immich.URL, cfg.Immich.APIKey, cfg.Immich.TimeoutMs, captureDir)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("cannot reach Immich server: %w", err)
	}
	if err := client.ValidateAPIKey(); err != nil {
		return nil, err
	}
	return client, nil
}

// newExtractor picks the fingerprinting strategy: hashes only, or hashes
// plus embeddings when an embedding server is configured.
func newExtractor(cfg *config.Config) fingerprint.Extractor {
	if cfg.Embedding.URL == "" {
		return fingerprint.NewHashExtractor()
	}
	return fingerprint.NewHybridExtractor(fingerprint.NewEmbeddingClient(cfg.Embedding.URL, "", cfg.Embedding.Dim))
}

// openIndex loads the persisted similarity index. A consistency error is
// repaired by rebuilding the index from the durable processed record.
func openIndex(cfg *config.Config, record *store.Processed) (*index.Store, error) {
	idx := index.New()
	err := idx.Load(cfg.Index.Path)

	var cerr *index.ConsistencyError
	if errors.As(err, &cerr) {
		fmt.Printf("Warning: %v, rebuilding from the processed record\n", cerr)
		entries, entErr := record.Entries()
		if entErr != nil {
			return nil, fmt.Errorf("failed to rebuild index: %w", entErr)
		}
		idx.Reconcile(entries)
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load similarity index: %w", err)
	}
	return idx, nil
}
