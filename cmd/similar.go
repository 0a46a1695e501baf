package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"immich-deduper/internal/config"
	"immich-deduper/internal/fingerprint"
	"immich-deduper/internal/store"
)

var similarCmd = &cobra.Command{
	Use:   "similar <asset-id>",
	Short: "Find visually similar assets for a fingerprinted asset",
	Long: `Query the similarity index for the nearest neighbors of an already
fingerprinted asset. Neighbors are labelled by how close their perceptual
hashes are: exact (identical hash), near (within the configured Hamming
threshold), or similar (embedding match only).

Requires the asset to have been indexed with embeddings enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	assetID := args[0]
	cfg := config.Load()

	record, err := store.Open(cfg.Index.ProcessedDB)
	if err != nil {
		return err
	}
	defer record.Close()

	idx, err := openIndex(cfg, record)
	if err != nil {
		return err
	}

	fp, err := record.Get(assetID)
	if err != nil {
		return err
	}
	if fp == nil {
		return fmt.Errorf("asset %s has not been fingerprinted, run 'immich-deduper index' first", assetID)
	}
	if !fp.HasEmbedding() {
		return fmt.Errorf("asset %s was indexed without embeddings, re-run with EMBEDDING_URL set", assetID)
	}

	sim := cfg.Thresholds.Similarity
	maxDistance := 1 - sim.Embedding
	ids, distances, err := idx.SearchWithDistance(fp.Embedding, sim.SearchK, maxDistance)
	if err != nil {
		return fmt.Errorf("similarity search failed: %w", err)
	}

	found := 0
	for i, id := range ids {
		if id == assetID {
			continue
		}
		found++

		label := "similar"
		if other, err := record.Get(id); err == nil && other != nil {
			switch {
			case fingerprint.ExactDuplicate(fp.PHashBits, other.PHashBits):
				label = "exact"
			case fingerprint.Similar(fp.PHashBits, other.PHashBits, sim.NearHamming):
				label = "near"
			}
		}

		fmt.Printf("%-8s %s  distance=%.4f\n", label, id, distances[i])
	}

	if found == 0 {
		fmt.Println("No similar assets found.")
	}
	return nil
}
