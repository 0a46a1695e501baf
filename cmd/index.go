package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"immich-deduper/internal/config"
	"immich-deduper/internal/immich"
	"immich-deduper/internal/indexer"
	"immich-deduper/internal/store"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Fingerprint the photo library and build the similarity index",
	Long: `Fingerprint every image asset in the Immich library with perceptual
hashes, and with embeddings when an embedding server is configured.

The process can be stopped with Ctrl+C and resumed - already processed
assets are skipped on the next run.

Examples:
  # Index all assets not yet processed
  immich-deduper index

  # Re-fingerprint everything
  immich-deduper index --force

  # Fingerprint full-size originals instead of thumbnails
  immich-deduper index --resolution original`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().Bool("force", false, "Reprocess assets that are already fingerprinted")
	indexCmd.Flags().String("resolution", "thumbnail", "Image rendition to fingerprint (thumbnail, fullsize, original)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	force := mustGetBool(cmd, "force")
	resolution := immich.ImageResolution(mustGetString(cmd, "resolution"))

	cfg := config.Load()

	fmt.Println("Connecting to Immich...")
	client, err := newImmichClient(cfg)
	if err != nil {
		return err
	}

	record, err := store.Open(cfg.Index.ProcessedDB)
	if err != nil {
		return err
	}
	defer record.Close()

	idx, err := openIndex(cfg, record)
	if err != nil {
		return err
	}

	processed, err := record.Count()
	if err != nil {
		return err
	}
	fmt.Printf("Assets already fingerprinted: %d\n", processed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nStopping after the current asset...")
		cancel()
	}()

	var bar *progressbar.ProgressBar
	opts := indexer.Options{
		Force:      force,
		Resolution: resolution,
		OnProgress: func(info indexer.ProgressInfo) {
			if bar == nil {
				bar = progressbar.NewOptions(info.Total,
					progressbar.OptionSetDescription("Fingerprinting assets"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("assets"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
			}
			_ = bar.Set(info.Current)
		},
	}

	job := indexer.New(client, newExtractor(cfg), record, idx)
	result, runErr := job.Run(ctx, opts)
	fmt.Println() // New line after progress bar

	if result != nil {
		if saveErr := idx.Save(cfg.Index.Path); saveErr != nil {
			fmt.Printf("Warning: failed to persist similarity index: %v\n", saveErr)
		}

		fmt.Printf("Processed: %d\n", result.Processed)
		fmt.Printf("Skipped:   %d\n", result.Skipped)
		fmt.Printf("Errors:    %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %v\n", e)
		}
		if result.Cancelled {
			fmt.Println("Run cancelled, completed work is persisted. Re-run to continue.")
			return nil
		}
	}

	return runErr
}
