package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"immich-deduper/internal/config"
	"immich-deduper/internal/indexer"
	"immich-deduper/internal/store"
	"immich-deduper/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API server",
	Long: `Start the Immich DeDuper API server.
The API exposes duplicate groups with their merge decisions, keeper and
field overrides, the destructive apply step, and indexing job control
for an external UI.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (string, int) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return host, port
}

func runServe(cmd *cobra.Command, args []string) error {
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
	fmt.Printf("Similarity index loaded with %d embedding(s)\n", idx.Count())

	host, port := resolveServeHostPort(cmd)

	server := web.NewServer(web.Deps{
		Duplicates: client,
		Catalog:    client,
		Indexer:    indexer.New(client, newExtractor(cfg), record, idx),
		Index:      idx,
		IndexPath:  cfg.Index.Path,
	}, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		if err := idx.Save(cfg.Index.Path); err != nil {
			fmt.Printf("Warning: failed to save similarity index: %v\n", err)
		} else {
			fmt.Println("Similarity index saved to disk")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Immich DeDuper API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
