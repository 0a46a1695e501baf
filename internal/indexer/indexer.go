// Package indexer runs the incremental similarity-indexing job: it walks
// the Immich image catalog, fingerprints each asset, records it in the
// durable processed record and appends embeddings to the similarity index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"immich-deduper/internal/fingerprint"
	"immich-deduper/internal/immich"
	"immich-deduper/internal/index"
	"immich-deduper/internal/store"
)

// Catalog is the subset of the Immich client the indexing job needs.
type Catalog interface {
	ListAssets(assetType string) ([]immich.Asset, error)
	GetAssetImage(assetID string, resolution immich.ImageResolution) ([]byte, string, error)
}

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Current   int
	Total     int
	AssetID   string
	Processed int
	Skipped   int
	Errors    int
	Fraction  float64
	ETA       time.Duration
	Message   string
}

type Options struct {
	Force      bool                   // Reprocess assets already in the record
	Resolution immich.ImageResolution // Rendition to fingerprint, defaults to thumbnail
	OnProgress func(ProgressInfo)     // Optional progress callback for CLI and web UI
}

type Result struct {
	Total     int
	Processed int
	Skipped   int
	Errors    []error
	Cancelled bool
}

// Indexer drives one indexing run. Assets are handled strictly one at a
// time; cancellation is honored between assets, never mid-asset.
type Indexer struct {
	catalog   Catalog
	extractor fingerprint.Extractor
	record    *store.Processed
	idx       *index.Store
}

func New(catalog Catalog, extractor fingerprint.Extractor, record *store.Processed, idx *index.Store) *Indexer {
	return &Indexer{
		catalog:   catalog,
		extractor: extractor,
		record:    record,
		idx:       idx,
	}
}

// Run executes the indexing job. Per-asset failures are collected into the
// result and do not stop the run; an index consistency error is fatal.
// On cancellation the result carries the counters accumulated so far.
func (x *Indexer) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Resolution == "" {
		opts.Resolution = immich.ResolutionThumbnail
	}

	assets, err := x.catalog.ListAssets(immich.AssetTypeImage)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	result := &Result{Total: len(assets)}
	start := time.Now()

	for i, asset := range assets {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			return result, ctx.Err()
		default:
		}

		message, err := x.processAsset(ctx, asset, opts, result)
		if err != nil {
			var cerr *index.ConsistencyError
			if errors.As(err, &cerr) {
				return result, err
			}
			// A rejected API key is fatal to the whole session, not to
			// one asset
			if immich.IsAuthError(err) {
				return result, err
			}
			result.Errors = append(result.Errors, err)
			message = err.Error()
		}

		x.reportProgress(opts, result, i+1, asset.ID, start, message)
	}

	return result, nil
}

// processAsset handles one asset and updates the result counters. The
// returned message describes the outcome for progress reporting.
func (x *Indexer) processAsset(ctx context.Context, asset immich.Asset, opts Options, result *Result) (string, error) {
	if !opts.Force {
		done, err := x.record.Has(asset.ID)
		if err != nil {
			return "", err
		}
		if done {
			// Catch up the in-memory index if its tail was lost after
			// the durable record was written
			if err := x.catchUpIndex(asset.ID); err != nil {
				return "", err
			}
			result.Skipped++
			return "skipped", nil
		}
	}

	imageData, _, err := x.catalog.GetAssetImage(asset.ID, opts.Resolution)
	if err != nil {
		return "", fmt.Errorf("failed to fetch asset %s: %w", asset.ID, err)
	}

	// The stop signal only applies between assets. An asset already being
	// fingerprinted runs to completion so it is persisted whole or not at
	// all, never half-done.
	fp, err := x.extractor.Extract(context.WithoutCancel(ctx), asset.ID, imageData)
	if err != nil {
		return "", err
	}

	// Durable record first, then the index. If the process dies between
	// the two, catchUpIndex repairs the gap on the next run.
	if err := x.record.Put(fp); err != nil {
		return "", err
	}

	if fp.HasEmbedding() {
		if _, err := x.idx.Append(asset.ID, fp.Embedding); err != nil {
			return "", err
		}
	}

	result.Processed++
	return "indexed", nil
}

func (x *Indexer) catchUpIndex(assetID string) error {
	if x.idx.Has(assetID) {
		return nil
	}
	fp, err := x.record.Get(assetID)
	if err != nil {
		return err
	}
	if fp == nil || !fp.HasEmbedding() {
		return nil
	}
	_, err = x.idx.Append(assetID, fp.Embedding)
	return err
}

func (x *Indexer) reportProgress(opts Options, result *Result, completed int, assetID string, start time.Time, message string) {
	if opts.OnProgress == nil {
		return
	}

	info := ProgressInfo{
		Current:   completed,
		Total:     result.Total,
		AssetID:   assetID,
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Errors:    len(result.Errors),
		Message:   message,
	}
	if result.Total > 0 {
		info.Fraction = float64(completed) / float64(result.Total)
	}
	// The estimate is based on assets actually processed; skipped assets
	// cost nearly nothing and would make it wildly optimistic. Zero until
	// the first asset completes.
	if result.Processed > 0 {
		perAsset := time.Since(start) / time.Duration(result.Processed)
		info.ETA = perAsset * time.Duration(result.Total-completed)
	}

	opts.OnProgress(info)
}

// Reconcile rebuilds the similarity index from the durable record. Used
// after the index store reports a consistency error on load.
func (x *Indexer) Reconcile() error {
	entries, err := x.record.Entries()
	if err != nil {
		return fmt.Errorf("failed to enumerate processed assets: %w", err)
	}
	x.idx.Reconcile(entries)
	return nil
}
