package dedupe

import (
	"errors"
	"fmt"
	"strings"

	"immich-deduper/internal/immich"
)

// Catalog is the subset of the Immich client the apply engine needs.
type Catalog interface {
	UpdateAsset(assetID string, update immich.AssetUpdate) (*immich.Asset, error)
	DeleteAssets(assetIDs []string) error
}

// PartialDeleteError reports that the canonical update succeeded but some
// deletions were rejected. The update is left in place; the failed
// identifiers are surfaced for manual retry.
type PartialDeleteError struct {
	FailedIDs []string
	Errs      []error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("update applied but %d deletion(s) failed: %s",
		len(e.FailedIDs), strings.Join(e.FailedIDs, ", "))
}

// Applier commits merge decisions against the asset catalog.
type Applier struct {
	catalog Catalog
}

func NewApplier(catalog Catalog) *Applier {
	return &Applier{catalog: catalog}
}

// Apply commits a decision: update the canonical asset's metadata first,
// then delete the remaining members one by one. An update failure aborts
// everything and leaves the decision resolved for a retry. Delete failures
// never roll back the update; they are reported as a PartialDeleteError
// and the decision still transitions to applied.
func (a *Applier) Apply(decision *MergeDecision) error {
	switch decision.State {
	case StateApplied:
		return errors.New("decision already applied")
	case StateResolved:
	default:
		return fmt.Errorf("decision for group %s is not resolved", decision.GroupID)
	}

	update := buildUpdate(decision.Merged)
	if _, err := a.catalog.UpdateAsset(decision.KeepID, update); err != nil {
		return fmt.Errorf("failed to update canonical asset %s: %w", decision.KeepID, err)
	}

	// One request per asset so a rejection identifies exactly which
	// deletion failed
	var failed []string
	var errs []error
	for _, id := range decision.DeleteIDs {
		if err := a.catalog.DeleteAssets([]string{id}); err != nil {
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("failed to delete asset %s: %w", id, err))
		}
	}

	decision.State = StateApplied

	if len(failed) > 0 {
		return &PartialDeleteError{FailedIDs: failed, Errs: errs}
	}
	return nil
}

func buildUpdate(merged MergedFields) immich.AssetUpdate {
	update := immich.AssetUpdate{
		IsFavorite:  &merged.IsFavorite,
		Description: &merged.Description,
	}
	if merged.DateTimeOriginal != "" {
		update.DateTimeOriginal = &merged.DateTimeOriginal
	}
	if merged.Latitude != nil && merged.Longitude != nil {
		update.Latitude = merged.Latitude
		update.Longitude = merged.Longitude
	}
	if merged.Rating != nil {
		update.Rating = merged.Rating
	}
	if merged.LivePhotoVideoID != nil {
		update.LivePhotoVideoID = merged.LivePhotoVideoID
	}
	if merged.Visibility != "" {
		update.Visibility = &merged.Visibility
	}
	return update
}
