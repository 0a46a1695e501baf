package dedupe

import (
	"errors"
	"fmt"
	"testing"

	"immich-deduper/internal/immich"
)

type fakeCatalog struct {
	updateErr  error
	updates    []immich.AssetUpdate
	updatedIDs []string
	deleted    []string
	failDelete map[string]bool
}

func (f *fakeCatalog) UpdateAsset(assetID string, update immich.AssetUpdate) (*immich.Asset, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updatedIDs = append(f.updatedIDs, assetID)
	f.updates = append(f.updates, update)
	return &immich.Asset{ID: assetID}, nil
}

func (f *fakeCatalog) DeleteAssets(assetIDs []string) error {
	for _, id := range assetIDs {
		if f.failDelete[id] {
			return fmt.Errorf("asset %s is locked", id)
		}
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func resolvedDecision(t *testing.T) *MergeDecision {
	t.Helper()
	a := asset("keep", 200, 200, 500)
	a.ExifInfo.DateTimeOriginal = "2019-01-01T00:00:00Z"
	a.ExifInfo.Description = "merged text"
	b := asset("gone-1", 100, 100, 400)
	c := asset("gone-2", 100, 100, 300)

	decision, err := Resolve(group(a, b, c))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return decision
}

func TestApplyUpdatesThenDeletes(t *testing.T) {
	catalog := &fakeCatalog{}
	decision := resolvedDecision(t)

	if err := NewApplier(catalog).Apply(decision); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(catalog.updatedIDs) != 1 || catalog.updatedIDs[0] != "keep" {
		t.Errorf("updated = %v; want [keep]", catalog.updatedIDs)
	}
	if len(catalog.deleted) != 2 {
		t.Fatalf("deleted = %v; want both non-canonical members", catalog.deleted)
	}
	if decision.State != StateApplied {
		t.Errorf("state = %s; want applied", decision.State)
	}

	update := catalog.updates[0]
	if update.IsFavorite == nil {
		t.Error("update must always carry the favorite flag")
	}
	if update.Description == nil || *update.Description != "merged text" {
		t.Errorf("update description = %v; want 'merged text'", update.Description)
	}
	if update.DateTimeOriginal == nil || *update.DateTimeOriginal != "2019-01-01T00:00:00.000Z" {
		t.Errorf("update date = %v; want normalized merged date", update.DateTimeOriginal)
	}
	if update.Visibility == nil || *update.Visibility != immich.VisibilityTimeline {
		t.Errorf("update visibility = %v; want timeline", update.Visibility)
	}
}

func TestApplyAbortsWhenUpdateFails(t *testing.T) {
	catalog := &fakeCatalog{updateErr: errors.New("server error")}
	decision := resolvedDecision(t)

	err := NewApplier(catalog).Apply(decision)
	if err == nil {
		t.Fatal("expected error when update fails")
	}

	if len(catalog.deleted) != 0 {
		t.Errorf("nothing may be deleted after a failed update, deleted %v", catalog.deleted)
	}
	if decision.State != StateResolved {
		t.Errorf("state = %s; want resolved so the group can be retried", decision.State)
	}
}

func TestApplyReportsExactFailedDeletions(t *testing.T) {
	catalog := &fakeCatalog{failDelete: map[string]bool{"gone-1": true}}
	decision := resolvedDecision(t)

	err := NewApplier(catalog).Apply(decision)

	var perr *PartialDeleteError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialDeleteError, got %v", err)
	}
	if len(perr.FailedIDs) != 1 || perr.FailedIDs[0] != "gone-1" {
		t.Errorf("failed IDs = %v; want [gone-1]", perr.FailedIDs)
	}

	// The update is not retried and not rolled back
	if len(catalog.updatedIDs) != 1 {
		t.Errorf("update called %d times; want exactly once", len(catalog.updatedIDs))
	}
	// The other deletion still went through
	if len(catalog.deleted) != 1 || catalog.deleted[0] != "gone-2" {
		t.Errorf("deleted = %v; want [gone-2]", catalog.deleted)
	}
	if decision.State != StateApplied {
		t.Errorf("state = %s; want applied despite partial failure", decision.State)
	}
}

func TestApplyRejectsAppliedDecision(t *testing.T) {
	catalog := &fakeCatalog{}
	decision := resolvedDecision(t)

	if err := NewApplier(catalog).Apply(decision); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	if err := NewApplier(catalog).Apply(decision); err == nil {
		t.Fatal("applying twice must fail")
	}
	if len(catalog.updatedIDs) != 1 {
		t.Errorf("update called %d times; want exactly once", len(catalog.updatedIDs))
	}
}

func TestApplyRejectsUnresolvedDecision(t *testing.T) {
	decision := &MergeDecision{GroupID: "g", State: StateUnresolved}

	if err := NewApplier(&fakeCatalog{}).Apply(decision); err == nil {
		t.Fatal("unresolved decisions must not be applied")
	}
}

func TestApplyOmitsAbsentOptionalFields(t *testing.T) {
	catalog := &fakeCatalog{}
	decision := resolvedDecision(t)
	decision.Merged.DateTimeOriginal = ""
	decision.Merged.Latitude = nil
	decision.Merged.Longitude = nil
	decision.Merged.Rating = nil

	if err := NewApplier(catalog).Apply(decision); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	update := catalog.updates[0]
	if update.DateTimeOriginal != nil {
		t.Error("empty merged date must not be sent")
	}
	if update.Latitude != nil || update.Longitude != nil {
		t.Error("absent location must not be sent")
	}
	if update.Rating != nil {
		t.Error("absent rating must not be sent")
	}
}
