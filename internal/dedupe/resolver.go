package dedupe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"immich-deduper/internal/immich"
)

// mergedDateFormat is the normalized representation of the merged capture
// timestamp: UTC with millisecond precision.
const mergedDateFormat = "2006-01-02T15:04:05.000Z"

var visibilityRank = map[string]int{
	immich.VisibilityLocked:   3,
	immich.VisibilityHidden:   2,
	immich.VisibilityArchive:  1,
	immich.VisibilityTimeline: 0,
}

// Resolve computes the merge decision for a duplicate group: canonical
// selection by largest resolution, then largest file size, then group
// order; merged fields per the fixed rules below. The same group in the
// same order always yields the same decision.
func Resolve(group immich.DuplicateGroup) (*MergeDecision, error) {
	if len(group.Assets) < 2 {
		return nil, fmt.Errorf("duplicate group %s has %d members, need at least 2", group.DuplicateID, len(group.Assets))
	}

	canonical := selectCanonical(group.Assets)

	decision := &MergeDecision{
		GroupID: group.DuplicateID,
		KeepID:  canonical.ID,
		Merged: MergedFields{
			IsFavorite:       mergeFavorite(group.Assets),
			DateTimeOriginal: mergeDate(group.Assets),
			Description:      mergeDescription(group.Assets),
			Rating:           mergeRating(group.Assets),
			LivePhotoVideoID: canonical.LivePhotoVideoID,
			Visibility:       mergeVisibility(group.Assets),
		},
		State:   StateResolved,
		members: group.Assets,
	}
	decision.Merged.Latitude, decision.Merged.Longitude = mergeLocation(group.Assets)
	decision.DeleteIDs = deletionCandidates(group.Assets, canonical.ID)

	return decision, nil
}

// SetKeeper re-selects the canonical asset. Only the deletion-candidate
// set is recomputed; the merged fields keep their resolved (or overridden)
// values.
func (d *MergeDecision) SetKeeper(assetID string) error {
	if d.State == StateApplied {
		return errors.New("decision already applied")
	}

	found := false
	for _, a := range d.members {
		if a.ID == assetID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("asset %s is not a member of group %s", assetID, d.GroupID)
	}

	d.KeepID = assetID
	d.DeleteIDs = deletionCandidates(d.members, assetID)
	return nil
}

func selectCanonical(assets []immich.Asset) immich.Asset {
	best := assets[0]
	for _, a := range assets[1:] {
		switch {
		case a.Resolution() > best.Resolution():
			best = a
		case a.Resolution() == best.Resolution() && a.ExifInfo.FileSizeInByte > best.ExifInfo.FileSizeInByte:
			best = a
		}
	}
	return best
}

func deletionCandidates(assets []immich.Asset, keepID string) []string {
	ids := make([]string, 0, len(assets)-1)
	for _, a := range assets {
		if a.ID != keepID {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func mergeFavorite(assets []immich.Asset) bool {
	for _, a := range assets {
		if a.IsFavorite {
			return true
		}
	}
	return false
}

// mergeDate returns the earliest parseable capture timestamp, normalized
// to UTC with millisecond precision. Members without a parseable date are
// ignored; the result is empty when none has one.
func mergeDate(assets []immich.Asset) string {
	var earliest time.Time
	for _, a := range assets {
		t, err := parseAssetDate(a.ExifInfo.DateTimeOriginal)
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if earliest.IsZero() {
		return ""
	}
	return earliest.UTC().Format(mergedDateFormat)
}

func parseAssetDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func mergeDescription(assets []immich.Asset) string {
	var b strings.Builder
	for _, a := range assets {
		b.WriteString(a.ExifInfo.Description)
	}
	return b.String()
}

// mergeLocation returns the first member's complete coordinate pair in
// group order. Latitude and longitude always travel together.
func mergeLocation(assets []immich.Asset) (*float64, *float64) {
	for _, a := range assets {
		if a.ExifInfo.Latitude != nil && a.ExifInfo.Longitude != nil {
			return a.ExifInfo.Latitude, a.ExifInfo.Longitude
		}
	}
	return nil, nil
}

func mergeRating(assets []immich.Asset) *int {
	var max *int
	for _, a := range assets {
		r := a.ExifInfo.Rating
		if r == nil {
			continue
		}
		if max == nil || *r > *max {
			v := *r
			max = &v
		}
	}
	return max
}

func mergeVisibility(assets []immich.Asset) string {
	merged := immich.VisibilityTimeline
	for _, a := range assets {
		if visibilityRank[a.Visibility] > visibilityRank[merged] {
			merged = a.Visibility
		}
	}
	return merged
}
