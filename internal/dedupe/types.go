// Package dedupe resolves duplicate groups into merge decisions and
// commits them against the Immich server.
package dedupe

import "immich-deduper/internal/immich"

// GroupState tracks a duplicate group through its workflow. Applied is
// terminal: an applied decision can never be changed or re-applied.
type GroupState string

const (
	StateUnresolved GroupState = "unresolved"
	StateResolved   GroupState = "resolved"
	StateApplied    GroupState = "applied"
)

// MergedFields is the field-by-field merged metadata payload written to
// the canonical asset on apply. Every field may be overridden by the
// operator before applying.
type MergedFields struct {
	IsFavorite       bool     `json:"isFavorite"`
	DateTimeOriginal string   `json:"dateTimeOriginal"`
	Description      string   `json:"description"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	Rating           *int     `json:"rating"`
	LivePhotoVideoID *string  `json:"livePhotoVideoId"`
	Visibility       string   `json:"visibility"`
}

// MergeDecision holds the outcome of resolving one duplicate group: which
// asset to keep, which to delete, and the merged metadata. It is mutable
// until applied.
type MergeDecision struct {
	GroupID   string       `json:"groupId"`
	KeepID    string       `json:"keepImageId"`
	DeleteIDs []string     `json:"deleteIds"`
	Merged    MergedFields `json:"merged"`
	State     GroupState   `json:"state"`

	members []immich.Asset
}

// Members returns the group members the decision was resolved from, in
// group order.
func (d *MergeDecision) Members() []immich.Asset {
	return d.members
}
