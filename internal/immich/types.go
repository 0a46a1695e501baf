package immich

// Asset type constants as reported by the Immich API
const (
	AssetTypeImage = "IMAGE"
	AssetTypeVideo = "VIDEO"
)

// Visibility levels, ordered from least to most restrictive
const (
	VisibilityTimeline = "timeline"
	VisibilityArchive  = "archive"
	VisibilityHidden   = "hidden"
	VisibilityLocked   = "locked"
)

// ExifInfo holds the EXIF metadata block of an asset
type ExifInfo struct {
	ExifImageWidth   int      `json:"exifImageWidth"`
	ExifImageHeight  int      `json:"exifImageHeight"`
	FileSizeInByte   int64    `json:"fileSizeInByte"`
	DateTimeOriginal string   `json:"dateTimeOriginal"`
	Description      string   `json:"description"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	Rating           *int     `json:"rating"`
}

// Asset represents an Immich asset. Assets are immutable snapshots and are
// fetched fresh on each read; nothing here is cached across a session.
type Asset struct {
	ID               string   `json:"id"`
	OriginalFileName string   `json:"originalFileName"`
	Type             string   `json:"type"`
	IsFavorite       bool     `json:"isFavorite"`
	IsArchived       bool     `json:"isArchived"`
	IsTrashed        bool     `json:"isTrashed"`
	Visibility       string   `json:"visibility"`
	LivePhotoVideoID *string  `json:"livePhotoVideoId"`
	ExifInfo         ExifInfo `json:"exifInfo"`
}

// Resolution returns the pixel count (width x height) of the asset.
func (a *Asset) Resolution() int64 {
	return int64(a.ExifInfo.ExifImageWidth) * int64(a.ExifInfo.ExifImageHeight)
}

// AssetUpdate represents fields that can be updated on an asset
type AssetUpdate struct {
	IsFavorite       *bool    `json:"isFavorite,omitempty"`
	DateTimeOriginal *string  `json:"dateTimeOriginal,omitempty"`
	Description      *string  `json:"description,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Rating           *int     `json:"rating,omitempty"`
	LivePhotoVideoID *string  `json:"livePhotoVideoId,omitempty"`
	Visibility       *string  `json:"visibility,omitempty"`
}

// DuplicateGroup is a set of two or more assets the server considers
// duplicates of one another. Groups are computed server-side; the core
// never invents them.
type DuplicateGroup struct {
	DuplicateID string  `json:"duplicateId"`
	Assets      []Asset `json:"assets"`
}
