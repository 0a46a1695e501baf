package immich

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ImageResolution selects which rendition of an asset to download
type ImageResolution string

const (
	ResolutionThumbnail ImageResolution = "thumbnail"
	ResolutionFullsize  ImageResolution = "fullsize"
	ResolutionOriginal  ImageResolution = "original"
)

// ListAssets retrieves all assets of the given type from Immich.
// Pass an empty assetType to list everything.
func (c *Client) ListAssets(assetType string) ([]Asset, error) {
	result, err := doGetJSON[[]Asset](c, "assets")
	if err != nil {
		return nil, err
	}
	if assetType == "" {
		return *result, nil
	}

	assets := make([]Asset, 0, len(*result))
	for _, asset := range *result {
		if asset.Type == assetType {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

// GetAssetInfo retrieves full asset details including EXIF metadata.
// Returns nil (no error) when the asset does not exist.
func (c *Client) GetAssetInfo(assetID string) (*Asset, error) {
	asset, err := doGetJSON[Asset](c, "assets/"+assetID)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return asset, nil
}

// UpdateAsset updates asset metadata
func (c *Client) UpdateAsset(assetID string, update AssetUpdate) (*Asset, error) {
	return doPutJSON[Asset](c, "assets/"+assetID, update)
}

// DeleteAssets permanently removes the given assets from the server.
// The server responds 204 No Content on success.
func (c *Client) DeleteAssets(assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	payload := struct {
		IDs   []string `json:"ids"`
		Force bool     `json:"force"`
	}{
		IDs:   assetIDs,
		Force: true,
	}

	return doRequestRaw(c, http.MethodDelete, "assets", payload, http.StatusNoContent, http.StatusOK)
}

// GetAssetImage downloads an asset's image content at the requested resolution.
// Returns the image data and the content type.
func (c *Client) GetAssetImage(assetID string, resolution ImageResolution) ([]byte, string, error) {
	var endpoint string
	switch resolution {
	case ResolutionThumbnail, ResolutionFullsize:
		endpoint = fmt.Sprintf("assets/%s/thumbnail?size=%s", assetID, resolution)
	default:
		endpoint = fmt.Sprintf("assets/%s/original", assetID)
	}

	url := c.resolveURL(endpoint)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("could not read response body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	return data, contentType, nil
}

// GetDuplicateGroups retrieves all duplicate groups computed by the server
func (c *Client) GetDuplicateGroups() ([]DuplicateGroup, error) {
	result, err := doGetJSON[[]DuplicateGroup](c, "duplicates")
	if err != nil {
		return nil, err
	}
	return *result, nil
}
