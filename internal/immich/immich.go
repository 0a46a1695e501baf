package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client represents a client for the Immich API
type Client struct {
	Url        string
	parsedURL  *url.URL
	apiKey     string
	httpClient *http.Client
	captureDir string
}

// NewClient creates a new Immich client. The timeout applies to every
// request; pass 0 to use the default of 2000ms.
func NewClient(rawURL, apiKey string, timeoutMs int) (*Client, error) {
	return NewClientWithCapture(rawURL, apiKey, timeoutMs, "")
}

// NewClientWithCapture creates a new Immich client with optional response capturing.
// Pass an empty captureDir to disable capturing.
func NewClientWithCapture(rawURL, apiKey string, timeoutMs int, captureDir string) (*Client, error) {
	apiURL := strings.TrimSuffix(rawURL, "/") + "/api"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Immich URL: %w", err)
	}
	if timeoutMs <= 0 {
		timeoutMs = 2000
	}
	c := &Client{
		Url:        apiURL,
		parsedURL:  parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
	if captureDir != "" {
		if err := c.SetCaptureDir(captureDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// resolveURL builds a full URL from the base API URL and the given path segments.
// If the last segment contains a query string (e.g. "assets/x/thumbnail?size=preview"),
// it is split so JoinPath only receives the path portion and the query is appended.
func (c *Client) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return c.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := c.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// Ping checks whether the Immich server is reachable.
func (c *Client) Ping() error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.resolveURL("server", "ping"), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

// ValidateAPIKey verifies the configured API key against the server.
// An invalid key is fatal to the whole session, not to a single call.
func (c *Client) ValidateAPIKey() error {
	if _, err := doGetJSON[map[string]any](c, "system-config"); err != nil {
		return fmt.Errorf("API key validation failed: %w", err)
	}
	return nil
}

// readErrorBody reads the response body for error messages.
// Returns a placeholder if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(r)
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

// SetCaptureDir enables API response capturing to the specified directory.
// Pass an empty string to disable capturing.
func (c *Client) SetCaptureDir(dir string) error {
	if dir == "" {
		c.captureDir = ""
		return nil
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("could not create capture directory: %w", err)
	}
	c.captureDir = dir
	return nil
}

// captureResponse saves the API response body to a file if capturing is enabled.
// The filename is generated from the endpoint name.
func (c *Client) captureResponse(endpoint string, body []byte) {
	if c.captureDir == "" {
		return
	}

	// Sanitize endpoint for filename
	filename := strings.ReplaceAll(endpoint, "/", "_")
	filename = strings.TrimPrefix(filename, "_")
	timestamp := time.Now().Format("20060102_150405")
	filename = fmt.Sprintf("%s_%s.json", filename, timestamp)

	filepath := filepath.Join(c.captureDir, filename)

	// Pretty-print JSON if possible
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, body, "", "  "); err == nil {
		body = prettyJSON.Bytes()
	}

	// WriteFile error is non-critical for capturing - log and continue
	if err := os.WriteFile(filepath, body, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to capture response to %s: %v\n", filepath, err)
	}
}
