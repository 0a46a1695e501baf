package immich

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func loadTestData(t *testing.T, filename string) []byte {
	t.Helper()
	path := filepath.Join("testdata", filename)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load test data %s: %v", filename, err)
	}
	return data
}

func setupMockServer(t *testing.T) *httptest.Server {
	t.Helper()

	assetsData := loadTestData(t, "assets_20260815_101502.json")
	duplicatesData := loadTestData(t, "duplicates_20260815_101503.json")

	var assets []Asset
	if err := json.Unmarshal(assetsData, &assets); err != nil {
		t.Fatalf("bad assets fixture: %v", err)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/server/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"res":"pong"}`))
	})

	mux.HandleFunc("/api/system-config", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "valid-key" {
			http.Error(w, `{"message":"Invalid API key"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"machineLearning":{}}`))
	})

	mux.HandleFunc("/api/assets", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			w.Write(assetsData)
		case http.MethodDelete:
			var payload struct {
				IDs []string `json:"ids"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.IDs) == 0 {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/assets/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/assets/"):]
		for i := range assets {
			if assets[i].ID != id {
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			if r.Method == http.MethodPut {
				var update AssetUpdate
				if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}
				updated := assets[i]
				if update.Description != nil {
					updated.ExifInfo.Description = *update.Description
				}
				if update.IsFavorite != nil {
					updated.IsFavorite = *update.IsFavorite
				}
				json.NewEncoder(w).Encode(updated)
				return
			}
			json.NewEncoder(w).Encode(assets[i])
			return
		}
		http.Error(w, `{"message":"Not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("/api/duplicates", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(duplicatesData)
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(serverURL, "valid-key", 2000)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestPing(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	if err := c.ValidateAPIKey(); err != nil {
		t.Fatalf("ValidateAPIKey failed: %v", err)
	}
}

func TestValidateAPIKey_Invalid(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c, err := NewClient(server.URL, "wrong-key", 2000)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	err = c.ValidateAPIKey()
	if err == nil {
		t.Fatal("expected error for invalid API key")
	}

	if !IsAuthError(err) {
		t.Errorf("expected auth error, got: %v", err)
	}
}

func TestListAssets(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	assets, err := c.ListAssets(AssetTypeImage)
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}

	// Fixture has 2 images and 1 video
	if len(assets) != 2 {
		t.Fatalf("expected 2 image assets, got %d", len(assets))
	}

	for _, a := range assets {
		if a.Type != AssetTypeImage {
			t.Errorf("expected only IMAGE assets, got type '%s'", a.Type)
		}
	}

	first := assets[0]
	if first.ID != "a1f86c7e-0001-4d0a-9f1e-aaaaaaaaaaaa" {
		t.Errorf("unexpected first asset ID '%s'", first.ID)
	}
	if !first.IsFavorite {
		t.Error("expected first asset to be favorite")
	}
	if first.ExifInfo.ExifImageWidth != 4032 {
		t.Errorf("expected width 4032, got %d", first.ExifInfo.ExifImageWidth)
	}
	if first.ExifInfo.Latitude == nil || *first.ExifInfo.Latitude != 43.7102 {
		t.Errorf("unexpected latitude: %v", first.ExifInfo.Latitude)
	}
}

func TestListAssets_AllTypes(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	assets, err := c.ListAssets("")
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}

	if len(assets) != 3 {
		t.Errorf("expected 3 assets without type filter, got %d", len(assets))
	}
}

func TestGetAssetInfo(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	asset, err := c.GetAssetInfo("a1f86c7e-0002-4d0a-9f1e-bbbbbbbbbbbb")
	if err != nil {
		t.Fatalf("GetAssetInfo failed: %v", err)
	}
	if asset == nil {
		t.Fatal("expected asset, got nil")
	}

	if asset.OriginalFileName != "IMG_0001_copy.jpg" {
		t.Errorf("unexpected filename '%s'", asset.OriginalFileName)
	}
	if asset.ExifInfo.Rating != nil {
		t.Errorf("expected nil rating, got %d", *asset.ExifInfo.Rating)
	}
	if asset.Resolution() != 2016*1512 {
		t.Errorf("unexpected resolution %d", asset.Resolution())
	}
}

func TestGetAssetInfo_NotFound(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	asset, err := c.GetAssetInfo("does-not-exist")
	if err != nil {
		t.Fatalf("expected nil error for missing asset, got: %v", err)
	}
	if asset != nil {
		t.Errorf("expected nil asset for missing ID, got %+v", asset)
	}
}

func TestUpdateAsset(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	desc := "merged description"
	fav := true
	updated, err := c.UpdateAsset("a1f86c7e-0002-4d0a-9f1e-bbbbbbbbbbbb", AssetUpdate{
		Description: &desc,
		IsFavorite:  &fav,
	})
	if err != nil {
		t.Fatalf("UpdateAsset failed: %v", err)
	}

	if updated.ExifInfo.Description != "merged description" {
		t.Errorf("expected updated description, got '%s'", updated.ExifInfo.Description)
	}
	if !updated.IsFavorite {
		t.Error("expected favorite to be set")
	}
}

func TestDeleteAssets(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	err := c.DeleteAssets([]string{"a1f86c7e-0002-4d0a-9f1e-bbbbbbbbbbbb"})
	if err != nil {
		t.Fatalf("DeleteAssets failed: %v", err)
	}
}

func TestDeleteAssets_Empty(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	// Empty list is a no-op and must not hit the server
	if err := c.DeleteAssets(nil); err != nil {
		t.Fatalf("DeleteAssets with empty list failed: %v", err)
	}
}

func TestGetDuplicateGroups(t *testing.T) {
	server := setupMockServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL)

	groups, err := c.GetDuplicateGroups()
	if err != nil {
		t.Fatalf("GetDuplicateGroups failed: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}

	group := groups[0]
	if group.DuplicateID != "dd1205c4-0001-44f5-a3fd-000000000000" {
		t.Errorf("unexpected duplicate ID '%s'", group.DuplicateID)
	}
	if len(group.Assets) != 2 {
		t.Errorf("expected 2 assets in group, got %d", len(group.Assets))
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"unauthorized", errStatus(401), true},
		{"forbidden", errStatus(403), true},
		{"not found", errStatus(404), false},
		{"server error", errStatus(500), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAuthError(tc.err); got != tc.expected {
				t.Errorf("IsAuthError(%v) = %v; want %v", tc.err, got, tc.expected)
			}
		})
	}
}

func errStatus(code int) error {
	return fmt.Errorf("request failed with status %d: boom", code)
}
