package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"immich-deduper/internal/dedupe"
	"immich-deduper/internal/fingerprint"
	"immich-deduper/internal/immich"
	"immich-deduper/internal/index"
	"immich-deduper/internal/indexer"
	"immich-deduper/internal/store"
)

type fakeImmich struct {
	groups     []immich.DuplicateGroup
	groupsErr  error
	assets     []immich.Asset
	updates    []string
	deleted    []string
	failDelete map[string]bool
	updateErr  error
}

func (f *fakeImmich) GetDuplicateGroups() ([]immich.DuplicateGroup, error) {
	return f.groups, f.groupsErr
}

func (f *fakeImmich) UpdateAsset(assetID string, _ immich.AssetUpdate) (*immich.Asset, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, assetID)
	return &immich.Asset{ID: assetID}, nil
}

func (f *fakeImmich) DeleteAssets(assetIDs []string) error {
	for _, id := range assetIDs {
		if f.failDelete[id] {
			return fmt.Errorf("asset %s is locked", id)
		}
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeImmich) ListAssets(assetType string) ([]immich.Asset, error) {
	var out []immich.Asset
	for _, a := range f.assets {
		if assetType == "" || a.Type == assetType {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeImmich) GetAssetImage(assetID string, _ immich.ImageResolution) ([]byte, string, error) {
	return []byte("image-" + assetID), "image/jpeg", nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, assetID string, _ []byte) (*fingerprint.Fingerprint, error) {
	return &fingerprint.Fingerprint{
		AssetID:   assetID,
		PHash:     "00000000000000ff",
		DHash:     "000000000000ff00",
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
	}, nil
}

func testGroup() immich.DuplicateGroup {
	return immich.DuplicateGroup{
		DuplicateID: "group-1",
		Assets: []immich.Asset{
			{
				ID:         "small",
				Type:       immich.AssetTypeImage,
				Visibility: immich.VisibilityTimeline,
				ExifInfo:   immich.ExifInfo{ExifImageWidth: 100, ExifImageHeight: 100, FileSizeInByte: 500},
			},
			{
				ID:         "large",
				Type:       immich.AssetTypeImage,
				Visibility: immich.VisibilityHidden,
				ExifInfo:   immich.ExifInfo{ExifImageWidth: 200, ExifImageHeight: 100, FileSizeInByte: 300},
			},
		},
	}
}

func newTestServer(t *testing.T, fake *fakeImmich) *Server {
	t.Helper()

	record, err := store.Open(filepath.Join(t.TempDir(), "processed.db"))
	if err != nil {
		t.Fatalf("failed to open record: %v", err)
	}
	t.Cleanup(func() { record.Close() })

	idx := index.New()
	deps := Deps{
		Duplicates: fake,
		Catalog:    fake,
		Indexer:    indexer.New(fake, stubExtractor{}, record, idx),
		Index:      idx,
		IndexPath:  filepath.Join(t.TempDir(), "index.bin"),
	}
	return NewServer(deps, "localhost", 0)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeImmich{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
}

func TestListDuplicates(t *testing.T) {
	s := newTestServer(t, &fakeImmich{groups: []immich.DuplicateGroup{testGroup()}})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/duplicates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var decisions []struct {
		GroupID     string   `json:"groupId"`
		KeepImageID string   `json:"keepImageId"`
		DeleteIDs   []string `json:"deleteIds"`
		State       string   `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decisions); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].KeepImageID != "large" {
		t.Errorf("keeper = %s; want large", decisions[0].KeepImageID)
	}
	if decisions[0].State != "resolved" {
		t.Errorf("state = %s; want resolved", decisions[0].State)
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	s := newTestServer(t, &fakeImmich{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/duplicates/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", rec.Code)
	}
}

func TestSetKeeper(t *testing.T) {
	s := newTestServer(t, &fakeImmich{groups: []immich.DuplicateGroup{testGroup()}})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/duplicates/group-1/keeper",
		`{"keepImageId":"small"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200: %s", rec.Code, rec.Body.String())
	}

	var decision struct {
		KeepImageID string   `json:"keepImageId"`
		DeleteIDs   []string `json:"deleteIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if decision.KeepImageID != "small" {
		t.Errorf("keeper = %s; want small", decision.KeepImageID)
	}
	if len(decision.DeleteIDs) != 1 || decision.DeleteIDs[0] != "large" {
		t.Errorf("deleteIds = %v; want [large]", decision.DeleteIDs)
	}
}

func TestSetKeeperRejectsNonMember(t *testing.T) {
	s := newTestServer(t, &fakeImmich{groups: []immich.DuplicateGroup{testGroup()}})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/duplicates/group-1/keeper",
		`{"keepImageId":"stranger"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d; want 409", rec.Code)
	}
}

func TestOverrideFields(t *testing.T) {
	s := newTestServer(t, &fakeImmich{groups: []immich.DuplicateGroup{testGroup()}})

	rec := doRequest(t, s, http.MethodPut, "/api/v1/duplicates/group-1/fields",
		`{"description":"operator text","rating":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200: %s", rec.Code, rec.Body.String())
	}

	var decision struct {
		Merged dedupe.MergedFields `json:"merged"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if decision.Merged.Description != "operator text" {
		t.Errorf("description = %q; want operator override", decision.Merged.Description)
	}
	if decision.Merged.Rating == nil || *decision.Merged.Rating != 4 {
		t.Errorf("rating = %v; want 4", decision.Merged.Rating)
	}
	// Untouched fields keep their resolved values
	if decision.Merged.Visibility != immich.VisibilityHidden {
		t.Errorf("visibility = %s; want hidden", decision.Merged.Visibility)
	}
}

func TestOverrideFieldsRejectsHalfCoordinate(t *testing.T) {
	s := newTestServer(t, &fakeImmich{groups: []immich.DuplicateGroup{testGroup()}})

	rec := doRequest(t, s, http.MethodPut, "/api/v1/duplicates/group-1/fields",
		`{"latitude":49.19}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
}

func TestApply(t *testing.T) {
	fake := &fakeImmich{groups: []immich.DuplicateGroup{testGroup()}}
	s := newTestServer(t, fake)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/duplicates/group-1/apply", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200: %s", rec.Code, rec.Body.String())
	}

	if len(fake.updates) != 1 || fake.updates[0] != "large" {
		t.Errorf("updated = %v; want [large]", fake.updates)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "small" {
		t.Errorf("deleted = %v; want [small]", fake.deleted)
	}

	// Applying twice must be refused
	rec = doRequest(t, s, http.MethodPost, "/api/v1/duplicates/group-1/apply", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second apply status = %d; want 409", rec.Code)
	}
}

func TestApplyReportsFailedDeletes(t *testing.T) {
	fake := &fakeImmich{
		groups:     []immich.DuplicateGroup{testGroup()},
		failDelete: map[string]bool{"small": true},
	}
	s := newTestServer(t, fake)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/duplicates/group-1/apply", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		State         string   `json:"state"`
		FailedDeletes []string `json:"failedDeletes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.State != "applied" {
		t.Errorf("state = %s; want applied", resp.State)
	}
	if len(resp.FailedDeletes) != 1 || resp.FailedDeletes[0] != "small" {
		t.Errorf("failedDeletes = %v; want [small]", resp.FailedDeletes)
	}
}

func TestIndexJobLifecycle(t *testing.T) {
	fake := &fakeImmich{assets: []immich.Asset{
		{ID: "a", Type: immich.AssetTypeImage},
		{ID: "b", Type: immich.AssetTypeImage},
	}}
	s := newTestServer(t, fake)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/index", `{"force":false}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d; want 202: %s", rec.Code, rec.Body.String())
	}

	var started JobView
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if started.ID == "" {
		t.Fatal("job ID missing")
	}

	view := waitForJob(t, s, started.ID)
	if view.Status != JobStatusCompleted {
		t.Fatalf("job status = %s; want completed (error: %s)", view.Status, view.Error)
	}
	if view.Result == nil || view.Result.Processed != 2 {
		t.Errorf("unexpected job result: %+v", view.Result)
	}
}

func TestIndexStatusUnknownJob(t *testing.T) {
	s := newTestServer(t, &fakeImmich{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/index/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", rec.Code)
	}
}

func TestJobManagerRefusesConcurrentJobs(t *testing.T) {
	m := NewJobManager()
	release := make(chan struct{})

	first, err := m.Start(func(ctx context.Context, job *IndexJob) {
		<-release
		job.finish(&indexer.Result{}, nil)
	})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	if _, err := m.Start(func(context.Context, *IndexJob) {}); err != ErrJobRunning {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}

	close(release)
	waitForStatus(t, m, first.Snapshot().ID, JobStatusCompleted)

	// A finished job no longer blocks new ones
	second, err := m.Start(func(ctx context.Context, job *IndexJob) {
		job.finish(&indexer.Result{}, nil)
	})
	if err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
	waitForStatus(t, m, second.Snapshot().ID, JobStatusCompleted)
}

func waitForJob(t *testing.T, s *Server, jobID string) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/index/"+jobID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status poll failed: %d", rec.Code)
		}
		var view JobView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("invalid response: %v", err)
		}
		if view.Status != JobStatusRunning {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return JobView{}
}

func waitForStatus(t *testing.T, m *JobManager, jobID string, want JobStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Get(jobID).Snapshot().Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached status %s", want)
}
