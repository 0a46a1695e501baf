package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"immich-deduper/internal/dedupe"
	"immich-deduper/internal/immich"
	"immich-deduper/internal/indexer"
)

const errInvalidRequestBody = "invalid request body"

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type decisionResponse struct {
	*dedupe.MergeDecision
	Assets []immich.Asset `json:"assets"`
}

func newDecisionResponse(d *dedupe.MergeDecision) decisionResponse {
	return decisionResponse{MergeDecision: d, Assets: d.Members()}
}

// decisionFor returns the cached decision for a group, resolving it on
// first access. Decisions stay cached so overrides survive between
// requests until applied.
func (s *Server) decisionFor(group immich.DuplicateGroup) (*dedupe.MergeDecision, error) {
	s.decisionsMu.Lock()
	defer s.decisionsMu.Unlock()

	if d, ok := s.decisions[group.DuplicateID]; ok {
		return d, nil
	}

	d, err := dedupe.Resolve(group)
	if err != nil {
		return nil, err
	}
	s.decisions[group.DuplicateID] = d
	return d, nil
}

// cachedDecision looks up a decision without resolving, fetching groups
// from the server when the cache misses.
func (s *Server) cachedDecision(groupID string) (*dedupe.MergeDecision, error) {
	s.decisionsMu.Lock()
	d, ok := s.decisions[groupID]
	s.decisionsMu.Unlock()
	if ok {
		return d, nil
	}

	groups, err := s.deps.Duplicates.GetDuplicateGroups()
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.DuplicateID == groupID {
			return s.decisionFor(g)
		}
	}
	return nil, nil
}

func (s *Server) handleListDuplicates(w http.ResponseWriter, _ *http.Request) {
	groups, err := s.deps.Duplicates.GetDuplicateGroups()
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch duplicate groups: %v", err))
		return
	}

	decisions := make([]decisionResponse, 0, len(groups))
	for _, g := range groups {
		d, err := s.decisionFor(g)
		if err != nil {
			log.Printf("skipping group %s: %v", g.DuplicateID, err)
			continue
		}
		decisions = append(decisions, newDecisionResponse(d))
	}

	respondJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.cachedDecision(chi.URLParam(r, "groupId"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "duplicate group not found")
		return
	}
	respondJSON(w, http.StatusOK, newDecisionResponse(d))
}

func (s *Server) handleSetKeeper(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepImageID string `json:"keepImageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.KeepImageID == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	d, err := s.cachedDecision(chi.URLParam(r, "groupId"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "duplicate group not found")
		return
	}

	if err := d.SetKeeper(req.KeepImageID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newDecisionResponse(d))
}

// fieldOverrides carries operator overrides for individual merged fields.
// Only the fields present in the request are touched; latitude and
// longitude must come as a pair.
type fieldOverrides struct {
	IsFavorite       *bool    `json:"isFavorite"`
	DateTimeOriginal *string  `json:"dateTimeOriginal"`
	Description      *string  `json:"description"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	Rating           *int     `json:"rating"`
	LivePhotoVideoID *string  `json:"livePhotoVideoId"`
	Visibility       *string  `json:"visibility"`
}

func (s *Server) handleOverrideFields(w http.ResponseWriter, r *http.Request) {
	var req fieldOverrides
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		respondError(w, http.StatusBadRequest, "latitude and longitude must be overridden together")
		return
	}

	d, err := s.cachedDecision(chi.URLParam(r, "groupId"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "duplicate group not found")
		return
	}
	if d.State == dedupe.StateApplied {
		respondError(w, http.StatusConflict, "decision already applied")
		return
	}

	if req.IsFavorite != nil {
		d.Merged.IsFavorite = *req.IsFavorite
	}
	if req.DateTimeOriginal != nil {
		d.Merged.DateTimeOriginal = *req.DateTimeOriginal
	}
	if req.Description != nil {
		d.Merged.Description = *req.Description
	}
	if req.Latitude != nil {
		d.Merged.Latitude = req.Latitude
		d.Merged.Longitude = req.Longitude
	}
	if req.Rating != nil {
		d.Merged.Rating = req.Rating
	}
	if req.LivePhotoVideoID != nil {
		d.Merged.LivePhotoVideoID = req.LivePhotoVideoID
	}
	if req.Visibility != nil {
		d.Merged.Visibility = *req.Visibility
	}

	respondJSON(w, http.StatusOK, newDecisionResponse(d))
}

type applyResponse struct {
	decisionResponse
	FailedDeletes []string `json:"failedDeletes,omitempty"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	d, err := s.cachedDecision(chi.URLParam(r, "groupId"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "duplicate group not found")
		return
	}

	err = s.applier.Apply(d)

	var perr *dedupe.PartialDeleteError
	switch {
	case errors.As(err, &perr):
		// The update went through; surface the failed deletions for
		// manual retry
		respondJSON(w, http.StatusOK, applyResponse{
			decisionResponse: newDecisionResponse(d),
			FailedDeletes:    perr.FailedIDs,
		})
	case err != nil && d.State == dedupe.StateApplied:
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, applyResponse{decisionResponse: newDecisionResponse(d)})
	}
}

func (s *Server) handleStartIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	job, err := s.jobs.Start(func(ctx context.Context, job *IndexJob) {
		result, runErr := s.deps.Indexer.Run(ctx, indexer.Options{
			Force:      req.Force,
			OnProgress: job.setProgress,
		})
		if saveErr := s.deps.Index.Save(s.deps.IndexPath); saveErr != nil {
			log.Printf("failed to persist similarity index: %v", saveErr)
			if runErr == nil {
				runErr = saveErr
			}
		}
		job.finish(result, runErr)
	})
	if errors.Is(err, ErrJobRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelIndex(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusAccepted, job.Snapshot())
}
