package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"foureyes/internal/githubdata"
	"foureyes/internal/reconcile"
	"foureyes/internal/store"
	"foureyes/internal/verification"

	"github.com/go-chi/chi/v5"
)

const (
	MaxPayloadBytes  = 1_000_000 // 1 MB
	DefaultListLimit = 50

	// auditActorHeader identifies the human behind dashboard-triggered
	// actions in the status history
	auditActorHeader = "X-Audit-User"
)

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deploymentView is the API shape of a deployment with display metadata
type deploymentView struct {
	store.Deployment
	StatusLabel    string `json:"status_label"`
	NeedsAttention bool   `json:"needs_attention"`
}

// HandleGetDeployment returns one deployment and its current verdict
func (s *Server) HandleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deploymentID(w, r)
	if !ok {
		return
	}

	d, err := s.Store.Deployment(r.Context(), id)
	if err != nil {
		s.Logger.Error("Failed to load deployment", "deployment_id", id, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load deployment"})
		return
	}
	if d == nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown deployment"})
		return
	}

	info := d.Status.Info()
	s.respondJSON(w, http.StatusOK, deploymentView{
		Deployment:     *d,
		StatusLabel:    info.Label,
		NeedsAttention: info.NeedsAttention,
	})
}

// HandleGetHistory returns the append-only status trail of a deployment
func (s *Server) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deploymentID(w, r)
	if !ok {
		return
	}

	history, err := s.Store.StatusHistory(r.Context(), id)
	if err != nil {
		s.Logger.Error("Failed to load status history", "deployment_id", id, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load status history"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": id,
		"history":       history,
	})
}

// HandleListDeployments returns the recent deployments of an application
func (s *Server) HandleListDeployments(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")

	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	deployments, err := s.Store.DeploymentsForApp(r.Context(), appName, limit)
	if err != nil {
		s.Logger.Error("Failed to list deployments", "app", appName, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list deployments"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"app":         appName,
		"deployments": deployments,
	})
}

// recordDeploymentRequest is the POST body for recording a deployment
type recordDeploymentRequest struct {
	Environment string    `json:"environment"`
	CommitSHA   string    `json:"commit_sha"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// HandleRecordDeployment records a new deployment and verifies it
// asynchronously
func (s *Server) HandleRecordDeployment(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")

	if _, ok := s.Runner.Apps[appName]; !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown application"})
		return
	}

	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	var req recordDeploymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	if req.Environment == "" || req.CommitSHA == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "environment and commit_sha are required"})
		return
	}

	id, err := s.Store.RecordDeployment(r.Context(), appName, req.Environment, req.CommitSHA, req.CreatedAt)
	if err != nil {
		s.Logger.Error("Failed to record deployment", "app", appName, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record deployment"})
		return
	}

	// Verify asynchronously; recording must stay fast for CI callers
	s.jobWg.Add(1)
	go func() {
		defer s.jobWg.Done()
		// Do not reuse the request context; the caller is gone by now
		ctx, cancel := contextWithJobTimeout()
		defer cancel()
		if _, err := s.Runner.VerifyDeployment(ctx, id, store.SourceVerification, "api"); err != nil {
			s.Logger.Error("Async verification failed", "deployment_id", id, "error", err)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"deployment_id": id,
		"status":        "pending",
	})
}

// HandleVerify runs full verification for one deployment synchronously
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deploymentID(w, r)
	if !ok {
		return
	}

	res, err := s.Runner.VerifyDeployment(r.Context(), id, store.SourceVerification, s.auditActor(r))
	if err != nil {
		if githubdata.IsRateLimit(err) {
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "GitHub rate limit exceeded, try again later",
			})
			return
		}
		s.Logger.Error("Verification failed", "deployment_id", id, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("Verification failed: %v", err)})
		return
	}

	s.respondJSON(w, http.StatusOK, res)
}

// overrideRequest is the POST body for a human status override
type overrideRequest struct {
	Status verification.Status `json:"status"`
	Reason string              `json:"reason"`
}

// HandleOverride records a human-driven status override, such as a manual
// approval or a baseline confirmation. Computed statuses cannot be forced.
func (s *Server) HandleOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deploymentID(w, r)
	if !ok {
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxPayloadBytes)).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	if !req.Status.Valid() || !overridableStatus(req.Status) {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Status is not a valid override target"})
		return
	}
	if req.Reason == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}

	d, err := s.Store.Deployment(r.Context(), id)
	if err != nil {
		s.Logger.Error("Failed to load deployment", "deployment_id", id, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load deployment"})
		return
	}
	if d == nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown deployment"})
		return
	}
	if req.Status == verification.StatusBaseline && d.Status != verification.StatusPendingBaseline {
		s.respondJSON(w, http.StatusConflict, map[string]string{
			"error": "Baseline can only confirm a deployment awaiting baseline confirmation",
		})
		return
	}

	if err := s.Store.ApplyOverride(r.Context(), id, req.Status, req.Reason, s.auditActor(r)); err != nil {
		s.Logger.Error("Failed to apply override", "deployment_id", id, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to apply override"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": id,
		"status":        req.Status,
	})
}

// overridableStatus limits overrides to human-driven statuses plus
// baseline; baseline additionally requires the deployment to currently
// await baseline confirmation, checked against the loaded record
func overridableStatus(status verification.Status) bool {
	if status.Info().ManualOnly {
		return true
	}
	return status == verification.StatusBaseline
}

// HandleReconcile runs the cache-only diff job for an application and
// optionally applies the corrections
func (s *Server) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")

	if _, ok := s.Runner.Apps[appName]; !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown application"})
		return
	}

	apply := r.URL.Query().Get("apply") == "true"
	jobID := reconcile.NewJobID()

	drifts, counts, err := s.Runner.RunDiffJob(r.Context(), jobID, appName)
	if err != nil {
		s.Logger.Error("Reconciliation failed", "app", appName, "job_id", jobID, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Reconciliation failed"})
		return
	}

	applied := 0
	if apply && len(drifts) > 0 {
		applied, err = s.Runner.Apply(r.Context(), drifts, s.auditActor(r))
		if err != nil {
			s.Logger.Error("Applying corrections failed", "app", appName, "job_id", jobID, "error", err)
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   "Applying corrections failed",
				"applied": applied,
			})
			return
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  jobID,
		"counts":  counts,
		"drifts":  drifts,
		"applied": applied,
	})
}

// HandleFetch starts an asynchronous bulk snapshot-fetch job
func (s *Server) HandleFetch(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "appName")

	if _, ok := s.Runner.Apps[appName]; !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown application"})
		return
	}

	jobID := reconcile.NewJobID()

	s.jobWg.Add(1)
	go func() {
		defer s.jobWg.Done()
		ctx, cancel := contextWithJobTimeout()
		defer cancel()
		if _, err := s.Runner.RunFetchJob(ctx, jobID, appName); err != nil {
			s.Logger.Error("Fetch job failed", "app", appName, "job_id", jobID, "error", err)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// HandleGetJob returns the progress of a bulk job
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.Store.Job(r.Context(), jobID)
	if err != nil {
		s.Logger.Error("Failed to load job", "job_id", jobID, "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load job"})
		return
	}
	if job == nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown job"})
		return
	}

	s.respondJSON(w, http.StatusOK, job)
}

// HandleCancelJob flags a running bulk job for cooperative cancellation
func (s *Server) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if s.Hooks != nil {
		s.Hooks.Cancel(jobID)
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
}

// deploymentID parses the deployment id URL parameter, responding with 400
// on garbage
func (s *Server) deploymentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "deploymentID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid deployment id"})
		return 0, false
	}
	return id, true
}

// auditActor identifies who triggered a change, for the status history
func (s *Server) auditActor(r *http.Request) string {
	if actor := r.Header.Get(auditActorHeader); actor != "" {
		return actor
	}
	return "api"
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
