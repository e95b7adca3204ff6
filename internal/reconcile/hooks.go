package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"foureyes/internal/store"
)

// Counts is the progress of one bulk job
type Counts struct {
	Processed int `json:"processed"`
	Fetched   int `json:"fetched"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// Hooks is the job-runner contract: cancellation polling and progress
// reporting. Bulk jobs check IsCancelled between deployments and report
// after every one, so a cancelled or crashed run leaves auditable partial
// progress.
type Hooks interface {
	IsCancelled(ctx context.Context, jobID string) bool
	ReportProgress(ctx context.Context, jobID string, counts Counts)
}

// NewJobID returns a fresh job identifier
func NewJobID() string {
	return uuid.NewString()
}

// StoreHooks implements Hooks on the jobs table, with in-process
// cancellation flags
type StoreHooks struct {
	store  *store.Store
	logger *slog.Logger

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewStoreHooks creates store-backed job hooks
func NewStoreHooks(st *store.Store, logger *slog.Logger) *StoreHooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreHooks{
		store:     st,
		logger:    logger,
		cancelled: make(map[string]bool),
	}
}

// Cancel flags a job for cooperative cancellation
func (h *StoreHooks) Cancel(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled[jobID] = true
}

// IsCancelled reports whether the job was flagged or the context ended
func (h *StoreHooks) IsCancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled[jobID]
}

// ReportProgress persists the counters. Progress reporting must not abort
// the job, so storage errors are logged and swallowed.
func (h *StoreHooks) ReportProgress(ctx context.Context, jobID string, c Counts) {
	err := h.store.UpdateJobProgress(ctx, jobID, c.Processed, c.Fetched, c.Skipped, c.Errored)
	if err != nil {
		h.logger.Warn("failed to persist job progress", "job_id", jobID, "error", err)
	}
}
