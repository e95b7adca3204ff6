package store

import (
	"time"

	"foureyes/internal/verification"
)

// Change sources recorded in the status history trail
const (
	SourceVerification   = "verification"
	SourceReverification = "reverification"
	SourceManual         = "manual"
)

// Deployment is one recorded deployment and its current verification state
type Deployment struct {
	ID                int64                           `json:"id"`
	App               string                          `json:"app"`
	Environment       string                          `json:"environment"`
	CommitSHA         string                          `json:"commit_sha"`
	Status            verification.Status             `json:"status"`
	HasFourEyes       bool                            `json:"has_four_eyes"`
	ApprovalMethod    string                          `json:"approval_method"`
	ApprovalReason    string                          `json:"approval_reason"`
	PRNumber          *int                            `json:"pr_number,omitempty"`
	PRURL             *string                         `json:"pr_url,omitempty"`
	UnverifiedCommits []verification.UnverifiedCommit `json:"unverified_commits,omitempty"`
	CreatedAt         time.Time                       `json:"created_at"`
	VerifiedAt        *time.Time                      `json:"verified_at,omitempty"`
}

// StatusChange is one append-only row of the status history trail
type StatusChange struct {
	ID           int64               `json:"id"`
	DeploymentID int64               `json:"deployment_id"`
	FromStatus   verification.Status `json:"from_status"`
	ToStatus     verification.Status `json:"to_status"`
	ChangeSource string              `json:"change_source"`
	ChangedBy    string              `json:"changed_by"`
	ChangedAt    time.Time           `json:"changed_at"`
}

// Job states for bulk jobs
const (
	JobRunning   = "running"
	JobDone      = "done"
	JobCancelled = "cancelled"
	JobFailed    = "failed"
)

// JobRecord is the persisted progress of one bulk job, kept so a cancelled
// or crashed run leaves an auditable, resumable state
type JobRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // reconcile, fetch
	App       string    `json:"app"`
	Status    string    `json:"status"`
	Processed int       `json:"processed"`
	Fetched   int       `json:"fetched"`
	Skipped   int       `json:"skipped"`
	Errored   int       `json:"errored"`
	Error     *string   `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
