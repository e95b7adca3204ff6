// Package store persists deployments, their verification verdicts and the
// append-only status history trail in SQLite. Status rows are only ever
// appended; the current status on the deployment row is derived state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"foureyes/internal/verification"
)

// Store manages the audit database
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the audit database at dbPath
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app TEXT NOT NULL,
			environment TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			status TEXT NOT NULL,
			has_four_eyes INTEGER NOT NULL DEFAULT 0,
			approval_method TEXT NOT NULL DEFAULT '',
			approval_reason TEXT NOT NULL DEFAULT '',
			pr_number INTEGER,
			pr_url TEXT,
			unverified_commits TEXT,
			created_at TEXT NOT NULL,
			verified_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_app_env
			ON deployments(app, environment, id DESC)`,
		`CREATE TABLE IF NOT EXISTS status_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id INTEGER NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			change_source TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_status_history_deployment
			ON status_history(deployment_id, id)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			app TEXT NOT NULL,
			status TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			fetched INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			errored INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// RecordDeployment inserts a new deployment in pending state and returns
// its id
func (s *Store) RecordDeployment(ctx context.Context, app, environment, commitSHA string, createdAt time.Time) (int64, error) {
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (app, environment, commit_sha, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, app, environment, commitSHA, string(verification.StatusPending), createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

const deploymentColumns = `id, app, environment, commit_sha, status, has_four_eyes,
	approval_method, approval_reason, pr_number, pr_url, unverified_commits,
	created_at, verified_at`

// Deployment returns a deployment by id, or (nil, nil) when it does not
// exist
func (s *Store) Deployment(ctx context.Context, id int64) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE id = ?
	`, id)

	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment: %w", err)
	}
	return d, nil
}

// PreviousDeployment returns the most recent deployment of the same app
// and environment before the given one, or (nil, nil) when this is the
// first deployment
func (s *Store) PreviousDeployment(ctx context.Context, app, environment string, beforeID int64) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE app = ? AND environment = ? AND id < ?
		ORDER BY id DESC
		LIMIT 1
	`, app, environment, beforeID)

	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query previous deployment: %w", err)
	}
	return d, nil
}

// DeploymentsForApp returns the deployments for an app, newest first.
// A non-positive limit returns everything.
func (s *Store) DeploymentsForApp(ctx context.Context, app string, limit int) ([]Deployment, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE app = ?
		ORDER BY id DESC
		LIMIT ?
	`, app, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// VerifiedDeployments returns the deployments for an app that carry a
// verdict (anything but pending), oldest first, for the diff job
func (s *Store) VerifiedDeployments(ctx context.Context, app string) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE app = ? AND status != ?
		ORDER BY id ASC
	`, app, string(verification.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query verified deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// ApplyResult writes a verification verdict as the deployment's current
// status and appends a status-history row. The history is append-only;
// prior rows are never touched.
func (s *Store) ApplyResult(ctx context.Context, deploymentID int64, res *verification.Result, changeSource, changedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fromStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM deployments WHERE id = ?`, deploymentID,
	).Scan(&fromStatus)
	if err == sql.ErrNoRows {
		return fmt.Errorf("deployment %d not found", deploymentID)
	}
	if err != nil {
		return fmt.Errorf("failed to read current status: %w", err)
	}

	var unverifiedJSON *string
	if len(res.UnverifiedCommits) > 0 {
		encoded, err := json.Marshal(res.UnverifiedCommits)
		if err != nil {
			return fmt.Errorf("failed to encode unverified commits: %w", err)
		}
		str := string(encoded)
		unverifiedJSON = &str
	}

	var prNumber *int
	var prURL *string
	if res.DeployedPR != nil {
		n := res.DeployedPR.Number
		prNumber = &n
		if res.DeployedPR.URL != "" {
			u := res.DeployedPR.URL
			prURL = &u
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, has_four_eyes = ?, approval_method = ?,
		    approval_reason = ?, pr_number = ?, pr_url = ?,
		    unverified_commits = ?, verified_at = ?
		WHERE id = ?
	`, string(res.Status), boolToInt(res.HasFourEyes), res.Approval.Method,
		res.Approval.Reason, prNumber, prURL, unverifiedJSON, now, deploymentID)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_history
		(deployment_id, from_status, to_status, change_source, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, deploymentID, fromStatus, string(res.Status), changeSource, changedBy, now)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verdict: %w", err)
	}
	return nil
}

// ApplyOverride records a human-driven status override (manual approval,
// legacy review) with its own history row
func (s *Store) ApplyOverride(ctx context.Context, deploymentID int64, status verification.Status, reason, changedBy string) error {
	res := &verification.Result{
		Status: status,
		HasFourEyes: status == verification.StatusManuallyApproved ||
			status == verification.StatusBaseline,
		Approval: verification.ApprovalDetails{
			Method: "manual",
			Reason: reason,
		},
	}
	return s.ApplyResult(ctx, deploymentID, res, SourceManual, changedBy)
}

// StatusHistory returns the full status trail for a deployment, oldest
// first
func (s *Store) StatusHistory(ctx context.Context, deploymentID int64) ([]StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deployment_id, from_status, to_status, change_source, changed_by, changed_at
		FROM status_history
		WHERE deployment_id = ?
		ORDER BY id ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var sc StatusChange
		var fromStr, toStr, changedAtStr string
		if err := rows.Scan(&sc.ID, &sc.DeploymentID, &fromStr, &toStr,
			&sc.ChangeSource, &sc.ChangedBy, &changedAtStr); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		sc.FromStatus = verification.Status(fromStr)
		sc.ToStatus = verification.Status(toStr)
		changedAt, err := time.Parse(time.RFC3339, changedAtStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse changed_at timestamp: %w", err)
		}
		sc.ChangedAt = changedAt
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// CreateJob inserts a running bulk-job record
func (s *Store) CreateJob(ctx context.Context, id, kind, app string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, app, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, kind, app, JobRunning, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// UpdateJobProgress persists the running counters of a bulk job
func (s *Store) UpdateJobProgress(ctx context.Context, id string, processed, fetched, skipped, errored int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET processed = ?, fetched = ?, skipped = ?, errored = ?, updated_at = ?
		WHERE id = ?
	`, processed, fetched, skipped, errored, now, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinishJob records the terminal state of a bulk job
func (s *Store) FinishJob(ctx context.Context, id, status string, jobErr error) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var errMsg *string
	if jobErr != nil {
		msg := jobErr.Error()
		errMsg = &msg
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?
	`, status, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// Job returns a job record by id, or (nil, nil) when it does not exist
func (s *Store) Job(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, app, status, processed, fetched, skipped, errored,
		       error_message, started_at, updated_at
		FROM jobs
		WHERE id = ?
	`, id)

	var j JobRecord
	var errMsg sql.NullString
	var startedStr, updatedStr string
	err := row.Scan(&j.ID, &j.Kind, &j.App, &j.Status, &j.Processed, &j.Fetched,
		&j.Skipped, &j.Errored, &errMsg, &startedStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	if errMsg.Valid {
		j.Error = &errMsg.String
	}
	if j.StartedAt, err = time.Parse(time.RFC3339, startedStr); err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return &j, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(s scanner) (*Deployment, error) {
	var d Deployment
	var statusStr, createdAtStr string
	var hasFourEyes int
	var prNumber sql.NullInt64
	var prURL, unverifiedJSON, verifiedAtStr sql.NullString

	err := s.Scan(
		&d.ID,
		&d.App,
		&d.Environment,
		&d.CommitSHA,
		&statusStr,
		&hasFourEyes,
		&d.ApprovalMethod,
		&d.ApprovalReason,
		&prNumber,
		&prURL,
		&unverifiedJSON,
		&createdAtStr,
		&verifiedAtStr,
	)
	if err != nil {
		return nil, err
	}

	d.Status = verification.Status(statusStr)
	d.HasFourEyes = hasFourEyes != 0
	if prNumber.Valid {
		n := int(prNumber.Int64)
		d.PRNumber = &n
	}
	if prURL.Valid {
		d.PRURL = &prURL.String
	}
	if unverifiedJSON.Valid && unverifiedJSON.String != "" {
		if err := json.Unmarshal([]byte(unverifiedJSON.String), &d.UnverifiedCommits); err != nil {
			return nil, fmt.Errorf("failed to decode unverified commits: %w", err)
		}
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	d.CreatedAt = createdAt

	if verifiedAtStr.Valid {
		verifiedAt, err := time.Parse(time.RFC3339, verifiedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse verified_at timestamp: %w", err)
		}
		d.VerifiedAt = &verifiedAt
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
