// Package reconcile re-runs the rule engine over stored deployments and
// reconciles the outcome with persisted verdicts. The diff job runs the
// engine in cache-only mode so reconciliation never performs network
// calls; applying a correction re-verifies live and appends to the status
// history with a distinct change source.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"foureyes/internal/config"
	"foureyes/internal/githubdata"
	"foureyes/internal/store"
	"foureyes/internal/verification"
)

// ErrCancelled is returned when a bulk job observes its cancellation flag.
// Progress reported so far stays persisted.
var ErrCancelled = errors.New("job cancelled")

// Drift is one deployment whose freshly computed verdict disagrees with
// the persisted one
type Drift struct {
	DeploymentID   int64               `json:"deployment_id"`
	OldStatus      verification.Status `json:"old_status"`
	NewStatus      verification.Status `json:"new_status"`
	OldHasFourEyes bool                `json:"old_has_four_eyes"`
	NewHasFourEyes bool                `json:"new_has_four_eyes"`
}

// statusAliases maps legacy persisted status names onto current ones so
// cosmetic renames never show up as drift
var statusAliases = map[verification.Status]verification.Status{
	"approved":         verification.StatusApprovedPR,
	"pending_approval": verification.StatusPending,
	"unverified":       verification.StatusUnverifiedCommits,
}

func canonicalStatus(s verification.Status) verification.Status {
	if mapped, ok := statusAliases[s]; ok {
		return mapped
	}
	return s
}

// Runner executes single-deployment verification and the bulk jobs
type Runner struct {
	Store       *store.Store
	Apps        map[string]*config.App
	Live        *githubdata.Builder
	Cached      *githubdata.Builder
	BotAccounts []string
	Hooks       Hooks
	Logger      *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// buildParams assembles the normalizer parameters for one deployment
func (r *Runner) buildParams(app *config.App, d *store.Deployment, prev *store.Deployment) githubdata.BuildParams {
	p := githubdata.BuildParams{
		DeploymentID:     d.ID,
		CommitSHA:        d.CommitSHA,
		Repository:       app.Repository,
		Environment:      d.Environment,
		BaseBranch:       app.BaseBranch,
		CreatedAt:        d.CreatedAt,
		AuditStartYear:   app.AuditStartYear,
		ImplicitApproval: app.ImplicitApproval,
		AutoBaseline:     app.AutoBaseline,
		BotAccounts:      r.BotAccounts,
	}
	if prev != nil {
		p.Previous = &verification.PreviousDeployment{
			ID:        prev.ID,
			CommitSHA: prev.CommitSHA,
			CreatedAt: prev.CreatedAt,
		}
	}
	return p
}

// computeVerdict builds the input and runs the engine for one deployment.
//
// Fetch failures other than rate limiting become an error-status verdict
// scoped to this deployment. Rate limiting, cache-only snapshot gaps and
// malformed input propagate as errors for the caller to handle.
func (r *Runner) computeVerdict(ctx context.Context, d *store.Deployment, cacheOnly bool) (*verification.Result, error) {
	app, ok := r.Apps[d.App]
	if !ok {
		return nil, fmt.Errorf("application %q is not configured", d.App)
	}

	prev, err := r.Store.PreviousDeployment(ctx, d.App, d.Environment, d.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up previous deployment: %w", err)
	}

	builder := r.Live
	if cacheOnly {
		builder = r.Cached
	}
	if builder == nil {
		return nil, fmt.Errorf("no builder configured (cache_only=%t)", cacheOnly)
	}

	input, err := builder.BuildInput(ctx, r.buildParams(app, d, prev))
	if err != nil {
		if githubdata.IsRateLimit(err) || errors.Is(err, githubdata.ErrNoSnapshot) {
			return nil, err
		}
		if cacheOnly {
			return nil, err
		}
		r.logger().Warn("deployment data fetch failed",
			"deployment_id", d.ID, "error", err)
		return verification.ErrorResult(err), nil
	}

	return verification.Verify(input)
}

// VerifyDeployment runs full live verification for one deployment and
// persists the verdict with a status-history row
func (r *Runner) VerifyDeployment(ctx context.Context, deploymentID int64, changeSource, changedBy string) (*verification.Result, error) {
	d, err := r.Store.Deployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deployment %d not found", deploymentID)
	}

	res, err := r.computeVerdict(ctx, d, false)
	if err != nil {
		return nil, err
	}
	if err := r.Store.ApplyResult(ctx, deploymentID, res, changeSource, changedBy); err != nil {
		return nil, err
	}

	r.logger().Info("deployment verified",
		"deployment_id", deploymentID,
		"status", string(res.Status),
		"has_four_eyes", res.HasFourEyes,
		"change_source", changeSource)
	return res, nil
}

// Diff re-verifies an application's deployments in cache-only mode and
// reports drift between stored and freshly computed verdicts.
//
// Deployments whose stored status is manually_approved are excluded: a
// human already overrode automation there. Deployments without usable
// snapshots, or whose cache-only verdict carries data gaps, are counted
// as skipped rather than flagged.
func (r *Runner) Diff(ctx context.Context, jobID, appName string) ([]Drift, Counts, error) {
	var counts Counts

	app, ok := r.Apps[appName]
	if !ok {
		return nil, counts, fmt.Errorf("application %q is not configured", appName)
	}
	if r.Cached == nil {
		return nil, counts, fmt.Errorf("no cache-only builder configured")
	}

	deployments, err := r.Store.VerifiedDeployments(ctx, appName)
	if err != nil {
		return nil, counts, err
	}

	// A repository that was never fetched has nothing to diff against;
	// skip the whole batch instead of probing every deployment
	cached, err := r.Cached.HasSnapshots(ctx, app.Repository)
	if err != nil {
		return nil, counts, err
	}
	if !cached {
		counts.Skipped = len(deployments)
		r.reportProgress(ctx, jobID, counts)
		return nil, counts, nil
	}

	var drifts []Drift
	for i := range deployments {
		if r.Hooks != nil && r.Hooks.IsCancelled(ctx, jobID) {
			return drifts, counts, ErrCancelled
		}
		d := &deployments[i]

		if d.Status == verification.StatusManuallyApproved {
			counts.Skipped++
			r.reportProgress(ctx, jobID, counts)
			continue
		}

		res, err := r.computeVerdict(ctx, d, true)
		if err != nil {
			if errors.Is(err, githubdata.ErrNoSnapshot) {
				counts.Skipped++
			} else {
				r.logger().Warn("cache-only verification failed",
					"deployment_id", d.ID, "error", err)
				counts.Errored++
			}
			r.reportProgress(ctx, jobID, counts)
			continue
		}
		if len(res.DataGaps) > 0 {
			counts.Skipped++
			r.reportProgress(ctx, jobID, counts)
			continue
		}

		counts.Processed++
		if canonicalStatus(d.Status) != canonicalStatus(res.Status) ||
			d.HasFourEyes != res.HasFourEyes {
			drifts = append(drifts, Drift{
				DeploymentID:   d.ID,
				OldStatus:      d.Status,
				NewStatus:      res.Status,
				OldHasFourEyes: d.HasFourEyes,
				NewHasFourEyes: res.HasFourEyes,
			})
		}
		r.reportProgress(ctx, jobID, counts)
	}

	return drifts, counts, nil
}

// Apply corrects drifted deployments by running full live verification and
// persisting the result with change_source = reverification
func (r *Runner) Apply(ctx context.Context, drifts []Drift, changedBy string) (int, error) {
	applied := 0
	for _, drift := range drifts {
		_, err := r.VerifyDeployment(ctx, drift.DeploymentID, store.SourceReverification, changedBy)
		if err != nil {
			return applied, fmt.Errorf("re-verifying deployment %d: %w", drift.DeploymentID, err)
		}
		applied++
	}
	return applied, nil
}

// FetchAll warms the snapshot cache for every deployment of an application
// by building each input in live mode. One deployment's failure increments
// the error counter and never aborts the batch; only rate limiting stops
// the run.
func (r *Runner) FetchAll(ctx context.Context, jobID, appName string) (Counts, error) {
	var counts Counts

	app, ok := r.Apps[appName]
	if !ok {
		return counts, fmt.Errorf("application %q is not configured", appName)
	}
	if r.Live == nil {
		return counts, fmt.Errorf("no live builder configured")
	}

	deployments, err := r.Store.DeploymentsForApp(ctx, appName, 0)
	if err != nil {
		return counts, err
	}

	for i := range deployments {
		if r.Hooks != nil && r.Hooks.IsCancelled(ctx, jobID) {
			return counts, ErrCancelled
		}
		d := &deployments[i]

		prev, err := r.Store.PreviousDeployment(ctx, d.App, d.Environment, d.ID)
		if err != nil {
			counts.Errored++
			r.reportProgress(ctx, jobID, counts)
			continue
		}

		_, err = r.Live.BuildInput(ctx, r.buildParams(app, d, prev))
		switch {
		case err == nil:
			counts.Fetched++
		case githubdata.IsRateLimit(err):
			return counts, err
		default:
			r.logger().Warn("fetch failed", "deployment_id", d.ID, "error", err)
			counts.Errored++
		}
		counts.Processed++
		r.reportProgress(ctx, jobID, counts)
	}

	return counts, nil
}

// RunDiffJob wraps Diff with job bookkeeping: creates the job record, runs
// the diff and records the terminal state
func (r *Runner) RunDiffJob(ctx context.Context, jobID, appName string) ([]Drift, Counts, error) {
	if err := r.Store.CreateJob(ctx, jobID, "reconcile", appName); err != nil {
		return nil, Counts{}, err
	}
	drifts, counts, err := r.Diff(ctx, jobID, appName)
	r.finishJob(ctx, jobID, err)
	return drifts, counts, err
}

// RunFetchJob wraps FetchAll with job bookkeeping
func (r *Runner) RunFetchJob(ctx context.Context, jobID, appName string) (Counts, error) {
	if err := r.Store.CreateJob(ctx, jobID, "fetch", appName); err != nil {
		return Counts{}, err
	}
	counts, err := r.FetchAll(ctx, jobID, appName)
	r.finishJob(ctx, jobID, err)
	return counts, err
}

func (r *Runner) finishJob(ctx context.Context, jobID string, jobErr error) {
	status := store.JobDone
	switch {
	case errors.Is(jobErr, ErrCancelled):
		status = store.JobCancelled
		jobErr = nil
	case jobErr != nil:
		status = store.JobFailed
	}
	if err := r.Store.FinishJob(ctx, jobID, status, jobErr); err != nil {
		r.logger().Warn("failed to record job completion", "job_id", jobID, "error", err)
	}
}

func (r *Runner) reportProgress(ctx context.Context, jobID string, counts Counts) {
	if r.Hooks != nil {
		r.Hooks.ReportProgress(ctx, jobID, counts)
	}
}
