package verification

// Status is the verification verdict for a deployment. The set is closed;
// every status must have an entry in statusInfos (enforced by tests).
type Status string

const (
	// StatusPending marks a deployment that has not been verified yet
	StatusPending Status = "pending"

	// StatusBaseline marks the first deployment to an environment,
	// accepted automatically as the comparison anchor
	StatusBaseline Status = "baseline"

	// StatusPendingBaseline marks a first deployment awaiting explicit
	// human confirmation as the baseline
	StatusPendingBaseline Status = "pending_baseline"

	// StatusNoChanges marks a redeployment of the previous commit
	StatusNoChanges Status = "no_changes"

	// StatusApprovedPR marks a deployment backed by a pull request with
	// a qualifying approval
	StatusApprovedPR Status = "approved_pr"

	// StatusApprovedPRWithUnreviewed marks a qualifying pull request
	// that carried along unapproved commits merged in from the base
	// branch
	StatusApprovedPRWithUnreviewed Status = "approved_pr_with_unreviewed"

	// StatusImplicitlyApproved marks a merge performed by someone other
	// than the author and last committer, accepted under the configured
	// implicit-approval mode
	StatusImplicitlyApproved Status = "implicitly_approved"

	// StatusUnverifiedCommits marks one or more commits between
	// deployments that lack any approving pull request
	StatusUnverifiedCommits Status = "unverified_commits"

	// StatusDirectPush marks a deployed commit with no associated pull
	// request at all
	StatusDirectPush Status = "direct_push"

	// StatusLegacy marks a deployment that predates the audit window
	StatusLegacy Status = "legacy"

	// StatusLegacyPending marks a legacy deployment awaiting human
	// review; set via manual override, never computed
	StatusLegacyPending Status = "legacy_pending"

	// StatusManuallyApproved marks a human override recorded outside
	// the engine
	StatusManuallyApproved Status = "manually_approved"

	// StatusMissing marks a pull request whose approval predates its
	// last qualifying commit with no exception applying
	StatusMissing Status = "missing"

	// StatusError marks a deployment whose upstream data fetch failed
	StatusError Status = "error"
)

// StatusInfo is the display metadata for a status
type StatusInfo struct {
	Label          string
	Description    string
	NeedsAttention bool
	ManualOnly     bool
}

var statusInfos = map[Status]StatusInfo{
	StatusPending: {
		Label:       "Pending",
		Description: "Not yet verified",
	},
	StatusBaseline: {
		Label:       "Baseline",
		Description: "First deployment to this environment",
	},
	StatusPendingBaseline: {
		Label:          "Pending baseline",
		Description:    "First deployment, awaiting baseline confirmation",
		NeedsAttention: true,
	},
	StatusNoChanges: {
		Label:       "No changes",
		Description: "Same commit as the previous deployment",
	},
	StatusApprovedPR: {
		Label:       "Approved",
		Description: "Pull request with a qualifying approval",
	},
	StatusApprovedPRWithUnreviewed: {
		Label:          "Approved with unreviewed commits",
		Description:    "Pull request approved, but commits merged in from the base branch are unapproved",
		NeedsAttention: true,
	},
	StatusImplicitlyApproved: {
		Label:       "Implicitly approved",
		Description: "Merged by someone other than the author and last committer",
	},
	StatusUnverifiedCommits: {
		Label:          "Unverified commits",
		Description:    "Commits between deployments lack an approving pull request",
		NeedsAttention: true,
	},
	StatusDirectPush: {
		Label:          "Direct push",
		Description:    "Deployed commit has no associated pull request",
		NeedsAttention: true,
	},
	StatusLegacy: {
		Label:       "Legacy",
		Description: "Deployment predates the audit window",
	},
	StatusLegacyPending: {
		Label:          "Legacy, pending review",
		Description:    "Legacy deployment awaiting human review",
		NeedsAttention: true,
		ManualOnly:     true,
	},
	StatusManuallyApproved: {
		Label:       "Manually approved",
		Description: "Approved by a human override",
		ManualOnly:  true,
	},
	StatusMissing: {
		Label:          "Approval missing",
		Description:    "Approval predates the last qualifying commit",
		NeedsAttention: true,
	},
	StatusError: {
		Label:          "Error",
		Description:    "Upstream data fetch failed",
		NeedsAttention: true,
	},
}

// AllStatuses returns every known status
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusBaseline,
		StatusPendingBaseline,
		StatusNoChanges,
		StatusApprovedPR,
		StatusApprovedPRWithUnreviewed,
		StatusImplicitlyApproved,
		StatusUnverifiedCommits,
		StatusDirectPush,
		StatusLegacy,
		StatusLegacyPending,
		StatusManuallyApproved,
		StatusMissing,
		StatusError,
	}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := statusInfos[s]
	return ok
}

// Info returns the display metadata for the status. Unknown statuses get a
// needs-attention placeholder rather than a panic; they indicate a data
// migration gap.
func (s Status) Info() StatusInfo {
	if info, ok := statusInfos[s]; ok {
		return info
	}
	return StatusInfo{
		Label:          string(s),
		Description:    "Unknown status",
		NeedsAttention: true,
	}
}

// NeedsAttention reports whether the status requires human follow-up
func (s Status) NeedsAttention() bool {
	return s.Info().NeedsAttention
}
