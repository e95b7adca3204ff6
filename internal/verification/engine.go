// Package verification implements the four-eyes rule engine: the pure
// decision logic that computes a deployment's approval status from its
// pull request metadata and the commit history since the previous
// deployment. The engine performs no I/O and is safe for concurrent use.
package verification

import (
	"fmt"
	"time"
)

// rebaseDateTolerance is the author-date slack allowed when matching a
// rebased commit to its original by metadata
const rebaseDateTolerance = time.Second

// Verify computes the verification verdict for one deployment.
//
// It is pure, synchronous and deterministic: identical inputs always yield
// identical results, and the only clock involved is the set of timestamps
// carried by the input. Business-logic edge cases become statuses; only a
// malformed input (missing commit SHA or repository) returns an error,
// which is always a *ValidationError.
func Verify(input *Input) (*Result, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	if input.AuditStartYear != nil && !input.CreatedAt.IsZero() &&
		input.CreatedAt.Year() < *input.AuditStartYear {
		return &Result{
			Status:      StatusLegacy,
			HasFourEyes: true,
			Approval: ApprovalDetails{
				Method: MethodExempt,
				Reason: fmt.Sprintf("deployment predates audit start year %d", *input.AuditStartYear),
			},
			DeployedPR: input.DeployedPR,
		}, nil
	}

	if input.Previous == nil {
		if input.AutoBaseline {
			return &Result{
				Status:      StatusBaseline,
				HasFourEyes: true,
				Approval: ApprovalDetails{
					Method: MethodBaseline,
					Reason: "first deployment to this environment, accepted as baseline",
				},
				DeployedPR: input.DeployedPR,
			}, nil
		}
		return &Result{
			Status: StatusPendingBaseline,
			Approval: ApprovalDetails{
				Method: MethodNone,
				Reason: "first deployment to this environment, baseline confirmation required",
			},
			DeployedPR: input.DeployedPR,
		}, nil
	}

	if input.CommitSHA == input.Previous.CommitSHA {
		return &Result{
			Status:      StatusNoChanges,
			HasFourEyes: true,
			Approval: ApprovalDetails{
				Method: MethodExempt,
				Reason: "same commit as the previous deployment",
			},
			DeployedPR: input.DeployedPR,
		}, nil
	}

	unreviewed, gaps := resolveUnreviewed(input)

	if input.DeployedPR == nil {
		head := UnverifiedCommit{SHA: input.CommitSHA, Reason: ReasonDirectPush}
		for _, c := range input.CommitsBetween {
			if c.SHA == input.CommitSHA {
				head.Author = c.Author
				head.Message = c.MessageSubject()
				break
			}
		}
		return &Result{
			Status:            StatusDirectPush,
			UnverifiedCommits: append([]UnverifiedCommit{head}, unreviewed...),
			Approval: ApprovalDetails{
				Method: MethodNone,
				Reason: "no pull request associated with the deployed commit",
			},
			DataGaps: gaps,
		}, nil
	}

	pr := input.DeployedPR
	direct := evaluateApproval(pr, input.BaseBranch, input.BotAccounts)

	// A commit with no pull request at all between the deployments is a
	// direct push; it voids the deployed PR's approval
	if direct.ok && !containsDirectPush(unreviewed) {
		result := &Result{
			Status:      StatusApprovedPR,
			HasFourEyes: true,
			Approval: ApprovalDetails{
				Method: MethodReview,
				Reason: qualifyHeuristic(input, direct.reason),
			},
			DeployedPR: pr,
			DataGaps:   gaps,
		}
		if len(unreviewed) > 0 {
			result.Status = StatusApprovedPRWithUnreviewed
			result.UnverifiedCommits = unreviewed
		}
		return result, nil
	}

	if len(unreviewed) > 0 {
		return &Result{
			Status:            StatusUnverifiedCommits,
			UnverifiedCommits: unreviewed,
			Approval: ApprovalDetails{
				Method: MethodNone,
				Reason: fmt.Sprintf("%d commits between deployments lack an approving pull request", len(unreviewed)),
			},
			DeployedPR: pr,
			DataGaps:   gaps,
		}, nil
	}

	implicit := evaluateImplicit(pr, input.ImplicitApproval, input.BotAccounts)
	if implicit.ok {
		return &Result{
			Status:      StatusImplicitlyApproved,
			HasFourEyes: true,
			Approval: ApprovalDetails{
				Method: MethodImplicit,
				Reason: qualifyHeuristic(input, implicit.reason),
			},
			DeployedPR: pr,
			DataGaps:   gaps,
		}, nil
	}

	return &Result{
		Status: StatusMissing,
		Approval: ApprovalDetails{
			Method: MethodNone,
			Reason: direct.reason,
		},
		DeployedPR: pr,
		DataGaps:   gaps,
	}, nil
}

// containsDirectPush reports whether any unreviewed commit is a direct
// push rather than a commit resolved to some unapproved pull request
func containsDirectPush(unreviewed []UnverifiedCommit) bool {
	for _, u := range unreviewed {
		if u.Reason == ReasonDirectPush {
			return true
		}
	}
	return false
}

// qualifyHeuristic marks an approval reason as resting on a rebase-match
// when the deployed PR was identified by metadata rather than exact SHA
func qualifyHeuristic(input *Input, reason string) string {
	if !input.DeployedPRRebaseMatched {
		return reason
	}
	if input.DeployedPRAmbiguousMatch {
		return reason + " (heuristic rebase match, ambiguous)"
	}
	return reason + " (heuristic rebase match)"
}

// ErrorResult builds the terminal error verdict for a deployment whose
// upstream data fetch failed. The failure stays scoped to the one
// deployment; callers record it and move on.
func ErrorResult(fetchErr error) *Result {
	return &Result{
		Status: StatusError,
		Approval: ApprovalDetails{
			Method: MethodError,
			Reason: fmt.Sprintf("fetching deployment data failed: %v", fetchErr),
		},
	}
}
