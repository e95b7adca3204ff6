package verification

import (
	"fmt"
	"regexp"
	"strings"
)

// Approval methods recorded in ApprovalDetails.Method
const (
	MethodReview   = "review"
	MethodImplicit = "implicit"
	MethodBaseline = "baseline"
	MethodExempt   = "exempt"
	MethodNone     = "none"
	MethodError    = "error"
)

// defaultBotAccounts are the dependency-bot logins recognized when the
// configuration provides none
var defaultBotAccounts = []string{
	"dependabot[bot]",
	"dependabot-preview[bot]",
	"renovate[bot]",
}

// mergeBranchPattern matches merge commit subjects of the form
// "Merge branch 'x' ..." or "Merge remote-tracking branch 'origin/x' ..."
var mergeBranchPattern = regexp.MustCompile(`^Merge (?:remote-tracking )?branch '(?:origin/)?([^']+)'`)

func isBotAccount(username string, bots []string) bool {
	if username == "" {
		return false
	}
	if len(bots) == 0 {
		bots = defaultBotAccounts
	}
	for _, b := range bots {
		if strings.EqualFold(b, username) {
			return true
		}
	}
	return false
}

// isMergeFromBase reports whether the commit is a merge of the base branch
// into another branch, by message-pattern match. Such commits bring no new
// work of their own and are excluded from approval requirements.
func isMergeFromBase(c Commit, baseBranch string) bool {
	m := mergeBranchPattern.FindStringSubmatch(c.MessageSubject())
	if m == nil {
		return false
	}
	merged := m[1]
	if baseBranch != "" && merged == baseBranch {
		return true
	}
	return merged == "main" || merged == "master"
}

// approvalOutcome is the verdict of the direct-approval algorithm for one
// pull request
type approvalOutcome struct {
	ok     bool
	reason string
}

// evaluateApproval runs the four-eyes approval algorithm for a single pull
// request:
//
//  1. Collapse reviews to the latest review per user, never downgrading an
//     existing APPROVED state.
//  2. Pass when any approval was submitted strictly after the PR's last
//     commit.
//  3. Otherwise take the most recent approval and inspect the commits
//     authored after it: an empty set passes; a dependency-bot PR whose
//     trailing commits are all bot-authored or base-branch merges passes;
//     trailing commits that are all base-branch merges pass.
//  4. No approvals at all fails.
func evaluateApproval(pr *PullRequest, baseBranch string, bots []string) approvalOutcome {
	latest := collapseReviews(pr.Reviews)
	approvals := approvalsByTime(latest)
	if len(approvals) == 0 {
		return approvalOutcome{ok: false, reason: "no approved reviews"}
	}

	last := pr.LastCommit()
	if last != nil {
		for _, a := range approvals {
			if a.SubmittedAt.After(last.AuthorDate) {
				return approvalOutcome{
					ok:     true,
					reason: fmt.Sprintf("approved by %s after last commit", a.Username),
				}
			}
		}
	} else {
		// No commits recorded at all; any approval covers the PR
		a := approvals[len(approvals)-1]
		return approvalOutcome{
			ok:     true,
			reason: fmt.Sprintf("approved by %s after last commit", a.Username),
		}
	}

	newest := approvals[len(approvals)-1]
	var after []Commit
	for _, c := range pr.Commits {
		if c.AuthorDate.After(newest.SubmittedAt) {
			after = append(after, c)
		}
	}
	if len(after) == 0 {
		return approvalOutcome{
			ok:     true,
			reason: fmt.Sprintf("approval by %s covers all commits", newest.Username),
		}
	}

	if isBotAccount(pr.Author, bots) {
		allBotOrMerge := true
		for _, c := range after {
			if !isBotAccount(c.Author, bots) && !isMergeFromBase(c, baseBranch) {
				allBotOrMerge = false
				break
			}
		}
		if allBotOrMerge {
			return approvalOutcome{
				ok: true,
				reason: fmt.Sprintf("approved by %s; only %s commits and base-branch merges after approval",
					newest.Username, pr.Author),
			}
		}
	}

	allMerges := true
	for _, c := range after {
		if !isMergeFromBase(c, baseBranch) {
			allMerges = false
			break
		}
	}
	if allMerges {
		return approvalOutcome{
			ok:     true,
			reason: fmt.Sprintf("approved by %s; only base-branch merges after approval", newest.Username),
		}
	}

	return approvalOutcome{
		ok:     false,
		reason: "non-merge commits after approval, approval predates last real commit",
	}
}

// evaluateImplicit checks the weaker "someone else pressed merge" signal.
// It applies only when direct approval failed and the configured mode
// permits it.
func evaluateImplicit(pr *PullRequest, mode ImplicitApprovalMode, bots []string) approvalOutcome {
	if mode == "" || mode == ImplicitOff {
		return approvalOutcome{ok: false}
	}
	if pr.MergedBy == "" {
		return approvalOutcome{ok: false, reason: "merge actor unknown"}
	}
	if strings.EqualFold(pr.MergedBy, pr.Author) {
		return approvalOutcome{ok: false, reason: "merged by the author"}
	}
	if last := pr.LastCommit(); last != nil && strings.EqualFold(pr.MergedBy, last.Author) {
		return approvalOutcome{ok: false, reason: "merged by the last committer"}
	}
	if mode == ImplicitDependabotOnly && !isBotAccount(pr.Author, bots) {
		return approvalOutcome{ok: false, reason: "implicit approval restricted to dependency-bot pull requests"}
	}
	return approvalOutcome{
		ok:     true,
		reason: fmt.Sprintf("merged by %s, who is neither the author nor the last committer", pr.MergedBy),
	}
}
