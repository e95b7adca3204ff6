package verification

import "fmt"

// Unreviewed-commit reasons surfaced in UnverifiedCommit.Reason
const (
	ReasonDirectPush = "direct push"
)

// resolveUnreviewed walks the commits between the previous and current
// deployment and returns those lacking an approving pull request, plus the
// SHAs that could not be resolved from snapshots at all (cache-only gaps).
//
// Commits are skipped when they belong to the deployed PR (exact SHA or
// rebase-metadata match), are authored by a recognized bot, or are merges
// of the base branch (noise). PR verdicts are memoized per invocation
// since one PR commonly covers several commits.
func resolveUnreviewed(input *Input) (unverified []UnverifiedCommit, gaps []string) {
	verdicts := make(map[int]approvalOutcome)

	for _, c := range input.CommitsBetween {
		if input.DeployedPR != nil {
			if input.DeployedPR.ContainsSHA(c.SHA) {
				continue
			}
			if matchesByMetadata(c.Commit, input.DeployedPR.Commits) {
				continue
			}
		}
		if c.SHA == input.CommitSHA {
			// The deployed commit itself is judged by the deployed-PR
			// path, not the resolver
			continue
		}
		if isMergeFromBase(c.Commit, input.BaseBranch) {
			continue
		}
		if isBotAccount(c.Author, input.BotAccounts) {
			continue
		}
		if c.Unresolved {
			gaps = append(gaps, c.SHA)
			continue
		}
		if c.PR == nil {
			unverified = append(unverified, UnverifiedCommit{
				SHA:     c.SHA,
				Author:  c.Author,
				Message: c.MessageSubject(),
				Reason:  ReasonDirectPush,
			})
			continue
		}

		verdict, seen := verdicts[c.PR.Number]
		if !seen {
			verdict = evaluateApproval(c.PR, input.BaseBranch, input.BotAccounts)
			verdicts[c.PR.Number] = verdict
		}
		if verdict.ok {
			continue
		}
		reason := fmt.Sprintf("pull request #%d not approved: %s", c.PR.Number, verdict.reason)
		if c.RebaseMatched {
			reason += " (heuristic rebase match)"
		}
		unverified = append(unverified, UnverifiedCommit{
			SHA:     c.SHA,
			Author:  c.Author,
			Message: c.MessageSubject(),
			Reason:  reason,
		})
	}
	return unverified, gaps
}

// matchesByMetadata reports whether the commit matches any of the given PR
// commits by the rebase heuristic: same author, author date within one
// second, same first message line
func matchesByMetadata(c Commit, prCommits []Commit) bool {
	for _, pc := range prCommits {
		if MetadataEqual(c, pc) {
			return true
		}
	}
	return false
}

// MetadataEqual is the rebase-match heuristic shared with the normalizer.
// It is best-effort identification, not cryptographic proof.
func MetadataEqual(a, b Commit) bool {
	if a.Author == "" || a.Author != b.Author {
		return false
	}
	diff := a.AuthorDate.Sub(b.AuthorDate)
	if diff < 0 {
		diff = -diff
	}
	if diff > rebaseDateTolerance {
		return false
	}
	return a.MessageSubject() == b.MessageSubject()
}
