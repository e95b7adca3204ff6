package githubdata

import (
	"context"

	"foureyes/internal/verification"
)

// findRebaseMatch searches the bounded window of recently merged pull
// requests for one whose original commits match the given commit by
// metadata (author, author date within one second, first message line).
//
// When several merged PRs match equally, the most recently merged one is
// chosen deterministically and the second return value reports the
// ambiguity; callers must carry the heuristic nature of the match into the
// recorded reason rather than present it as an exact SHA match.
func (b *Builder) findRebaseMatch(ctx context.Context, p BuildParams, c verification.Commit, pulls *pullMemo) (*verification.PullRequest, bool, error) {
	recent, found, err := b.recentMergedPulls(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	var matches []*verification.PullRequest
	for _, candidate := range recent {
		pr, ok, err := b.loadPull(ctx, p.Repository, candidate.Number, pulls)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// Cache-only gap for this candidate; skip rather than fail
			// the whole match
			continue
		}
		if metadataInPull(c, pr) {
			matches = append(matches, pr)
		}
	}

	if len(matches) == 0 {
		return nil, false, nil
	}
	// recentMergedPulls is ordered most recently merged first, so the
	// first match is the deterministic pick
	return matches[0], len(matches) > 1, nil
}
