package githubdata

import (
	"context"
	"testing"

	"foureyes/internal/snapshot"
)

// seedMergedPull registers a merged PR with its own metadata, reviews and
// commit list, and adds it to the recently-merged window
func seedMergedPull(f *fakeClient, number int, mergeSHA string, commits ...CommitData) {
	pd := PullData{
		Number:         number,
		State:          "closed",
		Merged:         true,
		MergedAt:       ts(9, number%60),
		MergeCommitSHA: mergeSHA,
		Author:         "alice",
		MergedBy:       "carol",
		BaseRef:        "main",
	}
	f.pulls[number] = pd
	f.commits[number] = commits
	f.merged = append(f.merged, pd)
}

func TestFindRebaseMatchResolvesDeployedCommit(t *testing.T) {
	client := newFakeClient()
	seedMergedPull(client, 51, "merge51",
		CommitData{SHA: "orig1", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"})

	// The deployed commit is the squashed form of orig1; the commit
	// association API knows nothing about it
	client.commitPulls["squashed1"] = nil
	client.commitData["squashed1"] = CommitData{
		SHA: "squashed1", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature",
	}

	builder := NewBuilder(client, snapshot.NewMemoryStore(), 0, nil)
	params := buildParams()
	params.CommitSHA = "squashed1"

	input, err := builder.BuildInput(context.Background(), params)
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	if input.DeployedPR == nil || input.DeployedPR.Number != 51 {
		t.Fatalf("expected rebase match to PR 51, got %v", input.DeployedPR)
	}
	if !input.DeployedPRRebaseMatched {
		t.Error("expected the heuristic provenance recorded on the input")
	}
	if input.DeployedPRAmbiguousMatch {
		t.Error("a single candidate is not ambiguous")
	}
}

func TestBuildInputExactMatchCarriesNoHeuristicFlag(t *testing.T) {
	client := newFakeClient()
	seedApprovedPull(client)

	builder := NewBuilder(client, snapshot.NewMemoryStore(), 0, nil)

	input, err := builder.BuildInput(context.Background(), buildParams())
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	if input.DeployedPR == nil || input.DeployedPR.Number != 42 {
		t.Fatalf("expected PR 42, got %v", input.DeployedPR)
	}
	if input.DeployedPRRebaseMatched || input.DeployedPRAmbiguousMatch {
		t.Error("an exact SHA association must not be marked heuristic")
	}
}

func TestFindRebaseMatchAmbiguousPicksMostRecent(t *testing.T) {
	client := newFakeClient()
	// Both PRs carry a commit with identical metadata. The merged window is
	// ordered most recently merged first.
	shared := CommitData{SHA: "x", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"}
	seedMergedPull(client, 55, "merge55", CommitData{SHA: "y", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"})
	seedMergedPull(client, 52, "merge52", shared)
	// Window order: 55 first (most recent)
	client.merged = []PullData{client.pulls[55], client.pulls[52]}

	builder := NewBuilder(client, snapshot.NewMemoryStore(), 0, nil)

	pr, ambiguous, err := builder.findRebaseMatch(context.Background(), buildParams(),
		toCommit(CommitData{SHA: "deployed", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"}),
		newPullMemo())
	if err != nil {
		t.Fatalf("findRebaseMatch: %v", err)
	}
	if pr == nil || pr.Number != 55 {
		t.Fatalf("expected the most recently merged PR 55, got %v", pr)
	}
	if !ambiguous {
		t.Error("expected the match flagged ambiguous")
	}
}

func TestFindRebaseMatchNoCandidates(t *testing.T) {
	client := newFakeClient()
	builder := NewBuilder(client, snapshot.NewMemoryStore(), 0, nil)

	pr, ambiguous, err := builder.findRebaseMatch(context.Background(), buildParams(),
		toCommit(CommitData{SHA: "deployed", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"}),
		newPullMemo())
	if err != nil {
		t.Fatalf("findRebaseMatch: %v", err)
	}
	if pr != nil || ambiguous {
		t.Errorf("expected no match, got %v (ambiguous=%v)", pr, ambiguous)
	}
}

func TestFindRebaseMatchCacheOnlySkipsGaps(t *testing.T) {
	client := newFakeClient()
	seedMergedPull(client, 51, "merge51",
		CommitData{SHA: "orig1", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"})

	cache := snapshot.NewMemoryStore()
	live := NewBuilder(client, cache, 0, nil)
	// Warm only the merged-pulls window, not the PR details
	if _, _, err := live.recentMergedPulls(context.Background(), buildParams()); err != nil {
		t.Fatalf("recentMergedPulls: %v", err)
	}

	cacheOnly := NewCacheOnlyBuilder(cache, 0, nil)
	pr, _, err := cacheOnly.findRebaseMatch(context.Background(), buildParams(),
		toCommit(CommitData{SHA: "deployed", Author: "alice", AuthorDate: ts(9, 0), Message: "add feature"}),
		newPullMemo())
	if err != nil {
		t.Fatalf("findRebaseMatch: %v", err)
	}
	if pr != nil {
		t.Errorf("expected no match when candidate details are uncached, got %v", pr)
	}
}
