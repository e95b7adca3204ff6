package verification

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var testRepo = Repository{Owner: "acme", Name: "shop"}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func approvedPR(number int) *PullRequest {
	return &PullRequest{
		Number:         number,
		URL:            "https://github.com/acme/shop/pull/42",
		Author:         "alice",
		MergedBy:       "alice",
		MergeCommitSHA: "merge42",
		MergedAt:       at(9, 30),
		Commits: []Commit{
			{SHA: "c1", Author: "alice", AuthorDate: at(9, 0), Message: "add checkout flow"},
			{SHA: "c2", Author: "alice", AuthorDate: at(9, 5), Message: "fix checkout tests"},
		},
		Reviews: []Review{
			{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 10)},
		},
	}
}

func baseInput() *Input {
	return &Input{
		DeploymentID: 7,
		CommitSHA:    "merge42",
		Repository:   testRepo,
		Environment:  "production",
		BaseBranch:   "main",
		CreatedAt:    at(10, 0),
		AutoBaseline: true,
		Previous:     &PreviousDeployment{ID: 6, CommitSHA: "prev", CreatedAt: at(8, 0)},
		DeployedPR:   approvedPR(42),
	}
}

func TestVerify_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input *Input
	}{
		{"missing commit sha", &Input{Repository: testRepo}},
		{"missing repository", &Input{CommitSHA: "abc"}},
		{"missing repo name", &Input{CommitSHA: "abc", Repository: Repository{Owner: "acme"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verify(tc.input)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestVerify_Baseline(t *testing.T) {
	input := baseInput()
	input.Previous = nil

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusBaseline {
		t.Errorf("expected status %s, got %s", StatusBaseline, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("expected baseline deployment to pass")
	}
}

func TestVerify_PendingBaseline(t *testing.T) {
	input := baseInput()
	input.Previous = nil
	input.AutoBaseline = false

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusPendingBaseline {
		t.Errorf("expected status %s, got %s", StatusPendingBaseline, result.Status)
	}
	if result.HasFourEyes {
		t.Error("pending baseline must not pass without confirmation")
	}
}

func TestVerify_NoChanges(t *testing.T) {
	input := baseInput()
	input.Previous.CommitSHA = input.CommitSHA
	// PR/review data must not matter for a redeployment
	input.DeployedPR = nil

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusNoChanges {
		t.Errorf("expected status %s, got %s", StatusNoChanges, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("expected no-changes deployment to pass")
	}
}

func TestVerify_Legacy(t *testing.T) {
	input := baseInput()
	year := 2024
	input.AuditStartYear = &year
	input.CreatedAt = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusLegacy {
		t.Errorf("expected status %s, got %s", StatusLegacy, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("expected legacy deployment to be exempt")
	}
	if result.Approval.Method != MethodExempt {
		t.Errorf("expected method %s, got %s", MethodExempt, result.Approval.Method)
	}
}

func TestVerify_ApprovedAfterLastCommit(t *testing.T) {
	// PR #42: C1 at 09:00, C2 at 09:05, bob approved at 09:10
	result, err := Verify(baseInput())
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusApprovedPR {
		t.Errorf("expected status %s, got %s", StatusApprovedPR, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("expected four eyes")
	}
	if want := "after last commit"; !contains(result.Approval.Reason, want) {
		t.Errorf("expected reason containing %q, got %q", want, result.Approval.Reason)
	}
}

func TestVerify_CommitAfterApproval(t *testing.T) {
	// C3 at 09:15, non-merge, authored by the PR creator, after bob's
	// approval at 09:10
	input := baseInput()
	input.DeployedPR.Commits = append(input.DeployedPR.Commits,
		Commit{SHA: "c3", Author: "alice", AuthorDate: at(9, 15), Message: "sneak in a change"})

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusMissing {
		t.Errorf("expected status %s, got %s", StatusMissing, result.Status)
	}
	if result.HasFourEyes {
		t.Error("approval predating the last real commit must not pass")
	}
	if len(result.UnverifiedCommits) != 0 {
		t.Errorf("within-PR gaps are not unverified commits, got %v", result.UnverifiedCommits)
	}
}

func TestVerify_MergeNoiseAfterApproval(t *testing.T) {
	input := baseInput()
	input.DeployedPR.Commits = append(input.DeployedPR.Commits,
		Commit{
			SHA:        "m1",
			Author:     "alice",
			AuthorDate: at(9, 15),
			Message:    "Merge branch 'main' into feature/checkout",
			Parents:    []string{"c2", "other"},
		})

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusApprovedPR {
		t.Errorf("expected status %s, got %s", StatusApprovedPR, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("base-branch merges after approval must not break the verdict")
	}
	if want := "base-branch merges"; !contains(result.Approval.Reason, want) {
		t.Errorf("expected reason containing %q, got %q", want, result.Approval.Reason)
	}
}

func TestVerify_DependabotCommitAfterApproval(t *testing.T) {
	input := baseInput()
	pr := input.DeployedPR
	pr.Author = "dependabot[bot]"
	pr.Commits = []Commit{
		{SHA: "c1", Author: "dependabot[bot]", AuthorDate: at(9, 0), Message: "bump lodash"},
		{SHA: "c2", Author: "dependabot[bot]", AuthorDate: at(9, 15), Message: "bump lodash again"},
	}
	pr.Reviews = []Review{
		{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 10)},
	}

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusApprovedPR {
		t.Errorf("expected status %s, got %s", StatusApprovedPR, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("bot commits after approval on a bot PR must pass")
	}
	if !contains(result.Approval.Reason, "dependabot[bot]") {
		t.Errorf("expected reason citing the bot, got %q", result.Approval.Reason)
	}
}

func TestVerify_NoApprovals(t *testing.T) {
	input := baseInput()
	input.DeployedPR.Reviews = []Review{
		{Username: "bob", State: ReviewCommented, SubmittedAt: at(9, 10)},
	}

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusMissing {
		t.Errorf("expected status %s, got %s", StatusMissing, result.Status)
	}
	if want := "no approved reviews"; !contains(result.Approval.Reason, want) {
		t.Errorf("expected reason containing %q, got %q", want, result.Approval.Reason)
	}
}

func TestVerify_ImplicitApproval(t *testing.T) {
	testCases := []struct {
		name       string
		mode       ImplicitApprovalMode
		author     string
		mergedBy   string
		wantStatus Status
	}{
		{"all mode, distinct merger", ImplicitAll, "alice", "carol", StatusImplicitlyApproved},
		{"off mode", ImplicitOff, "alice", "carol", StatusMissing},
		{"merged by author", ImplicitAll, "alice", "alice", StatusMissing},
		{"dependabot only, human PR", ImplicitDependabotOnly, "alice", "carol", StatusMissing},
		{"dependabot only, bot PR", ImplicitDependabotOnly, "dependabot[bot]", "carol", StatusImplicitlyApproved},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := baseInput()
			input.ImplicitApproval = tc.mode
			pr := input.DeployedPR
			pr.Author = tc.author
			pr.MergedBy = tc.mergedBy
			pr.Reviews = nil
			for i := range pr.Commits {
				pr.Commits[i].Author = tc.author
			}

			result, err := Verify(input)
			if err != nil {
				t.Fatalf("Verify error: %v", err)
			}
			if result.Status != tc.wantStatus {
				t.Errorf("expected status %s, got %s", tc.wantStatus, result.Status)
			}
			if tc.wantStatus == StatusImplicitlyApproved && !result.HasFourEyes {
				t.Error("implicit approval must set the compliance bit")
			}
		})
	}
}

func TestVerify_DirectPush(t *testing.T) {
	input := baseInput()
	input.CommitSHA = "nakedpush"
	input.DeployedPR = nil
	input.CommitsBetween = []AnnotatedCommit{
		{Commit: Commit{SHA: "nakedpush", Author: "mallory", AuthorDate: at(9, 50), Message: "hotfix prod"}},
	}

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusDirectPush {
		t.Errorf("expected status %s, got %s", StatusDirectPush, result.Status)
	}
	if result.HasFourEyes {
		t.Error("direct push must not pass")
	}
	if len(result.UnverifiedCommits) == 0 {
		t.Fatal("expected the deployed commit in the unverified list")
	}
	if result.UnverifiedCommits[0].Reason != ReasonDirectPush {
		t.Errorf("expected reason %q, got %q", ReasonDirectPush, result.UnverifiedCommits[0].Reason)
	}
}

func TestVerify_UnverifiedCommitsBetweenDeployments(t *testing.T) {
	// The deployed PR has no approval; a stray direct push sits between
	// the deployments
	input := baseInput()
	input.DeployedPR.Reviews = nil
	input.CommitsBetween = []AnnotatedCommit{
		{Commit: input.DeployedPR.Commits[0], PR: input.DeployedPR},
		{Commit: Commit{SHA: "stray", Author: "mallory", AuthorDate: at(8, 30), Message: "quick fix"}},
	}

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusUnverifiedCommits {
		t.Errorf("expected status %s, got %s", StatusUnverifiedCommits, result.Status)
	}
	if len(result.UnverifiedCommits) != 1 || result.UnverifiedCommits[0].SHA != "stray" {
		t.Errorf("expected the stray commit flagged, got %v", result.UnverifiedCommits)
	}
}

func TestVerify_ApprovedPRWithUnreviewed(t *testing.T) {
	// A commit merged in from another, unapproved PR sits between the
	// deployments; the deployed PR's own approval still stands
	unapproved := &PullRequest{
		Number:   43,
		Author:   "mallory",
		MergedBy: "mallory",
		MergedAt: at(8, 45),
		Commits: []Commit{
			{SHA: "m1", Author: "mallory", AuthorDate: at(8, 30), Message: "quick fix"},
		},
	}
	input := baseInput()
	input.CommitsBetween = []AnnotatedCommit{
		{Commit: input.DeployedPR.Commits[0], PR: input.DeployedPR},
		{Commit: unapproved.Commits[0], PR: unapproved},
	}

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusApprovedPRWithUnreviewed {
		t.Errorf("expected status %s, got %s", StatusApprovedPRWithUnreviewed, result.Status)
	}
	if !result.HasFourEyes {
		t.Error("the deployed PR itself qualifies; the compliance bit stays set")
	}
	if len(result.UnverifiedCommits) != 1 {
		t.Errorf("expected one unverified commit, got %v", result.UnverifiedCommits)
	}
}

func TestVerify_DirectPushVoidsApprovedPR(t *testing.T) {
	// A commit with no pull request at all between the deployments always
	// fails the deployment, even though the deployed PR is approved
	input := baseInput()
	input.CommitsBetween = []AnnotatedCommit{
		{Commit: input.DeployedPR.Commits[0], PR: input.DeployedPR},
		{Commit: Commit{SHA: "stray", Author: "mallory", AuthorDate: at(8, 30), Message: "quick fix"}},
	}

	result, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}

	if result.Status != StatusUnverifiedCommits {
		t.Errorf("expected status %s, got %s", StatusUnverifiedCommits, result.Status)
	}
	if result.HasFourEyes {
		t.Error("a direct push between deployments must not pass")
	}
	if len(result.UnverifiedCommits) != 1 || result.UnverifiedCommits[0].Reason != ReasonDirectPush {
		t.Errorf("expected the stray commit flagged as direct push, got %v", result.UnverifiedCommits)
	}
}

func TestVerify_RebaseMatchedDeployedPRQualifiesReason(t *testing.T) {
	testCases := []struct {
		name      string
		ambiguous bool
		want      string
	}{
		{"unambiguous", false, "(heuristic rebase match)"},
		{"ambiguous", true, "(heuristic rebase match, ambiguous)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := baseInput()
			input.DeployedPRRebaseMatched = true
			input.DeployedPRAmbiguousMatch = tc.ambiguous

			result, err := Verify(input)
			if err != nil {
				t.Fatalf("Verify error: %v", err)
			}
			if result.Status != StatusApprovedPR {
				t.Fatalf("expected status %s, got %s", StatusApprovedPR, result.Status)
			}
			if !contains(result.Approval.Reason, tc.want) {
				t.Errorf("expected reason to carry %q, got %q", tc.want, result.Approval.Reason)
			}
		})
	}
}

func TestVerify_Deterministic(t *testing.T) {
	input := baseInput()
	input.CommitsBetween = []AnnotatedCommit{
		{Commit: input.DeployedPR.Commits[0], PR: input.DeployedPR},
		{Commit: Commit{SHA: "stray", Author: "mallory", AuthorDate: at(8, 30), Message: "quick fix"}},
	}

	first, err := Verify(input)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Verify(input)
		if err != nil {
			t.Fatalf("Verify error on run %d: %v", i, err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("results diverged on run %d (-first +again):\n%s", i, diff)
		}
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
