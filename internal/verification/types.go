package verification

import (
	"fmt"
	"strings"
	"time"
)

// Repository identifies a GitHub repository by owner and name
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository parses an "owner/name" string
func ParseRepository(s string) (Repository, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, fmt.Errorf("invalid owner/repo format: %q", s)
	}
	return Repository{Owner: parts[0], Name: parts[1]}, nil
}

// ImplicitApprovalMode governs whether a merge performed by someone other
// than the author/last-committer counts as an approval signal
type ImplicitApprovalMode string

const (
	ImplicitOff            ImplicitApprovalMode = "off"
	ImplicitDependabotOnly ImplicitApprovalMode = "dependabot_only"
	ImplicitAll            ImplicitApprovalMode = "all"
)

// ReviewState is the GitHub review state of a single submitted review
type ReviewState string

const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
)

// Review is a single submitted pull request review
type Review struct {
	Username    string      `json:"username"`
	State       ReviewState `json:"state"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// Commit is a single commit as relevant to verification
type Commit struct {
	SHA        string    `json:"sha"`
	Author     string    `json:"author"`
	AuthorDate time.Time `json:"author_date"`
	Message    string    `json:"message"`
	Parents    []string  `json:"parents,omitempty"`
}

// IsMergeCommit reports whether the commit has two or more parents
func (c Commit) IsMergeCommit() bool {
	return len(c.Parents) >= 2
}

// MessageSubject returns the first line of the commit message
func (c Commit) MessageSubject() string {
	if i := strings.IndexByte(c.Message, '\n'); i >= 0 {
		return c.Message[:i]
	}
	return c.Message
}

// PullRequest is the verification-relevant view of a pull request
type PullRequest struct {
	Number         int       `json:"number"`
	URL            string    `json:"url"`
	Author         string    `json:"author"`
	MergedBy       string    `json:"merged_by,omitempty"`
	MergeCommitSHA string    `json:"merge_commit_sha,omitempty"`
	MergedAt       time.Time `json:"merged_at,omitzero"`
	Reviews        []Review  `json:"reviews,omitempty"`
	Commits        []Commit  `json:"commits,omitempty"`
}

// LastCommit returns the commit with the latest author date, or nil
// when the PR carries no commits
func (pr *PullRequest) LastCommit() *Commit {
	var last *Commit
	for i := range pr.Commits {
		c := &pr.Commits[i]
		if last == nil || c.AuthorDate.After(last.AuthorDate) {
			last = c
		}
	}
	return last
}

// ContainsSHA reports whether the PR contains the commit by exact SHA,
// including its merge/squash commit
func (pr *PullRequest) ContainsSHA(sha string) bool {
	if sha == "" {
		return false
	}
	if pr.MergeCommitSHA == sha {
		return true
	}
	for i := range pr.Commits {
		if pr.Commits[i].SHA == sha {
			return true
		}
	}
	return false
}

// AnnotatedCommit is a commit between two deployments, annotated with the
// outcome of resolving it to a pull request
type AnnotatedCommit struct {
	Commit

	// PR is the pull request the commit was resolved to, nil when none
	// was found
	PR *PullRequest `json:"pr,omitempty"`

	// Unresolved marks a cache-only build that had no snapshot to
	// resolve this commit with; it is a data-freshness gap, not proof
	// of a direct push
	Unresolved bool `json:"unresolved,omitempty"`

	// RebaseMatched marks a commit matched to its PR by author/date/
	// message metadata rather than exact SHA
	RebaseMatched bool `json:"rebase_matched,omitempty"`

	// AmbiguousMatch marks a rebase match where several merged PRs were
	// equally plausible and the most recently merged one was chosen
	AmbiguousMatch bool `json:"ambiguous_match,omitempty"`
}

// PreviousDeployment references the prior deployment in the same environment
type PreviousDeployment struct {
	ID        int64     `json:"id"`
	CommitSHA string    `json:"commit_sha"`
	CreatedAt time.Time `json:"created_at"`
}

// DataFreshness records when and how the input data was assembled
type DataFreshness struct {
	FetchedAt     time.Time `json:"fetched_at,omitzero"`
	SchemaVersion int       `json:"schema_version"`
	CacheOnly     bool      `json:"cache_only,omitempty"`
}

// Input is everything the rule engine needs to evaluate one deployment.
// It is assembled fresh per invocation and never persisted as-is.
type Input struct {
	DeploymentID     int64
	CommitSHA        string
	Repository       Repository
	Environment      string
	BaseBranch       string
	CreatedAt        time.Time
	AuditStartYear   *int
	ImplicitApproval ImplicitApprovalMode
	AutoBaseline     bool
	BotAccounts      []string

	Previous   *PreviousDeployment
	DeployedPR *PullRequest

	// DeployedPRRebaseMatched marks a deployed PR identified by the
	// rebase heuristic rather than an exact SHA association; the engine
	// carries the qualifier into the recorded approval reason
	DeployedPRRebaseMatched bool

	// DeployedPRAmbiguousMatch marks a heuristic match where several
	// merged PRs were equally plausible
	DeployedPRAmbiguousMatch bool

	CommitsBetween []AnnotatedCommit
	Freshness      DataFreshness
}

// UnverifiedCommit is a commit that lacks an approving pull request
type UnverifiedCommit struct {
	SHA     string `json:"sha"`
	Author  string `json:"author"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// ApprovalDetails is the human-readable justification persisted as audit
// evidence alongside the verdict
type ApprovalDetails struct {
	Method string `json:"method"`
	Reason string `json:"reason"`
}

// Result is the verdict for one deployment
type Result struct {
	Status            Status             `json:"status"`
	HasFourEyes       bool               `json:"has_four_eyes"`
	UnverifiedCommits []UnverifiedCommit `json:"unverified_commits,omitempty"`
	Approval          ApprovalDetails    `json:"approval"`
	DeployedPR        *PullRequest       `json:"deployed_pr,omitempty"`

	// DataGaps lists SHAs that could not be resolved from snapshots in a
	// cache-only run; a non-empty list means the verdict is provisional
	DataGaps []string `json:"data_gaps,omitempty"`
}
