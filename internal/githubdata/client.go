// Package githubdata fetches and normalizes the GitHub data the rule
// engine consumes: pull request metadata, reviews, commits and compare
// diffs. Fetches go through a snapshot cache so re-verification can run
// without touching the network.
package githubdata

import (
	"context"
	"time"
)

// PullData is the cached wire form of a pull request
type PullData struct {
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	State          string    `json:"state"`
	Merged         bool      `json:"merged"`
	MergedAt       time.Time `json:"merged_at,omitzero"`
	MergeCommitSHA string    `json:"merge_commit_sha"`
	Author         string    `json:"author"`
	MergedBy       string    `json:"merged_by"`
	BaseRef        string    `json:"base_ref"`
}

// ReviewData is the cached wire form of a submitted review
type ReviewData struct {
	Username    string    `json:"username"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CommitData is the cached wire form of a commit
type CommitData struct {
	SHA        string    `json:"sha"`
	Author     string    `json:"author"`
	AuthorDate time.Time `json:"author_date"`
	Message    string    `json:"message"`
	Parents    []string  `json:"parents,omitempty"`
}

// CompareData is the cached wire form of a base...head comparison
type CompareData struct {
	BaseSHA string       `json:"base_sha"`
	HeadSHA string       `json:"head_sha"`
	Commits []CommitData `json:"commits"`
}

// Client is the GitHub collaborator interface. Implementations must return
// a *RateLimitError when throttled and a *NotFoundError when the entity
// does not exist, so callers can tell the two apart.
type Client interface {
	PullRequestMetadata(ctx context.Context, owner, repo string, number int) (*PullData, error)
	PullRequestReviews(ctx context.Context, owner, repo string, number int) ([]ReviewData, error)
	PullRequestCommits(ctx context.Context, owner, repo string, number int) ([]CommitData, error)
	CompareCommits(ctx context.Context, owner, repo, base, head string) (*CompareData, error)
	Commit(ctx context.Context, owner, repo, sha string) (*CommitData, error)
	PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]PullData, error)
	RecentMergedPulls(ctx context.Context, owner, repo, base string, limit int) ([]PullData, error)
}
