// Package snapshot provides content-addressed storage of GitHub API
// responses keyed by repository and entity identity. Snapshots are
// immutable once written; new fetches append new versions and lookups
// return the freshest one. A miss is a valid outcome, not an error, so
// cache-only callers can treat absence as a data-freshness gap.
package snapshot

import (
	"context"
	"time"
)

// Kind identifies the type of cached GitHub data
type Kind string

const (
	KindPullMetadata Kind = "pr_metadata"
	KindPullReviews  Kind = "pr_reviews"
	KindPullCommits  Kind = "pr_commits"
	KindCompare      Kind = "compare"
	KindCommit       Kind = "commit"
	KindCommitPulls  Kind = "commit_pulls"
	KindMergedPulls  Kind = "merged_pulls"
)

// Key addresses one cached entity
type Key struct {
	Repo string // owner/name
	Kind Kind
	ID   string // PR number, commit SHA, or base...head range
}

// Snapshot is one stored, immutable API response
type Snapshot struct {
	Key       Key
	Payload   []byte
	FetchedAt time.Time
}

// Store is the cache backend. Get returns (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, key Key) (*Snapshot, error)
	Put(ctx context.Context, key Key, payload []byte) error

	// HasRepo reports whether any snapshot exists for the repository,
	// used by bulk jobs to tell cached from never-fetched deployments
	HasRepo(ctx context.Context, repo string) (bool, error)

	Close() error
}
