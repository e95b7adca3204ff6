package githubdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"foureyes/internal/snapshot"
	"foureyes/internal/verification"
)

// DefaultRebaseLookback bounds how many recently merged pull requests the
// rebase-match heuristic searches
const DefaultRebaseLookback = 50

// inputSchemaVersion is bumped whenever the assembled input shape changes
// in a way the diff job should treat as stale
const inputSchemaVersion = 1

// Builder assembles a verification.Input from GitHub data. In live mode
// every API response is written into the snapshot cache; in cache-only
// mode (nil client) it serves exclusively from stored snapshots and a
// missing snapshot becomes an unresolved annotation, never a fetch.
type Builder struct {
	client   Client
	cache    snapshot.Store
	lookback int
	logger   *slog.Logger
	locks    *keyedLocks
}

// NewBuilder creates a live-mode builder
func NewBuilder(client Client, cache snapshot.Store, lookback int, logger *slog.Logger) *Builder {
	if lookback <= 0 {
		lookback = DefaultRebaseLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		client:   client,
		cache:    cache,
		lookback: lookback,
		logger:   logger,
		locks:    newKeyedLocks(),
	}
}

// NewCacheOnlyBuilder creates a builder that never performs network calls
func NewCacheOnlyBuilder(cache snapshot.Store, lookback int, logger *slog.Logger) *Builder {
	return NewBuilder(nil, cache, lookback, logger)
}

// CacheOnly reports whether the builder serves exclusively from snapshots
func (b *Builder) CacheOnly() bool {
	return b.client == nil
}

// HasSnapshots reports whether any snapshot exists for the repository,
// letting bulk jobs tell a cached repository from a never-fetched one
func (b *Builder) HasSnapshots(ctx context.Context, repo verification.Repository) (bool, error) {
	return b.cache.HasRepo(ctx, repo.String())
}

// BuildParams carries the deployment identity and per-application policy
// needed to assemble an input
type BuildParams struct {
	DeploymentID     int64
	CommitSHA        string
	Repository       verification.Repository
	Environment      string
	BaseBranch       string
	CreatedAt        time.Time
	AuditStartYear   *int
	ImplicitApproval verification.ImplicitApprovalMode
	AutoBaseline     bool
	BotAccounts      []string
	Previous         *verification.PreviousDeployment
}

// BuildInput assembles the full verification input for one deployment.
//
// In cache-only mode, a deployment whose head commit has no cached
// pull-request resolution at all returns ErrNoSnapshot so the caller can
// report a freshness gap instead of a false direct-push verdict.
func (b *Builder) BuildInput(ctx context.Context, p BuildParams) (*verification.Input, error) {
	input := &verification.Input{
		DeploymentID:     p.DeploymentID,
		CommitSHA:        p.CommitSHA,
		Repository:       p.Repository,
		Environment:      p.Environment,
		BaseBranch:       p.BaseBranch,
		CreatedAt:        p.CreatedAt,
		AuditStartYear:   p.AuditStartYear,
		ImplicitApproval: p.ImplicitApproval,
		AutoBaseline:     p.AutoBaseline,
		BotAccounts:      p.BotAccounts,
		Previous:         p.Previous,
		Freshness: verification.DataFreshness{
			FetchedAt:     time.Now().UTC(),
			SchemaVersion: inputSchemaVersion,
			CacheOnly:     b.CacheOnly(),
		},
	}

	pulls := newPullMemo()

	deployed, err := b.resolveDeployedPR(ctx, p, pulls)
	if err != nil {
		return nil, err
	}
	if !deployed.resolved {
		return nil, ErrNoSnapshot
	}
	input.DeployedPR = deployed.pr
	input.DeployedPRRebaseMatched = deployed.rebaseMatched
	input.DeployedPRAmbiguousMatch = deployed.ambiguous

	if p.Previous != nil && p.Previous.CommitSHA != p.CommitSHA {
		between, err := b.commitsBetween(ctx, p, deployed.pr, pulls)
		if err != nil {
			return nil, err
		}
		input.CommitsBetween = between
	}

	return input, nil
}

// pullMemo caches fully loaded pull requests within one build so a PR
// covering many commits is assembled once
type pullMemo struct {
	pulls map[int]*verification.PullRequest
}

func newPullMemo() *pullMemo {
	return &pullMemo{pulls: make(map[int]*verification.PullRequest)}
}

// resolvedPull is the outcome of resolving the deployed commit to its
// pull request. resolved is false only for a cache-only build with no
// cached resolution; a rebase-matched PR carries its heuristic provenance.
type resolvedPull struct {
	pr            *verification.PullRequest
	resolved      bool
	rebaseMatched bool
	ambiguous     bool
}

// resolveDeployedPR finds the pull request the deployed commit belongs to
func (b *Builder) resolveDeployedPR(ctx context.Context, p BuildParams, pulls *pullMemo) (resolvedPull, error) {
	candidates, found, err := b.pullsForCommit(ctx, p.Repository, p.CommitSHA)
	if err != nil {
		return resolvedPull{}, err
	}
	if !found {
		return resolvedPull{}, nil
	}

	best := pickDeployedPull(candidates, p.CommitSHA)
	if best == nil {
		// No PR via the commit association API; the commit may be the
		// rebased form of a PR commit
		commit, ok, err := b.commit(ctx, p.Repository, p.CommitSHA)
		if err != nil {
			return resolvedPull{}, err
		}
		if !ok || commit == nil {
			return resolvedPull{resolved: true}, nil
		}
		match, ambiguous, err := b.findRebaseMatch(ctx, p, toCommit(*commit), pulls)
		if err != nil {
			return resolvedPull{}, err
		}
		return resolvedPull{
			pr:            match,
			resolved:      true,
			rebaseMatched: match != nil,
			ambiguous:     ambiguous,
		}, nil
	}

	pr, ok, err := b.loadPull(ctx, p.Repository, best.Number, pulls)
	if err != nil {
		return resolvedPull{}, err
	}
	if !ok {
		return resolvedPull{}, nil
	}
	return resolvedPull{pr: pr, resolved: true}, nil
}

// pickDeployedPull chooses among the PRs containing the deployed commit:
// a merged PR whose merge commit is the deployed commit wins, then the
// most recently merged PR
func pickDeployedPull(candidates []PullData, sha string) *PullData {
	var best *PullData
	for i := range candidates {
		c := &candidates[i]
		if !c.Merged {
			continue
		}
		if c.MergeCommitSHA == sha {
			return c
		}
		if best == nil || c.MergedAt.After(best.MergedAt) {
			best = c
		}
	}
	return best
}

// commitsBetween builds the annotated commit list from the compare result
// between the previous and current deployment
func (b *Builder) commitsBetween(ctx context.Context, p BuildParams, deployedPR *verification.PullRequest, pulls *pullMemo) ([]verification.AnnotatedCommit, error) {
	cmp, found, err := b.compare(ctx, p.Repository, p.Previous.CommitSHA, p.CommitSHA)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoSnapshot
	}

	var out []verification.AnnotatedCommit
	for _, cd := range cmp.Commits {
		ac := verification.AnnotatedCommit{Commit: toCommit(cd)}

		if deployedPR != nil && (deployedPR.ContainsSHA(cd.SHA) || metadataInPull(ac.Commit, deployedPR)) {
			ac.PR = deployedPR
			out = append(out, ac)
			continue
		}

		if err := b.annotate(ctx, p, &ac, pulls); err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, nil
}

// annotate resolves one commit outside the deployed PR to its own PR
func (b *Builder) annotate(ctx context.Context, p BuildParams, ac *verification.AnnotatedCommit, pulls *pullMemo) error {
	candidates, found, err := b.pullsForCommit(ctx, p.Repository, ac.SHA)
	if err != nil {
		return err
	}
	if !found {
		ac.Unresolved = true
		return nil
	}

	best := pickDeployedPull(candidates, ac.SHA)
	if best != nil {
		pr, ok, err := b.loadPull(ctx, p.Repository, best.Number, pulls)
		if err != nil {
			return err
		}
		if !ok {
			ac.Unresolved = true
			return nil
		}
		ac.PR = pr
		return nil
	}

	match, ambiguous, err := b.findRebaseMatch(ctx, p, ac.Commit, pulls)
	if err != nil {
		return err
	}
	if match != nil {
		ac.PR = match
		ac.RebaseMatched = true
		ac.AmbiguousMatch = ambiguous
	}
	return nil
}

// loadPull assembles a full verification.PullRequest (metadata, reviews,
// commits), memoized per build and serialized per PR number so concurrent
// builds fill the cache once
func (b *Builder) loadPull(ctx context.Context, repo verification.Repository, number int, pulls *pullMemo) (*verification.PullRequest, bool, error) {
	if pr, ok := pulls.pulls[number]; ok {
		return pr, true, nil
	}

	release := b.locks.acquire(fmt.Sprintf("%s#%d", repo, number))
	defer release()

	meta, ok, err := b.pullMetadata(ctx, repo, number)
	if err != nil || !ok {
		return nil, ok, err
	}
	reviews, ok, err := b.pullReviews(ctx, repo, number)
	if err != nil || !ok {
		return nil, ok, err
	}
	commits, ok, err := b.pullCommits(ctx, repo, number)
	if err != nil || !ok {
		return nil, ok, err
	}

	pr := &verification.PullRequest{
		Number:         meta.Number,
		URL:            meta.URL,
		Author:         meta.Author,
		MergedBy:       meta.MergedBy,
		MergeCommitSHA: meta.MergeCommitSHA,
		MergedAt:       meta.MergedAt,
	}
	for _, r := range reviews {
		pr.Reviews = append(pr.Reviews, verification.Review{
			Username:    r.Username,
			State:       verification.ReviewState(r.State),
			SubmittedAt: r.SubmittedAt,
		})
	}
	for _, c := range commits {
		pr.Commits = append(pr.Commits, toCommit(c))
	}

	pulls.pulls[number] = pr
	return pr, true, nil
}

// cached runs one fetch through the snapshot cache. The boolean result is
// false only for a cache-only miss.
func (b *Builder) cached(ctx context.Context, key snapshot.Key, out any, fetch func(context.Context) (any, error)) (bool, error) {
	snap, err := b.cache.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("snapshot lookup for %s/%s/%s: %w", key.Repo, key.Kind, key.ID, err)
	}
	if snap != nil {
		if err := json.Unmarshal(snap.Payload, out); err != nil {
			return false, fmt.Errorf("decoding snapshot %s/%s/%s: %w", key.Repo, key.Kind, key.ID, err)
		}
		return true, nil
	}

	if b.client == nil {
		b.logger.Debug("snapshot miss in cache-only mode",
			"repo", key.Repo, "kind", string(key.Kind), "id", key.ID)
		return false, nil
	}

	fetched, err := fetch(ctx)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(fetched)
	if err != nil {
		return false, fmt.Errorf("encoding snapshot %s/%s/%s: %w", key.Repo, key.Kind, key.ID, err)
	}
	if err := b.cache.Put(ctx, key, payload); err != nil {
		return false, fmt.Errorf("storing snapshot %s/%s/%s: %w", key.Repo, key.Kind, key.ID, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decoding snapshot %s/%s/%s: %w", key.Repo, key.Kind, key.ID, err)
	}
	return true, nil
}

func (b *Builder) pullMetadata(ctx context.Context, repo verification.Repository, number int) (*PullData, bool, error) {
	var out PullData
	key := snapshot.Key{Repo: repo.String(), Kind: snapshot.KindPullMetadata, ID: strconv.Itoa(number)}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		return b.client.PullRequestMetadata(ctx, repo.Owner, repo.Name, number)
	})
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

func (b *Builder) pullReviews(ctx context.Context, repo verification.Repository, number int) ([]ReviewData, bool, error) {
	var out []ReviewData
	key := snapshot.Key{Repo: repo.String(), Kind: snapshot.KindPullReviews, ID: strconv.Itoa(number)}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		return b.client.PullRequestReviews(ctx, repo.Owner, repo.Name, number)
	})
	return out, ok, err
}

func (b *Builder) pullCommits(ctx context.Context, repo verification.Repository, number int) ([]CommitData, bool, error) {
	var out []CommitData
	key := snapshot.Key{Repo: repo.String(), Kind: snapshot.KindPullCommits, ID: strconv.Itoa(number)}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		return b.client.PullRequestCommits(ctx, repo.Owner, repo.Name, number)
	})
	return out, ok, err
}

func (b *Builder) compare(ctx context.Context, repo verification.Repository, base, head string) (*CompareData, bool, error) {
	var out CompareData
	key := snapshot.Key{Repo: repo.String(), Kind: snapshot.KindCompare, ID: base + "..." + head}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		return b.client.CompareCommits(ctx, repo.Owner, repo.Name, base, head)
	})
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

func (b *Builder) commit(ctx context.Context, repo verification.Repository, sha string) (*CommitData, bool, error) {
	var out CommitData
	key := snapshot.Key{Repo: repo.String(), Kind: snapshot.KindCommit, ID: sha}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		return b.client.Commit(ctx, repo.Owner, repo.Name, sha)
	})
	if err != nil || !ok {
		return nil, ok, err
	}
	return &out, true, nil
}

func (b *Builder) pullsForCommit(ctx context.Context, repo verification.Repository, sha string) ([]PullData, bool, error) {
	var out []PullData
	key := snapshot.Key{Repo: repo.String(), Kind: snapshot.KindCommitPulls, ID: sha}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		pulls, err := b.client.PullRequestsForCommit(ctx, repo.Owner, repo.Name, sha)
		if err != nil {
			return nil, err
		}
		if pulls == nil {
			pulls = []PullData{}
		}
		return pulls, nil
	})
	return out, ok, err
}

func (b *Builder) recentMergedPulls(ctx context.Context, p BuildParams) ([]PullData, bool, error) {
	var out []PullData
	key := snapshot.Key{Repo: p.Repository.String(), Kind: snapshot.KindMergedPulls, ID: p.BaseBranch}
	ok, err := b.cached(ctx, key, &out, func(ctx context.Context) (any, error) {
		pulls, err := b.client.RecentMergedPulls(ctx, p.Repository.Owner, p.Repository.Name, p.BaseBranch, b.lookback)
		if err != nil {
			return nil, err
		}
		if pulls == nil {
			pulls = []PullData{}
		}
		return pulls, nil
	})
	return out, ok, err
}

func metadataInPull(c verification.Commit, pr *verification.PullRequest) bool {
	for _, pc := range pr.Commits {
		if verification.MetadataEqual(c, pc) {
			return true
		}
	}
	return false
}

func toCommit(cd CommitData) verification.Commit {
	return verification.Commit{
		SHA:        cd.SHA,
		Author:     cd.Author,
		AuthorDate: cd.AuthorDate,
		Message:    cd.Message,
		Parents:    cd.Parents,
	}
}
