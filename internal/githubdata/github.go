package githubdata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultRequestsPerSecond keeps the client well under GitHub's secondary
// rate limits during bulk jobs
const DefaultRequestsPerSecond = 5

// RequestCounter tracks request counts per operation. It replaces the
// global mutable counters of ad-hoc clients with an injectable middleware.
type RequestCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRequestCounter creates an empty counter
func NewRequestCounter() *RequestCounter {
	return &RequestCounter{counts: make(map[string]int)}
}

func (c *RequestCounter) inc(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[op]++
}

// Counts returns a copy of the per-operation request counts
func (c *RequestCounter) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.counts))
	for op, n := range c.counts {
		out[op] = n
	}
	return out
}

// Total returns the total number of requests made
func (c *RequestCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// APIClient implements Client on the GitHub REST API
type APIClient struct {
	gh      *github.Client
	limiter *rate.Limiter
	counter *RequestCounter
}

// NewAPIClient creates an authenticated GitHub client throttled to rps
// requests per second. An empty token yields an unauthenticated client
// (useful against public repositories, subject to much lower limits).
func NewAPIClient(token string, rps float64) *APIClient {
	var gh *github.Client
	if token == "" {
		gh = github.NewClient(nil)
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc := oauth2.NewClient(context.Background(), ts)
		gh = github.NewClient(tc)
	}

	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}

	return &APIClient{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		counter: NewRequestCounter(),
	}
}

// Requests exposes the request counter for progress reporting
func (c *APIClient) Requests() *RequestCounter {
	return c.counter
}

func (c *APIClient) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", op, err)
	}
	c.counter.inc(op)
	return nil
}

// PullRequestMetadata fetches one pull request
func (c *APIClient) PullRequestMetadata(ctx context.Context, owner, repo string, number int) (*PullData, error) {
	resource := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	if err := c.wait(ctx, "pull_metadata"); err != nil {
		return nil, err
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, convertError(resource, err)
	}

	data := pullData(pr)
	return &data, nil
}

// PullRequestReviews fetches all submitted reviews for a pull request
func (c *APIClient) PullRequestReviews(ctx context.Context, owner, repo string, number int) ([]ReviewData, error) {
	resource := fmt.Sprintf("%s/%s#%d reviews", owner, repo, number)

	var all []ReviewData
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := c.wait(ctx, "pull_reviews"); err != nil {
			return nil, err
		}
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, convertError(resource, err)
		}
		for _, r := range reviews {
			rd := ReviewData{
				Username: r.GetUser().GetLogin(),
				State:    r.GetState(),
			}
			if r.SubmittedAt != nil {
				rd.SubmittedAt = r.SubmittedAt.Time
			}
			all = append(all, rd)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// PullRequestCommits fetches all commits belonging to a pull request
func (c *APIClient) PullRequestCommits(ctx context.Context, owner, repo string, number int) ([]CommitData, error) {
	resource := fmt.Sprintf("%s/%s#%d commits", owner, repo, number)

	var all []CommitData
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := c.wait(ctx, "pull_commits"); err != nil {
			return nil, err
		}
		commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, convertError(resource, err)
		}
		for _, rc := range commits {
			all = append(all, commitData(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// CompareCommits fetches the commits reachable from head but not base
func (c *APIClient) CompareCommits(ctx context.Context, owner, repo, base, head string) (*CompareData, error) {
	resource := fmt.Sprintf("%s/%s compare %s...%s", owner, repo, base, head)

	data := &CompareData{BaseSHA: base, HeadSHA: head}
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := c.wait(ctx, "compare"); err != nil {
			return nil, err
		}
		cmp, resp, err := c.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, opts)
		if err != nil {
			return nil, convertError(resource, err)
		}
		for _, rc := range cmp.Commits {
			data.Commits = append(data.Commits, commitData(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return data, nil
}

// Commit fetches a single commit
func (c *APIClient) Commit(ctx context.Context, owner, repo, sha string) (*CommitData, error) {
	resource := fmt.Sprintf("%s/%s@%s", owner, repo, sha)
	if err := c.wait(ctx, "commit"); err != nil {
		return nil, err
	}

	rc, _, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, convertError(resource, err)
	}

	data := commitData(rc)
	return &data, nil
}

// PullRequestsForCommit fetches the pull requests that contain a commit
func (c *APIClient) PullRequestsForCommit(ctx context.Context, owner, repo, sha string) ([]PullData, error) {
	resource := fmt.Sprintf("%s/%s@%s pulls", owner, repo, sha)

	var all []PullData
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := c.wait(ctx, "commit_pulls"); err != nil {
			return nil, err
		}
		pulls, resp, err := c.gh.PullRequests.ListPullRequestsWithCommit(ctx, owner, repo, sha, opts)
		if err != nil {
			return nil, convertError(resource, err)
		}
		for _, pr := range pulls {
			all = append(all, pullData(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// RecentMergedPulls fetches up to limit merged pull requests against base,
// most recently merged first. This is the bounded lookback window for
// rebase matching.
func (c *APIClient) RecentMergedPulls(ctx context.Context, owner, repo, base string, limit int) ([]PullData, error) {
	resource := fmt.Sprintf("%s/%s merged pulls", owner, repo)

	var all []PullData
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Base:        base,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	extraPages := 0
	for {
		if err := c.wait(ctx, "merged_pulls"); err != nil {
			return nil, err
		}
		pulls, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, convertError(resource, err)
		}
		for _, pr := range pulls {
			if pr.GetMergedAt().IsZero() {
				continue
			}
			all = append(all, pullData(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		// The API lists by update time, which only approximates merge
		// order: an old PR with fresh activity sorts ahead of a recent
		// merge. Read one page past the limit before truncating on
		// merge time so that PR cannot evict a recently merged one.
		if len(all) >= limit {
			if extraPages >= 1 {
				break
			}
			extraPages++
		}
		opts.Page = resp.NextPage
	}

	return mostRecentlyMerged(all, limit), nil
}

// mostRecentlyMerged orders pulls by merge time, newest first, and
// truncates to limit
func mostRecentlyMerged(all []PullData, limit int) []PullData {
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].MergedAt.After(all[j].MergedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

func pullData(pr *github.PullRequest) PullData {
	data := PullData{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		URL:            pr.GetHTMLURL(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		Author:         pr.GetUser().GetLogin(),
		MergedBy:       pr.GetMergedBy().GetLogin(),
		BaseRef:        pr.GetBase().GetRef(),
	}
	if pr.MergedAt != nil {
		data.MergedAt = pr.MergedAt.Time
		data.Merged = true
	}
	return data
}

func commitData(rc *github.RepositoryCommit) CommitData {
	data := CommitData{
		SHA:     rc.GetSHA(),
		Message: rc.GetCommit().GetMessage(),
	}
	// Prefer the GitHub login; fall back to the git author name for
	// commits not linked to an account
	if login := rc.GetAuthor().GetLogin(); login != "" {
		data.Author = login
	} else {
		data.Author = rc.GetCommit().GetAuthor().GetName()
	}
	if author := rc.GetCommit().GetAuthor(); author != nil && author.Date != nil {
		data.AuthorDate = author.Date.Time
	}
	for _, p := range rc.Parents {
		data.Parents = append(data.Parents, p.GetSHA())
	}
	return data
}
