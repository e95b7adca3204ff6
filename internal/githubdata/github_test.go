package githubdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"
)

func mergedPull(number int, mergedAt time.Time) *github.PullRequest {
	return &github.PullRequest{
		Number:   github.Int(number),
		MergedAt: &github.Timestamp{Time: mergedAt},
		User:     &github.User{Login: github.String("alice")},
		Base:     &github.PullRequestBranch{Ref: github.String("main")},
	}
}

func newStubAPIClient(t *testing.T, handler http.Handler) (*APIClient, string) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing server URL: %v", err)
	}
	gh.BaseURL = base

	return &APIClient{
		gh:      gh,
		limiter: rate.NewLimiter(rate.Inf, 1),
		counter: NewRequestCounter(),
	}, srv.URL
}

func TestRecentMergedPullsOrdersByMergeTime(t *testing.T) {
	// The list endpoint orders by update time: PR 10 merged long ago but
	// touched recently sorts first, and PR 12, merged most recently, only
	// shows up on the second page
	page1 := []*github.PullRequest{
		mergedPull(10, ts(9, 0)),
		{Number: github.Int(99)}, // closed without merging
		mergedPull(11, ts(12, 0)),
	}
	page2 := []*github.PullRequest{
		mergedPull(12, ts(13, 0)),
	}

	var baseURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/shop/pulls", func(w http.ResponseWriter, r *http.Request) {
		page := page1
		if r.URL.Query().Get("page") == "2" {
			page = page2
		} else {
			w.Header().Set("Link",
				fmt.Sprintf(`<%s/repos/acme/shop/pulls?page=2>; rel="next"`, baseURL))
		}
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Errorf("encoding page: %v", err)
		}
	})

	client, srvURL := newStubAPIClient(t, mux)
	baseURL = srvURL

	pulls, err := client.RecentMergedPulls(context.Background(), "acme", "shop", "main", 2)
	if err != nil {
		t.Fatalf("RecentMergedPulls: %v", err)
	}

	var got []int
	for _, p := range pulls {
		got = append(got, p.Number)
	}
	if len(got) != 2 || got[0] != 12 || got[1] != 11 {
		t.Errorf("expected the two most recently merged PRs [12 11], got %v", got)
	}
}

func TestMostRecentlyMerged(t *testing.T) {
	all := []PullData{
		{Number: 10, MergedAt: ts(9, 0)},
		{Number: 12, MergedAt: ts(13, 0)},
		{Number: 11, MergedAt: ts(12, 0)},
	}

	window := mostRecentlyMerged(all, 2)
	if len(window) != 2 || window[0].Number != 12 || window[1].Number != 11 {
		t.Errorf("expected [12 11], got %v", window)
	}

	short := mostRecentlyMerged([]PullData{{Number: 7, MergedAt: ts(9, 0)}}, 5)
	if len(short) != 1 {
		t.Errorf("a window smaller than the limit stays whole, got %v", short)
	}
}
