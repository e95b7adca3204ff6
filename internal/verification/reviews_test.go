package verification

import (
	"testing"
	"time"
)

func TestCollapseReviews(t *testing.T) {
	testCases := []struct {
		name    string
		reviews []Review
		want    map[string]ReviewState
	}{
		{
			name: "latest review per user wins",
			reviews: []Review{
				{Username: "bob", State: ReviewChangesRequested, SubmittedAt: at(9, 0)},
				{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 30)},
			},
			want: map[string]ReviewState{"bob": ReviewApproved},
		},
		{
			name: "approval survives later comment",
			reviews: []Review{
				{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 0)},
				{Username: "bob", State: ReviewCommented, SubmittedAt: at(9, 30)},
			},
			want: map[string]ReviewState{"bob": ReviewApproved},
		},
		{
			name: "approval survives later changes requested",
			reviews: []Review{
				{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 0)},
				{Username: "bob", State: ReviewChangesRequested, SubmittedAt: at(9, 30)},
			},
			want: map[string]ReviewState{"bob": ReviewApproved},
		},
		{
			name: "independent users",
			reviews: []Review{
				{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 0)},
				{Username: "carol", State: ReviewChangesRequested, SubmittedAt: at(9, 15)},
			},
			want: map[string]ReviewState{
				"bob":   ReviewApproved,
				"carol": ReviewChangesRequested,
			},
		},
		{
			name: "out-of-order input folds to the same result",
			reviews: []Review{
				{Username: "bob", State: ReviewCommented, SubmittedAt: at(9, 30)},
				{Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 0)},
			},
			want: map[string]ReviewState{"bob": ReviewApproved},
		},
		{
			name: "anonymous reviews dropped",
			reviews: []Review{
				{Username: "", State: ReviewApproved, SubmittedAt: at(9, 0)},
			},
			want: map[string]ReviewState{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := collapseReviews(tc.reviews)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d users, got %d: %v", len(tc.want), len(got), got)
			}
			for user, state := range tc.want {
				r, ok := got[user]
				if !ok {
					t.Errorf("missing user %s", user)
					continue
				}
				if r.State != state {
					t.Errorf("user %s: expected %s, got %s", user, state, r.State)
				}
			}
		})
	}
}

func TestApprovalsByTime(t *testing.T) {
	latest := map[string]Review{
		"carol": {Username: "carol", State: ReviewApproved, SubmittedAt: at(9, 30)},
		"bob":   {Username: "bob", State: ReviewApproved, SubmittedAt: at(9, 0)},
		"dave":  {Username: "dave", State: ReviewCommented, SubmittedAt: at(8, 0)},
	}

	approvals := approvalsByTime(latest)
	if len(approvals) != 2 {
		t.Fatalf("expected 2 approvals, got %d", len(approvals))
	}
	if approvals[0].Username != "bob" || approvals[1].Username != "carol" {
		t.Errorf("expected [bob carol], got [%s %s]",
			approvals[0].Username, approvals[1].Username)
	}
}

func TestApprovalsByTimeTieBreak(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	latest := map[string]Review{
		"zed": {Username: "zed", State: ReviewApproved, SubmittedAt: ts},
		"amy": {Username: "amy", State: ReviewApproved, SubmittedAt: ts},
	}

	for i := 0; i < 20; i++ {
		approvals := approvalsByTime(latest)
		if approvals[0].Username != "amy" {
			t.Fatalf("run %d: expected amy first on equal timestamps, got %s",
				i, approvals[0].Username)
		}
	}
}
