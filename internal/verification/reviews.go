package verification

import "sort"

// collapseReviews reduces a review list to one review per user.
//
// Reviews are folded in submission order, keeping the most recent review
// per user, with one exception: a stored APPROVED state is never replaced
// by a later non-APPROVED review from the same user. A post-merge nit
// comment must not erase an approval that was already granted.
func collapseReviews(reviews []Review) map[string]Review {
	ordered := make([]Review, len(reviews))
	copy(ordered, reviews)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SubmittedAt.Equal(ordered[j].SubmittedAt) {
			return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
		}
		// Equal timestamps: keep input order, tie-break on state so the
		// fold stays deterministic regardless of upstream ordering
		return ordered[i].State < ordered[j].State
	})

	latest := make(map[string]Review)
	for _, r := range ordered {
		if r.Username == "" {
			continue
		}
		prev, seen := latest[r.Username]
		if seen && prev.State == ReviewApproved && r.State != ReviewApproved {
			continue
		}
		latest[r.Username] = r
	}
	return latest
}

// approvalsByTime returns the collapsed APPROVED reviews sorted oldest
// first, with username as a tie-break for determinism
func approvalsByTime(latest map[string]Review) []Review {
	var approvals []Review
	for _, r := range latest {
		if r.State == ReviewApproved {
			approvals = append(approvals, r)
		}
	}
	sort.Slice(approvals, func(i, j int) bool {
		if !approvals[i].SubmittedAt.Equal(approvals[j].SubmittedAt) {
			return approvals[i].SubmittedAt.Before(approvals[j].SubmittedAt)
		}
		return approvals[i].Username < approvals[j].Username
	})
	return approvals
}
