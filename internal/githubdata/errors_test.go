package githubdata

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
)

func TestConvertError(t *testing.T) {
	notFound := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusNotFound},
	}
	serverErr := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusInternalServerError},
	}

	testCases := []struct {
		name          string
		err           error
		wantRateLimit bool
		wantNotFound  bool
	}{
		{"nil passes through", nil, false, false},
		{"rate limit", &github.RateLimitError{}, true, false},
		{"abuse rate limit", &github.AbuseRateLimitError{}, true, false},
		{"404 becomes not found", notFound, false, true},
		{"500 stays generic", serverErr, false, false},
		{"wrapped rate limit", fmt.Errorf("outer: %w", &github.RateLimitError{}), true, false},
		{"plain error stays generic", errors.New("boom"), false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := convertError("pull 42", tc.err)
			if tc.err == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected an error")
			}
			if IsRateLimit(got) != tc.wantRateLimit {
				t.Errorf("IsRateLimit = %v, want %v", IsRateLimit(got), tc.wantRateLimit)
			}
			if IsNotFound(got) != tc.wantNotFound {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(got), tc.wantNotFound)
			}
		})
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	resetAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	err := &RateLimitError{ResetAt: resetAt}
	want := "github rate limit exceeded, resets at 2025-03-10T12:00:00Z"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	bare := &RateLimitError{}
	if bare.Error() != "github rate limit exceeded" {
		t.Errorf("unexpected message %q", bare.Error())
	}
}
