package verification

import "fmt"

// ValidationError reports a malformed Input. It is always a caller bug and
// is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid verification input: %s: %s", e.Field, e.Msg)
}

func validateInput(input *Input) error {
	if input.CommitSHA == "" {
		return &ValidationError{Field: "commit_sha", Msg: "missing commit SHA"}
	}
	if input.Repository.Owner == "" || input.Repository.Name == "" {
		return &ValidationError{Field: "repository", Msg: "missing repository owner/name"}
	}
	return nil
}
