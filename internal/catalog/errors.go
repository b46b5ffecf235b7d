package catalog

import "fmt"

// FetchError wraps upstream network/auth failures.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a FetchError for the given URL.
func NewFetchError(url string, err error) error {
	return &FetchError{URL: url, Err: err}
}

// ValidationError reports a raw record that cannot be normalized.
type ValidationError struct {
	Slug   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %q: %s", e.Slug, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(slug, reason string) error {
	return &ValidationError{Slug: slug, Reason: reason}
}

// StoreError wraps remote store failures (network, auth, quota).
type StoreError struct {
	Command string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Command, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a StoreError for the given command.
func NewStoreError(command string, err error) error {
	return &StoreError{Command: command, Err: err}
}
