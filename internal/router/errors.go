package router

import "errors"

var (
	// ErrProviderTimeout marks a call that did not finish within its task timeout.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderRejected marks a call the backend failed or answered with nothing.
	ErrProviderRejected = errors.New("provider rejected")
	// ErrAllProvidersExhausted is returned when no provider for a task succeeded.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)
