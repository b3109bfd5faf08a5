package domain

import "errors"

// Error taxonomy. Configuration errors abort the run before any target is
// touched; the per-target errors abort only the current target, except
// ErrPushFailed which triggers the push-to-review-request fallback.
var (
	ErrConfiguration      = errors.New("invalid configuration")
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrBranchNotFound     = errors.New("branch not found")
	ErrRefNotFound        = errors.New("ref not found")
	ErrCloneFailed        = errors.New("clone failed")
	ErrFetchFailed        = errors.New("fetch failed")
	ErrPushFailed         = errors.New("push failed")
)
