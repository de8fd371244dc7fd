package newsfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed input. It is never retried.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a valid request whose result is absent or empty.
	ErrNotFound = errors.New("not found")
	// ErrBucketNotFound is returned by object store backends when the
	// configured bucket does not exist yet.
	ErrBucketNotFound = errors.New("bucket not found")
)

// Stage identifies where in the execution a failure happened.
type Stage string

const (
	// StageSearchAPI covers the provider call.
	StageSearchAPI Stage = "search_api"
	// StageStorage covers the object store write.
	StageStorage Stage = "storage"
)

// Validationf builds an error that matches ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ProviderError wraps a failed search provider call.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("search provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("search provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Stage reports StageSearchAPI.
func (e *ProviderError) Stage() Stage { return StageSearchAPI }

// StorageError wraps a failed object store operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("object store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("object store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Stage reports StageStorage.
func (e *StorageError) Stage() Stage { return StageStorage }

// StageOf returns the stage carried by err, if any.
func StageOf(err error) (Stage, bool) {
	var staged interface{ Stage() Stage }
	if errors.As(err, &staged) {
		return staged.Stage(), true
	}
	return "", false
}

// IsRetryable reports whether redelivering the work item could succeed.
// Validation failures, cancellations, and provider 4xx responses other than
// 408 and 429 are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		code := perr.StatusCode
		if code >= 400 && code < 500 &&
			code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}
