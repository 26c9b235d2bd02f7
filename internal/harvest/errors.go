package harvest

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDOI marks a record without an identifier to resolve.
	ErrMissingDOI = errors.New("record carries no DOI identifier")
	// ErrThirdPartyRedirect marks an article page served off the aggregator.
	ErrThirdPartyRedirect = errors.New("article page is hosted by a third party")
	// ErrLinkExhausted marks a download link that failed every attempt.
	ErrLinkExhausted = errors.New("download attempts exhausted")
	// ErrInvalidTarget marks a target that is neither a set nor a subset.
	ErrInvalidTarget = errors.New("invalid target")
)

// RetryableError wraps a transient record fault; the record is requeued.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// IsRetryable reports whether err should requeue its record.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
