package purge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownMessage means the message is already gone. It counts as done.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrBulkTooOld means the platform refused a bulk delete because a
	// message is outside the bulk window.
	ErrBulkTooOld = errors.New("message too old for bulk delete")

	ErrTimeout  = errors.New("sweep timed out")
	ErrCanceled = errors.New("sweep canceled")
)

// RateLimitError is a "retry after" response.
type RateLimitError struct {
	RetryAfter time.Duration
	Global     bool
	Bucket     string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// RetryableAPIError aborts a sweep; it is retried on the next tick.
type RetryableAPIError struct {
	Op  string
	Err error
}

func (e *RetryableAPIError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *RetryableAPIError) Unwrap() error { return e.Err }

// PermanentFailure aborts a sweep for a reason that will not fix itself, such
// as missing permissions or a deleted channel.
type PermanentFailure struct {
	Reason string
	Code   int
	Err    error
}

func (e *PermanentFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent failure: %s: %v", e.Reason, e.Err)
	}
	return "permanent failure: " + e.Reason
}

func (e *PermanentFailure) Unwrap() error { return e.Err }

func IsPermanent(err error) bool {
	var pf *PermanentFailure
	return errors.As(err, &pf)
}

func IsRetryable(err error) bool {
	var re *RetryableAPIError
	return errors.As(err, &re)
}

// Outcome is the final state of one sweep.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomePermanent
	OutcomeTimeout
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}
