package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPendingJob is returned by JobStore.FetchOldestPending when the
	// queue is empty. It is not a failure.
	ErrNoPendingJob = errors.New("no pending job")
	// ErrInvalidURL marks a job whose URL is not absolute http or https.
	ErrInvalidURL = errors.New("invalid job url")
	// ErrJobNotRunning is returned by Finalize when the job is missing or
	// no longer running.
	ErrJobNotRunning = errors.New("job is not running")
	// ErrProbeBudget marks a link probe refused because pacing would run
	// past the check deadline. It fails the check rather than the link.
	ErrProbeBudget = errors.New("probe budget exhausted")
)

// LeaseError wraps store failures while fetching or leasing a job. It is
// transient; the next tick retries.
type LeaseError struct {
	JobID string
	Err   error
}

func (e *LeaseError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("lease: %v", e.Err)
	}
	return fmt.Sprintf("lease job %s: %v", e.JobID, e.Err)
}

func (e *LeaseError) Unwrap() error { return e.Err }

// CheckError is raised by a check module.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s check failed: %v", e.Check, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// RenderError is raised when the report cannot be produced.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render report: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// StorageError is raised when the artifact cannot be written.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store artifact %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// URLResolutionError is raised when a written artifact has no public URL.
type URLResolutionError struct {
	Path string
	Err  error
}

func (e *URLResolutionError) Error() string {
	return fmt.Sprintf("resolve public url for %s: %v", e.Path, e.Err)
}

func (e *URLResolutionError) Unwrap() error { return e.Err }

// FailureMessage returns the text persisted in summary.error.
func FailureMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// FailureFromError builds the record persisted for a failed job.
func FailureFromError(err error) *Failure {
	return &Failure{Error: FailureMessage(err)}
}
