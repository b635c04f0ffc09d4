package engine

import (
	"fmt"
	"time"
)

// BatchTooLargeError reports a batch exceeding the configured cap.
// This is a programming or configuration defect, never a user input error.
type BatchTooLargeError struct {
	Size int
	Max  int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d tiles exceeds engine cap of %d", e.Size, e.Max)
}

// EngineTimeoutError reports a model call that exceeded the engine
// timeout. It is transient: jobs retry it within their retry budget.
type EngineTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *EngineTimeoutError) Error() string {
	return fmt.Sprintf("inference timed out after %v", e.Timeout)
}

func (e *EngineTimeoutError) Unwrap() error { return e.Err }

// EngineUnavailableError reports an engine-fatal condition such as the
// inference device being unreachable. It fails the whole batch and is not
// retried.
type EngineUnavailableError struct {
	Err error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("inference engine unavailable: %v", e.Err)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Err }
