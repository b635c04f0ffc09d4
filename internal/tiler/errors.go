package tiler

import "fmt"

// InvalidImageError reports input that cannot be decoded or has zero area.
// It is a user input error: the job fails fast and never reaches the engine.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid image: %s", e.Reason)
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

// UnsupportedModeError reports an unrecognized processing mode or
// resolution tier string.
type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported mode: %q", e.Mode)
}
