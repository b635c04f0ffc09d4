// Package job defines the data model shared by the tiling pipeline:
// jobs, their lifecycle states, and the document-level result payload.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of an OCR job.
// Transitions are monotonic: pending -> running -> completed|failed.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Mode represents the OCR processing mode.
type Mode string

const (
	ModeDocument    Mode = "document"
	ModeHandwritten Mode = "handwritten"
	ModeGeneral     Mode = "general"
	ModeFigure      Mode = "figure"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDocument, ModeHandwritten, ModeGeneral, ModeFigure:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unsupported mode: %q", s)
}

// Resolution represents the resolution tier for the base view.
type Resolution string

const (
	ResolutionTiny   Resolution = "tiny"
	ResolutionSmall  Resolution = "small"
	ResolutionBase   Resolution = "base"
	ResolutionLarge  Resolution = "large"
	ResolutionGundam Resolution = "gundam"
)

// ParseResolution validates a resolution tier string.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case ResolutionTiny, ResolutionSmall, ResolutionBase, ResolutionLarge, ResolutionGundam:
		return Resolution(s), nil
	}
	return "", fmt.Errorf("unsupported resolution: %q", s)
}

// OutputFormat selects the primary rendering returned to the caller.
type OutputFormat string

const (
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
)

// ParseOutputFormat validates an output format string. Empty defaults to markdown.
func ParseOutputFormat(s string) (OutputFormat, error) {
	if s == "" {
		return FormatMarkdown, nil
	}
	switch OutputFormat(s) {
	case FormatText, FormatMarkdown, FormatJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unsupported output format: %q", s)
}

// ErrorKind classifies the terminal error of a failed job.
type ErrorKind string

const (
	ErrKindInvalidImage      ErrorKind = "InvalidImageError"
	ErrKindUnsupportedMode   ErrorKind = "UnsupportedModeError"
	ErrKindEngineTimeout     ErrorKind = "EngineTimeoutError"
	ErrKindEngineUnavailable ErrorKind = "EngineUnavailableError"
	ErrKindBatchTooLarge     ErrorKind = "BatchTooLargeError"
	ErrKindCancelled         ErrorKind = "Cancelled"
	ErrKindInternal          ErrorKind = "InternalError"
)

// Job is the unit of work representing one end-to-end OCR request for
// one image. The scheduler owns the job during execution; the store holds
// the authoritative snapshot visible to external callers.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	State       State           `json:"state"`
	Mode        Mode            `json:"mode"`
	Resolution  Resolution      `json:"resolution"`
	Format      OutputFormat    `json:"format"`
	Result      *DocumentResult `json:"result,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Region is a pixel rectangle in source image coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// TileTrace records per-tile contribution for debugging.
type TileTrace struct {
	Index      int     `json:"index"`
	Region     Region  `json:"region"`
	Confidence float64 `json:"confidence"`
	Chars      int     `json:"chars"`
}

// DocumentResult is the merged document-level output stored into Job.Result.
type DocumentResult struct {
	Text       string      `json:"text"`
	Markdown   string      `json:"markdown"`
	Confidence float64     `json:"confidence"`
	Tiles      []TileTrace `json:"tiles,omitempty"`
}
