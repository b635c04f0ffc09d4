package batch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/visekai/tessellate/internal/job"
)

// Config holds batch processing parameters.
type Config struct {
	// Job parameters applied to every submitted image.
	Mode       string
	Resolution string
	Format     string // job output format recorded on each job

	// Output settings.
	OutputFormat string // "text", "json" or "csv"
	OutputFile   string // empty writes to stdout
	Quiet        bool

	// Parallel submission settings.
	Workers      int
	PollInterval time.Duration

	// File discovery settings.
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{
		Mode:         "document",
		Resolution:   "base",
		OutputFormat: "text",
		Workers:      4,
		PollInterval: 25 * time.Millisecond,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	switch c.OutputFormat {
	case "", "text", "json", "csv":
	default:
		return fmt.Errorf("unknown output format: %q", c.OutputFormat)
	}
	return nil
}

// FileResult is the outcome of one submitted file.
type FileResult struct {
	Path string  `json:"file"`
	Job  job.Job `json:"job"`
}

// Result holds the outcome of one batch run.
type Result struct {
	Results     []FileResult
	Duration    time.Duration
	WorkerCount int
}

// Succeeded counts jobs that completed.
func (r *Result) Succeeded() int {
	n := 0
	for _, fr := range r.Results {
		if fr.Job.State == job.StateCompleted {
			n++
		}
	}
	return n
}

// Failed counts jobs that ended in a failed state.
func (r *Result) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// FormatResults renders the batch results in the given format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatResults(r.Results, format)
}

// SaveResults writes the formatted results to a file or stdout.
func (r *Result) SaveResults(format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}
	if !quiet {
		fmt.Println(output)
	}
	return nil
}
