package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/visekai/tessellate/internal/job"
)

// imageCmd processes a single image synchronously from the command line.
var imageCmd = &cobra.Command{
	Use:   "image [file]",
	Short: "Run OCR on a single image file",
	Long: `Process one image through the full tiling pipeline and print the result.

Examples:
  tessellate image scan.png
  tessellate image photo.jpg --mode general --resolution large --format text
  tessellate image scan.png --model-url http://localhost:8000/api/v1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		mode, _ := cmd.Flags().GetString("mode")
		resolution, _ := cmd.Flags().GetString("resolution")
		format, _ := cmd.Flags().GetString("format")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("cannot read image file: %w", err)
		}

		pipeline, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		id, err := pipeline.Scheduler.Submit(cmd.Context(), data, mode, resolution, format)
		if err != nil {
			return err
		}

		// The scheduler is asynchronous; poll until the job settles.
		var snapshot job.Job
		for {
			snapshot, err = pipeline.Scheduler.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if snapshot.State.Terminal() {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}

		if snapshot.State == job.StateFailed {
			return fmt.Errorf("%s: %s", snapshot.ErrorKind, snapshot.Error)
		}
		return printResult(cmd, snapshot)
	},
}

func printResult(cmd *cobra.Command, j job.Job) error {
	if j.Result == nil {
		return errors.New("job completed without a result")
	}
	out := cmd.OutOrStdout()
	switch j.Format {
	case job.FormatText:
		_, err := fmt.Fprintln(out, j.Result.Text)
		return err
	case job.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(j.Result)
	default:
		_, err := fmt.Fprintln(out, j.Result.Markdown)
		return err
	}
}

func init() {
	rootCmd.AddCommand(imageCmd)

	imageCmd.Flags().String("mode", "document", "processing mode (document, handwritten, general, figure)")
	imageCmd.Flags().String("resolution", "base", "resolution tier (tiny, small, base, large, gundam)")
	imageCmd.Flags().StringP("format", "f", "markdown", "output format (text, markdown, json)")
}
