package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/visekai/tessellate/internal/batch"
)

// batchCmd processes many images through the pipeline in one run.
var batchCmd = &cobra.Command{
	Use:   "batch [files or directories...]",
	Short: "Run OCR on multiple images or directories",
	Long: `Discover image files under the given paths and process each one
through the tiling pipeline, several files in flight at a time.

Examples:
  tessellate batch scans/
  tessellate batch scans/ --recursive --workers 8 --output results.json --output-format json
  tessellate batch scans/ --include 'page_*.png' --exclude 'draft_*'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		bcfg := batch.DefaultConfig()
		bcfg.Mode, _ = cmd.Flags().GetString("mode")
		bcfg.Resolution, _ = cmd.Flags().GetString("resolution")
		bcfg.Format, _ = cmd.Flags().GetString("format")
		bcfg.OutputFormat, _ = cmd.Flags().GetString("output-format")
		bcfg.OutputFile, _ = cmd.Flags().GetString("output")
		bcfg.Workers, _ = cmd.Flags().GetInt("workers")
		bcfg.Recursive, _ = cmd.Flags().GetBool("recursive")
		bcfg.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
		bcfg.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
		bcfg.Quiet, _ = cmd.Flags().GetBool("quiet")

		pipeline, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		result, err := batch.Run(cmd.Context(), pipeline.Scheduler, args, bcfg)
		if err != nil {
			return err
		}

		if err := result.SaveResults(bcfg.OutputFormat, bcfg.OutputFile, bcfg.Quiet); err != nil {
			return err
		}
		if !bcfg.Quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "processed %d files in %s (%d ok, %d failed, %d workers)\n",
				len(result.Results), result.Duration.Round(time.Millisecond),
				result.Succeeded(), result.Failed(), result.WorkerCount)
		}
		if result.Failed() > 0 {
			return fmt.Errorf("%d of %d files failed", result.Failed(), len(result.Results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("mode", "document", "processing mode (document, handwritten, general, figure)")
	batchCmd.Flags().String("resolution", "base", "resolution tier (tiny, small, base, large, gundam)")
	batchCmd.Flags().StringP("format", "f", "markdown", "per-job output format (text, markdown, json)")
	batchCmd.Flags().String("output-format", "text", "batch report format (text, json, csv)")
	batchCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	batchCmd.Flags().IntP("workers", "w", 4, "files in flight at a time")
	batchCmd.Flags().BoolP("recursive", "r", false, "recurse into subdirectories")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of file names to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of file names to exclude")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress the report and summary on stdout")
}
