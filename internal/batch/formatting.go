package batch

import (
	"encoding/csv"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/visekai/tessellate/internal/job"
)

// formatResults renders the per-file results in the requested format.
func formatResults(results []FileResult, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(results)
	case "csv":
		return formatCSV(results)
	default: // text
		return formatText(results), nil
	}
}

func formatJSON(results []FileResult) (string, error) {
	payload := struct {
		Images []FileResult `json:"images"`
	}{Images: results}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(payload, "", "  ")
	return string(b), err
}

func formatCSV(results []FileResult) (string, error) {
	rows := [][]string{
		{"file", "state", "confidence", "error_kind", "text"},
	}
	for _, fr := range results {
		var confidence float64
		var text string
		if fr.Job.Result != nil {
			confidence = fr.Job.Result.Confidence
			text = fr.Job.Result.Text
		}
		rows = append(rows, []string{
			fr.Path,
			string(fr.Job.State),
			fmt.Sprintf("%.3f", confidence),
			string(fr.Job.ErrorKind),
			text,
		})
	}

	var out strings.Builder
	writer := csv.NewWriter(&out)
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return out.String(), writer.Error()
}

func formatText(results []FileResult) string {
	var out strings.Builder
	for _, fr := range results {
		fmt.Fprintf(&out, "=== %s ===\n", fr.Path)
		if fr.Job.State == job.StateCompleted && fr.Job.Result != nil {
			fmt.Fprintf(&out, "confidence: %.3f\n", fr.Job.Result.Confidence)
			out.WriteString(fr.Job.Result.Text)
			out.WriteString("\n")
		} else {
			fmt.Fprintf(&out, "failed (%s): %s\n", fr.Job.ErrorKind, fr.Job.Error)
		}
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}
