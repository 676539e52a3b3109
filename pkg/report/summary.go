package report

import (
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/audit"
)

// SampleErrors is how many error rows the summary prints.
const SampleErrors = 5

// PrintSummary writes the human-readable run summary.
func PrintSummary(w io.Writer, r *audit.Report, outputPath string) {
	fmt.Fprintln(w, "[audit] complete")
	fmt.Fprintf(w, "[audit] total firms: %d\n", r.Totals.FirmsSeen)
	fmt.Fprintf(w, "[audit] missing fields: %d\n", r.Totals.MissingCount)
	fmt.Fprintf(w, "[audit] errors: %d\n", r.Totals.ErrorCount)
	fmt.Fprintf(w, "[audit] elapsed: %s\n", r.Totals.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "[audit] output: %s\n", outputPath)

	if len(r.Errors) == 0 {
		return
	}
	fmt.Fprintln(w, "[audit] sample errors:")
	for i, row := range r.Errors {
		if i == SampleErrors {
			break
		}
		fmt.Fprintf(w, "  - %s: %s\n", row.ID, row.Message)
	}
}
