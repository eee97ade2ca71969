package manifest

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

// PrintSummary writes a human-readable table of m followed by aggregate counts.
func PrintSummary(w io.Writer, m *models.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tSTATUS\tSTART\tEND\tROWS\tSIZE(MB)\tDETAIL")
	for _, e := range m.Entries {
		status := "ok"
		detail := ""
		switch {
		case !e.Exists:
			status = "missing"
			detail = e.Error
		case e.Error != "":
			status = "error"
			detail = e.Error
		case e.LargestGap > 0:
			detail = fmt.Sprintf("largest gap %dd", e.LargestGap)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			e.Code, status, dash(e.StartDate), dash(e.EndDate), e.Count, e.FileSizeMB, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s artifacts in %s: total %d, complete %d, errored %d\n",
		m.Format, m.OutputDir, m.Total, m.Complete, m.Errored)
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
