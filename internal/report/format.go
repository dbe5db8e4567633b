package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"netmon/internal/observation"
)

// Format writes s as an aligned text table.
func Format(w io.Writer, s Summary) error {
	if s.Rows == 0 {
		_, err := fmt.Fprintln(w, "no observations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "rows:\t%d\n", s.Rows)
	fmt.Fprintf(tw, "from:\t%s\n", s.From.Format(observation.TimeLayout))
	fmt.Fprintf(tw, "to:\t%s\n\n", s.To.Format(observation.TimeLayout))
	fmt.Fprintln(tw, "metric\tcount\tmissing\tmin\tavg\tmax")
	for _, m := range []struct {
		name string
		st   Stats
	}{
		{"latency_ms", s.Latency},
		{"download_mbps", s.Download},
		{"upload_mbps", s.Upload},
	} {
		ok := m.st.Count > 0
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", m.name, m.st.Count, m.st.Missing,
			observation.FormatValue(m.st.Min, ok),
			observation.FormatValue(m.st.Avg, ok),
			observation.FormatValue(m.st.Max, ok))
	}
	return tw.Flush()
}
