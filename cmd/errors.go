package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inspection-cli/internal/model"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect the error log",
	Long:  "Commands for listing and summarizing recorded classification, ingestion and summary errors.",
}

// -- errors list --

var errorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent error log entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListErrorLogs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "errors list")
		}
		entries = filterErrorLogs(entries, model.ErrorType(errType))

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No errors found.")
			return nil
		}

		formatErrorLogs(os.Stdout, entries)
		return nil
	},
}

// -- errors stats --

var errorsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count error log entries by type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")

		entries, err := st.ListErrorLogs(ctx, 10000) // high limit for stats
		if err != nil {
			return eris.Wrap(err, "errors stats")
		}

		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}
		formatErrorStats(os.Stdout, computeErrorStats(entries, cutoff))
		return nil
	},
}

func init() {
	errorsListCmd.Flags().String("type", "", "filter by error type (image_access_error, classification_error, ...)")
	errorsListCmd.Flags().Int("limit", 50, "max number of entries to display")

	errorsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	errorsCmd.AddCommand(errorsListCmd)
	errorsCmd.AddCommand(errorsStatsCmd)
	rootCmd.AddCommand(errorsCmd)
}

func filterErrorLogs(entries []model.ErrorLogEntry, errType model.ErrorType) []model.ErrorLogEntry {
	if errType == "" {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.ErrorType == errType {
			out = append(out, e)
		}
	}
	return out
}

// errorStat is the number of entries of one error type.
type errorStat struct {
	Type  model.ErrorType
	Count int
}

// computeErrorStats counts entries created at or after cutoff by type,
// most frequent first.
func computeErrorStats(entries []model.ErrorLogEntry, cutoff time.Time) []errorStat {
	counts := make(map[model.ErrorType]int)
	for _, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			continue
		}
		counts[e.ErrorType]++
	}

	stats := make([]errorStat, 0, len(counts))
	for t, n := range counts {
		stats = append(stats, errorStat{Type: t, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Type < stats[j].Type
	})
	return stats
}

// formatErrorLogs writes a tabular list of error log entries to w.
func formatErrorLogs(out io.Writer, entries []model.ErrorLogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tENTITY\tCREATED\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t-------")

	for _, e := range entries {
		entity := ""
		if e.EntityType != "" {
			entity = e.EntityType + ":" + truncateID(e.EntityID)
		}

		msg := e.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(e.ID),
			e.ErrorType,
			entity,
			e.CreatedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}

// formatErrorStats writes per-type counts to w.
func formatErrorStats(out io.Writer, stats []errorStat) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	total := 0
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", s.Type, s.Count)
		total += s.Count
	}
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", total)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
