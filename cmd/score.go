package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inspection-cli/internal/risk"
)

var scoreCmd = &cobra.Command{
	Use:   "score <property-id>",
	Short: "Compute the risk score of a property",
	Long: `Sum room risk scores into a property score and categorize it
(Low below 5, Medium below 10, High otherwise).

By default only rooms that already carry a score are summed and rooms with
no score are computed first. --recompute rescores every room from its
current tags.

Examples:
  score 1042
  score 1042 --recompute --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		recompute, _ := cmd.Flags().GetBool("recompute")
		format, _ := cmd.Flags().GetString("format")

		env, err := initApp(ctx, "score")
		if err != nil {
			return err
		}
		defer env.Close()

		var pr *risk.PropertyRisk
		if recompute {
			pr, err = env.Risk.Recompute(ctx, args[0])
		} else {
			pr, err = env.Risk.ComputePropertyRisk(ctx, args[0])
		}
		if err != nil {
			return eris.Wrap(err, "score property")
		}

		if format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pr)
		}
		formatPropertyRisk(os.Stdout, pr)
		return nil
	},
}

func init() {
	f := scoreCmd.Flags()
	f.Bool("recompute", false, "rescore every room from its current tags")
	f.String("format", "table", "output format (table, json)")
	rootCmd.AddCommand(scoreCmd)
}

// formatPropertyRisk writes a property score and its room scores to out.
func formatPropertyRisk(out io.Writer, pr *risk.PropertyRisk) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Property:\t%s\n", pr.PropertyID)
	_, _ = fmt.Fprintf(w, "Risk score:\t%d\n", pr.Score)
	_, _ = fmt.Fprintf(w, "Risk category:\t%s\n", pr.Category)

	rooms := make([]string, 0, len(pr.RoomScores))
	for id := range pr.RoomScores {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	for _, id := range rooms {
		_, _ = fmt.Fprintf(w, "  %s\t%d\n", id, pr.RoomScores[id])
	}
	_ = w.Flush()
}
