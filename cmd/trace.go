package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inspection-cli/internal/risk"
)

var traceCmd = &cobra.Command{
	Use:   "trace <property-id>",
	Short: "Show every defect contributing to a property's risk score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")

		env, err := initApp(ctx, "trace")
		if err != nil {
			return err
		}
		defer env.Close()

		tr, err := env.Risk.Traceability(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "trace property")
		}

		if format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*risk.Trace
				Consistent bool `json:"consistent"`
			}{tr, tr.Consistent()})
		}
		formatTrace(os.Stdout, tr)
		return nil
	},
}

func init() {
	traceCmd.Flags().String("format", "table", "output format (table, json)")
	rootCmd.AddCommand(traceCmd)
}

// formatTrace writes a per-room breakdown of contributing defects to out.
func formatTrace(out io.Writer, tr *risk.Trace) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROOM\tTYPE\tFINDING\tDEFECT\tCONFIDENCE\tWEIGHT")
	_, _ = fmt.Fprintln(w, "----\t----\t-------\t------\t----------\t------")
	for _, room := range tr.Rooms {
		if len(room.Defects) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t%s\t\t\t\t0\n", room.RoomID, room.RoomType)
			continue
		}
		for _, d := range room.Defects {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%d\n",
				room.RoomID, room.RoomType, truncateID(d.FindingID), d.Category, d.Confidence, d.SeverityWeight)
		}
	}
	_ = w.Flush()

	stored := "none"
	if tr.StoredScore != nil {
		stored = fmt.Sprintf("%d", *tr.StoredScore)
	}
	_, _ = fmt.Fprintf(out, "\nTotal weight: %d  Stored score: %s  Category: %s\n", tr.Total, stored, tr.Category)
	if !tr.Consistent() {
		_, _ = fmt.Fprintln(out, "Stored score does not match current tags; run score --recompute.")
	}
}
