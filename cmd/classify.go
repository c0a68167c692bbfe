package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/classify"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [finding-id...]",
	Short: "Classify findings and update room and property risk",
	Long: `Classify findings into the defect taxonomy, record their tags and
rescore the affected rooms and properties.

Pass finding ids as arguments, or use --pending to classify every pending
finding, optionally limited to one property with --property. A failure on
one finding is recorded and does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pending, _ := cmd.Flags().GetBool("pending")
		propertyID, _ := cmd.Flags().GetString("property")
		if pending == (len(args) > 0) {
			return eris.New("pass finding ids or --pending, not both")
		}

		env, err := initApp(ctx, "classify")
		if err != nil {
			return err
		}
		defer env.Close()

		var res *classify.BatchResult
		if pending {
			res, err = env.Batch.ClassifyPending(ctx, store.FindingFilter{PropertyID: propertyID})
			if err != nil {
				return eris.Wrap(err, "classify pending")
			}
		} else {
			res = env.Batch.ClassifyBatch(ctx, args)
		}

		zap.L().Info("classification complete",
			zap.Int("classified", len(res.Tags)),
			zap.Int("failed", len(res.Failed)),
			zap.Int("properties", len(res.Properties)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify <finding-id> <category[:confidence]>...",
	Short: "Manually replace the tags of a finding",
	Long: `Replace the current tags of a finding with the given categories and
append them to its history as a manual reclassification. Confidence
defaults to 1.0. The room and property scores are recomputed.

Example:
  reclassify 3f2c9e0a-... "water leak" mold:0.8`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		labels, err := parseLabels(args[1:])
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "reclassify")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Reclassify(ctx, args[0], labels)
		if err != nil {
			return eris.Wrap(err, "reclassify")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// parseLabels reads "category" or "category:confidence" arguments.
func parseLabels(args []string) ([]model.Label, error) {
	labels := make([]model.Label, 0, len(args))
	for _, arg := range args {
		category, conf, hasConf := strings.Cut(arg, ":")
		l := model.Label{Category: strings.TrimSpace(category), Confidence: classify.UnsetConfidence}
		if hasConf {
			v, err := strconv.ParseFloat(strings.TrimSpace(conf), 64)
			if err != nil {
				return nil, eris.Wrapf(classify.ErrValidation, "bad confidence in %q", arg)
			}
			l.Confidence = v
		}
		labels = append(labels, l)
	}
	return labels, nil
}

func init() {
	classifyCmd.Flags().Bool("pending", false, "classify every pending finding")
	classifyCmd.Flags().String("property", "", "with --pending, only findings of this property")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(reclassifyCmd)
}
