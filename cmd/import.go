package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/ingest"
)

var importManifestPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import properties, rooms and findings from a manifest",
	Long: `Import inspection data from a YAML or XLSX manifest.

YAML manifests nest rooms under properties and findings under rooms. XLSX
manifests hold one finding per row with property_id, location,
inspection_date, room_id, room_type, room_location, note, image and ref
columns. Image paths are resolved relative to the manifest and staged
under the configured asset root. Imported findings are left pending.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		m, err := ingest.Load(importManifestPath)
		if err != nil {
			return eris.Wrap(err, "import manifest")
		}

		env, err := initApp(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Ingester.Import(ctx, m, filepath.Dir(importManifestPath), env.Audit)
		if err != nil {
			return eris.Wrap(err, "import manifest")
		}

		zap.L().Info("import complete",
			zap.String("manifest", importManifestPath),
			zap.Int("properties", res.Properties),
			zap.Int("rooms", res.Rooms),
			zap.Int("findings", len(res.FindingIDs)),
			zap.Int("skipped", res.Skipped),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	importCmd.Flags().StringVar(&importManifestPath, "manifest", "", "path to YAML or XLSX manifest (required)")
	_ = importCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(importCmd)
}
