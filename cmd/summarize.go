package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <property-id>...",
	Short: "Generate and store the inspection summary of properties",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "summarize")
		if err != nil {
			return err
		}
		defer env.Close()

		var failed int
		for _, id := range args {
			text, err := env.Summary.Generate(ctx, id)
			if err != nil {
				failed++
				zap.L().Error("summary failed", zap.String("property_id", id), zap.Error(err))
				continue
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", id, text)
		}

		if failed > 0 {
			return eris.Errorf("summarize: %d of %d properties failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}
