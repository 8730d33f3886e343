package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/profile-resolver/internal/fetcher"
)

var (
	importFile  string
	importSheet string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed company records from a CSV or XLSX file",
	Long: "Reads symbol, name and optional date columns from a local file or URL and " +
		"inserts any records not already stored. Existing resolutions are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importFile == "" {
			return eris.New("--file is required")
		}

		recs, err := fetcher.ReadSeeds(ctx, importFile, fetcher.SeedOptions{
			HTTP:  fetcher.HTTPOptions{UserAgent: cfg.Wikipedia.UserAgent},
			Sheet: fetcher.XLSXOptions{SheetName: importSheet},
		})
		if err != nil {
			return eris.Wrap(err, "import seeds")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inserted, err := st.Upsert(ctx, recs)
		if err != nil {
			return eris.Wrap(err, "upsert seeds")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("read", len(recs)),
			zap.Int("inserted", inserted),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path or URL of a .csv or .xlsx seed list (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for .xlsx files (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
