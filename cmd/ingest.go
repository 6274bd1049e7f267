package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	ingestFile  string
	ingestSheet string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a CSV or XLSX shipment file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ingestSheet != "" {
			cfg.Ingest.XLSXSheet = ingestSheet
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(ingestFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", ingestFile)
		}
		defer f.Close() //nolint:errcheck

		summary, err := env.Pipeline.Ingest(ctx, filepath.Base(ingestFile), f)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a .csv or .xlsx file (required)")
	ingestCmd.Flags().StringVar(&ingestSheet, "sheet", "", "XLSX sheet to read (default from config, else the first sheet)")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
