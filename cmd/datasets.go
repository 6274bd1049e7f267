package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scopezero/internal/model"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List ingested datasets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		ds, err := st.ListDatasets(ctx)
		if err != nil {
			return eris.Wrap(err, "datasets list")
		}

		if len(ds) == 0 {
			fmt.Fprintln(os.Stderr, "No datasets found.")
			return nil
		}

		formatDatasets(os.Stdout, ds)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}

// formatDatasets writes a tabular list of datasets to w.
func formatDatasets(out io.Writer, ds []model.Dataset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILENAME\tRECORDS\tUPLOADED")
	_, _ = fmt.Fprintln(w, "--\t--------\t-------\t--------")

	for _, d := range ds {
		name := d.Filename
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			truncateID(d.ID),
			name,
			d.RecordCount,
			d.UploadTimestamp.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
