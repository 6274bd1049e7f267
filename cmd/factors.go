package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/scopezero/internal/factors"
	"github.com/sells-group/scopezero/internal/model"
)

var factorsCmd = &cobra.Command{
	Use:   "factors",
	Short: "List the emission factor catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		catalog, err := factors.Load(cfg.Factors.File)
		if err != nil {
			return err
		}
		formatFactors(os.Stdout, catalog)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(factorsCmd)
}

// formatFactors writes material then transport factors to w.
func formatFactors(out io.Writer, catalog *factors.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tNAME\tFACTOR\tUNIT\tSOURCE\tYEAR")
	_, _ = fmt.Fprintln(w, "--------\t----\t------\t----\t------\t----")

	for _, cat := range []model.FactorCategory{model.CategoryMaterial, model.CategoryTransport} {
		unit := "kg CO2e/kg"
		if cat == model.CategoryTransport {
			unit = "kg CO2e/kg·km"
		}
		for _, f := range catalog.List(cat) {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%s\t%d\n", cat, f.Name, f.Factor, unit, f.Source, f.Year)
		}
	}
	_ = w.Flush()
}
