package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scopezero/internal/pipeline"
	"github.com/sells-group/scopezero/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print views over stored shipments",
	Long:  "Commands for printing the dashboard, recommendations, audit, records and emission breakdowns as JSON.",
}

// reportView runs fn against a read-only environment and prints its result.
func reportView(name string, fn func(ctx context.Context, p *pipeline.Pipeline) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "report")
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := fn(ctx, env.Pipeline)
		if err != nil {
			return eris.Wrap(err, "report "+name)
		}
		return writeIndented(os.Stdout, v)
	}
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var reportDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show emission totals by supplier, material and transport mode",
	RunE: reportView("dashboard", func(ctx context.Context, p *pipeline.Pipeline) (any, error) {
		return p.Dashboard(ctx)
	}),
}

var reportRecommendationsCmd = &cobra.Command{
	Use:   "recommendations",
	Short: "Show ranked mitigation recommendations",
	RunE: reportView("recommendations", func(ctx context.Context, p *pipeline.Pipeline) (any, error) {
		return p.Recommendations(ctx)
	}),
}

var reportAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show data completeness and factor coverage",
	RunE: reportView("audit", func(ctx context.Context, p *pipeline.Pipeline) (any, error) {
		return p.Audit(ctx)
	}),
}

var reportRecordsLimit int

var reportRecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Show the most recently stored shipments",
	RunE: reportView("records", func(ctx context.Context, p *pipeline.Pipeline) (any, error) {
		return p.Records(ctx, reportRecordsLimit)
	}),
}

var (
	reportMetric  string
	reportGroupBy string
	reportFilters map[string]string
)

var reportEmissionsCmd = &cobra.Command{
	Use:   "emissions",
	Short: "Sum emissions grouped by supplier, region, material or transport mode",
	RunE: reportView("emissions", func(ctx context.Context, p *pipeline.Pipeline) (any, error) {
		q, err := buildSumQuery(reportMetric, reportGroupBy, reportFilters)
		if err != nil {
			return nil, err
		}
		return p.Emissions(ctx, q)
	}),
}

// buildSumQuery turns command flags into a validated store.SumQuery.
func buildSumQuery(metric, groupBy string, filters map[string]string) (store.SumQuery, error) {
	q := store.SumQuery{Metric: store.Metric(metric)}
	for _, d := range strings.Split(groupBy, ",") {
		if d = strings.TrimSpace(d); d != "" {
			q.GroupBy = append(q.GroupBy, store.Dimension(d))
		}
	}
	for k, v := range filters {
		if q.Filter == nil {
			q.Filter = make(map[store.Dimension]string, len(filters))
		}
		q.Filter[store.Dimension(k)] = v
	}
	if err := q.Validate(); err != nil {
		return store.SumQuery{}, err
	}
	return q, nil
}

func init() {
	reportRecordsCmd.Flags().IntVar(&reportRecordsLimit, "limit", pipeline.DefaultRecordLimit, "max number of records to show")

	reportEmissionsCmd.Flags().StringVar(&reportMetric, "metric", string(store.MetricTotal), "emission metric (material_emission, transport_emission, total_emission)")
	reportEmissionsCmd.Flags().StringVar(&reportGroupBy, "group-by", "", "comma-separated dimensions (supplier, region, material, transport_mode)")
	reportEmissionsCmd.Flags().StringToStringVar(&reportFilters, "filter", nil, "exact-match filters, e.g. --filter region=EU")

	reportCmd.AddCommand(reportDashboardCmd)
	reportCmd.AddCommand(reportRecommendationsCmd)
	reportCmd.AddCommand(reportAuditCmd)
	reportCmd.AddCommand(reportRecordsCmd)
	reportCmd.AddCommand(reportEmissionsCmd)
	rootCmd.AddCommand(reportCmd)
}
