package cli

import (
	"github.com/spf13/cobra"

	"commissiond/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analyses as CSV and/or PNG chart",
}

var exportCohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Export the retention matrix and retention curves",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ExportCohorts(cmd.Context(), cohortOptions(), exportOptions())
	},
}

var exportAttributionCmd = &cobra.Command{
	Use:   "attribution",
	Short: "Export the commission change decomposition",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ExportAttribution(cmd.Context(), attributionOptions(), exportOptions())
	},
}

func exportOptions() app.ExportOptions {
	return app.ExportOptions{PNGPath: exportPNGPath, CSVPath: exportCSVPath}
}

func init() {
	exportCmd.PersistentFlags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.PersistentFlags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")

	addCohortFlags(exportCohortsCmd)
	addPeriodFlags(exportAttributionCmd)
	exportCmd.AddCommand(exportCohortsCmd)
	exportCmd.AddCommand(exportAttributionCmd)
}
