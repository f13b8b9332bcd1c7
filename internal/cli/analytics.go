package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"commissiond/internal/app"
)

var (
	attrPrior   string
	attrCurrent string

	cohortStart     string
	cohortEnd       string
	cohortMaxOffset int

	heatAsOf     string
	heatLimit    int
	heatByVendor bool
)

var attributionCmd = &cobra.Command{
	Use:   "attribution",
	Short: "Split a commission change into volume, rate and mix effects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Attribution(cmd.Context(), attributionOptions())
	},
}

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Print the policy retention matrix by start month",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cohortMaxOffset < 0 {
			return fmt.Errorf("--max-offset must not be negative")
		}
		return getApp().Cohorts(cmd.Context(), cohortOptions())
	},
}

var heatCmd = &cobra.Command{
	Use:   "heat",
	Short: "Rank lead sources by heat score",
}

var heatVendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "Rank lead vendors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := heatOptions()
		if err != nil {
			return err
		}
		return getApp().VendorHeat(cmd.Context(), opts)
	},
}

var heatPacksCmd = &cobra.Command{
	Use:   "packs",
	Short: "Rank lead packs, or vendors by pack economics with --by-vendor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := heatOptions()
		if err != nil {
			return err
		}
		opts.ByVendor = heatByVendor
		return getApp().PackHeat(cmd.Context(), opts)
	},
}

var carriersCmd = &cobra.Command{
	Use:   "carriers",
	Short: "Rank carriers by commission returned on written premium",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := heatOptions()
		if err != nil {
			return err
		}
		return getApp().Carriers(cmd.Context(), opts)
	},
}

func attributionOptions() app.AttributionOptions {
	return app.AttributionOptions{Prior: attrPrior, Current: attrCurrent}
}

func cohortOptions() app.CohortOptions {
	return app.CohortOptions{Start: cohortStart, End: cohortEnd, MaxOffset: cohortMaxOffset}
}

func heatOptions() (app.HeatOptions, error) {
	if heatLimit < 0 {
		return app.HeatOptions{}, fmt.Errorf("--limit must not be negative")
	}
	opts := app.HeatOptions{Limit: heatLimit}
	if heatAsOf != "" {
		asOf, err := time.Parse(time.RFC3339, heatAsOf)
		if err != nil {
			return app.HeatOptions{}, fmt.Errorf("invalid --as-of value: %w", err)
		}
		opts.AsOf = asOf
	}
	return opts, nil
}

func addPeriodFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&attrPrior, "prior", "", "Prior period YYYY-MM (defaults to the month before --current)")
	cmd.Flags().StringVar(&attrCurrent, "current", "", "Current period YYYY-MM (defaults to this month)")
}

func addCohortFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cohortStart, "start", "", "First cohort month YYYY-MM (defaults to the configured lookback)")
	cmd.Flags().StringVar(&cohortEnd, "end", "", "Last cohort month YYYY-MM (defaults to this month)")
	cmd.Flags().IntVar(&cohortMaxOffset, "max-offset", 0, "Highest month offset to report (defaults to config)")
}

func init() {
	addPeriodFlags(attributionCmd)
	addCohortFlags(cohortsCmd)

	heatCmd.PersistentFlags().StringVar(&heatAsOf, "as-of", "", "Score as of this RFC3339 time (defaults to now)")
	heatCmd.PersistentFlags().IntVar(&heatLimit, "limit", 0, "Show only the top N entities")
	heatPacksCmd.Flags().BoolVar(&heatByVendor, "by-vendor", false, "Roll packs up to their vendor before scoring")
	heatCmd.AddCommand(heatVendorsCmd)
	heatCmd.AddCommand(heatPacksCmd)

	carriersCmd.Flags().StringVar(&heatAsOf, "as-of", "", "Rank carriers as of this RFC3339 time (defaults to now)")
	carriersCmd.Flags().IntVar(&heatLimit, "limit", 0, "Show only the top N carriers")
}
