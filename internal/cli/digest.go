package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"commissiond/internal/app"
)

var (
	digestAsOf   string
	digestTopN   int
	digestDryRun bool
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Build one lead vendor heat digest and send it now",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.DigestOptions{TopN: digestTopN, DryRun: digestDryRun}
		if digestAsOf != "" {
			asOf, err := time.Parse(time.RFC3339, digestAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of value: %w", err)
			}
			opts.AsOf = asOf
		}
		return getApp().SendDigest(cmd.Context(), opts)
	},
}

func init() {
	digestCmd.Flags().StringVar(&digestAsOf, "as-of", "", "Score as of this RFC3339 time (defaults to now)")
	digestCmd.Flags().IntVar(&digestTopN, "top", 0, "Vendors to list at each end (defaults to config)")
	digestCmd.Flags().BoolVar(&digestDryRun, "dry-run", false, "Print the digest instead of sending it")
}
