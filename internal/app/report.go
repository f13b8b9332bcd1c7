package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"commissiond/internal/fetcher"
	"commissiond/internal/heat"
	"commissiond/internal/service"
)

// AttributionOptions select the two periods to compare. Empty current means
// the month containing now; empty prior means the month before current.
type AttributionOptions struct {
	Prior   string
	Current string
}

// CohortOptions select the cohort window. Empty Start and End mean the
// configured lookback ending this month.
type CohortOptions struct {
	Start     string
	End       string
	MaxOffset int
}

// HeatOptions configure the heat commands.
type HeatOptions struct {
	AsOf     time.Time
	Limit    int
	ByVendor bool
}

func (o AttributionOptions) periods(now time.Time) (prior, current fetcher.Period, err error) {
	current = fetcher.PeriodOf(now)
	if o.Current != "" {
		if current, err = fetcher.ParsePeriod(o.Current); err != nil {
			return prior, current, err
		}
	}
	prior = current.Previous()
	if o.Prior != "" {
		if prior, err = fetcher.ParsePeriod(o.Prior); err != nil {
			return prior, current, err
		}
	}
	return prior, current, nil
}

func (a *App) cohortWindow(opts CohortOptions, now time.Time) (fetcher.CohortWindow, error) {
	maxOffset := a.Config.ResolveMaxOffset(opts.MaxOffset)
	if opts.Start == "" && opts.End == "" {
		return fetcher.LookbackWindow(a.Config.Analytics.CohortLookback, maxOffset, now), nil
	}
	start, end := opts.Start, opts.End
	if start == "" {
		start = end
	}
	if end == "" {
		end = fetcher.PeriodOf(now).Label
	}
	return fetcher.NewCohortWindow(start, end, maxOffset, now)
}

// Attribution prints the commission change decomposition.
func (a *App) Attribution(ctx context.Context, opts AttributionOptions) error {
	prior, current, err := opts.periods(time.Now())
	if err != nil {
		return err
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	report, err := b.service.Attribution(ctx, prior, current)
	if err != nil {
		return err
	}
	return printAttribution(a.Out, report)
}

// Cohorts prints the retention matrix and its summary.
func (a *App) Cohorts(ctx context.Context, opts CohortOptions) error {
	window, err := a.cohortWindow(opts, time.Now())
	if err != nil {
		return err
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	report, err := b.service.Cohorts(ctx, window)
	if err != nil {
		return err
	}
	return printCohorts(a.Out, report)
}

// VendorHeat prints ranked lead vendor heat.
func (a *App) VendorHeat(ctx context.Context, opts HeatOptions) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	report, err := b.service.VendorHeat(ctx, opts.AsOf)
	if err != nil {
		return err
	}
	return printHeat(a.Out, report, opts.Limit)
}

// PackHeat prints ranked lead pack heat.
func (a *App) PackHeat(ctx context.Context, opts HeatOptions) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	report, err := b.service.PackHeat(ctx, opts.AsOf, opts.ByVendor)
	if err != nil {
		return err
	}
	return printHeat(a.Out, report, opts.Limit)
}

// Carriers prints carriers ranked by return on written premium.
func (a *App) Carriers(ctx context.Context, opts HeatOptions) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	report, err := b.service.Carriers(ctx, opts.AsOf)
	if err != nil {
		return err
	}
	return printCarriers(a.Out, report, opts.Limit)
}

func printAttribution(out io.Writer, report service.AttributionReport) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Period\tPolicies\tPremium\tCommission\tAvg Premium\tAvg Rate")
	for _, snap := range []struct {
		label string
		count int64
		prem  decimal.Decimal
		comm  decimal.Decimal
		avgP  decimal.Decimal
		avgR  decimal.Decimal
	}{
		{report.Prior.Period, report.Prior.PolicyCount, report.Prior.TotalPremium, report.Prior.TotalCommission, report.Prior.AvgPremium(), report.Prior.AvgRate()},
		{report.Current.Period, report.Current.PolicyCount, report.Current.TotalPremium, report.Current.TotalCommission, report.Current.AvgPremium(), report.Current.AvgRate()},
	} {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\n",
			snap.label, snap.count,
			formatDecimal(snap.prem, 2), formatDecimal(snap.comm, 2),
			formatDecimal(snap.avgP, 2), formatDecimal(snap.avgR, 4))
	}
	fmt.Fprintln(writer)

	r := report.Result
	fmt.Fprintln(writer, "Effect\tAmount\tShare %")
	fmt.Fprintf(writer, "volume\t%s\t%s\n", formatDecimal(r.VolumeEffect, 2), formatDecimal(r.VolumePercent, 1))
	fmt.Fprintf(writer, "rate\t%s\t%s\n", formatDecimal(r.RateEffect, 2), formatDecimal(r.RatePercent, 1))
	fmt.Fprintf(writer, "mix\t%s\t%s\n", formatDecimal(r.MixEffect, 2), formatDecimal(r.MixPercent, 1))
	fmt.Fprintf(writer, "total\t%s\t\n", formatDecimal(r.TotalChange, 2))

	if len(report.MixShift) > 0 {
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "Product\tPrior Share\tShare\tShift")
		for _, s := range report.MixShift {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", s.Product,
				formatDecimal(s.PriorShare, 3), formatDecimal(s.Share, 3), formatDecimal(s.Shift, 3))
		}
	}

	if len(report.TopMovers) > 0 {
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "Mover\tName\tPrior\tCurrent\tChange\tChange %\tImpact")
		for _, m := range report.TopMovers {
			pct := "new"
			if m.ChangePercent != nil {
				pct = formatDecimal(*m.ChangePercent, 1)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", m.Dimension, m.Name,
				formatDecimal(m.Previous, 2), formatDecimal(m.Current, 2), formatDecimal(m.Change, 2), pct, m.Impact)
		}
	}
	return writer.Flush()
}

func printCohorts(out io.Writer, report service.CohortReport) error {
	ids := report.Matrix.CohortIDs()
	if len(ids) == 0 {
		_, err := fmt.Fprintln(out, "no cohorts found")
		return err
	}

	maxOffset := 0
	for _, id := range ids {
		curve := report.Matrix[id]
		if last := curve[len(curve)-1].OffsetMonths; last > maxOffset {
			maxOffset = last
		}
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	header := []string{"Cohort"}
	for m := 0; m <= maxOffset; m++ {
		header = append(header, fmt.Sprintf("M%d", m))
	}
	fmt.Fprintln(writer, strings.Join(header, "\t")+"\t")

	for _, id := range ids {
		cells := make([]string, maxOffset+1)
		for _, p := range report.Matrix[id] {
			cells[p.OffsetMonths] = fmt.Sprintf("%.1f%%", p.Retention*100)
		}
		fmt.Fprintln(writer, id+"\t"+strings.Join(cells, "\t")+"\t")
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	s := report.Summary
	fmt.Fprintf(out, "\ncohorts: %d\n", s.TotalCohorts)
	if s.AvgRetentionAtMonth9 != nil {
		fmt.Fprintf(out, "avg retention at month 9: %.1f%%\n", *s.AvgRetentionAtMonth9*100)
	}
	if s.BestCohortID != nil {
		fmt.Fprintf(out, "best cohort: %s (judged at M%d)\n", *s.BestCohortID, s.ReferenceOffsets[*s.BestCohortID])
	}
	if s.WorstCohortID != nil {
		fmt.Fprintf(out, "worst cohort: %s (judged at M%d)\n", *s.WorstCohortID, s.ReferenceOffsets[*s.WorstCohortID])
	}
	return printLedger(out, report)
}

func printLedger(out io.Writer, report service.CohortReport) error {
	if len(report.Earnings) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Cohort\tAdvance\tEarned\tUnearned\tEarned %\tChargebacks\tChargeback %")
	for i, e := range report.Earnings {
		cb := report.Chargebacks[i]
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.1f%%\t%s\t%.1f%%\n", e.CohortID,
			formatDecimal(e.TotalAdvance, 2), formatDecimal(e.TotalEarned, 2), formatDecimal(e.TotalUnearned, 2),
			e.Rate*100, formatDecimal(cb.Amount, 2), cb.Rate*100)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if r := report.Ledger.AvgChargebackRate; r != nil {
		fmt.Fprintf(out, "avg chargeback rate: %.1f%%\n", *r*100)
	}
	if r := report.Ledger.AvgEarningRate; r != nil {
		fmt.Fprintf(out, "avg earning rate: %.1f%%\n", *r*100)
	}
	return nil
}

func printHeat(out io.Writer, report service.HeatReport, limit int) error {
	if len(report.Scores) == 0 {
		_, err := fmt.Fprintln(out, "no entities to score")
		return err
	}

	scores := report.Scores
	if limit > 0 && limit < len(scores) {
		scores = scores[:limit]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "As of %s UTC\n", report.AsOf.UTC().Format(time.RFC3339))
	fmt.Fprintln(writer, "Rank\tID\tScore\tLevel\tTrend\tTop Signal")
	for _, s := range scores {
		fmt.Fprintf(writer, "%d\t%s\t%.1f\t%s\t%s\t%s\n", s.Rank, s.EntityID, s.Score, s.Level, s.Trend, topComponent(s))
	}
	return writer.Flush()
}

func printCarriers(out io.Writer, report service.CarrierReport, limit int) error {
	if len(report.Carriers) == 0 {
		_, err := fmt.Fprintln(out, "no carriers found")
		return err
	}

	carriers := report.Carriers
	if limit > 0 && limit < len(carriers) {
		carriers = carriers[:limit]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "As of %s UTC\n", report.AsOf.UTC().Format(time.RFC3339))
	fmt.Fprintln(writer, "Carrier\tPolicies\tPremium\tCommission\tAvg Rate %\tROI %\tPer Policy\tTrend")
	for _, c := range carriers {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n", c.CarrierName, c.PolicyCount,
			formatDecimal(c.TotalPremium, 2), formatDecimal(c.TotalCommission, 2),
			formatDecimal(c.AvgCommissionRate, 1), formatDecimal(c.ROI, 1),
			formatDecimal(c.Efficiency, 2), c.Trend)
	}
	return writer.Flush()
}

// topComponent names the signal contributing most to the score.
func topComponent(s heat.Score) string {
	best, bestValue := "", -1.0
	for name, v := range s.Components {
		if v > bestValue || (v == bestValue && name < best) {
			best, bestValue = name, v
		}
	}
	return best
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
