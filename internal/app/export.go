package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"commissiond/internal/service"
)

// ExportOptions hold output paths for an export.
type ExportOptions struct {
	PNGPath string
	CSVPath string
}

func (o ExportOptions) validate() error {
	if o.CSVPath == "" && o.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	return nil
}

type chartSize struct {
	width, height int
}

func (a *App) chartSize() chartSize {
	return chartSize{width: a.Config.Export.ChartWidth, height: a.Config.Export.ChartHeight}
}

// ExportCohorts writes the retention matrix as CSV and/or a PNG of retention curves.
func (a *App) ExportCohorts(ctx context.Context, cohorts CohortOptions, opts ExportOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	window, err := a.cohortWindow(cohorts, time.Now())
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
	if len(report.Matrix) == 0 {
		a.Logger.Info().Msg("no cohorts found for export window")
		return nil
	}

	a.Logger.Info().Int("cohorts", len(report.Matrix)).Msg("exporting cohort matrix")
	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeCohortCSV(w, report) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		size := a.chartSize()
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return renderCohortPNG(w, report, size) }); err != nil {
			return err
		}
	}
	return nil
}

// ExportAttribution writes the decomposition as CSV and/or a PNG bar chart.
func (a *App) ExportAttribution(ctx context.Context, attr AttributionOptions, opts ExportOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	prior, current, err := attr.periods(time.Now())
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

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeAttributionCSV(w, report) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		size := a.chartSize()
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return renderAttributionPNG(w, report, size) }); err != nil {
			return err
		}
	}
	return nil
}

func writeCohortCSV(out io.Writer, report service.CohortReport) error {
	writer := csv.NewWriter(out)
	if err := writer.Write([]string{"cohort_id", "offset_months", "active_count", "lapsed_count", "cancelled_count", "retention"}); err != nil {
		return err
	}
	for _, id := range report.Matrix.CohortIDs() {
		for _, p := range report.Matrix[id] {
			record := []string{
				id,
				strconv.Itoa(p.OffsetMonths),
				strconv.FormatInt(p.ActiveCount, 10),
				strconv.FormatInt(p.LapsedCount, 10),
				strconv.FormatInt(p.CancelledCount, 10),
				strconv.FormatFloat(p.Retention, 'f', 6, 64),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeAttributionCSV(out io.Writer, report service.AttributionReport) error {
	writer := csv.NewWriter(out)
	r := report.Result
	rows := [][]string{
		{"prior", "current", "effect", "amount", "percent"},
		{report.Prior.Period, report.Current.Period, "volume", r.VolumeEffect.String(), r.VolumePercent.String()},
		{report.Prior.Period, report.Current.Period, "rate", r.RateEffect.String(), r.RatePercent.String()},
		{report.Prior.Period, report.Current.Period, "mix", r.MixEffect.String(), r.MixPercent.String()},
		{report.Prior.Period, report.Current.Period, "total", r.TotalChange.String(), ""},
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func renderCohortPNG(out io.Writer, report service.CohortReport, size chartSize) error {
	maxOffset := 1
	series := make([]chart.Series, 0, len(report.Matrix))
	for _, id := range report.Matrix.CohortIDs() {
		curve := report.Matrix[id]
		x := make([]float64, len(curve))
		y := make([]float64, len(curve))
		for i, p := range curve {
			x[i] = float64(p.OffsetMonths)
			y[i] = p.Retention * 100
			maxOffset = max(maxOffset, p.OffsetMonths)
		}
		series = append(series, chart.ContinuousSeries{Name: id, XValues: x, YValues: y})
	}

	percent := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f%%")
	}
	graph := chart.Chart{
		Width:  size.width,
		Height: size.height,
		XAxis: chart.XAxis{
			Name:           "Months since start",
			Range:          &chart.ContinuousRange{Min: 0, Max: float64(maxOffset)},
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "M%.0f") },
		},
		YAxis: chart.YAxis{
			Name:           "Retention",
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
			ValueFormatter: percent,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, out)
}

func renderAttributionPNG(out io.Writer, report service.AttributionReport, size chartSize) error {
	r := report.Result
	values := []chart.Value{
		{Label: "Volume", Value: r.VolumeEffect.InexactFloat64()},
		{Label: "Rate", Value: r.RateEffect.InexactFloat64()},
		{Label: "Mix", Value: r.MixEffect.InexactFloat64()},
		{Label: "Total", Value: r.TotalChange.InexactFloat64()},
	}

	lo, hi := 0.0, 0.0
	for _, v := range values {
		lo = math.Min(lo, v.Value)
		hi = math.Max(hi, v.Value)
	}
	if lo == hi {
		lo, hi = -1, 1
	}
	pad := (hi - lo) * 0.1

	graph := chart.BarChart{
		Title:        fmt.Sprintf("Commission change %s to %s", report.Prior.Period, report.Current.Period),
		Width:        size.width,
		Height:       size.height,
		BarWidth:     max(20, size.width/8),
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: lo - pad, Max: hi + pad},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: values,
	}
	return graph.Render(chart.PNG, out)
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
