package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/config"
	"commissiond/internal/heat"
	"commissiond/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		Analytics: config.AnalyticsConfig{QueryTimeout: time.Second, MaxOffsetMonths: 24, CohortLookback: 6},
		Digest:    config.DigestConfig{Interval: time.Hour, TopN: 3},
		Export:    config.ExportConfig{ChartWidth: 640, ChartHeight: 360},
	}
}

func testApp() (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(testConfig(), zerolog.Nop())
	a.Out = &out
	return a, &out
}

func sampleAttribution(t *testing.T) service.AttributionReport {
	t.Helper()
	prior := attribution.PeriodSnapshot{
		Period: "2025-01", PolicyCount: 10,
		TotalPremium: decimal.NewFromInt(10000), TotalCommission: decimal.NewFromInt(5000),
		ProductMix: map[string]decimal.Decimal{"term": decimal.NewFromInt(1)},
	}
	current := attribution.PeriodSnapshot{
		Period: "2025-02", PolicyCount: 15,
		TotalPremium: decimal.NewFromInt(18000), TotalCommission: decimal.NewFromInt(9000),
		ProductMix: map[string]decimal.Decimal{
			"term":       decimal.RequireFromString("0.6"),
			"whole_life": decimal.RequireFromString("0.4"),
		},
	}
	result, err := attribution.Decompose(prior, current)
	require.NoError(t, err)
	prior.Breakdown = []attribution.Contribution{
		{Dimension: attribution.DimensionCarrier, Name: "Acme", Commission: decimal.NewFromInt(5000)},
	}
	current.Breakdown = []attribution.Contribution{
		{Dimension: attribution.DimensionCarrier, Name: "Acme", Commission: decimal.NewFromInt(3000)},
		{Dimension: attribution.DimensionCarrier, Name: "Beacon", Commission: decimal.NewFromInt(6000)},
	}
	movers, err := attribution.TopMovers(prior, current)
	require.NoError(t, err)
	return service.AttributionReport{
		Prior: prior, Current: current, Result: result,
		MixShift:  attribution.MixShift(prior, current),
		TopMovers: movers,
	}
}

func sampleCohorts(t *testing.T) service.CohortReport {
	t.Helper()
	matrix, summary, err := cohort.Build([]cohort.Record{
		{CohortID: "2025-01", OffsetMonths: 0, StartingCount: 20, ActiveCount: 20},
		{CohortID: "2025-01", OffsetMonths: 9, StartingCount: 20, ActiveCount: 17, LapsedCount: 2, CancelledCount: 1},
		{CohortID: "2025-02", OffsetMonths: 0, StartingCount: 10, ActiveCount: 10},
		{CohortID: "2025-02", OffsetMonths: 3, StartingCount: 10, ActiveCount: 9},
	})
	require.NoError(t, err)
	chargebacks, earnings, ledger, err := cohort.BuildLedger([]cohort.CommissionRecord{{
		CohortID:         "2025-01",
		PolicyCount:      20,
		TotalAdvance:     decimal.NewFromInt(2000),
		TotalEarned:      decimal.NewFromInt(1500),
		TotalUnearned:    decimal.NewFromInt(500),
		Chargebacks:      1,
		ChargebackAmount: decimal.NewFromInt(100),
		EarnedToDate:     decimal.Zero,
	}})
	require.NoError(t, err)
	return service.CohortReport{
		Start: "2025-01", End: "2025-02", MaxOffsetMonths: 9,
		Matrix: matrix, Summary: summary,
		Chargebacks: chargebacks, Earnings: earnings, Ledger: ledger,
	}
}

func TestPrintAttribution(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printAttribution(&out, sampleAttribution(t)))

	text := out.String()
	assert.Contains(t, text, "2025-01")
	assert.Contains(t, text, "2500.00")
	assert.Contains(t, text, "62.5")
	assert.Contains(t, text, "1500.00")
	assert.Contains(t, text, "4000.00")
	assert.Contains(t, text, "whole_life")
	assert.Contains(t, text, "Beacon")
	assert.Contains(t, text, "-2000.00")
	assert.Contains(t, text, "-40.0")
	assert.Contains(t, text, "new")
}

func TestPrintCohorts(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printCohorts(&out, sampleCohorts(t)))

	text := out.String()
	assert.Contains(t, text, "M9")
	assert.Contains(t, text, "85.0%")
	assert.Contains(t, text, "90.0%")
	assert.Contains(t, text, "avg retention at month 9: 87.5%")
	assert.Contains(t, text, "best cohort: 2025-02 (judged at M3)")
	assert.Contains(t, text, "worst cohort: 2025-01 (judged at M9)")
	assert.Contains(t, text, "75.0%")
	assert.Contains(t, text, "avg chargeback rate: 5.0%")
	assert.Contains(t, text, "avg earning rate: 75.0%")

	out.Reset()
	require.NoError(t, printCohorts(&out, service.CohortReport{}))
	assert.Equal(t, "no cohorts found\n", out.String())
}

func TestPrintHeat(t *testing.T) {
	report := service.HeatReport{
		AsOf: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Scores: []heat.Score{
			{EntityID: "v1", Score: 82.4, Rank: 1, Level: heat.LevelHot, Trend: heat.TrendUp,
				Components: map[string]float64{"sales_last_30d": 15, "days_since_last_sale": 20}},
			{EntityID: "v2", Score: 20, Rank: 2, Level: heat.LevelCooling, Trend: heat.TrendDown},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printHeat(&out, report, 1))

	text := out.String()
	assert.Contains(t, text, "As of 2025-03-01T00:00:00Z UTC")
	assert.Contains(t, text, "v1")
	assert.Contains(t, text, "82.4")
	assert.Contains(t, text, "days_since_last_sale")
	assert.NotContains(t, text, "v2")
}

func TestPrintCarriers(t *testing.T) {
	report := service.CarrierReport{
		AsOf: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Carriers: []attribution.CarrierROI{
			{CarrierID: "c2", CarrierName: "Beacon", PolicyCount: 1, TotalPremium: decimal.NewFromInt(1000),
				TotalCommission: decimal.NewFromInt(800), AvgCommissionRate: decimal.NewFromInt(80),
				ROI: decimal.NewFromInt(80), Efficiency: decimal.NewFromInt(800), Trend: attribution.CarrierImproving},
			{CarrierID: "c1", CarrierName: "Acme", PolicyCount: 2, Trend: attribution.CarrierStable},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printCarriers(&out, report, 1))

	text := out.String()
	assert.Contains(t, text, "As of 2025-03-01T00:00:00Z UTC")
	assert.Contains(t, text, "Beacon")
	assert.Contains(t, text, "800.00")
	assert.Contains(t, text, "improving")
	assert.NotContains(t, text, "Acme")

	out.Reset()
	require.NoError(t, printCarriers(&out, service.CarrierReport{}, 0))
	assert.Equal(t, "no carriers found\n", out.String())
}

func TestTopComponentTieBreak(t *testing.T) {
	s := heat.Score{Components: map[string]float64{"b": 10, "a": 10, "c": 5}}
	assert.Equal(t, "a", topComponent(s))
	assert.Equal(t, "", topComponent(heat.Score{}))
}

func TestWriteCohortCSV(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeCohortCSV(&out, sampleCohorts(t)))

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"cohort_id", "offset_months", "active_count", "lapsed_count", "cancelled_count", "retention"}, rows[0])
	assert.Equal(t, []string{"2025-01", "9", "17", "2", "1", "0.850000"}, rows[2])
}

func TestWriteAttributionCSV(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeAttributionCSV(&out, sampleAttribution(t)))

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "volume", rows[1][2])
	assert.Equal(t, "2500", rows[1][3])
	assert.Equal(t, "total", rows[4][2])
	assert.Equal(t, "4000", rows[4][3])
}

func TestRenderCharts(t *testing.T) {
	dir := t.TempDir()
	size := chartSize{width: 640, height: 360}

	cohortPath := filepath.Join(dir, "charts", "cohorts.png")
	require.NoError(t, writeFile(cohortPath, func(w io.Writer) error {
		return renderCohortPNG(w, sampleCohorts(t), size)
	}))
	attrPath := filepath.Join(dir, "charts", "attribution.png")
	require.NoError(t, writeFile(attrPath, func(w io.Writer) error {
		return renderAttributionPNG(w, sampleAttribution(t), size)
	}))

	for _, path := range []string{cohortPath, attrPath} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), path)
	}
}

func TestAttributionPeriods(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

	prior, current, err := AttributionOptions{}.periods(now)
	require.NoError(t, err)
	assert.Equal(t, "2024-12", prior.Label)
	assert.Equal(t, "2025-01", current.Label)

	prior, current, err = AttributionOptions{Prior: "2024-06", Current: "2024-09"}.periods(now)
	require.NoError(t, err)
	assert.Equal(t, "2024-06", prior.Label)
	assert.Equal(t, "2024-09", current.Label)

	_, _, err = AttributionOptions{Current: "sept"}.periods(now)
	assert.Error(t, err)
}

func TestCohortWindowDefaults(t *testing.T) {
	a, _ := testApp()
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	w, err := a.cohortWindow(CohortOptions{}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, 24, w.MaxOffsetMonths)

	w, err = a.cohortWindow(CohortOptions{Start: "2025-03", MaxOffset: 6}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 6, w.MaxOffsetMonths)
}

func TestCommandsRequireDatabase(t *testing.T) {
	a, _ := testApp()
	ctx := context.Background()

	assert.Error(t, a.Attribution(ctx, AttributionOptions{}))
	assert.Error(t, a.Cohorts(ctx, CohortOptions{}))
	assert.Error(t, a.VendorHeat(ctx, HeatOptions{}))
	assert.Error(t, a.Carriers(ctx, HeatOptions{}))
	assert.Error(t, a.ExportCohorts(ctx, CohortOptions{}, ExportOptions{}))
	assert.Error(t, a.SendDigest(ctx, DigestOptions{}))
}
