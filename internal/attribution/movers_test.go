package attribution

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contrib(dim Dimension, name string, commission int64) Contribution {
	return Contribution{Dimension: dim, Name: name, Commission: decimal.NewFromInt(commission)}
}

func TestTopMovers(t *testing.T) {
	prior := PeriodSnapshot{Period: "2025-01", Breakdown: []Contribution{
		contrib(DimensionCarrier, "Acme Life", 2000),
		contrib(DimensionCarrier, "Beacon", 400),
		contrib(DimensionProduct, "term", 1000),
		contrib(DimensionProduct, "whole_life", 900),
	}}
	current := PeriodSnapshot{Period: "2025-02", Breakdown: []Contribution{
		contrib(DimensionCarrier, "Acme Life", 800),
		contrib(DimensionCarrier, "Beacon", 450),
		contrib(DimensionCarrier, "Crest", 600),
		contrib(DimensionProduct, "term", 1700),
		contrib(DimensionProduct, "whole_life", 900),
	}}

	movers, err := TopMovers(prior, current)
	require.NoError(t, err)
	require.Len(t, movers, 3)

	acme := movers[0]
	assert.Equal(t, "Acme Life", acme.Name)
	assert.False(t, acme.Up)
	assert.Equal(t, ImpactHigh, acme.Impact)
	assert.True(t, decimal.NewFromInt(-1200).Equal(acme.Change))
	require.NotNil(t, acme.ChangePercent)
	assert.True(t, decimal.NewFromInt(-60).Equal(*acme.ChangePercent))

	term := movers[1]
	assert.Equal(t, DimensionProduct, term.Dimension)
	assert.True(t, term.Up)
	assert.Equal(t, ImpactMedium, term.Impact)

	crest := movers[2]
	assert.Equal(t, "Crest", crest.Name)
	assert.Nil(t, crest.ChangePercent)
	assert.Equal(t, ImpactMedium, crest.Impact)
}

func TestTopMoversSkipsSmallChangesAndCaps(t *testing.T) {
	current := PeriodSnapshot{}
	for i := 0; i < 15; i++ {
		current.Breakdown = append(current.Breakdown, contrib(DimensionCarrier, fmt.Sprintf("c%02d", i), int64(150+i)))
	}
	current.Breakdown = append(current.Breakdown, contrib(DimensionProduct, "term", 100))

	movers, err := TopMovers(PeriodSnapshot{}, current)
	require.NoError(t, err)
	require.Len(t, movers, MaxMovers)
	assert.Equal(t, "c14", movers[0].Name)
	assert.Equal(t, ImpactLow, movers[0].Impact)
	for _, m := range movers {
		assert.NotEqual(t, "term", m.Name)
	}
}

func TestTopMoversRejectsMalformedBreakdown(t *testing.T) {
	cases := map[string][]Contribution{
		"unknown dimension": {contrib("state", "TX", 10)},
		"empty name":        {contrib(DimensionCarrier, "", 10)},
		"negative":          {contrib(DimensionProduct, "term", -10)},
		"duplicate":         {contrib(DimensionProduct, "term", 10), contrib(DimensionProduct, "term", 20)},
	}
	for name, breakdown := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := TopMovers(PeriodSnapshot{}, PeriodSnapshot{Breakdown: breakdown})
			assert.ErrorIs(t, err, ErrInvalidSnapshot)

			_, err = Decompose(PeriodSnapshot{}, PeriodSnapshot{Breakdown: breakdown})
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestCarrierReturns(t *testing.T) {
	carriers := []CarrierStats{
		{
			CarrierID: "c1", CarrierName: "Acme Life", PolicyCount: 4,
			TotalPremium: decimal.NewFromInt(8000), TotalCommission: decimal.NewFromInt(4000),
			RateSum:          decimal.RequireFromString("3.2"),
			RecentCommission: decimal.NewFromInt(1200), PreviousCommission: decimal.NewFromInt(1000),
		},
		{
			CarrierID: "c2", PolicyCount: 2,
			TotalPremium: decimal.NewFromInt(1000), TotalCommission: decimal.NewFromInt(900),
			RecentCommission: decimal.NewFromInt(850), PreviousCommission: decimal.NewFromInt(1000),
		},
		{CarrierID: "c3"},
	}

	roi, err := CarrierReturns(carriers)
	require.NoError(t, err)
	require.Len(t, roi, 3)

	assert.Equal(t, "c2", roi[0].CarrierID)
	assert.Equal(t, "Unknown", roi[0].CarrierName)
	assert.True(t, decimal.NewFromInt(90).Equal(roi[0].ROI))
	assert.Equal(t, CarrierDeclining, roi[0].Trend)

	acme := roi[1]
	assert.True(t, decimal.NewFromInt(50).Equal(acme.ROI))
	assert.True(t, decimal.NewFromInt(2000).Equal(acme.AvgPremium))
	assert.True(t, decimal.NewFromInt(80).Equal(acme.AvgCommissionRate))
	assert.True(t, decimal.NewFromInt(1000).Equal(acme.Efficiency))
	assert.Equal(t, CarrierImproving, acme.Trend)

	empty := roi[2]
	assert.True(t, empty.ROI.IsZero())
	assert.True(t, empty.AvgPremium.IsZero())
	assert.Equal(t, CarrierStable, empty.Trend)
}

func TestCarrierReturnsRejectsMalformedStats(t *testing.T) {
	cases := map[string][]CarrierStats{
		"empty id":         {{}},
		"negative count":   {{CarrierID: "c1", PolicyCount: -1}},
		"negative premium": {{CarrierID: "c1", TotalPremium: decimal.NewFromInt(-1)}},
		"duplicate":        {{CarrierID: "c1"}, {CarrierID: "c1"}},
	}
	for name, stats := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := CarrierReturns(stats)
			assert.ErrorIs(t, err, ErrInvalidCarrier)
		})
	}
}
