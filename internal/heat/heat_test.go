package heat

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unknownVendor(id string) VendorSignal {
	return VendorSignal{
		VendorID:              id,
		MedianDaysToFirstSale: NoData,
		AvgDaysToFirstSale:    NoData,
		DaysSinceLastSale:     Never,
		AvgDaysBetweenSales:   NoData,
		SalesLast30d:          NoData,
		SalesLast90d:          NoData,
		AvgPoliciesPerPack:    NoData,
	}
}

func vendorFixture(i int) VendorSignal {
	return VendorSignal{
		VendorID:              fmt.Sprintf("vendor-%02d", i),
		MedianDaysToFirstSale: float64(3 + 4*i),
		AvgDaysToFirstSale:    float64(5 + 4*i),
		DaysSinceLastSale:     float64(2 * i),
		AvgDaysBetweenSales:   float64(6 + i),
		SalesLast30d:          12 - i,
		SalesLast90d:          30 - i,
		AvgPoliciesPerPack:    2.5 - 0.2*float64(i),
		AgentsPurchased30d:    10,
		AgentsWithSales30d:    10 - i,
	}
}

func TestScoreVendorsAllSentinelIsNeutral(t *testing.T) {
	scores, err := ScoreVendors([]VendorSignal{unknownVendor("fresh")})
	require.NoError(t, err)
	require.Len(t, scores, 1)

	assert.Equal(t, 50.0, scores[0].Score)
	assert.Equal(t, 1, scores[0].Rank)
	assert.Equal(t, LevelNeutral, scores[0].Level)
	assert.Equal(t, TrendRight, scores[0].Trend)
}

func TestScorePacksAllSentinelIsNeutral(t *testing.T) {
	scores, err := ScorePacks([]PackSignal{{
		PackID:            "pack-1",
		VendorID:          "v",
		DaysSincePurchase: NoData,
		DaysSinceLastSale: Never,
		SalesLast30d:      NoData,
	}})
	require.NoError(t, err)
	assert.Equal(t, 50.0, scores[0].Score)
}

func TestScoreVendorsRangeAndComponents(t *testing.T) {
	signals := make([]VendorSignal, 0, 12)
	for i := 0; i < 10; i++ {
		signals = append(signals, vendorFixture(i))
	}
	signals = append(signals, unknownVendor("zz-new"), VendorSignal{
		VendorID:              "perfect",
		MedianDaysToFirstSale: 0,
		DaysSinceLastSale:     0,
		AvgDaysBetweenSales:   0,
		SalesLast30d:          500,
		SalesLast90d:          600,
		AvgPoliciesPerPack:    40,
		AgentsPurchased30d:    3,
		AgentsWithSales30d:    3,
	})

	scores, err := ScoreVendors(signals)
	require.NoError(t, err)
	require.Len(t, scores, len(signals))

	for i, s := range scores {
		assert.Equal(t, i+1, s.Rank)
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 100.0)

		var sum float64
		for _, c := range s.Components {
			sum += c
		}
		assert.InDelta(t, s.Score, sum, 1e-9, s.EntityID)
		assert.Len(t, s.Components, len(VendorTable()))
		if i > 0 {
			assert.LessOrEqual(t, s.Score, scores[i-1].Score)
		}
	}

	assert.Equal(t, "perfect", scores[0].EntityID)
	assert.InDelta(t, 100.0, scores[0].Score, 1e-9)
	assert.Equal(t, LevelHot, scores[0].Level)
}

func TestScoreVendorsIsDeterministic(t *testing.T) {
	signals := []VendorSignal{vendorFixture(3), unknownVendor("b"), vendorFixture(1), unknownVendor("a"), vendorFixture(7)}

	first, err := ScoreVendors(signals)
	require.NoError(t, err)
	second, err := ScoreVendors(signals)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestScoreVendorsIndependentOfBatch(t *testing.T) {
	target := vendorFixture(4)

	alone, err := ScoreVendors([]VendorSignal{target})
	require.NoError(t, err)

	batch := []VendorSignal{target}
	for i := 0; i < 10; i++ {
		if i == 4 {
			continue
		}
		batch = append(batch, vendorFixture(i))
	}
	batch = append(batch, unknownVendor("other"))
	require.Len(t, batch, 11)

	together, err := ScoreVendors(batch)
	require.NoError(t, err)

	var found bool
	for _, s := range together {
		if s.EntityID == target.VendorID {
			found = true
			assert.Equal(t, alone[0].Score, s.Score)
			assert.Equal(t, alone[0].Components, s.Components)
		}
	}
	assert.True(t, found)
}

func TestScoreVendorsTieBreak(t *testing.T) {
	// Identical observed signals except sales, which are both capped.
	base := VendorSignal{
		MedianDaysToFirstSale: 7,
		AvgDaysToFirstSale:    9,
		DaysSinceLastSale:     3,
		AvgDaysBetweenSales:   5,
		AvgPoliciesPerPack:    2,
		AgentsPurchased30d:    4,
		AgentsWithSales30d:    2,
		SalesLast90d:          40,
	}
	a, b, c := base, base, base
	a.VendorID, a.SalesLast30d = "charlie", 20
	b.VendorID, b.SalesLast30d = "bravo", 30
	c.VendorID, c.SalesLast30d = "alpha", 20

	scores, err := ScoreVendors([]VendorSignal{a, b, c})
	require.NoError(t, err)

	require.Equal(t, scores[0].Score, scores[1].Score)
	require.Equal(t, scores[1].Score, scores[2].Score)
	assert.Equal(t, []string{"bravo", "alpha", "charlie"},
		[]string{scores[0].EntityID, scores[1].EntityID, scores[2].EntityID})

	neutral, err := ScoreVendors([]VendorSignal{unknownVendor("m"), unknownVendor("c"), unknownVendor("x")})
	require.NoError(t, err)
	assert.Equal(t, "c", neutral[0].EntityID)
	assert.Equal(t, "m", neutral[1].EntityID)
	assert.Equal(t, "x", neutral[2].EntityID)
}

func TestScoreVendorsNormalization(t *testing.T) {
	v := unknownVendor("v")
	v.DaysSinceLastSale = 14
	v.SalesLast30d = 5

	scores, err := ScoreVendors([]VendorSignal{v})
	require.NoError(t, err)

	c := scores[0].Components
	assert.InDelta(t, 20*0.5, c[SignalDaysSinceLastSale], 1e-9)
	assert.InDelta(t, 15*0.5, c[SignalSalesLast30d], 1e-9)
	assert.InDelta(t, 20*Neutral, c[SignalMedianDaysToFirstSale], 1e-9)
}

func TestScoreVendorsRejectsMalformedBatch(t *testing.T) {
	cases := map[string][]VendorSignal{
		"duplicate id":   {vendorFixture(1), vendorFixture(1)},
		"empty id":       {{MedianDaysToFirstSale: NoData}},
		"negative days":  {func() VendorSignal { v := vendorFixture(1); v.DaysSinceLastSale = -4; return v }()},
		"negative sales": {func() VendorSignal { v := vendorFixture(1); v.SalesLast30d = -3; return v }()},
		"nan":            {func() VendorSignal { v := vendorFixture(1); v.AvgPoliciesPerPack = math.NaN(); return v }()},
	}

	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			scores, err := ScoreVendors(batch)
			assert.ErrorIs(t, err, ErrInvalidSignal)
			assert.Nil(t, scores)
		})
	}
}

func TestScorePacksRanksEconomics(t *testing.T) {
	packs := []PackSignal{
		{PackID: "cold", VendorID: "v1", TotalPremium: 200, TotalCost: 500, LeadCount: 50, PoliciesSold: 1,
			CommissionEarned: 100, DaysSincePurchase: 120, DaysSinceLastSale: 90, SalesLast30d: 0},
		{PackID: "hot", VendorID: "v2", TotalPremium: 30000, TotalCost: 600, LeadCount: 40, PoliciesSold: 9,
			CommissionEarned: 2400, DaysSincePurchase: 20, DaysSinceLastSale: 1, SalesLast30d: 6},
		{PackID: "new", VendorID: "v1", DaysSincePurchase: 0, DaysSinceLastSale: Never, SalesLast30d: NoData},
	}

	scores, err := ScorePacks(packs)
	require.NoError(t, err)

	assert.Equal(t, []string{"hot", "new", "cold"},
		[]string{scores[0].EntityID, scores[1].EntityID, scores[2].EntityID})
	assert.Equal(t, TrendUp, scores[0].Trend)
	assert.Equal(t, TrendDown, scores[2].Trend)
	assert.Len(t, scores[0].Components, len(PackTable()))

	_, err = ScorePacks([]PackSignal{packs[0], packs[0]})
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestRollupByVendor(t *testing.T) {
	packs := []PackSignal{
		{PackID: "p1", VendorID: "b", TotalPremium: 100, TotalCost: 50, LeadCount: 10, PoliciesSold: 1,
			CommissionEarned: 80, DaysSincePurchase: 10, DaysSinceLastSale: 5, SalesLast30d: 1},
		{PackID: "p2", VendorID: "b", TotalPremium: 300, TotalCost: 150, LeadCount: 30, PoliciesSold: 2,
			CommissionEarned: 120, DaysSincePurchase: 30, DaysSinceLastSale: Never, SalesLast30d: 0},
		{PackID: "p3", VendorID: "a", LeadCount: 5, DaysSincePurchase: NoData, DaysSinceLastSale: Never, SalesLast30d: NoData},
	}

	rolled, err := RollupByVendor(packs)
	require.NoError(t, err)
	require.Len(t, rolled, 2)

	assert.Equal(t, "a", rolled[0].PackID)
	assert.Equal(t, float64(Never), rolled[0].DaysSinceLastSale)
	assert.Equal(t, float64(NoData), rolled[0].DaysSincePurchase)

	b := rolled[1]
	assert.Equal(t, "b", b.VendorID)
	assert.Equal(t, 400.0, b.TotalPremium)
	assert.Equal(t, 200.0, b.TotalCost)
	assert.Equal(t, 40, b.LeadCount)
	assert.Equal(t, 3, b.PoliciesSold)
	assert.Equal(t, 200.0, b.CommissionEarned)
	assert.Equal(t, 5.0, b.DaysSinceLastSale)
	assert.Equal(t, 20.0, b.DaysSincePurchase)
	assert.Equal(t, 1, b.SalesLast30d)

	scores, err := ScorePacks(rolled)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestRollupByVendorKeepsSentinels(t *testing.T) {
	unknown := PackSignal{
		PackID:            "p1",
		VendorID:          "v",
		TotalPremium:      NoData,
		TotalCost:         NoData,
		LeadCount:         NoData,
		PoliciesSold:      NoData,
		CommissionEarned:  NoData,
		DaysSincePurchase: NoData,
		DaysSinceLastSale: Never,
		SalesLast30d:      NoData,
	}
	second := unknown
	second.PackID = "p2"

	direct, err := ScorePacks([]PackSignal{unknown})
	require.NoError(t, err)

	rolled, err := RollupByVendor([]PackSignal{unknown, second})
	require.NoError(t, err)
	require.Len(t, rolled, 1)
	assert.Equal(t, NoData, rolled[0].SalesLast30d)
	assert.Equal(t, NoData, rolled[0].LeadCount)
	assert.Equal(t, float64(NoData), rolled[0].TotalCost)
	assert.Equal(t, float64(Never), rolled[0].DaysSinceLastSale)

	scores, err := ScorePacks(rolled)
	require.NoError(t, err)
	assert.Equal(t, 50.0, scores[0].Score)
	assert.Equal(t, direct[0].Score, scores[0].Score)
	assert.Equal(t, direct[0].Components, scores[0].Components)

	// a zero is real data and must not be hidden by a sentinel sibling
	seen := unknown
	seen.PackID = "p3"
	seen.SalesLast30d = 0
	rolled, err = RollupByVendor([]PackSignal{unknown, seen})
	require.NoError(t, err)
	assert.Equal(t, 0, rolled[0].SalesLast30d)
}

func TestRollupByVendorRejectsMalformedBatch(t *testing.T) {
	good := PackSignal{PackID: "p1", VendorID: "v", LeadCount: 10, TotalCost: 50, DaysSincePurchase: 3, DaysSinceLastSale: 2, SalesLast30d: 1}

	negative := good
	negative.PackID = "p2"
	negative.LeadCount = -7
	negative.TotalCost = -50

	noVendor := good
	noVendor.PackID = "p3"
	noVendor.VendorID = ""

	noPack := good
	noPack.PackID = ""

	cases := map[string][]PackSignal{
		"negative counts": {good, negative},
		"duplicate pack":  {good, good},
		"empty vendor":    {good, noVendor},
		"empty pack id":   {noPack},
	}
	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			rolled, err := RollupByVendor(batch)
			assert.ErrorIs(t, err, ErrInvalidSignal)
			assert.Nil(t, rolled)
		})
	}
}

func TestLevelAndTrend(t *testing.T) {
	assert.Equal(t, LevelHot, LevelFor(75))
	assert.Equal(t, LevelWarming, LevelFor(74.9))
	assert.Equal(t, LevelNeutral, LevelFor(50))
	assert.Equal(t, LevelCooling, LevelFor(15))
	assert.Equal(t, LevelCold, LevelFor(14.99))

	assert.Equal(t, TrendUp, VendorTrend(5, 10))
	assert.Equal(t, TrendUpRight, VendorTrend(4, 10))
	assert.Equal(t, TrendRight, VendorTrend(3, 10))
	assert.Equal(t, TrendDownRight, VendorTrend(1, 10))
	assert.Equal(t, TrendDown, VendorTrend(0, 10))
	assert.Equal(t, TrendRight, VendorTrend(0, 0))

	assert.Equal(t, TrendRight, PackTrend(0, 30))
	assert.Equal(t, TrendDownRight, PackTrend(0, 45))
	assert.Equal(t, TrendDown, PackTrend(0, Never))
}
