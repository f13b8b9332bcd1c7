package attribution

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(count int64, premium, commission float64) PeriodSnapshot {
	return PeriodSnapshot{
		PolicyCount:     count,
		TotalPremium:    decimal.NewFromFloat(premium),
		TotalCommission: decimal.NewFromFloat(commission),
	}
}

func assertDecimal(t *testing.T, want float64, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, got.Equal(decimal.NewFromFloat(want)), "%s: want %v, got %s", field, want, got.String())
}

func TestDecomposeVolumeDrivenGrowth(t *testing.T) {
	prior := snapshot(10, 10000, 5000)
	current := snapshot(15, 18000, 9000)

	res, err := Decompose(prior, current)
	require.NoError(t, err)

	assertDecimal(t, 4000, res.TotalChange, "total")
	assertDecimal(t, 2500, res.VolumeEffect, "volume")
	assertDecimal(t, 0, res.RateEffect, "rate")
	assertDecimal(t, 1500, res.MixEffect, "mix")
	assertDecimal(t, 62.5, res.VolumePercent, "volume pct")
	assertDecimal(t, 0, res.RatePercent, "rate pct")
	assertDecimal(t, 37.5, res.MixPercent, "mix pct")
}

func TestDecomposeNoChange(t *testing.T) {
	p := snapshot(12, 24000, 9600)
	p.ProductMix = map[string]decimal.Decimal{
		"term_life":  decimal.NewFromFloat(0.75),
		"whole_life": decimal.NewFromFloat(0.25),
	}

	res, err := Decompose(p, p)
	require.NoError(t, err)

	for name, v := range map[string]decimal.Decimal{
		"total":   res.TotalChange,
		"volume":  res.VolumeEffect,
		"rate":    res.RateEffect,
		"mix":     res.MixEffect,
		"vol pct": res.VolumePercent,
		"rate pc": res.RatePercent,
		"mix pct": res.MixPercent,
	} {
		assert.Truef(t, v.IsZero(), "%s should be zero, got %s", name, v.String())
	}
}

func TestDecomposeFromEmptyPriorPeriod(t *testing.T) {
	prior := snapshot(0, 0, 0)
	current := snapshot(5, 6000, 2400)

	res, err := Decompose(prior, current)
	require.NoError(t, err)

	assert.True(t, res.VolumeEffect.IsZero())
	assert.True(t, res.RateEffect.IsZero())
	assert.True(t, res.MixEffect.Equal(res.TotalChange))
	assertDecimal(t, 2400, res.MixEffect, "mix")
	assertDecimal(t, 100, res.MixPercent, "mix pct")
}

func TestDecomposeToEmptyCurrentPeriod(t *testing.T) {
	prior := snapshot(4, 4000, 2000)
	current := snapshot(0, 0, 0)

	res, err := Decompose(prior, current)
	require.NoError(t, err)

	assertDecimal(t, -2000, res.TotalChange, "total")
	assertDecimal(t, -2000, res.VolumeEffect, "volume")
	assert.True(t, res.RateEffect.IsZero())
	assert.True(t, res.MixEffect.IsZero())
	assertDecimal(t, -100, res.VolumePercent, "volume pct")
}

func TestDecomposeRateCut(t *testing.T) {
	prior := snapshot(10, 10000, 8000)
	current := snapshot(10, 10000, 6000)

	res, err := Decompose(prior, current)
	require.NoError(t, err)

	assertDecimal(t, -2000, res.TotalChange, "total")
	assert.True(t, res.VolumeEffect.IsZero())
	assertDecimal(t, -2000, res.RateEffect, "rate")
	assert.True(t, res.MixEffect.IsZero())
	assertDecimal(t, -100, res.RatePercent, "rate pct")
}

func TestDecomposeIsAdditive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	eps := decimal.New(1, -9)

	for i := 0; i < 500; i++ {
		prior := snapshot(rng.Int63n(200), float64(rng.Intn(500000))/100, float64(rng.Intn(300000))/100)
		current := snapshot(rng.Int63n(200), float64(rng.Intn(500000))/100, float64(rng.Intn(300000))/100)

		res, err := Decompose(prior, current)
		require.NoError(t, err)

		sum := res.VolumeEffect.Add(res.RateEffect).Add(res.MixEffect)
		assert.Truef(t, sum.Sub(res.TotalChange).Abs().LessThanOrEqual(eps),
			"case %d: effects sum to %s, total %s", i, sum.String(), res.TotalChange.String())
	}
}

func TestDecomposeRejectsInvalidSnapshots(t *testing.T) {
	valid := snapshot(1, 100, 10)

	cases := map[string]PeriodSnapshot{
		"negative count":      {PolicyCount: -1},
		"negative premium":    snapshot(1, -5, 0),
		"negative commission": snapshot(1, 5, -1),
		"mix does not sum": {
			PolicyCount: 1,
			ProductMix: map[string]decimal.Decimal{
				"term_life": decimal.NewFromFloat(0.4),
				"iul":       decimal.NewFromFloat(0.4),
			},
		},
		"negative share": {
			PolicyCount: 1,
			ProductMix: map[string]decimal.Decimal{
				"term_life": decimal.NewFromFloat(1.2),
				"iul":       decimal.NewFromFloat(-0.2),
			},
		},
	}

	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decompose(bad, valid)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
			_, err = Decompose(valid, bad)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestMixShiftOrdersByMagnitude(t *testing.T) {
	prior := PeriodSnapshot{ProductMix: map[string]decimal.Decimal{
		"term_life":  decimal.NewFromFloat(0.5),
		"whole_life": decimal.NewFromFloat(0.5),
	}}
	current := PeriodSnapshot{ProductMix: map[string]decimal.Decimal{
		"term_life":  decimal.NewFromFloat(0.4),
		"whole_life": decimal.NewFromFloat(0.3),
		"annuity":    decimal.NewFromFloat(0.3),
	}}

	shifts := MixShift(prior, current)
	require.Len(t, shifts, 3)
	assert.Equal(t, "annuity", shifts[0].Product)
	assert.Equal(t, "whole_life", shifts[1].Product)
	assert.Equal(t, "term_life", shifts[2].Product)
	assert.True(t, shifts[2].Shift.Equal(decimal.NewFromFloat(-0.1)))
}
