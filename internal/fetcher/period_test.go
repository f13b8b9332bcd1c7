package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2025-02")
	require.NoError(t, err)

	assert.Equal(t, "2025-02", p.Label)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), p.End)
	assert.Equal(t, "2025-01", p.Previous().Label)

	for _, bad := range []string{"", "2025", "2025-13", "02-2025", "2025-02-01"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidWindow, bad)
	}
}

func TestPeriodOfCrossesYear(t *testing.T) {
	p := PeriodOf(time.Date(2025, 1, 17, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-01", p.Label)
	assert.Equal(t, "2024-12", p.Previous().Label)
}

func TestNewCohortWindow(t *testing.T) {
	asOf := time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC)

	w, err := NewCohortWindow("2025-01", "2025-03", 12, asOf)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 12, w.MaxOffsetMonths)

	single, err := NewCohortWindow("2025-03", "2025-03", 0, asOf)
	require.NoError(t, err)
	assert.Equal(t, single.Start.AddDate(0, 1, 0), single.End)

	_, err = NewCohortWindow("2025-03", "2025-01", 12, asOf)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewCohortWindow("2025-01", "2025-03", -1, asOf)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewCohortWindow("jan", "2025-03", 1, asOf)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestLookbackWindow(t *testing.T) {
	asOf := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	w := LookbackWindow(6, 24, asOf)

	assert.Equal(t, time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 24, w.MaxOffsetMonths)
	assert.Equal(t, asOf, w.AsOf)
}
