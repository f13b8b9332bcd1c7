package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"commissiond/internal/alerting"
	"commissiond/internal/heat"
)

type recordingNotifier struct {
	sent []alerting.Digest
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, d alerting.Digest) error {
	r.sent = append(r.sent, d)
	return r.err
}

type stubLocker struct {
	acquired bool
	released int
}

func (s *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !s.acquired {
		return nil, false, nil
	}
	return func() { s.released++ }, true, nil
}

func rankedReport(ids ...string) HeatReport {
	scores := make([]heat.Score, len(ids))
	for i, id := range ids {
		scores[i] = heat.Score{EntityID: id, Rank: i + 1, Score: float64(90 - 10*i)}
	}
	return HeatReport{AsOf: fixedNow, Scores: scores}
}

func TestSummarize(t *testing.T) {
	d := Summarize(rankedReport("a", "b", "c", "d", "e"), 2)
	assert.Equal(t, 5, d.Total)
	assert.Equal(t, []string{"a", "b"}, ids(d.Hottest))
	assert.Equal(t, []string{"e", "d"}, ids(d.Coldest))

	small := Summarize(rankedReport("a", "b", "c"), 2)
	assert.Equal(t, []string{"a", "b"}, ids(small.Hottest))
	assert.Equal(t, []string{"c"}, ids(small.Coldest))

	single := Summarize(rankedReport("a"), 5)
	assert.Equal(t, []string{"a"}, ids(single.Hottest))
	assert.Empty(t, single.Coldest)

	empty := Summarize(HeatReport{AsOf: fixedNow}, 3)
	assert.Equal(t, 0, empty.Total)
	assert.Empty(t, empty.Hottest)
}

func ids(scores []heat.Score) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.EntityID
	}
	return out
}

func vendorSource(asOf time.Time) *mockAggregates {
	source := &mockAggregates{}
	source.On("FetchVendorSignals", mock.Anything, asOf).Return([]heat.VendorSignal{
		{VendorID: "v1", MedianDaysToFirstSale: 5, AvgDaysToFirstSale: 6, DaysSinceLastSale: 1, AvgDaysBetweenSales: 3, SalesLast30d: 8, SalesLast90d: 12, AvgPoliciesPerPack: 2, AgentsPurchased30d: 4, AgentsWithSales30d: 3},
		{VendorID: "v2", MedianDaysToFirstSale: 60, AvgDaysToFirstSale: 70, DaysSinceLastSale: 80, AvgDaysBetweenSales: 40, SalesLast90d: 2, AvgPoliciesPerPack: 0.5, AgentsPurchased30d: 4},
	}, nil)
	return source
}

func TestDigestTickSends(t *testing.T) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	d := NewDigest(newTestService(vendorSource(at)), nil, notifier, nil, DigestOptions{TopN: 1}, zerolog.Nop())

	require.NoError(t, d.Tick(context.Background(), at))

	require.Len(t, notifier.sent, 1)
	sent := notifier.sent[0]
	assert.Equal(t, at, sent.AsOf)
	assert.Equal(t, 2, sent.Total)
	assert.Equal(t, []string{"v1"}, ids(sent.Hottest))
	assert.Equal(t, []string{"v2"}, ids(sent.Coldest))
}

func TestDigestTickSkipsWhenLockHeld(t *testing.T) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	source := &mockAggregates{}
	notifier := &recordingNotifier{}
	locker := &stubLocker{acquired: false}
	d := NewDigest(newTestService(source), nil, notifier, locker, DigestOptions{LockKey: 7}, zerolog.Nop())

	require.NoError(t, d.Tick(context.Background(), at))
	assert.Empty(t, notifier.sent)
	source.AssertNotCalled(t, "FetchVendorSignals", mock.Anything, mock.Anything)
}

func TestDigestTickReleasesLock(t *testing.T) {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	locker := &stubLocker{acquired: true}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	d := NewDigest(newTestService(vendorSource(at)), nil, notifier, locker, DigestOptions{LockKey: 7}, zerolog.Nop())

	err := d.Tick(context.Background(), at)
	assert.Error(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestDigestRunRequiresScheduler(t *testing.T) {
	d := NewDigest(newTestService(&mockAggregates{}), nil, nil, nil, DigestOptions{}, zerolog.Nop())
	assert.Error(t, d.Run(context.Background()))
}
