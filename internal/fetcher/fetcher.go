package fetcher

import (
	"context"
	"time"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/heat"
)

// SnapshotFetcher retrieves the aggregate totals of one reporting period.
type SnapshotFetcher interface {
	FetchPeriodSnapshot(ctx context.Context, period Period) (attribution.PeriodSnapshot, error)
}

// CohortFetcher retrieves per-cohort active counts and commission ledgers
// for a window of start months.
type CohortFetcher interface {
	FetchCohortRecords(ctx context.Context, window CohortWindow) ([]cohort.Record, error)
	FetchCohortCommissions(ctx context.Context, window CohortWindow) ([]cohort.CommissionRecord, error)
}

// CarrierFetcher retrieves per-carrier book totals as of a point in time.
type CarrierFetcher interface {
	FetchCarrierStats(ctx context.Context, asOf time.Time) ([]attribution.CarrierStats, error)
}

// SignalFetcher retrieves lead vendor and lead pack metrics as of a point in time.
type SignalFetcher interface {
	FetchVendorSignals(ctx context.Context, asOf time.Time) ([]heat.VendorSignal, error)
	FetchPackSignals(ctx context.Context, asOf time.Time) ([]heat.PackSignal, error)
}

// Aggregates is the full read-only surface of the aggregate store.
type Aggregates interface {
	SnapshotFetcher
	CohortFetcher
	CarrierFetcher
	SignalFetcher
}
