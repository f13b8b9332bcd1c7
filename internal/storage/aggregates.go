package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/fetcher"
	"commissiond/internal/heat"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	snapshotTotalsSQL = `WITH scoped AS (
        SELECT
            p.annual_premium,
            COALESCE((
                SELECT SUM(c.amount)
                FROM commissions c
                WHERE c.policy_id = p.id
            ), 0) AS commission
        FROM policies p
        WHERE p.effective_date >= $1
          AND p.effective_date < $2
          AND ($3::text = '' OR p.user_id::text = $3::text)
    )
    SELECT
        COUNT(*),
        COALESCE(SUM(annual_premium), 0)::text,
        COALESCE(SUM(commission), 0)::text
    FROM scoped;`

	productCountsSQL = `SELECT
        COALESCE(NULLIF(p.product::text, ''), 'unknown') AS product,
        COUNT(*)
    FROM policies p
    WHERE p.effective_date >= $1
      AND p.effective_date < $2
      AND ($3::text = '' OR p.user_id::text = $3::text)
    GROUP BY 1
    ORDER BY 1;`

	breakdownSQL = `WITH scoped AS (
        SELECT
            COALESCE(NULLIF(ca.name, ''), 'Unknown') AS carrier,
            COALESCE(NULLIF(p.product::text, ''), 'unknown') AS product,
            COALESCE((
                SELECT SUM(c.amount)
                FROM commissions c
                WHERE c.policy_id = p.id
            ), 0) AS commission
        FROM policies p
        LEFT JOIN carriers ca ON ca.id = p.carrier_id
        WHERE p.effective_date >= $1
          AND p.effective_date < $2
          AND ($3::text = '' OR p.user_id::text = $3::text)
    )
    SELECT 'carrier', carrier, SUM(commission)::text FROM scoped GROUP BY carrier
    UNION ALL
    SELECT 'product', product, SUM(commission)::text FROM scoped GROUP BY product
    ORDER BY 1, 2;`

	// A policy is active at offset m unless it lapsed or was cancelled
	// within the first m months. Offsets past asOf are not reported.
	cohortRecordsSQL = `WITH members AS (
        SELECT
            to_char(date_trunc('month', p.effective_date), 'YYYY-MM') AS cohort_id,
            date_trunc('month', p.effective_date) AS cohort_start,
            p.status::text AS exit_status,
            CASE WHEN p.status IN ('lapsed', 'cancelled') THEN
                (EXTRACT(YEAR FROM age(p.updated_at, p.effective_date)) * 12
                 + EXTRACT(MONTH FROM age(p.updated_at, p.effective_date)))::int
            END AS lapse_offset
        FROM policies p
        WHERE p.effective_date >= $1
          AND p.effective_date < $2
          AND ($4::text = '' OR p.user_id::text = $4::text)
    ),
    offsets AS (
        SELECT c.cohort_id, g.offset_months
        FROM (SELECT DISTINCT cohort_id, cohort_start FROM members) c
        CROSS JOIN LATERAL generate_series(0, $3::int) AS g(offset_months)
        WHERE c.cohort_start + make_interval(months => g.offset_months) <= $5
    )
    SELECT
        o.cohort_id,
        o.offset_months,
        COUNT(*) AS starting_count,
        COUNT(*) FILTER (
            WHERE m.lapse_offset IS NULL OR m.lapse_offset > o.offset_months
        ) AS active_count,
        COUNT(*) FILTER (
            WHERE m.lapse_offset = o.offset_months AND m.exit_status = 'lapsed'
        ) AS lapsed_count,
        COUNT(*) FILTER (
            WHERE m.lapse_offset = o.offset_months AND m.exit_status = 'cancelled'
        ) AS cancelled_count
    FROM offsets o
    JOIN members m ON m.cohort_id = o.cohort_id
    GROUP BY o.cohort_id, o.offset_months
    ORDER BY o.cohort_id, o.offset_months;`

	vendorMetricsSQL = `SELECT
        vendor_id::text,
        median_days_to_first_sale::float8,
        avg_days_to_first_sale::float8,
        days_since_last_sale::float8,
        avg_days_between_sales::float8,
        sales_last_30d::int,
        sales_last_90d::int,
        avg_policies_per_pack::float8,
        agents_purchased_30d::int,
        agents_with_sales_30d::int
    FROM get_lead_vendor_heat_metrics($1::timestamptz, NULLIF($2::text, ''))
    ORDER BY vendor_id;`

	packMetricsSQL = `SELECT
        pack_id::text,
        vendor_id::text,
        COALESCE(total_premium, 0)::float8,
        COALESCE(total_cost, 0)::float8,
        COALESCE(lead_count, 0)::int,
        COALESCE(policies_sold, 0)::int,
        COALESCE(commission_earned, 0)::float8,
        days_since_purchase::float8,
        days_since_last_sale::float8,
        COALESCE(sales_last_30d, 0)::int
    FROM get_lead_pack_heat_metrics($1::timestamptz, NULLIF($2::text, ''))
    ORDER BY pack_id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store reads commission aggregates from the CRM database.
type Store struct {
	pool   *pgxpool.Pool
	userID string
}

// NewStore wires a pgx pool into a Store. A non-empty userID restricts every
// query to that agent's book of business.
func NewStore(pool *pgxpool.Pool, userID string) *Store {
	return &Store{pool: pool, userID: userID}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// FetchPeriodSnapshot aggregates the policies written in period.
func (s *Store) FetchPeriodSnapshot(ctx context.Context, period fetcher.Period) (attribution.PeriodSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return attribution.PeriodSnapshot{}, err
	}

	var (
		count         int64
		premiumStr    string
		commissionStr string
	)
	row := pool.QueryRow(ctx, snapshotTotalsSQL, period.Start, period.End, s.userID)
	if err := row.Scan(&count, &premiumStr, &commissionStr); err != nil {
		return attribution.PeriodSnapshot{}, fmt.Errorf("snapshot totals %s: %w", period.Label, err)
	}

	premium, err := parseAmount("total premium", premiumStr)
	if err != nil {
		return attribution.PeriodSnapshot{}, err
	}
	commission, err := parseAmount("total commission", commissionStr)
	if err != nil {
		return attribution.PeriodSnapshot{}, err
	}

	rows, err := pool.Query(ctx, productCountsSQL, period.Start, period.End, s.userID)
	if err != nil {
		return attribution.PeriodSnapshot{}, fmt.Errorf("product counts %s: %w", period.Label, err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (productCount, error) {
		var pc productCount
		err := row.Scan(&pc.Product, &pc.Count)
		return pc, err
	})
	if err != nil {
		return attribution.PeriodSnapshot{}, fmt.Errorf("scan product counts: %w", err)
	}

	mix, err := productMix(counts)
	if err != nil {
		return attribution.PeriodSnapshot{}, err
	}

	breakdown, err := s.fetchBreakdown(ctx, pool, period)
	if err != nil {
		return attribution.PeriodSnapshot{}, err
	}

	return attribution.PeriodSnapshot{
		Period:          period.Label,
		PolicyCount:     count,
		TotalPremium:    premium,
		TotalCommission: commission,
		ProductMix:      mix,
		Breakdown:       breakdown,
	}, nil
}

func (s *Store) fetchBreakdown(ctx context.Context, pool *pgxpool.Pool, period fetcher.Period) ([]attribution.Contribution, error) {
	rows, err := pool.Query(ctx, breakdownSQL, period.Start, period.End, s.userID)
	if err != nil {
		return nil, fmt.Errorf("commission breakdown %s: %w", period.Label, err)
	}
	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (breakdownRow, error) {
		var r breakdownRow
		err := row.Scan(&r.Dimension, &r.Name, &r.Commission)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan commission breakdown: %w", err)
	}
	return contributions(raw)
}

// FetchCohortRecords returns one record per cohort and elapsed month.
func (s *Store) FetchCohortRecords(ctx context.Context, window fetcher.CohortWindow) ([]cohort.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, cohortRecordsSQL,
		window.Start,
		window.End,
		window.MaxOffsetMonths,
		s.userID,
		window.AsOf,
	)
	if err != nil {
		return nil, fmt.Errorf("cohort records: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cohort.Record, error) {
		var rec cohort.Record
		err := row.Scan(
			&rec.CohortID,
			&rec.OffsetMonths,
			&rec.StartingCount,
			&rec.ActiveCount,
			&rec.LapsedCount,
			&rec.CancelledCount,
		)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cohort records: %w", err)
	}
	return records, nil
}

// FetchVendorSignals returns heat inputs for every lead vendor as of asOf.
func (s *Store) FetchVendorSignals(ctx context.Context, asOf time.Time) ([]heat.VendorSignal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, vendorMetricsSQL, asOf, s.userID)
	if err != nil {
		return nil, fmt.Errorf("vendor heat metrics: %w", err)
	}

	signals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (heat.VendorSignal, error) {
		var r vendorMetricsRow
		err := row.Scan(
			&r.VendorID,
			&r.MedianDaysToFirstSale,
			&r.AvgDaysToFirstSale,
			&r.DaysSinceLastSale,
			&r.AvgDaysBetweenSales,
			&r.SalesLast30d,
			&r.SalesLast90d,
			&r.AvgPoliciesPerPack,
			&r.AgentsPurchased30d,
			&r.AgentsWithSales30d,
		)
		return r.signal(), err
	})
	if err != nil {
		return nil, fmt.Errorf("scan vendor heat metrics: %w", err)
	}
	return signals, nil
}

// FetchPackSignals returns heat inputs for every lead pack as of asOf.
func (s *Store) FetchPackSignals(ctx context.Context, asOf time.Time) ([]heat.PackSignal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, packMetricsSQL, asOf, s.userID)
	if err != nil {
		return nil, fmt.Errorf("pack heat metrics: %w", err)
	}

	signals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (heat.PackSignal, error) {
		var r packMetricsRow
		err := row.Scan(
			&r.PackID,
			&r.VendorID,
			&r.TotalPremium,
			&r.TotalCost,
			&r.LeadCount,
			&r.PoliciesSold,
			&r.CommissionEarned,
			&r.DaysSincePurchase,
			&r.DaysSinceLastSale,
			&r.SalesLast30d,
		)
		return r.signal(), err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pack heat metrics: %w", err)
	}
	return signals, nil
}

var (
	_ fetcher.Aggregates = (*Store)(nil)
	_ AdvisoryLocker     = (*Store)(nil)
)
