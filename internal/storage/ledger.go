package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/fetcher"
)

const (
	// Advance is earned evenly over advance_months and stops once months_paid
	// runs out. Chargebacks land in the month elapsed between the policy
	// effective date and chargeback_date; undated ones have no month.
	cohortCommissionsSQL = `WITH ledger AS (
        SELECT
            p.id AS policy_id,
            to_char(date_trunc('month', p.effective_date), 'YYYY-MM') AS cohort_id,
            date_trunc('month', p.effective_date) AS cohort_start,
            COALESCE(c.amount, 0) AS advance,
            COALESCE(c.earned_amount, 0) AS earned,
            COALESCE(c.unearned_amount, 0) AS unearned,
            COALESCE(c.chargeback_amount, 0) AS chargeback_amount,
            CASE WHEN c.chargeback_date IS NOT NULL AND COALESCE(c.chargeback_amount, 0) > 0 THEN
                (EXTRACT(YEAR FROM age(c.chargeback_date, p.effective_date)) * 12
                 + EXTRACT(MONTH FROM age(c.chargeback_date, p.effective_date)))::int
            END AS chargeback_offset,
            GREATEST(COALESCE(c.advance_months, 0), 0) AS advance_months,
            GREATEST(COALESCE(c.months_paid, 0), 0) AS months_paid
        FROM policies p
        JOIN commissions c ON c.policy_id = p.id
        WHERE p.effective_date >= $1
          AND p.effective_date < $2
          AND ($4::text = '' OR p.user_id::text = $4::text)
    ),
    totals AS (
        SELECT
            cohort_id,
            cohort_start,
            COUNT(DISTINCT policy_id) AS policy_count,
            SUM(advance) AS total_advance,
            SUM(earned) AS total_earned,
            SUM(unearned) AS total_unearned
        FROM ledger
        GROUP BY cohort_id, cohort_start
    ),
    offsets AS (
        SELECT t.cohort_id, g.offset_months
        FROM totals t
        CROSS JOIN LATERAL generate_series(0, $3::int) AS g(offset_months)
        WHERE t.cohort_start + make_interval(months => g.offset_months) <= $5
    )
    SELECT
        o.cohort_id,
        o.offset_months,
        t.policy_count,
        t.total_advance::text,
        t.total_earned::text,
        t.total_unearned::text,
        COUNT(*) FILTER (WHERE l.chargeback_offset = o.offset_months),
        COALESCE(SUM(l.chargeback_amount) FILTER (WHERE l.chargeback_offset = o.offset_months), 0)::text,
        COALESCE(SUM(
            CASE WHEN l.advance_months > 0 THEN
                l.advance / l.advance_months * LEAST(o.offset_months, l.months_paid, l.advance_months)
            ELSE 0 END
        ), 0)::text
    FROM offsets o
    JOIN totals t ON t.cohort_id = o.cohort_id
    JOIN ledger l ON l.cohort_id = o.cohort_id
    GROUP BY o.cohort_id, o.offset_months, t.policy_count, t.total_advance, t.total_earned, t.total_unearned
    ORDER BY o.cohort_id, o.offset_months;`

	// Recent is the three whole months before asOf's month, previous the
	// three before that.
	carrierStatsSQL = `WITH book AS (
        SELECT
            p.carrier_id,
            p.effective_date,
            COALESCE(p.annual_premium, 0) AS premium,
            COALESCE(p.commission_percentage, 0) AS rate,
            COALESCE((
                SELECT SUM(c.amount)
                FROM commissions c
                WHERE c.policy_id = p.id
            ), 0) AS commission
        FROM policies p
        WHERE p.carrier_id IS NOT NULL
          AND p.effective_date <= $1
          AND ($2::text = '' OR p.user_id::text = $2::text)
    ),
    bounds AS (
        SELECT date_trunc('month', $1::timestamptz) AS month_start
    )
    SELECT
        b.carrier_id::text,
        ca.name,
        COUNT(*),
        SUM(b.premium)::text,
        SUM(b.commission)::text,
        SUM(b.rate)::text,
        COALESCE(SUM(b.commission) FILTER (
            WHERE b.effective_date >= x.month_start - interval '3 months'
              AND b.effective_date < x.month_start
        ), 0)::text,
        COALESCE(SUM(b.commission) FILTER (
            WHERE b.effective_date >= x.month_start - interval '6 months'
              AND b.effective_date < x.month_start - interval '3 months'
        ), 0)::text
    FROM book b
    CROSS JOIN bounds x
    LEFT JOIN carriers ca ON ca.id = b.carrier_id
    GROUP BY b.carrier_id, ca.name
    ORDER BY b.carrier_id;`
)

// FetchCohortCommissions returns the commission ledger of every cohort in
// window, one row per elapsed month.
func (s *Store) FetchCohortCommissions(ctx context.Context, window fetcher.CohortWindow) ([]cohort.CommissionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, cohortCommissionsSQL,
		window.Start,
		window.End,
		window.MaxOffsetMonths,
		s.userID,
		window.AsOf,
	)
	if err != nil {
		return nil, fmt.Errorf("cohort commissions: %w", err)
	}

	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledgerRow, error) {
		var r ledgerRow
		err := row.Scan(
			&r.CohortID,
			&r.OffsetMonths,
			&r.PolicyCount,
			&r.TotalAdvance,
			&r.TotalEarned,
			&r.TotalUnearned,
			&r.Chargebacks,
			&r.ChargebackAmount,
			&r.EarnedToDate,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cohort commissions: %w", err)
	}

	records := make([]cohort.CommissionRecord, 0, len(raw))
	for _, r := range raw {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FetchCarrierStats returns book totals for every carrier with policies
// effective on or before asOf.
func (s *Store) FetchCarrierStats(ctx context.Context, asOf time.Time) ([]attribution.CarrierStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, carrierStatsSQL, asOf, s.userID)
	if err != nil {
		return nil, fmt.Errorf("carrier stats: %w", err)
	}

	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (carrierRow, error) {
		var r carrierRow
		err := row.Scan(
			&r.CarrierID,
			&r.CarrierName,
			&r.PolicyCount,
			&r.TotalPremium,
			&r.TotalCommission,
			&r.RateSum,
			&r.RecentCommission,
			&r.PreviousCommission,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan carrier stats: %w", err)
	}

	carriers := make([]attribution.CarrierStats, 0, len(raw))
	for _, r := range raw {
		st, err := r.stats()
		if err != nil {
			return nil, err
		}
		carriers = append(carriers, st)
	}
	return carriers, nil
}
