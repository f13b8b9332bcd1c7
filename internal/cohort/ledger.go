package cohort

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"commissiond/internal/stats"
)

// CommissionRecord is one cohort's commission ledger at one elapsed month.
// The Total fields and PolicyCount describe the whole cohort and repeat on
// every row; Chargebacks and ChargebackAmount count chargebacks dated in that
// month; EarnedToDate is the advance earned by the end of that month.
type CommissionRecord struct {
	CohortID         string          `json:"cohort_id"`
	OffsetMonths     int             `json:"offset_months"`
	PolicyCount      int64           `json:"policy_count"`
	TotalAdvance     decimal.Decimal `json:"total_advance"`
	TotalEarned      decimal.Decimal `json:"total_earned"`
	TotalUnearned    decimal.Decimal `json:"total_unearned"`
	Chargebacks      int64           `json:"chargebacks"`
	ChargebackAmount decimal.Decimal `json:"chargeback_amount"`
	EarnedToDate     decimal.Decimal `json:"earned_to_date"`
}

// OffsetCount is a count at one elapsed month.
type OffsetCount struct {
	OffsetMonths int   `json:"offset_months"`
	Count        int64 `json:"count"`
}

// Chargeback summarises how much of a cohort's commission was clawed back.
type Chargeback struct {
	CohortID        string          `json:"cohort_id"`
	PolicyCount     int64           `json:"policy_count"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	Amount          decimal.Decimal `json:"amount"`
	Rate            float64         `json:"rate"`
	// AvgMonthsToChargeback is nil when the cohort had no chargebacks.
	AvgMonthsToChargeback *float64      `json:"avg_months_to_chargeback"`
	ByOffset              []OffsetCount `json:"by_offset"`
}

// EarningPoint is the share of advance earned by one elapsed month.
type EarningPoint struct {
	OffsetMonths int     `json:"offset_months"`
	Rate         float64 `json:"rate"`
}

// Earning tracks how a cohort's advance commission is being earned out.
type Earning struct {
	CohortID      string          `json:"cohort_id"`
	TotalAdvance  decimal.Decimal `json:"total_advance"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
	TotalUnearned decimal.Decimal `json:"total_unearned"`
	Rate          float64         `json:"rate"`
	Progress      []EarningPoint  `json:"progress"`
}

// LedgerSummary averages chargeback and earning rates over cohorts that were
// paid any advance. Both are nil when none was.
type LedgerSummary struct {
	AvgChargebackRate *float64 `json:"avg_chargeback_rate"`
	AvgEarningRate    *float64 `json:"avg_earning_rate"`
}

// BuildLedger derives per-cohort chargeback and earning figures, ordered by
// cohort id. A cohort with no advance reports zero rates and is left out of
// the summary averages.
func BuildLedger(records []CommissionRecord) ([]Chargeback, []Earning, LedgerSummary, error) {
	grouped, err := groupLedger(records)
	if err != nil {
		return nil, nil, LedgerSummary{}, err
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chargebacks := make([]Chargeback, 0, len(ids))
	earnings := make([]Earning, 0, len(ids))
	var chargebackRates, earningRates []float64

	for _, id := range ids {
		rows := grouped[id]
		head := rows[0]

		cb := Chargeback{
			CohortID:        id,
			PolicyCount:     head.PolicyCount,
			TotalCommission: head.TotalAdvance,
			Amount:          decimal.Zero,
			ByOffset:        []OffsetCount{},
		}
		var events, eventMonths int64
		for _, r := range rows {
			cb.Amount = cb.Amount.Add(r.ChargebackAmount)
			if r.Chargebacks > 0 {
				cb.ByOffset = append(cb.ByOffset, OffsetCount{OffsetMonths: r.OffsetMonths, Count: r.Chargebacks})
				events += r.Chargebacks
				eventMonths += r.Chargebacks * int64(r.OffsetMonths)
			}
		}
		if avg, ok := stats.SafeRatio(float64(eventMonths), float64(events)); ok {
			cb.AvgMonthsToChargeback = &avg
		}

		earn := Earning{
			CohortID:      id,
			TotalAdvance:  head.TotalAdvance,
			TotalEarned:   head.TotalEarned,
			TotalUnearned: head.TotalUnearned,
			Progress:      make([]EarningPoint, len(rows)),
		}
		paid := head.TotalAdvance.IsPositive()
		for i, r := range rows {
			earn.Progress[i] = EarningPoint{OffsetMonths: r.OffsetMonths, Rate: shareOf(r.EarnedToDate, head.TotalAdvance)}
		}
		if paid {
			cb.Rate = shareOf(cb.Amount, head.TotalAdvance)
			earn.Rate = shareOf(head.TotalEarned, head.TotalAdvance)
			chargebackRates = append(chargebackRates, cb.Rate)
			earningRates = append(earningRates, earn.Rate)
		}

		chargebacks = append(chargebacks, cb)
		earnings = append(earnings, earn)
	}

	var summary LedgerSummary
	if avg, ok := stats.Mean(chargebackRates); ok {
		summary.AvgChargebackRate = &avg
	}
	if avg, ok := stats.Mean(earningRates); ok {
		summary.AvgEarningRate = &avg
	}
	return chargebacks, earnings, summary, nil
}

func shareOf(part, whole decimal.Decimal) float64 {
	if !whole.IsPositive() {
		return 0
	}
	return part.Div(whole).InexactFloat64()
}

func groupLedger(records []CommissionRecord) (map[string][]CommissionRecord, error) {
	grouped := make(map[string][]CommissionRecord)
	for _, r := range records {
		if r.CohortID == "" {
			return nil, fmt.Errorf("%w: empty cohort id", ErrInvalidRecord)
		}
		if r.OffsetMonths < 0 {
			return nil, fmt.Errorf("%w: cohort %s has negative offset %d", ErrInvalidRecord, r.CohortID, r.OffsetMonths)
		}
		if r.PolicyCount < 0 || r.Chargebacks < 0 {
			return nil, fmt.Errorf("%w: cohort %s offset %d has negative counts", ErrInvalidRecord, r.CohortID, r.OffsetMonths)
		}
		for name, v := range map[string]decimal.Decimal{
			"total_advance":     r.TotalAdvance,
			"total_earned":      r.TotalEarned,
			"total_unearned":    r.TotalUnearned,
			"chargeback_amount": r.ChargebackAmount,
			"earned_to_date":    r.EarnedToDate,
		} {
			if v.IsNegative() {
				return nil, fmt.Errorf("%w: cohort %s offset %d %s is negative", ErrInvalidRecord, r.CohortID, r.OffsetMonths, name)
			}
		}
		grouped[r.CohortID] = append(grouped[r.CohortID], r)
	}

	for id, rows := range grouped {
		sort.Slice(rows, func(i, j int) bool { return rows[i].OffsetMonths < rows[j].OffsetMonths })
		for i := 1; i < len(rows); i++ {
			prev, cur := rows[i-1], rows[i]
			if cur.OffsetMonths == prev.OffsetMonths {
				return nil, fmt.Errorf("%w: cohort %s has duplicate offset %d", ErrInvalidRecord, id, cur.OffsetMonths)
			}
			if cur.PolicyCount != prev.PolicyCount ||
				!cur.TotalAdvance.Equal(prev.TotalAdvance) ||
				!cur.TotalEarned.Equal(prev.TotalEarned) ||
				!cur.TotalUnearned.Equal(prev.TotalUnearned) {
				return nil, fmt.Errorf("%w: cohort %s totals change at offset %d", ErrInvalidRecord, id, cur.OffsetMonths)
			}
			if cur.EarnedToDate.LessThan(prev.EarnedToDate) {
				return nil, fmt.Errorf("%w: cohort %s earned to date falls at offset %d", ErrInvalidRecord, id, cur.OffsetMonths)
			}
		}
		grouped[id] = rows
	}
	return grouped, nil
}
