package storage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/heat"
)

// productCount is one row of the per-product policy count query.
type productCount struct {
	Product string
	Count   int64
}

// breakdownRow is one carrier or product slice of a period's commission.
type breakdownRow struct {
	Dimension  string
	Name       string
	Commission string
}

// ledgerRow is one cohort and elapsed month of the commission ledger query.
// Amounts arrive as numeric text.
type ledgerRow struct {
	CohortID         string
	OffsetMonths     int
	PolicyCount      int64
	TotalAdvance     string
	TotalEarned      string
	TotalUnearned    string
	Chargebacks      int64
	ChargebackAmount string
	EarnedToDate     string
}

// carrierRow is one carrier of the carrier book query.
type carrierRow struct {
	CarrierID          string
	CarrierName        *string
	PolicyCount        int64
	TotalPremium       string
	TotalCommission    string
	RateSum            string
	RecentCommission   string
	PreviousCommission string
}

// vendorMetricsRow mirrors get_lead_vendor_heat_metrics. Nullable columns
// mean the vendor has no history for that metric yet.
type vendorMetricsRow struct {
	VendorID              string
	MedianDaysToFirstSale *float64
	AvgDaysToFirstSale    *float64
	DaysSinceLastSale     *float64
	AvgDaysBetweenSales   *float64
	SalesLast30d          *int
	SalesLast90d          *int
	AvgPoliciesPerPack    *float64
	AgentsPurchased30d    *int
	AgentsWithSales30d    *int
}

// packMetricsRow mirrors get_lead_pack_heat_metrics.
type packMetricsRow struct {
	PackID            string
	VendorID          string
	TotalPremium      float64
	TotalCost         float64
	LeadCount         int
	PoliciesSold      int
	CommissionEarned  float64
	DaysSincePurchase *float64
	DaysSinceLastSale *float64
	SalesLast30d      int
}

func (r vendorMetricsRow) signal() heat.VendorSignal {
	return heat.VendorSignal{
		VendorID:              r.VendorID,
		MedianDaysToFirstSale: orSentinel(r.MedianDaysToFirstSale, heat.NoData),
		AvgDaysToFirstSale:    orSentinel(r.AvgDaysToFirstSale, heat.NoData),
		DaysSinceLastSale:     orSentinel(r.DaysSinceLastSale, heat.Never),
		AvgDaysBetweenSales:   orSentinel(r.AvgDaysBetweenSales, heat.NoData),
		SalesLast30d:          countOrNoData(r.SalesLast30d),
		SalesLast90d:          countOrNoData(r.SalesLast90d),
		AvgPoliciesPerPack:    orSentinel(r.AvgPoliciesPerPack, heat.NoData),
		AgentsPurchased30d:    countOrNoData(r.AgentsPurchased30d),
		AgentsWithSales30d:    countOrNoData(r.AgentsWithSales30d),
	}
}

func (r packMetricsRow) signal() heat.PackSignal {
	return heat.PackSignal{
		PackID:            r.PackID,
		VendorID:          r.VendorID,
		TotalPremium:      r.TotalPremium,
		TotalCost:         r.TotalCost,
		LeadCount:         r.LeadCount,
		PoliciesSold:      r.PoliciesSold,
		CommissionEarned:  r.CommissionEarned,
		DaysSincePurchase: orSentinel(r.DaysSincePurchase, heat.NoData),
		DaysSinceLastSale: orSentinel(r.DaysSinceLastSale, heat.Never),
		SalesLast30d:      r.SalesLast30d,
	}
}

func orSentinel(v *float64, sentinel float64) float64 {
	if v == nil {
		return sentinel
	}
	return *v
}

func countOrNoData(v *int) int {
	if v == nil {
		return heat.NoData
	}
	return *v
}

// productMix turns per-product policy counts into shares of the period total.
// Products with no policies are omitted; an empty period has an empty mix.
func productMix(counts []productCount) (map[string]decimal.Decimal, error) {
	var total int64
	for _, c := range counts {
		if c.Count < 0 {
			return nil, fmt.Errorf("product %q has negative count %d", c.Product, c.Count)
		}
		total += c.Count
	}

	mix := make(map[string]decimal.Decimal, len(counts))
	if total == 0 {
		return mix, nil
	}
	denom := decimal.NewFromInt(total)
	for _, c := range counts {
		if c.Count == 0 {
			continue
		}
		mix[c.Product] = mix[c.Product].Add(decimal.NewFromInt(c.Count).Div(denom))
	}
	return mix, nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", name, err)
	}
	return value, nil
}

func contributions(rows []breakdownRow) ([]attribution.Contribution, error) {
	out := make([]attribution.Contribution, 0, len(rows))
	for _, r := range rows {
		amount, err := parseAmount(r.Dimension+" "+r.Name+" commission", r.Commission)
		if err != nil {
			return nil, err
		}
		out = append(out, attribution.Contribution{
			Dimension:  attribution.Dimension(r.Dimension),
			Name:       r.Name,
			Commission: amount,
		})
	}
	return out, nil
}

func (r ledgerRow) record() (cohort.CommissionRecord, error) {
	rec := cohort.CommissionRecord{
		CohortID:     r.CohortID,
		OffsetMonths: r.OffsetMonths,
		PolicyCount:  r.PolicyCount,
		Chargebacks:  r.Chargebacks,
	}
	for _, f := range []struct {
		name string
		raw  string
		dest *decimal.Decimal
	}{
		{"total advance", r.TotalAdvance, &rec.TotalAdvance},
		{"total earned", r.TotalEarned, &rec.TotalEarned},
		{"total unearned", r.TotalUnearned, &rec.TotalUnearned},
		{"chargeback amount", r.ChargebackAmount, &rec.ChargebackAmount},
		{"earned to date", r.EarnedToDate, &rec.EarnedToDate},
	} {
		v, err := parseAmount(f.name, f.raw)
		if err != nil {
			return cohort.CommissionRecord{}, fmt.Errorf("cohort %s offset %d: %w", r.CohortID, r.OffsetMonths, err)
		}
		*f.dest = v
	}
	return rec, nil
}

func (r carrierRow) stats() (attribution.CarrierStats, error) {
	st := attribution.CarrierStats{
		CarrierID:   r.CarrierID,
		PolicyCount: r.PolicyCount,
	}
	if r.CarrierName != nil {
		st.CarrierName = *r.CarrierName
	}
	for _, f := range []struct {
		name string
		raw  string
		dest *decimal.Decimal
	}{
		{"total premium", r.TotalPremium, &st.TotalPremium},
		{"total commission", r.TotalCommission, &st.TotalCommission},
		{"rate sum", r.RateSum, &st.RateSum},
		{"recent commission", r.RecentCommission, &st.RecentCommission},
		{"previous commission", r.PreviousCommission, &st.PreviousCommission},
	} {
		v, err := parseAmount(f.name, f.raw)
		if err != nil {
			return attribution.CarrierStats{}, fmt.Errorf("carrier %s: %w", r.CarrierID, err)
		}
		*f.dest = v
	}
	return st, nil
}
