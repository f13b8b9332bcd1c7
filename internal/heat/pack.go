package heat

import (
	"fmt"
	"sort"
)

const (
	SignalConversionRate = "conversion_rate"
	SignalPremiumPerLead = "premium_per_lead"
	SignalCostCoverage   = "cost_coverage"
)

var packTable = Table{
	{Name: SignalDaysSinceLastSale, Direction: LowerIsBetter, Constant: 14, Weight: 20},
	{Name: SignalSalesLast30d, Direction: HigherIsBetter, Constant: 5, Weight: 15},
	{Name: SignalConversionRate, Direction: HigherIsBetter, Constant: 0.2, Weight: 25},
	{Name: SignalPremiumPerLead, Direction: HigherIsBetter, Constant: 500, Weight: 15},
	{Name: SignalCostCoverage, Direction: HigherIsBetter, Constant: 3, Weight: 25},
}

// PackTable returns a copy of the lead pack weighting scheme.
func PackTable() Table {
	return append(Table(nil), packTable...)
}

// PackSignal carries one lead purchase's raw metrics for a scoring run.
type PackSignal struct {
	PackID            string  `json:"pack_id"`
	VendorID          string  `json:"vendor_id"`
	TotalPremium      float64 `json:"total_premium"`
	TotalCost         float64 `json:"total_cost"`
	LeadCount         int     `json:"lead_count"`
	PoliciesSold      int     `json:"policies_sold"`
	CommissionEarned  float64 `json:"commission_earned"`
	DaysSincePurchase float64 `json:"days_since_purchase"`
	DaysSinceLastSale float64 `json:"days_since_last_sale"`
	SalesLast30d      int     `json:"sales_last_30d"`
}

func (p PackSignal) readings() (map[string]Reading, error) {
	out := make(map[string]Reading, len(packTable))
	var err error

	if out[SignalDaysSinceLastSale], err = dayReading(SignalDaysSinceLastSale, p.DaysSinceLastSale); err != nil {
		return nil, err
	}
	if _, err = dayReading("days_since_purchase", p.DaysSincePurchase); err != nil {
		return nil, err
	}
	if out[SignalSalesLast30d], err = amountReading(SignalSalesLast30d, float64(p.SalesLast30d)); err != nil {
		return nil, err
	}
	if out[SignalConversionRate], err = ratioReading(SignalConversionRate, float64(p.PoliciesSold), float64(p.LeadCount)); err != nil {
		return nil, err
	}
	if out[SignalPremiumPerLead], err = ratioReading(SignalPremiumPerLead, p.TotalPremium, float64(p.LeadCount)); err != nil {
		return nil, err
	}
	if out[SignalCostCoverage], err = ratioReading(SignalCostCoverage, p.CommissionEarned, p.TotalCost); err != nil {
		return nil, err
	}
	return out, nil
}

// ScorePacks ranks individual lead packs by composite heat.
func ScorePacks(signals []PackSignal) ([]Score, error) {
	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.PackID
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}

	cands := make([]candidate, len(signals))
	for i, s := range signals {
		readings, err := s.readings()
		if err != nil {
			return nil, wrapEntity(s.PackID, err)
		}
		cands[i] = candidate{
			id:       s.PackID,
			sales:    float64(s.SalesLast30d),
			trend:    PackTrend(s.SalesLast30d, s.DaysSinceLastSale),
			readings: readings,
		}
	}
	return rank(cands, packTable), nil
}

// RollupByVendor folds pack rows into one aggregate row per vendor, keyed by
// vendor id, so vendors can be ranked on pack economics. The raw batch is
// validated first. Amounts are summed over observed rows, recency takes the
// most recent sale and purchase age is averaged. A field no row observed
// stays a sentinel.
func RollupByVendor(packs []PackSignal) ([]PackSignal, error) {
	ids := make([]string, len(packs))
	for i, p := range packs {
		ids[i] = p.PackID
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}

	byVendor := make(map[string][]PackSignal)
	for _, p := range packs {
		if p.VendorID == "" {
			return nil, wrapEntity(p.PackID, fmt.Errorf("%w: empty vendor id", ErrInvalidSignal))
		}
		if _, err := p.readings(); err != nil {
			return nil, wrapEntity(p.PackID, err)
		}
		byVendor[p.VendorID] = append(byVendor[p.VendorID], p)
	}

	vendors := make([]string, 0, len(byVendor))
	for id := range byVendor {
		vendors = append(vendors, id)
	}
	sort.Strings(vendors)

	out := make([]PackSignal, 0, len(vendors))
	for _, id := range vendors {
		var premium, cost, earned, leads, sold, sales observedSum
		lastSale := float64(NoData)
		var purchaseAge float64
		var aged int
		for _, p := range byVendor[id] {
			premium.add(p.TotalPremium)
			cost.add(p.TotalCost)
			earned.add(p.CommissionEarned)
			leads.add(float64(p.LeadCount))
			sold.add(float64(p.PoliciesSold))
			sales.add(float64(p.SalesLast30d))
			lastSale = mostRecent(lastSale, p.DaysSinceLastSale)
			if p.DaysSincePurchase != NoData && p.DaysSincePurchase != Never {
				purchaseAge += p.DaysSincePurchase
				aged++
			}
		}

		agg := PackSignal{
			PackID:            id,
			VendorID:          id,
			TotalPremium:      premium.value(),
			TotalCost:         cost.value(),
			CommissionEarned:  earned.value(),
			LeadCount:         int(leads.value()),
			PoliciesSold:      int(sold.value()),
			SalesLast30d:      int(sales.value()),
			DaysSinceLastSale: lastSale,
			DaysSincePurchase: NoData,
		}
		if aged > 0 {
			agg.DaysSincePurchase = purchaseAge / float64(aged)
		}
		out = append(out, agg)
	}
	return out, nil
}

// observedSum adds values that are not NoData; with none observed it
// reports NoData.
type observedSum struct {
	total float64
	seen  bool
}

func (s *observedSum) add(v float64) {
	if v == NoData {
		return
	}
	s.total += v
	s.seen = true
}

func (s observedSum) value() float64 {
	if !s.seen {
		return NoData
	}
	return s.total
}

// mostRecent keeps the smaller observed day count. Never outranks NoData.
func mostRecent(cur, next float64) float64 {
	switch {
	case next == NoData:
		return cur
	case next == Never:
		if cur == NoData {
			return Never
		}
		return cur
	case cur == NoData || cur == Never || next < cur:
		return next
	default:
		return cur
	}
}
