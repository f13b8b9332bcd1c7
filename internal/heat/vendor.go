package heat

const (
	SignalMedianDaysToFirstSale = "median_days_to_first_sale"
	SignalDaysSinceLastSale     = "days_since_last_sale"
	SignalAvgDaysBetweenSales   = "avg_days_between_sales"
	SignalSalesLast30d          = "sales_last_30d"
	SignalAvgPoliciesPerPack    = "avg_policies_per_pack"
	SignalAgentAdoptionRate     = "agent_adoption_rate"
)

var vendorTable = Table{
	{Name: SignalMedianDaysToFirstSale, Direction: LowerIsBetter, Constant: 21, Weight: 20},
	{Name: SignalDaysSinceLastSale, Direction: LowerIsBetter, Constant: 14, Weight: 20},
	{Name: SignalAvgDaysBetweenSales, Direction: LowerIsBetter, Constant: 14, Weight: 15},
	{Name: SignalSalesLast30d, Direction: HigherIsBetter, Constant: 10, Weight: 15},
	{Name: SignalAvgPoliciesPerPack, Direction: HigherIsBetter, Constant: 3, Weight: 15},
	{Name: SignalAgentAdoptionRate, Direction: HigherIsBetter, Constant: 1, Weight: 15},
}

// VendorTable returns a copy of the vendor weighting scheme.
func VendorTable() Table {
	return append(Table(nil), vendorTable...)
}

// VendorSignal carries one lead vendor's raw metrics for a scoring run.
// Day-valued fields use NoData or Never when unobserved; counts use NoData.
type VendorSignal struct {
	VendorID              string  `json:"vendor_id"`
	MedianDaysToFirstSale float64 `json:"median_days_to_first_sale"`
	AvgDaysToFirstSale    float64 `json:"avg_days_to_first_sale"`
	DaysSinceLastSale     float64 `json:"days_since_last_sale"`
	AvgDaysBetweenSales   float64 `json:"avg_days_between_sales"`
	SalesLast30d          int     `json:"sales_last_30d"`
	SalesLast90d          int     `json:"sales_last_90d"`
	AvgPoliciesPerPack    float64 `json:"avg_policies_per_pack"`
	AgentsPurchased30d    int     `json:"agents_purchased_30d"`
	AgentsWithSales30d    int     `json:"agents_with_sales_30d"`
}

// AgentAdoptionRate is the share of purchasing agents that sold in the last 30 days.
// ok is false when no agent purchased.
func (v VendorSignal) AgentAdoptionRate() (rate float64, ok bool) {
	if v.AgentsPurchased30d <= 0 || v.AgentsWithSales30d < 0 {
		return 0, false
	}
	return float64(v.AgentsWithSales30d) / float64(v.AgentsPurchased30d), true
}

func (v VendorSignal) readings() (map[string]Reading, error) {
	out := make(map[string]Reading, len(vendorTable))
	days := []struct {
		name  string
		value float64
	}{
		{SignalMedianDaysToFirstSale, v.MedianDaysToFirstSale},
		{SignalDaysSinceLastSale, v.DaysSinceLastSale},
		{SignalAvgDaysBetweenSales, v.AvgDaysBetweenSales},
	}
	for _, d := range days {
		r, err := dayReading(d.name, d.value)
		if err != nil {
			return nil, err
		}
		out[d.name] = r
	}
	if _, err := dayReading("avg_days_to_first_sale", v.AvgDaysToFirstSale); err != nil {
		return nil, err
	}

	var err error
	if out[SignalSalesLast30d], err = amountReading(SignalSalesLast30d, float64(v.SalesLast30d)); err != nil {
		return nil, err
	}
	if _, err = amountReading("sales_last_90d", float64(v.SalesLast90d)); err != nil {
		return nil, err
	}
	if out[SignalAvgPoliciesPerPack], err = amountReading(SignalAvgPoliciesPerPack, v.AvgPoliciesPerPack); err != nil {
		return nil, err
	}
	if out[SignalAgentAdoptionRate], err = ratioReading(SignalAgentAdoptionRate,
		float64(v.AgentsWithSales30d), float64(v.AgentsPurchased30d)); err != nil {
		return nil, err
	}
	return out, nil
}

// ScoreVendors ranks lead vendors by composite heat. The batch is rejected as a
// whole when any signal row is malformed.
func ScoreVendors(signals []VendorSignal) ([]Score, error) {
	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.VendorID
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}

	cands := make([]candidate, len(signals))
	for i, s := range signals {
		readings, err := s.readings()
		if err != nil {
			return nil, wrapEntity(s.VendorID, err)
		}
		cands[i] = candidate{
			id:       s.VendorID,
			sales:    float64(s.SalesLast30d),
			trend:    VendorTrend(s.SalesLast30d, s.SalesLast90d),
			readings: readings,
		}
	}
	return rank(cands, vendorTable), nil
}
