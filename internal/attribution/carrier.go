package attribution

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInvalidCarrier is returned when carrier statistics fail validation.
var ErrInvalidCarrier = errors.New("attribution: invalid carrier stats")

// CarrierTrend compares a carrier's last three months of commission with the
// three months before.
type CarrierTrend string

const (
	CarrierImproving CarrierTrend = "improving"
	CarrierStable    CarrierTrend = "stable"
	CarrierDeclining CarrierTrend = "declining"
)

var (
	improvingRatio = decimal.RequireFromString("1.1")
	decliningRatio = decimal.RequireFromString("0.9")
)

// CarrierStats are one carrier's raw book totals. RateSum adds up the
// contracted commission rate (0.95 for 95%) of every policy.
type CarrierStats struct {
	CarrierID          string          `json:"carrier_id"`
	CarrierName        string          `json:"carrier_name"`
	PolicyCount        int64           `json:"policy_count"`
	TotalPremium       decimal.Decimal `json:"total_premium"`
	TotalCommission    decimal.Decimal `json:"total_commission"`
	RateSum            decimal.Decimal `json:"rate_sum"`
	RecentCommission   decimal.Decimal `json:"recent_commission"`
	PreviousCommission decimal.Decimal `json:"previous_commission"`
}

// CarrierROI is what a carrier returns on the premium written with it.
type CarrierROI struct {
	CarrierID       string          `json:"carrier_id"`
	CarrierName     string          `json:"carrier_name"`
	PolicyCount     int64           `json:"policy_count"`
	TotalPremium    decimal.Decimal `json:"total_premium"`
	AvgPremium      decimal.Decimal `json:"avg_premium"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	// AvgCommissionRate and ROI are percentages.
	AvgCommissionRate decimal.Decimal `json:"avg_commission_rate"`
	ROI               decimal.Decimal `json:"roi"`
	// Efficiency is commission per policy.
	Efficiency decimal.Decimal `json:"efficiency"`
	Trend      CarrierTrend    `json:"trend"`
}

// CarrierReturns ranks carriers by ROI descending, then by id.
func CarrierReturns(carriers []CarrierStats) ([]CarrierROI, error) {
	seen := make(map[string]struct{}, len(carriers))
	out := make([]CarrierROI, 0, len(carriers))
	for _, c := range carriers {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c.CarrierID]; dup {
			return nil, fmt.Errorf("%w: duplicate carrier %q", ErrInvalidCarrier, c.CarrierID)
		}
		seen[c.CarrierID] = struct{}{}

		name := c.CarrierName
		if name == "" {
			name = "Unknown"
		}
		roi := CarrierROI{
			CarrierID:         c.CarrierID,
			CarrierName:       name,
			PolicyCount:       c.PolicyCount,
			TotalPremium:      c.TotalPremium,
			TotalCommission:   c.TotalCommission,
			AvgPremium:        decimal.Zero,
			AvgCommissionRate: decimal.Zero,
			ROI:               decimal.Zero,
			Efficiency:        decimal.Zero,
			Trend:             carrierTrend(c.RecentCommission, c.PreviousCommission),
		}
		if c.PolicyCount > 0 {
			n := decimal.NewFromInt(c.PolicyCount)
			roi.AvgPremium = c.TotalPremium.Div(n)
			roi.AvgCommissionRate = c.RateSum.Div(n).Mul(hundred)
			roi.Efficiency = c.TotalCommission.Div(n)
		}
		if c.TotalPremium.IsPositive() {
			roi.ROI = c.TotalCommission.Mul(hundred).Div(c.TotalPremium)
		}
		out = append(out, roi)
	}

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ROI.Cmp(out[j].ROI); c != 0 {
			return c > 0
		}
		return out[i].CarrierID < out[j].CarrierID
	})
	return out, nil
}

func carrierTrend(recent, previous decimal.Decimal) CarrierTrend {
	switch {
	case recent.GreaterThan(previous.Mul(improvingRatio)):
		return CarrierImproving
	case recent.LessThan(previous.Mul(decliningRatio)):
		return CarrierDeclining
	default:
		return CarrierStable
	}
}

func (c CarrierStats) validate() error {
	if c.CarrierID == "" {
		return fmt.Errorf("%w: empty carrier id", ErrInvalidCarrier)
	}
	if c.PolicyCount < 0 {
		return fmt.Errorf("%w: carrier %s policy count is negative", ErrInvalidCarrier, c.CarrierID)
	}
	for name, v := range map[string]decimal.Decimal{
		"total_premium":       c.TotalPremium,
		"total_commission":    c.TotalCommission,
		"rate_sum":            c.RateSum,
		"recent_commission":   c.RecentCommission,
		"previous_commission": c.PreviousCommission,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: carrier %s %s is negative", ErrInvalidCarrier, c.CarrierID, name)
		}
	}
	return nil
}
