package attribution

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInvalidSnapshot is returned when a period snapshot fails validation.
var ErrInvalidSnapshot = errors.New("attribution: invalid period snapshot")

var (
	hundred      = decimal.NewFromInt(100)
	mixTolerance = decimal.New(1, -6)
)

// PeriodSnapshot aggregates one reporting period.
type PeriodSnapshot struct {
	Period          string                     `json:"period"`
	PolicyCount     int64                      `json:"policy_count"`
	TotalPremium    decimal.Decimal            `json:"total_premium"`
	TotalCommission decimal.Decimal            `json:"total_commission"`
	ProductMix      map[string]decimal.Decimal `json:"product_mix,omitempty"`
	// Breakdown splits TotalCommission by carrier and by product.
	Breakdown []Contribution `json:"breakdown,omitempty"`
}

// AvgPremium is premium per policy, zero for an empty period.
func (p PeriodSnapshot) AvgPremium() decimal.Decimal {
	if p.PolicyCount == 0 {
		return decimal.Zero
	}
	return p.TotalPremium.Div(decimal.NewFromInt(p.PolicyCount))
}

// AvgRate is commission per unit of premium, zero when no premium was written.
func (p PeriodSnapshot) AvgRate() decimal.Decimal {
	if p.TotalPremium.IsZero() {
		return decimal.Zero
	}
	return p.TotalCommission.Div(p.TotalPremium)
}

// Validate checks the snapshot is non-negative and its product mix is a distribution.
func (p PeriodSnapshot) Validate() error {
	if p.PolicyCount < 0 {
		return fmt.Errorf("%w: %s policy_count is negative", ErrInvalidSnapshot, p.label())
	}
	if p.TotalPremium.IsNegative() {
		return fmt.Errorf("%w: %s total_premium is negative", ErrInvalidSnapshot, p.label())
	}
	if p.TotalCommission.IsNegative() {
		return fmt.Errorf("%w: %s total_commission is negative", ErrInvalidSnapshot, p.label())
	}
	if err := p.validateBreakdown(); err != nil {
		return err
	}
	if len(p.ProductMix) == 0 {
		return nil
	}

	sum := decimal.Zero
	for product, share := range p.ProductMix {
		if share.IsNegative() {
			return fmt.Errorf("%w: %s share for %q is negative", ErrInvalidSnapshot, p.label(), product)
		}
		sum = sum.Add(share)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(mixTolerance) {
		return fmt.Errorf("%w: %s product mix sums to %s", ErrInvalidSnapshot, p.label(), sum.String())
	}
	return nil
}

func (p PeriodSnapshot) label() string {
	if p.Period == "" {
		return "snapshot"
	}
	return "snapshot " + p.Period
}

// Result splits a commission change into additive components.
type Result struct {
	TotalChange   decimal.Decimal `json:"total_change"`
	VolumeEffect  decimal.Decimal `json:"volume_effect"`
	RateEffect    decimal.Decimal `json:"rate_effect"`
	MixEffect     decimal.Decimal `json:"mix_effect"`
	VolumePercent decimal.Decimal `json:"volume_percent"`
	RatePercent   decimal.Decimal `json:"rate_percent"`
	MixPercent    decimal.Decimal `json:"mix_percent"`
}

// Decompose attributes the change in total commission between two periods.
//
// Substitution order is fixed: volume at prior premium and rate, then rate at
// current volume and prior premium. Mix takes the residual so the three effects
// always sum to TotalChange.
func Decompose(prior, current PeriodSnapshot) (Result, error) {
	if err := prior.Validate(); err != nil {
		return Result{}, err
	}
	if err := current.Validate(); err != nil {
		return Result{}, err
	}

	priorCount := decimal.NewFromInt(prior.PolicyCount)
	currentCount := decimal.NewFromInt(current.PolicyCount)
	priorPremium := prior.AvgPremium()
	priorRate := prior.AvgRate()

	total := current.TotalCommission.Sub(prior.TotalCommission)
	volume := currentCount.Sub(priorCount).Mul(priorPremium).Mul(priorRate)
	rate := currentCount.Mul(priorPremium).Mul(current.AvgRate().Sub(priorRate))
	mix := total.Sub(volume).Sub(rate)

	return Result{
		TotalChange:   total,
		VolumeEffect:  volume,
		RateEffect:    rate,
		MixEffect:     mix,
		VolumePercent: percentOf(volume, total),
		RatePercent:   percentOf(rate, total),
		MixPercent:    percentOf(mix, total),
	}, nil
}

func percentOf(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(total.Abs())
}

// ProductShift is the change of one product's share between two periods.
type ProductShift struct {
	Product    string          `json:"product"`
	PriorShare decimal.Decimal `json:"prior_share"`
	Share      decimal.Decimal `json:"share"`
	Shift      decimal.Decimal `json:"shift"`
}

// MixShift lists per-product share changes, largest absolute shift first.
func MixShift(prior, current PeriodSnapshot) []ProductShift {
	products := make(map[string]struct{}, len(prior.ProductMix)+len(current.ProductMix))
	for p := range prior.ProductMix {
		products[p] = struct{}{}
	}
	for p := range current.ProductMix {
		products[p] = struct{}{}
	}

	shifts := make([]ProductShift, 0, len(products))
	for p := range products {
		before := prior.ProductMix[p]
		after := current.ProductMix[p]
		shifts = append(shifts, ProductShift{
			Product:    p,
			PriorShare: before,
			Share:      after,
			Shift:      after.Sub(before),
		})
	}

	sort.Slice(shifts, func(i, j int) bool {
		if c := shifts[i].Shift.Abs().Cmp(shifts[j].Shift.Abs()); c != 0 {
			return c > 0
		}
		return shifts[i].Product < shifts[j].Product
	})
	return shifts
}
