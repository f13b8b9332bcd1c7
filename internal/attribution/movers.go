package attribution

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Dimension names the axis a commission contribution is grouped by.
type Dimension string

const (
	DimensionCarrier Dimension = "carrier"
	DimensionProduct Dimension = "product"
)

// Contribution is the commission one carrier or product earned in a period.
type Contribution struct {
	Dimension  Dimension       `json:"dimension"`
	Name       string          `json:"name"`
	Commission decimal.Decimal `json:"commission"`
}

// Impact grades how large a mover's change is.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

var (
	// moverThreshold is the smallest absolute change reported as a mover.
	moverThreshold = decimal.NewFromInt(100)
	highImpact     = decimal.NewFromInt(1000)
	mediumImpact   = decimal.NewFromInt(500)
)

// MaxMovers caps the TopMovers result.
const MaxMovers = 10

// Mover is a carrier or product whose commission changed materially.
type Mover struct {
	Dimension Dimension       `json:"dimension"`
	Name      string          `json:"name"`
	Previous  decimal.Decimal `json:"previous"`
	Current   decimal.Decimal `json:"current"`
	Change    decimal.Decimal `json:"change"`
	// ChangePercent is nil when nothing was earned in the prior period.
	ChangePercent *decimal.Decimal `json:"change_percent"`
	Up            bool             `json:"up"`
	Impact        Impact           `json:"impact"`
}

// TopMovers compares the breakdowns of two snapshots and returns the largest
// changes above 100 in absolute commission, biggest first, at most MaxMovers.
// Ties go to dimension then name.
func TopMovers(prior, current PeriodSnapshot) ([]Mover, error) {
	if err := prior.validateBreakdown(); err != nil {
		return nil, err
	}
	if err := current.validateBreakdown(); err != nil {
		return nil, err
	}

	before := make(map[breakdownKey]decimal.Decimal, len(prior.Breakdown))
	after := make(map[breakdownKey]decimal.Decimal, len(current.Breakdown))
	keys := make(map[breakdownKey]struct{}, len(prior.Breakdown)+len(current.Breakdown))
	for _, c := range prior.Breakdown {
		k := c.key()
		before[k] = c.Commission
		keys[k] = struct{}{}
	}
	for _, c := range current.Breakdown {
		k := c.key()
		after[k] = c.Commission
		keys[k] = struct{}{}
	}

	movers := make([]Mover, 0, len(keys))
	for k := range keys {
		prev, cur := before[k], after[k]
		change := cur.Sub(prev)
		if !change.Abs().GreaterThan(moverThreshold) {
			continue
		}
		m := Mover{
			Dimension: k.dim,
			Name:      k.name,
			Previous:  prev,
			Current:   cur,
			Change:    change,
			Up:        change.IsPositive(),
			Impact:    impactOf(change),
		}
		if prev.IsPositive() {
			pct := change.Mul(hundred).Div(prev)
			m.ChangePercent = &pct
		}
		movers = append(movers, m)
	}

	sort.Slice(movers, func(i, j int) bool {
		if c := movers[i].Change.Abs().Cmp(movers[j].Change.Abs()); c != 0 {
			return c > 0
		}
		if movers[i].Dimension != movers[j].Dimension {
			return movers[i].Dimension < movers[j].Dimension
		}
		return movers[i].Name < movers[j].Name
	})
	if len(movers) > MaxMovers {
		movers = movers[:MaxMovers]
	}
	return movers, nil
}

type breakdownKey struct {
	dim  Dimension
	name string
}

func (c Contribution) key() breakdownKey {
	return breakdownKey{dim: c.Dimension, name: c.Name}
}

func impactOf(change decimal.Decimal) Impact {
	abs := change.Abs()
	switch {
	case abs.GreaterThan(highImpact):
		return ImpactHigh
	case abs.GreaterThan(mediumImpact):
		return ImpactMedium
	default:
		return ImpactLow
	}
}

func (p PeriodSnapshot) validateBreakdown() error {
	seen := make(map[breakdownKey]struct{}, len(p.Breakdown))
	for _, c := range p.Breakdown {
		if c.Dimension != DimensionCarrier && c.Dimension != DimensionProduct {
			return fmt.Errorf("%w: %s breakdown has unknown dimension %q", ErrInvalidSnapshot, p.label(), c.Dimension)
		}
		if c.Name == "" {
			return fmt.Errorf("%w: %s breakdown has an empty %s name", ErrInvalidSnapshot, p.label(), c.Dimension)
		}
		if c.Commission.IsNegative() {
			return fmt.Errorf("%w: %s %s %q commission is negative", ErrInvalidSnapshot, p.label(), c.Dimension, c.Name)
		}
		if _, dup := seen[c.key()]; dup {
			return fmt.Errorf("%w: %s breakdown repeats %s %q", ErrInvalidSnapshot, p.label(), c.Dimension, c.Name)
		}
		seen[c.key()] = struct{}{}
	}
	return nil
}
