package heat

import (
	"errors"
	"fmt"
	"sort"

	"commissiond/internal/stats"
)

// ErrInvalidSignal is returned when a signal batch fails validation.
var ErrInvalidSignal = errors.New("heat: invalid signal")

const (
	// NoData marks a signal that has not been observed yet.
	NoData = -1
	// Never marks a day-valued signal for an entity that has never sold.
	Never = 999
	// Neutral is the normalized value given to unobserved signals.
	Neutral = 0.5
)

// Direction tells the normalizer which end of a signal's range is good.
type Direction int

const (
	// LowerIsBetter signals decay from 1 toward 0 as the value grows.
	LowerIsBetter Direction = iota
	// HigherIsBetter signals rise linearly to 1 at the cap.
	HigherIsBetter
)

// Signal describes how one raw metric is normalized and weighted.
// Constant is the decay scale for LowerIsBetter and the cap for HigherIsBetter.
type Signal struct {
	Name      string
	Direction Direction
	Constant  float64
	Weight    float64
}

// Table is the weighting scheme for one entity type.
type Table []Signal

func (t Table) totalWeight() float64 {
	var sum float64
	for _, s := range t {
		sum += s.Weight
	}
	return sum
}

// Reading is one raw observation fed to the engine.
type Reading struct {
	Value   float64
	Missing bool
}

func observed(v float64) Reading { return Reading{Value: v} }

func missing() Reading { return Reading{Missing: true} }

// Score is a ranked composite heat score.
type Score struct {
	EntityID   string             `json:"entity_id"`
	Score      float64            `json:"score"`
	Rank       int                `json:"rank"`
	Level      Level              `json:"level"`
	Trend      Trend              `json:"trend"`
	Components map[string]float64 `json:"components"`
}

type candidate struct {
	id       string
	sales    float64
	trend    Trend
	readings map[string]Reading
}

func normalize(sig Signal, r Reading) float64 {
	if r.Missing {
		return Neutral
	}
	if sig.Direction == LowerIsBetter {
		return stats.InverseDecay(r.Value, sig.Constant)
	}
	return stats.CappedLinear(r.Value, sig.Constant)
}

// rank normalizes, weights and orders candidates. Ordering is score
// descending, then 30-day sales descending, then entity id ascending.
func rank(cands []candidate, table Table) []Score {
	total := table.totalWeight()
	scores := make([]Score, len(cands))
	sales := make(map[string]float64, len(cands))

	for i, c := range cands {
		components := make(map[string]float64, len(table))
		var weighted float64
		for _, sig := range table {
			w := sig.Weight * normalize(sig, c.readings[sig.Name])
			weighted += w
			components[sig.Name] = 100 * w / total
		}

		score := clamp(100*weighted/total, 0, 100)
		scores[i] = Score{
			EntityID:   c.id,
			Score:      score,
			Level:      LevelFor(score),
			Trend:      c.trend,
			Components: components,
		}
		sales[c.id] = c.sales
	}

	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if sales[a.EntityID] != sales[b.EntityID] {
			return sales[a.EntityID] > sales[b.EntityID]
		}
		return a.EntityID < b.EntityID
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// dayReading maps a day-valued metric, where both NoData and Never are sentinels.
func dayReading(name string, v float64) (Reading, error) {
	if !stats.IsFinite(v) {
		return Reading{}, fmt.Errorf("%w: %s is not finite", ErrInvalidSignal, name)
	}
	if v == NoData || v == Never {
		return missing(), nil
	}
	if v < 0 {
		return Reading{}, fmt.Errorf("%w: %s is negative (%v)", ErrInvalidSignal, name, v)
	}
	return observed(v), nil
}

// amountReading maps a non-negative metric where only NoData is a sentinel.
func amountReading(name string, v float64) (Reading, error) {
	if !stats.IsFinite(v) {
		return Reading{}, fmt.Errorf("%w: %s is not finite", ErrInvalidSignal, name)
	}
	if v == NoData {
		return missing(), nil
	}
	if v < 0 {
		return Reading{}, fmt.Errorf("%w: %s is negative (%v)", ErrInvalidSignal, name, v)
	}
	return observed(v), nil
}

// ratioReading observes num/den, treating an empty or unobserved denominator as missing.
func ratioReading(name string, num, den float64) (Reading, error) {
	n, err := amountReading(name, num)
	if err != nil {
		return Reading{}, err
	}
	d, err := amountReading(name, den)
	if err != nil {
		return Reading{}, err
	}
	if n.Missing || d.Missing {
		return missing(), nil
	}
	r, ok := stats.SafeRatio(n.Value, d.Value)
	if !ok {
		return missing(), nil
	}
	return observed(r), nil
}

func checkIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty entity id", ErrInvalidSignal)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate entity id %q", ErrInvalidSignal, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func wrapEntity(id string, err error) error {
	return fmt.Errorf("entity %s: %w", id, err)
}
