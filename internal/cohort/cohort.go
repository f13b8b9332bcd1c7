package cohort

import (
	"errors"
	"fmt"
	"sort"

	"commissiond/internal/stats"
)

// ReferenceOffset is the elapsed month cohorts are compared at.
const ReferenceOffset = 9

// ErrInvalidRecord is returned when a cohort record batch fails validation.
var ErrInvalidRecord = errors.New("cohort: invalid record")

// Record is the active policy count of one cohort at one elapsed month.
// LapsedCount and CancelledCount count the policies that left during that
// month, so both are bounded by the policies no longer active.
type Record struct {
	CohortID       string `json:"cohort_id"`
	OffsetMonths   int    `json:"offset_months"`
	StartingCount  int64  `json:"starting_count"`
	ActiveCount    int64  `json:"active_count"`
	LapsedCount    int64  `json:"lapsed_count"`
	CancelledCount int64  `json:"cancelled_count"`
}

// Point is one cell of the retention matrix.
type Point struct {
	OffsetMonths   int     `json:"offset_months"`
	ActiveCount    int64   `json:"active_count"`
	LapsedCount    int64   `json:"lapsed_count"`
	CancelledCount int64   `json:"cancelled_count"`
	Retention      float64 `json:"retention"`
}

// Matrix maps a cohort id to its retention curve ordered by offset.
type Matrix map[string][]Point

// CohortIDs returns the matrix keys in ascending order.
func (m Matrix) CohortIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary condenses the matrix into headline retention figures.
type Summary struct {
	TotalCohorts         int            `json:"total_cohorts"`
	AvgRetentionAtMonth9 *float64       `json:"avg_retention_at_month_9"`
	BestCohortID         *string        `json:"best_cohort_id"`
	WorstCohortID        *string        `json:"worst_cohort_id"`
	ReferenceOffsets     map[string]int `json:"reference_offsets"`
}

// Build groups records into per-cohort retention curves and summarises them.
// Cohorts with a zero starting count are dropped rather than reported as 0%.
func Build(records []Record) (Matrix, Summary, error) {
	grouped, err := group(records)
	if err != nil {
		return nil, Summary{}, err
	}

	matrix := make(Matrix, len(grouped))
	summary := Summary{ReferenceOffsets: make(map[string]int, len(grouped))}
	refs := make([]stats.Keyed, 0, len(grouped))

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rows := grouped[id]
		if rows[0].StartingCount == 0 {
			continue
		}

		curve := make([]Point, len(rows))
		for i, r := range rows {
			curve[i] = Point{
				OffsetMonths:   r.OffsetMonths,
				ActiveCount:    r.ActiveCount,
				LapsedCount:    r.LapsedCount,
				CancelledCount: r.CancelledCount,
				Retention:      float64(r.ActiveCount) / float64(r.StartingCount),
			}
		}
		matrix[id] = curve

		if curve[0].OffsetMonths == 0 {
			summary.TotalCohorts++
		}

		ref := referencePoint(curve)
		summary.ReferenceOffsets[id] = ref.OffsetMonths
		refs = append(refs, stats.Keyed{Key: id, Value: ref.Retention})
	}

	values := make([]float64, len(refs))
	for i, r := range refs {
		values[i] = r.Value
	}
	if avg, ok := stats.Mean(values); ok {
		summary.AvgRetentionAtMonth9 = &avg
	}
	if best, worst, ok := stats.ArgMaxMin(refs); ok {
		summary.BestCohortID = &best
		summary.WorstCohortID = &worst
	}

	return matrix, summary, nil
}

// referencePoint picks the ReferenceOffset cell, or the latest cell when the
// cohort has not reached it. curve must be sorted and non-empty.
func referencePoint(curve []Point) Point {
	for _, p := range curve {
		if p.OffsetMonths == ReferenceOffset {
			return p
		}
	}
	return curve[len(curve)-1]
}

func group(records []Record) (map[string][]Record, error) {
	grouped := make(map[string][]Record)
	for _, r := range records {
		if r.CohortID == "" {
			return nil, fmt.Errorf("%w: empty cohort id", ErrInvalidRecord)
		}
		if r.OffsetMonths < 0 {
			return nil, fmt.Errorf("%w: cohort %s has negative offset %d", ErrInvalidRecord, r.CohortID, r.OffsetMonths)
		}
		if r.StartingCount < 0 {
			return nil, fmt.Errorf("%w: cohort %s has negative starting count", ErrInvalidRecord, r.CohortID)
		}
		if r.ActiveCount < 0 || r.ActiveCount > r.StartingCount {
			return nil, fmt.Errorf("%w: cohort %s offset %d active count %d outside [0,%d]",
				ErrInvalidRecord, r.CohortID, r.OffsetMonths, r.ActiveCount, r.StartingCount)
		}
		if r.LapsedCount < 0 || r.CancelledCount < 0 {
			return nil, fmt.Errorf("%w: cohort %s offset %d has negative exit counts", ErrInvalidRecord, r.CohortID, r.OffsetMonths)
		}
		if r.LapsedCount+r.CancelledCount > r.StartingCount-r.ActiveCount {
			return nil, fmt.Errorf("%w: cohort %s offset %d exits exceed inactive policies",
				ErrInvalidRecord, r.CohortID, r.OffsetMonths)
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
			if cur.StartingCount != prev.StartingCount {
				return nil, fmt.Errorf("%w: cohort %s starting count changes at offset %d", ErrInvalidRecord, id, cur.OffsetMonths)
			}
			if cur.ActiveCount > prev.ActiveCount {
				return nil, fmt.Errorf("%w: cohort %s active count rises at offset %d", ErrInvalidRecord, id, cur.OffsetMonths)
			}
		}
		grouped[id] = rows
	}
	return grouped, nil
}
