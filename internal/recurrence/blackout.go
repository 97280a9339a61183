package recurrence

import (
	"slices"
	"sort"
	"time"

	"taskprinter/internal/model"
)

type span struct {
	start, end time.Time
}

// BlackoutIndex answers whether an instant falls inside any active
// blackout period. Periods are merged into a sorted union, so overlapping
// periods behave as one range.
type BlackoutIndex struct {
	spans []span
}

// NewBlackoutIndex keeps the active periods and merges them. A period whose
// end precedes its start is dropped.
func NewBlackoutIndex(periods []model.BlackoutPeriod) *BlackoutIndex {
	spans := make([]span, 0, len(periods))
	for _, p := range periods {
		if !p.IsActive || p.EndDate.Before(p.StartDate) {
			continue
		}
		spans = append(spans, span{start: p.StartDate, end: p.EndDate})
	}
	slices.SortFunc(spans, func(a, b span) int {
		return a.start.Compare(b.start)
	})

	merged := spans[:0]
	for _, s := range spans {
		if n := len(merged); n > 0 && !s.start.After(merged[n-1].end) {
			if s.end.After(merged[n-1].end) {
				merged[n-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return &BlackoutIndex{spans: merged}
}

// Suppressed reports whether t lies in [start, end] of any active period.
// A nil index suppresses nothing.
func (b *BlackoutIndex) Suppressed(t time.Time) bool {
	if b == nil {
		return false
	}
	// First span ending at or after t; it is the only candidate.
	i := sort.Search(len(b.spans), func(i int) bool {
		return !b.spans[i].end.Before(t)
	})
	return i < len(b.spans) && !t.Before(b.spans[i].start)
}

// Len returns the number of disjoint ranges after merging.
func (b *BlackoutIndex) Len() int {
	if b == nil {
		return 0
	}
	return len(b.spans)
}
