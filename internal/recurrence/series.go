package recurrence

import (
	"fmt"
	"iter"
	"time"

	"github.com/samber/mo"
)

// Occurrence is one concrete instant of a task's schedule.
type Occurrence struct {
	At time.Time
	// Index is the 0-based position in the series; stable for a given
	// anchor and rule.
	Index int
}

// Key identifies the occurrence for display, e.g. "task-12-3".
func (o Occurrence) Key(taskID int64) string {
	return fmt.Sprintf("task-%d-%d", taskID, o.Index)
}

// Series is the ordered occurrence sequence of one anchor and rule. It is
// a value; iterating it twice yields the same instants.
type Series struct {
	start time.Time
	rule  *Rule
	bound mo.Option[time.Time]
}

// NewSeries builds the series anchored at start. A nil rule yields exactly
// one occurrence at start. When both bound and rule.Until are set the
// earlier one applies; an instant equal to the bound is included.
func NewSeries(start time.Time, rule *Rule, bound mo.Option[time.Time]) Series {
	if rule != nil && rule.Until != nil {
		if b, ok := bound.Get(); !ok || rule.Until.Before(b) {
			bound = mo.Some(*rule.Until)
		}
	}
	return Series{start: start, rule: rule, bound: bound}
}

// Recurring reports whether the series has a rule.
func (s Series) Recurring() bool {
	return s.rule != nil
}

// Bound returns the effective inclusive upper bound, if any.
func (s Series) Bound() mo.Option[time.Time] {
	return s.bound
}

// At returns the k-th occurrence and whether it exists (within COUNT and
// the bound). For a non-recurring series only k == 0 exists.
func (s Series) At(k int) (Occurrence, bool) {
	if k < 0 {
		return Occurrence{}, false
	}
	if s.rule == nil {
		if k > 0 {
			return Occurrence{}, false
		}
		return Occurrence{At: s.start, Index: 0}, true
	}
	if s.rule.Count > 0 && k >= s.rule.Count {
		return Occurrence{}, false
	}
	t := step(s.start, s.rule.Freq, k*s.rule.Interval)
	if b, ok := s.bound.Get(); ok && t.After(b) {
		return Occurrence{}, false
	}
	return Occurrence{At: t, Index: k}, true
}

// All yields the occurrences in ascending order until the bound or COUNT is
// reached. An unbounded recurring series never ends on its own; callers
// must stop the iteration.
func (s Series) All() iter.Seq[Occurrence] {
	return s.from(0)
}

func (s Series) from(k int) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		for i := k; ; i++ {
			occ, ok := s.At(i)
			if !ok || !yield(occ) {
				return
			}
		}
	}
}

// After returns the first occurrence strictly after t.
func (s Series) After(t time.Time) (Occurrence, bool) {
	if s.rule == nil {
		occ, _ := s.At(0)
		return occ, occ.At.After(t)
	}
	k := s.estimate(t)
	for {
		occ, ok := s.At(k)
		if !ok {
			return Occurrence{}, false
		}
		if occ.At.After(t) {
			return occ, true
		}
		k++
	}
}

// estimate returns an index whose occurrence is not after t, or 0. It lets
// After skip long histories without walking them one step at a time.
func (s Series) estimate(t time.Time) int {
	if !t.After(s.start) {
		return 0
	}
	t = t.In(s.start.Location())
	var units int
	switch s.rule.Freq {
	case Daily:
		units = int(t.Sub(s.start).Hours() / 24)
	case Weekly:
		units = int(t.Sub(s.start).Hours() / (24 * 7))
	case Monthly:
		units = monthsBetween(s.start, t)
	case Yearly:
		units = t.Year() - s.start.Year()
	}
	// Back off one step to absorb DST shifts and day clamping.
	k := units/s.rule.Interval - 1
	if k < 0 {
		return 0
	}
	return k
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// step advances t by n units of freq, clamping the day of month to the
// last valid day of the target month. Wall clock time is preserved.
// Callers always step from the anchor, never from the previous occurrence,
// so a clamped month does not pull later months off the anchor day.
func step(t time.Time, freq Frequency, n int) time.Time {
	switch freq {
	case Daily:
		return t.AddDate(0, 0, n)
	case Weekly:
		return t.AddDate(0, 0, 7*n)
	case Monthly:
		return addMonthsClamped(t, n)
	case Yearly:
		return addMonthsClamped(t, 12*n)
	default:
		panic(fmt.Sprintf("recurrence: unknown frequency %d", int(freq)))
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	year := y + total/12
	month := time.Month(total%12 + 1)
	if last := daysIn(year, month); d > last {
		d = last
	}
	return time.Date(year, month, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
