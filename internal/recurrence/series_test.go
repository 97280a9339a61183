package recurrence

import (
	"slices"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func mustRule(t *testing.T, s string) *Rule {
	t.Helper()
	r, err := ParseRule(s)
	require.NoError(t, err)
	return &r
}

func take(s Series, n int) []time.Time {
	var out []time.Time
	for occ := range s.All() {
		if len(out) == n {
			break
		}
		out = append(out, occ.At)
	}
	return out
}

func TestSeries_NoRuleIsSingle(t *testing.T) {
	start := utc(2025, 8, 17, 8, 0)
	s := NewSeries(start, nil, mo.None[time.Time]())

	got := take(s, 10)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(start))
}

func TestSeries_AnchorInclusive(t *testing.T) {
	start := utc(2025, 8, 17, 8, 0)
	s := NewSeries(start, mustRule(t, "FREQ=DAILY;INTERVAL=3"), mo.None[time.Time]())

	got := take(s, 3)
	assert.Equal(t, []time.Time{start, utc(2025, 8, 20, 8, 0), utc(2025, 8, 23, 8, 0)}, got)
}

func TestSeries_WeeklyStep(t *testing.T) {
	start := utc(2025, 12, 24, 18, 30)
	s := NewSeries(start, mustRule(t, "FREQ=WEEKLY;INTERVAL=2"), mo.None[time.Time]())

	got := take(s, 3)
	assert.Equal(t, []time.Time{start, utc(2026, 1, 7, 18, 30), utc(2026, 1, 21, 18, 30)}, got)
}

func TestSeries_MonthlyClamp(t *testing.T) {
	nonLeap := NewSeries(utc(2025, 1, 31, 9, 0), mustRule(t, "FREQ=MONTHLY"), mo.None[time.Time]())
	assert.Equal(t, []time.Time{
		utc(2025, 1, 31, 9, 0),
		utc(2025, 2, 28, 9, 0),
		utc(2025, 3, 31, 9, 0),
		utc(2025, 4, 30, 9, 0),
	}, take(nonLeap, 4))

	leap := NewSeries(utc(2024, 1, 31, 9, 0), mustRule(t, "FREQ=MONTHLY"), mo.None[time.Time]())
	assert.Equal(t, utc(2024, 2, 29, 9, 0), take(leap, 2)[1])
}

func TestSeries_MonthlyYearRollover(t *testing.T) {
	s := NewSeries(utc(2025, 11, 30, 7, 0), mustRule(t, "FREQ=MONTHLY;INTERVAL=3"), mo.None[time.Time]())
	assert.Equal(t, []time.Time{
		utc(2025, 11, 30, 7, 0),
		utc(2026, 2, 28, 7, 0),
		utc(2026, 5, 30, 7, 0),
		utc(2026, 8, 30, 7, 0),
	}, take(s, 4))
}

func TestSeries_YearlyLeapDay(t *testing.T) {
	s := NewSeries(utc(2024, 2, 29, 12, 0), mustRule(t, "FREQ=YEARLY"), mo.None[time.Time]())
	assert.Equal(t, []time.Time{
		utc(2024, 2, 29, 12, 0),
		utc(2025, 2, 28, 12, 0),
		utc(2026, 2, 28, 12, 0),
		utc(2027, 2, 28, 12, 0),
		utc(2028, 2, 29, 12, 0),
	}, take(s, 5))
}

func TestSeries_BoundInclusive(t *testing.T) {
	start := utc(2025, 8, 1, 8, 0)
	bound := utc(2025, 8, 3, 8, 0)
	s := NewSeries(start, mustRule(t, "FREQ=DAILY"), mo.Some(bound))

	got := take(s, 100)
	require.Len(t, got, 3)
	assert.True(t, got[2].Equal(bound))

	s = NewSeries(start, mustRule(t, "FREQ=DAILY"), mo.Some(bound.Add(-time.Second)))
	assert.Len(t, take(s, 100), 2)
}

func TestSeries_EarlierOfTaskAndRuleUntil(t *testing.T) {
	start := utc(2025, 8, 1, 8, 0)
	rule := mustRule(t, "FREQ=DAILY;UNTIL=20250805T080000Z")

	s := NewSeries(start, rule, mo.Some(utc(2025, 9, 1, 0, 0)))
	assert.Len(t, take(s, 100), 5)

	s = NewSeries(start, rule, mo.Some(utc(2025, 8, 2, 8, 0)))
	assert.Len(t, take(s, 100), 2)
}

func TestSeries_Count(t *testing.T) {
	s := NewSeries(utc(2025, 1, 1, 0, 0), mustRule(t, "FREQ=WEEKLY;COUNT=4"), mo.None[time.Time]())
	got := take(s, 100)
	assert.Len(t, got, 4)

	_, ok := s.At(4)
	assert.False(t, ok)
}

func TestSeries_StrictlyAscending(t *testing.T) {
	rules := []string{
		"FREQ=DAILY", "FREQ=DAILY;INTERVAL=9", "FREQ=WEEKLY", "FREQ=WEEKLY;INTERVAL=5",
		"FREQ=MONTHLY", "FREQ=MONTHLY;INTERVAL=7", "FREQ=YEARLY", "FREQ=YEARLY;INTERVAL=4",
	}
	starts := []time.Time{utc(2024, 1, 31, 23, 59), utc(2024, 2, 29, 0, 0), utc(2025, 8, 30, 10, 15)}

	for _, r := range rules {
		for _, start := range starts {
			got := take(NewSeries(start, mustRule(t, r), mo.None[time.Time]()), 200)
			require.Len(t, got, 200)
			for i := 1; i < len(got); i++ {
				require.True(t, got[i].After(got[i-1]), "%s from %s: %s !> %s", r, start, got[i], got[i-1])
			}
		}
	}
}

func TestSeries_Restartable(t *testing.T) {
	s := NewSeries(utc(2025, 1, 31, 8, 0), mustRule(t, "FREQ=MONTHLY"), mo.None[time.Time]())
	assert.Equal(t, take(s, 12), take(s, 12))
}

func TestSeries_After(t *testing.T) {
	start := utc(2020, 1, 31, 8, 0)
	s := NewSeries(start, mustRule(t, "FREQ=MONTHLY"), mo.None[time.Time]())

	occ, ok := s.After(utc(2025, 2, 28, 8, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2025, 3, 31, 8, 0), occ.At)
	assert.Equal(t, 62, occ.Index)

	occ, ok = s.After(start.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, 0, occ.Index)

	single := NewSeries(start, nil, mo.None[time.Time]())
	_, ok = single.After(start)
	assert.False(t, ok)
}

func TestSeries_AfterMatchesWalk(t *testing.T) {
	rules := []string{"FREQ=DAILY;INTERVAL=3", "FREQ=WEEKLY;INTERVAL=2", "FREQ=MONTHLY;INTERVAL=5", "FREQ=YEARLY;INTERVAL=2"}
	start := utc(2023, 3, 31, 6, 45)
	probes := []time.Time{utc(2023, 3, 31, 6, 45), utc(2024, 2, 29, 0, 0), utc(2027, 12, 31, 23, 0), utc(2031, 7, 4, 6, 45)}

	for _, r := range rules {
		s := NewSeries(start, mustRule(t, r), mo.None[time.Time]())
		for _, p := range probes {
			var want Occurrence
			for occ := range s.All() {
				if occ.At.After(p) {
					want = occ
					break
				}
			}
			got, ok := s.After(p)
			require.True(t, ok)
			assert.Equal(t, want, got, "%s after %s", r, p)
		}
	}
}

// Daily and weekly stepping never clamps, so it must agree with a full
// RFC 5545 expansion.
func TestSeries_AgreesWithRFCExpansion(t *testing.T) {
	tests := []struct {
		rule string
		freq rrule.Frequency
		step int
	}{
		{"FREQ=DAILY;INTERVAL=3", rrule.DAILY, 3},
		{"FREQ=WEEKLY;INTERVAL=2", rrule.WEEKLY, 2},
	}
	start := utc(2024, 2, 27, 8, 0)

	for _, tt := range tests {
		ref, err := rrule.NewRRule(rrule.ROption{Freq: tt.freq, Interval: tt.step, Dtstart: start, Count: 40})
		require.NoError(t, err)

		got := take(NewSeries(start, mustRule(t, tt.rule), mo.None[time.Time]()), 40)
		want := ref.All()
		require.Len(t, got, len(want))
		for i := range want {
			assert.True(t, want[i].Equal(got[i]), "%s #%d: %s vs %s", tt.rule, i, want[i], got[i])
		}
	}
}

func TestSeries_PreservesWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Skip("tzdata not available")
	}
	start := time.Date(2025, 3, 28, 8, 0, 0, 0, loc)
	got := take(NewSeries(start, mustRule(t, "FREQ=DAILY"), mo.None[time.Time]()), 4)

	hours := make([]int, 0, len(got))
	for _, g := range got {
		hours = append(hours, g.Hour())
	}
	assert.True(t, slices.Equal([]int{8, 8, 8, 8}, hours))
}

func TestOccurrence_Key(t *testing.T) {
	assert.Equal(t, "task-12-3", Occurrence{Index: 3}.Key(12))
}
