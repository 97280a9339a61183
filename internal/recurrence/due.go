package recurrence

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Policy decides what happens to an elapsed occurrence that falls inside a
// blackout period.
type Policy string

const (
	// PolicySkip passes over the suppressed occurrence: the watermark moves
	// to it without printing, so it is never offered again.
	PolicySkip Policy = "skip"
	// PolicyHold keeps the watermark where it is, so the occurrence fires
	// as soon as the blackout ends.
	PolicyHold Policy = "hold"
)

// ParsePolicy accepts "skip" or "hold"; empty means skip.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyHold:
		return PolicyHold, nil
	default:
		return "", fmt.Errorf("recurrence: unknown blackout policy %q", s)
	}
}

// StateKind is the per-task firing state derived from the watermark.
type StateKind int

const (
	// NeverFired: no watermark and no occurrence has elapsed yet.
	NeverFired StateKind = iota
	// CaughtUp: every elapsed occurrence is at or before the watermark.
	CaughtUp
	// Due: Pending holds the earliest occurrence after the watermark that
	// is at or before now.
	Due
)

func (k StateKind) String() string {
	switch k {
	case NeverFired:
		return "never-fired"
	case CaughtUp:
		return "caught-up"
	case Due:
		return "due"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// State is the explicit form of what last_fired_at implies for a task.
type State struct {
	Kind      StateKind
	Watermark mo.Option[time.Time]
	// Pending is set only when Kind == Due.
	Pending Occurrence
}

// Classify derives the state of a series given its watermark and now.
func Classify(series Series, watermark mo.Option[time.Time], now time.Time) State {
	var (
		next Occurrence
		ok   bool
	)
	if w, fired := watermark.Get(); fired {
		next, ok = series.After(w)
	} else {
		next, ok = series.At(0)
	}

	if ok && !next.At.After(now) {
		return State{Kind: Due, Watermark: watermark, Pending: next}
	}
	if watermark.IsPresent() {
		return State{Kind: CaughtUp, Watermark: watermark}
	}
	return State{Kind: NeverFired}
}

// Action is what the caller should do with a task after evaluation.
type Action int

const (
	// Wait: nothing elapsed since the watermark.
	Wait Action = iota
	// Fire: print the occurrence, after persisting NextWatermark.
	Fire
	// Skip: persist NextWatermark without printing.
	Skip
	// Hold: a suppressed occurrence is waiting for its blackout to end.
	Hold
	// Inactive: the task is switched off.
	Inactive
)

func (a Action) String() string {
	switch a {
	case Wait:
		return "wait"
	case Fire:
		return "fire"
	case Skip:
		return "skip"
	case Hold:
		return "hold"
	case Inactive:
		return "inactive"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the outcome of Transition.
type Decision struct {
	Action        Action
	Occurrence    mo.Option[Occurrence]
	NextWatermark mo.Option[time.Time]
}

// Transition applies the suppression policy to a state. It never looks at
// calendars; suppressed is whether the pending occurrence is blacked out.
func Transition(state State, suppressed bool, policy Policy) Decision {
	if state.Kind != Due {
		return Decision{Action: Wait, NextWatermark: state.Watermark}
	}
	pending := mo.Some(state.Pending)
	switch {
	case !suppressed:
		return Decision{Action: Fire, Occurrence: pending, NextWatermark: mo.Some(state.Pending.At)}
	case policy == PolicyHold:
		return Decision{Action: Hold, Occurrence: pending, NextWatermark: state.Watermark}
	default:
		return Decision{Action: Skip, Occurrence: pending, NextWatermark: mo.Some(state.Pending.At)}
	}
}

// DueResult reports whether a task should print now.
type DueResult struct {
	Due    bool
	Action Action
	// Occurrence is the occurrence the action applies to (fired, skipped
	// or held). Absent for Wait and Inactive.
	Occurrence mo.Option[Occurrence]
	// NextWatermark is the value last_fired_at must hold after the action.
	NextWatermark mo.Option[time.Time]
	// RuleErr is set when the rule was rejected and the task was evaluated
	// as a single occurrence.
	RuleErr error
}

// WatermarkChanged reports whether the caller has to persist NextWatermark.
func (r DueResult) WatermarkChanged(current mo.Option[time.Time]) bool {
	next, ok := r.NextWatermark.Get()
	if !ok {
		return false
	}
	cur, ok := current.Get()
	return !ok || !cur.Equal(next)
}
