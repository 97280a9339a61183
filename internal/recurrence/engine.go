package recurrence

import (
	"time"

	"github.com/samber/mo"

	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
)

const (
	defaultOccurrenceCap = 100
	defaultHorizonMonths = 12
)

// Config controls display expansion and suppression. Zero values pick the
// defaults.
type Config struct {
	// OccurrenceCap limits display expansion per task. Default 100.
	OccurrenceCap int
	// HorizonMonths bounds display expansion of tasks without an end,
	// counted from the reference instant. Default 12.
	HorizonMonths int
	// Policy handles occurrences inside blackout periods. Default skip.
	Policy Policy
	// Location is the reference zone occurrences are stepped in: wall
	// clock and calendar days are kept in this zone. Default UTC.
	Location *time.Location
}

// Engine computes schedules and due state. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.OccurrenceCap <= 0 {
		cfg.OccurrenceCap = defaultOccurrenceCap
	}
	if cfg.HorizonMonths <= 0 {
		cfg.HorizonMonths = defaultHorizonMonths
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicySkip
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{cfg: cfg}
}

// Policy returns the configured suppression policy.
func (e *Engine) Policy() Policy {
	return e.cfg.Policy
}

// Location returns the reference zone.
func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// anchor is the task's start in the reference zone.
func (e *Engine) anchor(task *model.Task) time.Time {
	return task.StartAt.In(e.cfg.Location)
}

// Series parses the task's rule and builds its series bounded by
// task.Until. A rejected rule degrades to a single occurrence and is
// returned as the error; the series is usable either way.
func (e *Engine) Series(task *model.Task) (Series, *Rule, error) {
	bound := mo.None[time.Time]()
	if task.Until != nil {
		bound = mo.Some(*task.Until)
	}
	start := e.anchor(task)
	if task.RRule == "" {
		return NewSeries(start, nil, bound), nil, nil
	}
	rule, err := ParseRule(task.RRule)
	if err != nil {
		appLog.Debug("recurrence: rule rejected, treating as one-off", "task_id", task.ID, "rrule", task.RRule, "err", err)
		return NewSeries(start, nil, bound), nil, err
	}
	return NewSeries(start, &rule, bound), &rule, nil
}

// Expansion is the display sequence of one task.
type Expansion struct {
	Occurrences []Occurrence
	// Truncated is set when the cap cut off occurrences that exist
	// inside the bound or horizon.
	Truncated bool
	// Partial is set when the rule carried constraints that were ignored.
	Partial bool
	// RuleErr is the parse failure that forced the one-off fallback.
	RuleErr error
}

// Occurrences expands a task for display. Tasks without an end are
// bounded by the horizon from now; the occurrence cap always applies.
func (e *Engine) Occurrences(task *model.Task, now time.Time) Expansion {
	series, rule, err := e.Series(task)
	res := Expansion{RuleErr: err}
	if rule != nil {
		res.Partial = rule.Partial()
	}

	if series.Recurring() && series.Bound().IsAbsent() {
		series = NewSeries(e.anchor(task), rule, mo.Some(now.AddDate(0, e.cfg.HorizonMonths, 0)))
	}

	for occ := range series.All() {
		if len(res.Occurrences) == e.cfg.OccurrenceCap {
			res.Truncated = true
			break
		}
		res.Occurrences = append(res.Occurrences, occ)
	}
	if res.Truncated {
		appLog.Debug("recurrence: expansion truncated", "task_id", task.ID, "cap", e.cfg.OccurrenceCap)
	}
	return res
}

// Evaluate decides whether the task has an occurrence to act on at now.
// At most one occurrence is reported per call: the earliest one after
// last_fired_at.
func (e *Engine) Evaluate(task *model.Task, blackouts *BlackoutIndex, now time.Time) DueResult {
	watermark := mo.None[time.Time]()
	if task.LastFiredAt != nil {
		watermark = mo.Some(*task.LastFiredAt)
	}
	if !task.IsActive {
		return DueResult{Action: Inactive, NextWatermark: watermark}
	}

	series, _, err := e.Series(task)
	state := Classify(series, watermark, now)

	suppressed := state.Kind == Due && blackouts.Suppressed(state.Pending.At)
	d := Transition(state, suppressed, e.cfg.Policy)

	return DueResult{
		Due:           d.Action == Fire,
		Action:        d.Action,
		Occurrence:    d.Occurrence,
		NextWatermark: d.NextWatermark,
		RuleErr:       err,
	}
}

// Window expands the occurrences of a task that fall in [from, to],
// seeking past earlier history. The occurrence cap applies to the window.
func (e *Engine) Window(task *model.Task, from, to time.Time) Expansion {
	series, rule, err := e.Series(task)
	res := Expansion{RuleErr: err}
	if rule != nil {
		res.Partial = rule.Partial()
	}
	if to.Before(from) {
		return res
	}

	first, ok := series.After(from.Add(-time.Nanosecond))
	if !ok {
		return res
	}
	for occ := range series.from(first.Index) {
		if occ.At.After(to) {
			break
		}
		if len(res.Occurrences) == e.cfg.OccurrenceCap {
			res.Truncated = true
			break
		}
		res.Occurrences = append(res.Occurrences, occ)
	}
	return res
}
