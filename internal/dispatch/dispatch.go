// Package dispatch runs the periodic due check: every task is evaluated,
// its watermark is advanced in the store and due tickets are printed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/mo"

	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
	"taskprinter/internal/printer"
	"taskprinter/internal/recurrence"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	ListTasks(ctx context.Context, activeOnly bool) ([]*model.Task, error)
	ListBlackouts(ctx context.Context, activeOnly bool) ([]model.BlackoutPeriod, error)
	AdvanceWatermark(ctx context.Context, id int64, prev *time.Time, next time.Time) (bool, error)
}

// Options configure a Dispatcher.
type Options struct {
	// CheckCron is the standard five-field cron expression of the due check.
	CheckCron string
	// Location renders ticket times and drives the cron schedule.
	Location *time.Location
	// DryRun evaluates and logs without touching the store or printer.
	DryRun bool
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Dispatcher owns the due check. RunOnce is serialized; concurrent callers
// wait for the running pass.
type Dispatcher struct {
	store   Store
	printer printer.Printer
	engine  *recurrence.Engine
	opts    Options

	mu     sync.Mutex
	notify chan struct{}
}

func New(st Store, p printer.Printer, engine *recurrence.Engine, opts Options) *Dispatcher {
	if opts.CheckCron == "" {
		opts.CheckCron = "* * * * *"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		store:   st,
		printer: p,
		engine:  engine,
		opts:    opts,
		notify:  make(chan struct{}, 1),
	}
}

// Summary counts what one pass did.
type Summary struct {
	Checked  int
	Fired    int
	Printed  int
	Skipped  int
	Held     int
	Lost     int // another pass advanced the watermark first
	Failures int
}

func (s Summary) String() string {
	return fmt.Sprintf("checked=%d fired=%d printed=%d skipped=%d held=%d lost=%d failures=%d",
		s.Checked, s.Fired, s.Printed, s.Skipped, s.Held, s.Lost, s.Failures)
}

// RunOnce evaluates every active task once. Each task yields at most one
// occurrence per pass; a backlog drains over successive passes.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sum Summary
	tasks, err := d.store.ListTasks(ctx, true)
	if err != nil {
		return sum, fmt.Errorf("loading tasks: %w", err)
	}
	periods, err := d.store.ListBlackouts(ctx, true)
	if err != nil {
		return sum, fmt.Errorf("loading blackout periods: %w", err)
	}
	blackouts := recurrence.NewBlackoutIndex(periods)
	now := d.opts.Now()

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++
		d.handle(ctx, task, blackouts, now, &sum)
	}

	if sum.Fired+sum.Skipped+sum.Failures > 0 {
		appLog.Info("dispatch: pass complete", "summary", sum.String())
	}
	return sum, nil
}

func (d *Dispatcher) handle(ctx context.Context, task *model.Task, blackouts *recurrence.BlackoutIndex, now time.Time, sum *Summary) {
	res := d.engine.Evaluate(task, blackouts, now)
	if res.RuleErr != nil {
		appLog.Warn("dispatch: invalid rule, using start time only", "task_id", task.ID, "rrule", task.RRule, "err", res.RuleErr)
	}

	occ, ok := res.Occurrence.Get()
	switch res.Action {
	case recurrence.Hold:
		sum.Held++
		appLog.Debug("dispatch: held by blackout", "task_id", task.ID, "at", occ.At)
		return
	case recurrence.Fire, recurrence.Skip:
	default:
		return
	}
	if !ok {
		return
	}

	if d.opts.DryRun {
		appLog.Info("dispatch: dry run", "task_id", task.ID, "title", task.Title, "action", res.Action.String(), "at", occ.At)
		countAction(res.Action, sum)
		return
	}

	// The watermark is persisted first so a crash between the two steps
	// loses a ticket rather than printing it twice.
	won, err := d.advance(ctx, task, res)
	if err != nil {
		sum.Failures++
		appLog.Error("dispatch: persisting watermark", err, "task_id", task.ID)
		return
	}
	if !won {
		sum.Lost++
		appLog.Debug("dispatch: watermark moved concurrently", "task_id", task.ID)
		return
	}
	countAction(res.Action, sum)

	if res.Action == recurrence.Skip {
		appLog.Info("dispatch: occurrence skipped by blackout", "task_id", task.ID, "title", task.Title, "at", occ.At)
		return
	}
	if !task.AutoPrint {
		appLog.Info("dispatch: occurrence due, auto print off", "task_id", task.ID, "title", task.Title, "at", occ.At)
		return
	}

	if err := d.printer.Print(ctx, TicketFor(task, occ.At, d.opts.Location)); err != nil {
		if errors.Is(err, printer.ErrDisabled) {
			appLog.Info("dispatch: printer disabled, ticket not printed", "task_id", task.ID, "key", occ.Key(task.ID))
			return
		}
		sum.Failures++
		appLog.Error("dispatch: printing ticket", err, "task_id", task.ID, "key", occ.Key(task.ID))
		return
	}
	sum.Printed++
	appLog.Info("dispatch: ticket printed", "task_id", task.ID, "title", task.Title, "key", occ.Key(task.ID))
}

func countAction(a recurrence.Action, sum *Summary) {
	switch a {
	case recurrence.Fire:
		sum.Fired++
	case recurrence.Skip:
		sum.Skipped++
	}
}

func (d *Dispatcher) advance(ctx context.Context, task *model.Task, res recurrence.DueResult) (bool, error) {
	current := mo.PointerToOption(task.LastFiredAt)
	if !res.WatermarkChanged(current) {
		return true, nil
	}
	next, _ := res.NextWatermark.Get()
	return d.store.AdvanceWatermark(ctx, task.ID, task.LastFiredAt, next)
}

// TicketFor builds the printable slip of one occurrence.
func TicketFor(task *model.Task, at time.Time, loc *time.Location) printer.Ticket {
	if loc == nil {
		loc = time.UTC
	}
	return printer.Ticket{
		Title:       task.Title,
		Description: task.Description,
		Category:    task.Category,
		When:        at.In(loc),
	}
}

// Notify asks the running loop for an immediate pass. It never blocks;
// several notifications before the pass starts collapse into one.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Start runs an initial pass, then passes on the cron schedule and on
// every Notify, until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(d.opts.Location))
	if _, err := c.AddFunc(d.opts.CheckCron, d.Notify); err != nil {
		return fmt.Errorf("invalid check_cron %q: %w", d.opts.CheckCron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	appLog.Info("dispatch: scheduler started", "check_cron", d.opts.CheckCron, "tz", d.opts.Location.String(), "dry_run", d.opts.DryRun)

	d.Notify()
	for {
		select {
		case <-ctx.Done():
			appLog.Info("dispatch: scheduler stopped")
			return nil
		case <-d.notify:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				appLog.Error("dispatch: pass failed", err)
			}
		}
	}
}
