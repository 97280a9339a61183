package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"taskprinter/internal/model"
	"taskprinter/internal/recurrence"
)

// instantFlag is a pflag.Value holding an optional instant. It accepts
// RFC 3339 or a zone-less date/time, read as UTC until resolve places it
// in the reference zone.
type instantFlag struct {
	t   time.Time
	raw string
	set bool
}

var _ pflag.Value = (*instantFlag)(nil)

var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (f *instantFlag) String() string {
	if !f.set {
		return ""
	}
	return f.t.Format(time.RFC3339)
}

func (f *instantFlag) Set(s string) error {
	t, err := parseInstant(s, time.UTC)
	if err != nil {
		return err
	}
	f.t, f.raw, f.set = t, s, true
	return nil
}

// resolve re-reads a zone-less value in loc.
func (f *instantFlag) resolve(loc *time.Location) {
	if !f.set {
		return
	}
	if t, err := parseInstant(f.raw, loc); err == nil {
		f.t = t
	}
}

func parseInstant(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid instant %q (want RFC 3339 or YYYY-MM-DD[THH:MM[:SS]])", s)
}

func (f *instantFlag) Type() string { return "instant" }

func (f *instantFlag) ptr() *time.Time {
	if !f.set {
		return nil
	}
	t := f.t
	return &t
}

type previewOptions struct {
	start     instantFlag
	until     instantFlag
	now       instantFlag
	lastFired instantFlag
	rrule     string
	cap       int
	horizon   int
	policy    string
	timezone  string
	blackouts []string
}

func newPreviewCmd() *cobra.Command {
	opts := &previewOptions{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the occurrences and due state of an ad-hoc schedule",
		Example: `  taskprinter preview --start 2025-01-31T09:00:00Z --rrule 'FREQ=MONTHLY;COUNT=4'
  taskprinter preview --start 2025-08-17T08:00:00Z --rrule FREQ=DAILY \
      --now 2025-08-18T09:00:00Z --blackout 2025-08-17/2025-08-17T23:59:59`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.start.set {
				return fmt.Errorf("--start is required")
			}
			return runPreview(cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.Var(&opts.start, "start", "anchor instant of the first occurrence")
	f.Var(&opts.until, "until", "inclusive end bound")
	f.Var(&opts.now, "now", "reference instant (default: current time)")
	f.Var(&opts.lastFired, "last-fired", "watermark: last occurrence already acted on")
	f.StringVar(&opts.rrule, "rrule", "", "recurrence rule, e.g. FREQ=WEEKLY;INTERVAL=2")
	f.IntVar(&opts.cap, "cap", 100, "maximum occurrences to list")
	f.IntVar(&opts.horizon, "horizon-months", 12, "display horizon for schedules without an end")
	f.StringVar(&opts.policy, "policy", "skip", "blackout policy: skip or hold")
	f.StringVar(&opts.timezone, "tz", "UTC", "reference zone for stepping and zone-less instants")
	f.StringArrayVar(&opts.blackouts, "blackout", nil, "blackout period START/END (repeatable)")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func runPreview(w io.Writer, opts *previewOptions) error {
	policy, err := recurrence.ParsePolicy(opts.policy)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}
	for _, f := range []*instantFlag{&opts.start, &opts.until, &opts.now, &opts.lastFired} {
		f.resolve(loc)
	}
	periods, err := parseBlackouts(opts.blackouts, loc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if opts.now.set {
		now = opts.now.t
	}

	task := &model.Task{
		ID:          1,
		StartAt:     opts.start.t,
		Until:       opts.until.ptr(),
		RRule:       opts.rrule,
		IsActive:    true,
		LastFiredAt: opts.lastFired.ptr(),
	}
	engine := recurrence.NewEngine(recurrence.Config{
		OccurrenceCap: opts.cap,
		HorizonMonths: opts.horizon,
		Policy:        policy,
		Location:      loc,
	})
	blackouts := recurrence.NewBlackoutIndex(periods)
	exp := engine.Occurrences(task, now)

	rows := make([][]string, 0, len(exp.Occurrences))
	for _, occ := range exp.Occurrences {
		var notes []string
		if blackouts.Suppressed(occ.At) {
			notes = append(notes, "blackout")
		}
		if task.LastFiredAt != nil && !occ.At.After(*task.LastFiredAt) {
			notes = append(notes, "fired")
		} else if !occ.At.After(now) {
			notes = append(notes, "elapsed")
		}
		rows = append(rows, []string{
			strconv.Itoa(occ.Index),
			occ.At.Format(time.RFC3339),
			occ.At.Weekday().String()[:3],
			strings.Join(notes, ","),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "AT", "DAY", "NOTE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 3:
				return mutedStyle
			default:
				return cellStyle
			}
		})
	fmt.Fprintln(w, t.Render())

	if exp.RuleErr != nil {
		fmt.Fprintln(w, warnStyle.Render("warning: rule rejected, showing start only: "+exp.RuleErr.Error()))
	}
	if exp.Partial {
		fmt.Fprintln(w, warnStyle.Render("warning: rule partially applied; only FREQ, INTERVAL, COUNT and UNTIL are honoured"))
	}
	if exp.Truncated {
		fmt.Fprintf(w, "%s\n", warnStyle.Render(fmt.Sprintf("warning: truncated at %d occurrences", opts.cap)))
	}

	res := engine.Evaluate(task, blackouts, now)
	line := "due: " + res.Action.String()
	if occ, ok := res.Occurrence.Get(); ok {
		line += " " + occ.Key(task.ID) + " at " + occ.At.Format(time.RFC3339)
	}
	if next, ok := res.NextWatermark.Get(); ok {
		line += " (watermark " + next.Format(time.RFC3339) + ")"
	}
	fmt.Fprintln(w, line)
	return nil
}

// parseBlackouts reads START/END pairs in loc. A date-only END covers that
// day.
func parseBlackouts(args []string, loc *time.Location) ([]model.BlackoutPeriod, error) {
	out := make([]model.BlackoutPeriod, 0, len(args))
	for _, arg := range args {
		startS, endS, ok := strings.Cut(arg, "/")
		if !ok {
			return nil, fmt.Errorf("invalid blackout %q, want START/END", arg)
		}
		start, err := parseInstant(startS, loc)
		if err != nil {
			return nil, err
		}
		end, err := parseInstant(endS, loc)
		if err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(endS)) == len("2006-01-02") {
			end = end.In(loc).AddDate(0, 0, 1).Add(-time.Second).UTC()
		}
		out = append(out, model.BlackoutPeriod{StartDate: start, EndDate: end, IsActive: true})
	}
	return out, nil
}
