package ics

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
	"taskprinter/internal/recurrence"
)

const (
	productID = "-//TaskPrinter//Household Tasks//EN"
	// propAutoPrint round-trips the auto_print flag through our own feed.
	propAutoPrint = "X-TASKPRINTER-AUTO-PRINT"

	eventDuration   = 15 * time.Minute
	localTimeFormat = "20060102T150405"
)

// ExportCalendar renders tasks as a VCALENDAR. Each task becomes one
// VEVENT whose RRULE describes exactly the occurrences the engine
// produces: ignored parts of the stored rule are dropped and the task's
// until bound is folded into UNTIL. A task with a rejected rule is
// exported as a single event. Inactive tasks are marked CANCELLED.
func ExportCalendar(tasks []*model.Task, engine *recurrence.Engine, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("TaskPrinter")

	for _, t := range tasks {
		ev := cal.AddEvent(eventUID(t))
		ev.SetDtStampTime(now.UTC())
		if !t.UpdatedAt.IsZero() {
			ev.SetModifiedAt(t.UpdatedAt.UTC())
		}
		setTimes(ev, t.StartAt.In(engine.Location()))
		ev.SetSummary(t.Title)
		if t.Description != "" {
			ev.SetDescription(t.Description)
		}
		if t.Category != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, t.Category)
		}
		if !t.IsActive {
			ev.SetProperty(ical.ComponentPropertyStatus, "CANCELLED")
		}
		ev.SetProperty(propAutoPrint, strings.ToUpper(strconv.FormatBool(t.AutoPrint)))

		series, rule, err := engine.Series(t)
		if err != nil {
			appLog.Warn("ics: exporting task with rejected rule as single event", "task_id", t.ID, "rrule", t.RRule)
			continue
		}
		if rule != nil {
			ev.SetProperty(ical.ComponentPropertyRrule, RRuleString(series, *rule))
		}
	}

	return cal.Serialize()
}

var frequencies = map[recurrence.Frequency]rrule.Frequency{
	recurrence.Daily:   rrule.DAILY,
	recurrence.Weekly:  rrule.WEEKLY,
	recurrence.Monthly: rrule.MONTHLY,
	recurrence.Yearly:  rrule.YEARLY,
}

// setTimes writes DTSTART and DTEND. Outside UTC they carry a TZID so
// subscribers step the rule in the same zone the engine does.
func setTimes(ev *ical.VEvent, start time.Time) {
	end := start.Add(eventDuration)
	loc := start.Location()
	if loc == time.UTC {
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		return
	}
	ev.SetProperty(ical.ComponentPropertyDtStart, start.Format(localTimeFormat), ical.WithTZID(loc.String()))
	ev.SetProperty(ical.ComponentPropertyDtEnd, end.Format(localTimeFormat), ical.WithTZID(loc.String()))
}

// RRuleString renders the applied part of rule in RFC 5545 form. The
// series bound replaces the rule's own UNTIL. COUNT and UNTIL never appear
// together: whichever ends the series first is kept.
func RRuleString(series recurrence.Series, rule recurrence.Rule) string {
	opt := rrule.ROption{
		Freq:     frequencies[rule.Freq],
		Interval: rule.Interval,
		Count:    rule.Count,
	}
	if until, ok := series.Bound().Get(); ok {
		if _, full := series.At(rule.Count - 1); rule.Count == 0 || !full {
			opt.Count = 0
			opt.Until = until.UTC()
		}
	}
	return opt.RRuleString()
}

func eventUID(t *model.Task) string {
	if t.UID != "" {
		return t.UID
	}
	return "task-" + strconv.FormatInt(t.ID, 10) + "@taskprinter"
}
