// Package ics converts between tasks and iCalendar data: tasks are
// exported as a subscribable feed and VEVENTs can be imported as tasks.
package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
	"taskprinter/internal/recurrence"
)

// ImportResult holds the tasks built from a calendar and the events that
// could not be converted.
type ImportResult struct {
	Tasks   []*model.Task
	Skipped []error
}

// ParseTasks converts every VEVENT of body into a task. Date-only starts
// are placed at midnight in loc. Events without DTSTART or SUMMARY are
// skipped. RRULE values are kept as written; parts the engine does not
// apply are logged.
func ParseTasks(body []byte, loc *time.Location) (ImportResult, error) {
	var res ImportResult
	if len(bytes.TrimSpace(body)) == 0 {
		return res, errors.New("empty ICS body")
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return res, errors.New("not an iCalendar document")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return res, err
	}

	for _, ve := range cal.Events() {
		t, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "err", err)
			res.Skipped = append(res.Skipped, err)
			continue
		}
		res.Tasks = append(res.Tasks, t)
	}

	appLog.Info("ics parse completed", "tasks", len(res.Tasks), "skipped", len(res.Skipped))
	return res, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (*model.Task, error) {
	t := &model.Task{AutoPrint: true, IsActive: true}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		t.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		t.Title = strings.TrimSpace(p.Value)
	}
	if t.Title == "" {
		return nil, errors.New("missing SUMMARY (uid " + t.UID + ")")
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		t.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		// Only the first category maps onto a task.
		first, _, _ := strings.Cut(p.Value, ",")
		t.Category = strings.ToLower(strings.TrimSpace(first))
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		t.IsActive = false
	}
	if p := ve.GetProperty(propAutoPrint); p != nil && strings.EqualFold(p.Value, "FALSE") {
		t.AutoPrint = false
	}

	start, err := startOf(ve, loc)
	if err != nil {
		return nil, err
	}
	t.StartAt = start.UTC()

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		t.RRule = strings.TrimSpace(p.Value)
		rule, err := recurrence.ParseRule(t.RRule)
		switch {
		case err != nil:
			appLog.Warn("ics: rule rejected, task will fire once", "title", t.Title, "rrule", t.RRule, "err", err)
		case rule.Partial():
			appLog.Warn("ics: rule partially applied", "title", t.Title, "ignored", strings.Join(append(rule.Ignored, rule.Unknown...), ","))
		}
	}

	return t, nil
}

// startOf reads DTSTART. Date-only values and floating times are read in
// loc; times with TZID or a Z suffix keep their zone.
func startOf(ve *ical.VEvent, loc *time.Location) (time.Time, error) {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil || p.Value == "" {
		return time.Time{}, errors.New("missing DTSTART")
	}

	if _, hasTZ := p.ICalParameters["TZID"]; hasTZ {
		if start, err := ve.GetStartAt(); err == nil {
			return start, nil
		}
	}
	return parseICSTime(p.Value, loc)
}

// parseICSTime parses a basic DATE or DATE-TIME value.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Floating date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
