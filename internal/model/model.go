package model

import "time"

// Task is a household chore that prints a ticket when one of its
// occurrences becomes due.
type Task struct {
	ID  int64  `json:"id"`
	UID string `json:"uid"` // stable identity across export/import and ICS feeds

	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`

	// StartAt anchors the first occurrence.
	StartAt time.Time `json:"start_at"`
	// Until is an inclusive upper bound on occurrences; nil means unbounded.
	Until *time.Time `json:"until"`
	// RRule is a recurrence rule such as "FREQ=DAILY;INTERVAL=1".
	// Empty means a single occurrence at StartAt.
	RRule string `json:"rrule"`

	AutoPrint bool `json:"auto_print"`
	IsActive  bool `json:"is_active"`

	// LastFiredAt is the instant of the most recent occurrence already
	// acted upon (printed or skipped). Nil means never fired.
	LastFiredAt *time.Time `json:"last_fired_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRecurring reports whether the task carries a recurrence rule.
func (t *Task) IsRecurring() bool {
	return t.RRule != ""
}

// BlackoutPeriod is a date range during which no task fires.
type BlackoutPeriod struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Categories mirrors the room list offered by the task form. Any other
// non-empty value is accepted as a custom category.
var Categories = []string{
	"kitchen",
	"bathroom",
	"bedroom",
	"living_room",
	"office",
	"shed",
	"garden",
	"other",
}
