package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the closed set of stepping units the engine understands.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	default:
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
}

var (
	ErrMissingFrequency = errors.New("rrule: FREQ is required")
	ErrUnknownFrequency = errors.New("rrule: unsupported FREQ")
	ErrInvalidInterval  = errors.New("rrule: INTERVAL must be a positive integer")
	ErrInvalidCount     = errors.New("rrule: COUNT must be a positive integer")
	ErrInvalidUntil     = errors.New("rrule: malformed UNTIL")
)

// ParseError describes why a rule string was rejected. It unwraps to one of
// the Err* sentinels.
type ParseError struct {
	Rule  string
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v (rule %q)", e.Err, e.Rule)
	}
	return fmt.Sprintf("%v: %s=%q (rule %q)", e.Err, e.Key, e.Value, e.Rule)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Rule is the restricted recurrence rule: a frequency with a step, and
// optional COUNT and UNTIL limits.
type Rule struct {
	Freq     Frequency
	Interval int
	// Count limits the number of occurrences; zero means no limit.
	Count int
	// Until bounds the series inclusively; nil means unbounded.
	Until *time.Time
	// Ignored lists RFC 5545 parts (BYDAY, ...) accepted but not applied.
	Ignored []string
	// Unknown lists tokens whose key is not an RFC 5545 rule part.
	Unknown []string
}

// Partial reports whether the source string carried constraints (BYDAY,
// BYMONTHDAY, ...) that this engine did not apply.
func (r Rule) Partial() bool {
	return len(r.Ignored) > 0 || len(r.Unknown) > 0
}

// unsupportedKeys are RFC 5545 rule parts that are recognized but ignored.
var unsupportedKeys = map[string]bool{
	"BYDAY":      true,
	"BYMONTHDAY": true,
	"BYMONTH":    true,
	"BYSETPOS":   true,
	"BYHOUR":     true,
	"BYMINUTE":   true,
	"BYSECOND":   true,
	"BYYEARDAY":  true,
	"BYWEEKNO":   true,
	"WKST":       true,
}

var frequencies = map[string]Frequency{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

// ParseRule parses a ";"-separated KEY=VALUE recurrence string such as
// "FREQ=WEEKLY;INTERVAL=2". Keys and the FREQ value are case-sensitive.
// Malformed tokens (no "=", empty key or value) are skipped one by one;
// a missing or unknown FREQ, or a bad INTERVAL, COUNT or UNTIL, rejects the
// whole rule. UNTIL values without a zone designator are read as UTC.
func ParseRule(s string) (Rule, error) {
	src := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "RRULE:")

	tokens := make(map[string]string)
	var order []string
	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" || value == "" {
			continue
		}
		if _, seen := tokens[key]; !seen {
			order = append(order, key)
		}
		tokens[key] = value
	}

	rule := Rule{Interval: 1}

	freq, ok := tokens["FREQ"]
	if !ok {
		return Rule{}, &ParseError{Rule: src, Err: ErrMissingFrequency}
	}
	if rule.Freq, ok = frequencies[freq]; !ok {
		return Rule{}, &ParseError{Rule: src, Key: "FREQ", Value: freq, Err: ErrUnknownFrequency}
	}

	if v, ok := tokens["INTERVAL"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Rule{}, &ParseError{Rule: src, Key: "INTERVAL", Value: v, Err: ErrInvalidInterval}
		}
		rule.Interval = n
	}

	if v, ok := tokens["COUNT"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Rule{}, &ParseError{Rule: src, Key: "COUNT", Value: v, Err: ErrInvalidCount}
		}
		rule.Count = n
	}

	if v, ok := tokens["UNTIL"]; ok {
		t, err := parseUntil(v)
		if err != nil {
			return Rule{}, &ParseError{Rule: src, Key: "UNTIL", Value: v, Err: ErrInvalidUntil}
		}
		rule.Until = &t
	}

	for _, key := range order {
		switch key {
		case "FREQ", "INTERVAL", "COUNT", "UNTIL":
			continue
		}
		token := key + "=" + tokens[key]
		if unsupportedKeys[key] {
			rule.Ignored = append(rule.Ignored, token)
		} else {
			rule.Unknown = append(rule.Unknown, token)
		}
	}

	return rule, nil
}

func parseUntil(v string) (time.Time, error) {
	layouts := []string{"20060102T150405Z", "20060102T150405", "20060102"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidUntil
}

// String renders the applied part of the rule back into RRULE syntax.
func (r Rule) String() string {
	parts := []string{"FREQ=" + r.Freq.String()}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}
