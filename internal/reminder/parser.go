// Package reminder schedules natural-language reminders: a small grammar
// parser for "when" expressions and scheduler operations over the store.
package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recurrence values understood by the scheduler.
const (
	RecurNone   = ""
	RecurDaily  = "daily"
	RecurWeekly = "weekly"
)

// Parsed is the outcome of parsing a "when" expression.
type Parsed struct {
	Due        time.Time
	Recurrence string // RecurNone, RecurDaily, RecurWeekly or "every:<duration>"
}

var (
	reRelative = regexp.MustCompile(`^in\s+(\d+)\s+(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d)$`)
	reArticle  = regexp.MustCompile(`^in\s+(a|an)\s+(minute|hour|day)$`)
	reAtTime   = regexp.MustCompile(`^at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	reTomorrow = regexp.MustCompile(`^(?:tomorrow|tmr)\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	reEveryN   = regexp.MustCompile(`^every\s+(\d+)\s+(minutes?|hours?|days?)$`)
)

// ParseWhen parses a natural-language scheduling expression relative to now.
// Returns false for anything it cannot parse or validate; invalid clock
// times are rejected rather than clamped.
//
// Supported forms:
//
//	in 5 minutes / in 1 seconds / in 2 hrs / in 3 days
//	in a minute / in an hour / in a day
//	in half an hour
//	at 8:30 pm / at 20:30 (past times roll to the next day)
//	tomorrow at 9 am / tmr at 9 am
//	every day at 8 am / every week at 9:00 / every 30 minutes
func ParseWhen(now time.Time, when string) (Parsed, bool) {
	raw := strings.ToLower(strings.TrimSpace(when))
	if raw == "" {
		return Parsed{}, false
	}

	if rest, ok := strings.CutPrefix(raw, "every day "); ok {
		if p, ok := parseOnce(now, rest); ok {
			return Parsed{Due: p.Due, Recurrence: RecurDaily}, true
		}
		return Parsed{}, false
	}
	if rest, ok := strings.CutPrefix(raw, "every week "); ok {
		if p, ok := parseOnce(now, rest); ok {
			return Parsed{Due: p.Due, Recurrence: RecurWeekly}, true
		}
		return Parsed{}, false
	}
	if m := reEveryN.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return Parsed{}, false
		}
		d := time.Duration(n) * unitDuration(m[2])
		return Parsed{Due: now.Add(d), Recurrence: "every:" + d.String()}, true
	}

	return parseOnce(now, raw)
}

// parseOnce handles the non-recurring forms.
func parseOnce(now time.Time, raw string) (Parsed, bool) {
	if m := reRelative.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Parsed{Due: now.Add(time.Duration(n) * unitDuration(m[2]))}, true
	}

	if raw == "in half an hour" || raw == "in half hour" {
		return Parsed{Due: now.Add(30 * time.Minute)}, true
	}

	if m := reArticle.FindStringSubmatch(raw); m != nil {
		return Parsed{Due: now.Add(unitDuration(m[2]))}, true
	}

	if m := reAtTime.FindStringSubmatch(raw); m != nil {
		hh, mm, ok := clockTime(m[1], m[2], m[3])
		if !ok {
			return Parsed{}, false
		}
		due := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
		return Parsed{Due: due}, true
	}

	if m := reTomorrow.FindStringSubmatch(raw); m != nil {
		hh, mm, ok := clockTime(m[1], m[2], m[3])
		if !ok {
			return Parsed{}, false
		}
		tomorrow := now.AddDate(0, 0, 1)
		due := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hh, mm, 0, 0, now.Location())
		return Parsed{Due: due}, true
	}

	return Parsed{}, false
}

// clockTime validates an hour/minute pair. With an am/pm suffix the hour
// must be 1-12; without one it must be 0-23. Minutes must be 0-59.
func clockTime(hourStr, minStr, ampm string) (int, int, bool) {
	hh, _ := strconv.Atoi(hourStr)
	mm := 0
	if minStr != "" {
		mm, _ = strconv.Atoi(minStr)
	}
	if mm < 0 || mm > 59 {
		return 0, 0, false
	}

	switch ampm {
	case "am":
		if hh < 1 || hh > 12 {
			return 0, 0, false
		}
		if hh == 12 {
			hh = 0
		}
	case "pm":
		if hh < 1 || hh > 12 {
			return 0, 0, false
		}
		if hh < 12 {
			hh += 12
		}
	default:
		if hh < 0 || hh > 23 {
			return 0, 0, false
		}
	}
	return hh, mm, true
}

// unitDuration maps a grammar unit word to its duration.
func unitDuration(unit string) time.Duration {
	switch {
	case strings.HasPrefix(unit, "s"):
		return time.Second
	case strings.HasPrefix(unit, "m"):
		return time.Minute
	case strings.HasPrefix(unit, "h"):
		return time.Hour
	case strings.HasPrefix(unit, "d"):
		return 24 * time.Hour
	}
	return 0
}
