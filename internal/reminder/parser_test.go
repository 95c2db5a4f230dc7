package reminder

import (
	"testing"
	"time"
)

var parseNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func TestParseWhenRelative(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"in 1 seconds", time.Second},
		{"in 90 secs", 90 * time.Second},
		{"in 5 minutes", 5 * time.Minute},
		{"in 2 hrs", 2 * time.Hour},
		{"in 3 days", 3 * 24 * time.Hour},
		{"in a minute", time.Minute},
		{"in an hour", time.Hour},
		{"in a day", 24 * time.Hour},
		{"in half an hour", 30 * time.Minute},
	}
	for _, tt := range tests {
		p, ok := ParseWhen(parseNow, tt.in)
		if !ok {
			t.Errorf("ParseWhen(%q) failed", tt.in)
			continue
		}
		if got := p.Due.Sub(parseNow); got != tt.want {
			t.Errorf("ParseWhen(%q) due in %v, want %v", tt.in, got, tt.want)
		}
		if p.Recurrence != RecurNone {
			t.Errorf("ParseWhen(%q) recurrence = %q, want none", tt.in, p.Recurrence)
		}
	}
}

func TestParseWhenClockTimes(t *testing.T) {
	// Now is 14:00 UTC.
	p, ok := ParseWhen(parseNow, "at 8:30 pm")
	if !ok {
		t.Fatal("at 8:30 pm should parse")
	}
	if p.Due.Hour() != 20 || p.Due.Minute() != 30 || p.Due.Day() != parseNow.Day() {
		t.Errorf("at 8:30 pm → %v", p.Due)
	}

	// 8:30 am is already past at 14:00, so it rolls to the next day.
	p, ok = ParseWhen(parseNow, "at 8:30 am")
	if !ok {
		t.Fatal("at 8:30 am should parse")
	}
	if p.Due.Day() != parseNow.Day()+1 || p.Due.Hour() != 8 {
		t.Errorf("past clock time should roll to tomorrow, got %v", p.Due)
	}

	// 24h form.
	p, ok = ParseWhen(parseNow, "at 20:30")
	if !ok || p.Due.Hour() != 20 {
		t.Errorf("at 20:30 → ok=%v due=%v", ok, p.Due)
	}

	p, ok = ParseWhen(parseNow, "tmr at 9 am")
	if !ok {
		t.Fatal("tmr at 9 am should parse")
	}
	if p.Due.Day() != parseNow.Day()+1 || p.Due.Hour() != 9 {
		t.Errorf("tmr at 9 am → %v", p.Due)
	}

	p, ok = ParseWhen(parseNow, "tomorrow at 12 am")
	if !ok || p.Due.Hour() != 0 {
		t.Errorf("tomorrow at 12 am → ok=%v due=%v (midnight expected)", ok, p.Due)
	}
}

func TestParseWhenRejectsInvalid(t *testing.T) {
	invalid := []string{
		"",
		"at 99:99",
		"at 13pm",
		"at 0pm",
		"tomorrow at 0pm",
		"at 24:00",
		"at 10:99",
		"whenever",
		"in five minutes",
		"every 0 minutes",
	}
	for _, in := range invalid {
		if _, ok := ParseWhen(parseNow, in); ok {
			t.Errorf("ParseWhen(%q) should be rejected", in)
		}
	}
}

func TestParseWhenRecurring(t *testing.T) {
	p, ok := ParseWhen(parseNow, "every day at 8 am")
	if !ok {
		t.Fatal("every day at 8 am should parse")
	}
	if p.Recurrence != RecurDaily {
		t.Errorf("recurrence = %q, want daily", p.Recurrence)
	}
	if p.Due.Hour() != 8 {
		t.Errorf("due hour = %d, want 8", p.Due.Hour())
	}

	p, ok = ParseWhen(parseNow, "every week at 9:00")
	if !ok || p.Recurrence != RecurWeekly {
		t.Errorf("every week at 9:00 → ok=%v recurrence=%q", ok, p.Recurrence)
	}

	p, ok = ParseWhen(parseNow, "every 30 minutes")
	if !ok {
		t.Fatal("every 30 minutes should parse")
	}
	if got := p.Due.Sub(parseNow); got != 30*time.Minute {
		t.Errorf("first occurrence in %v, want 30m", got)
	}
	if p.Recurrence != "every:30m0s" {
		t.Errorf("recurrence = %q", p.Recurrence)
	}
}
