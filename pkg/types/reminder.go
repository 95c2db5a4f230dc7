package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ReminderStatus is the lifecycle state of a reminder.
type ReminderStatus string

const (
	ReminderActive    ReminderStatus = "active"
	ReminderDone      ReminderStatus = "done"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Valid reports whether s is a known reminder status.
func (s ReminderStatus) Valid() bool {
	switch s {
	case ReminderActive, ReminderDone, ReminderCancelled:
		return true
	}
	return false
}

// Reminder is a scheduled note that surfaces in compiled context once due.
// Recurring reminders stay active after firing; NextRetryTS carries the
// next occurrence.
type Reminder struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Title       string         `json:"title"`
	DueTS       time.Time      `json:"due_ts"`
	Status      ReminderStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	Scope       string         `json:"scope"`                // e.g. "task", "conversation"
	Details     string         `json:"details,omitempty"`    // free text shown alongside the title
	Priority    int            `json:"priority"`             // 1 (highest) to 5
	Recurrence  string         `json:"recurrence,omitempty"` // e.g. "daily", "weekly", "every:30m"
	SnoozeUntil *time.Time     `json:"snooze_until,omitempty"`
	NextRetryTS *time.Time     `json:"next_retry_ts,omitempty"`
	LastFiredTS *time.Time     `json:"last_fired_ts,omitempty"`
	FailCount   int            `json:"fail_count"`
}

// ReminderID derives the stable identifier for a reminder. The same
// user, title and due time always map to the same id, which makes
// scheduling idempotent.
func ReminderID(userID, title string, due time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, title, due.Unix())))
	return hex.EncodeToString(sum[:])[:16]
}

// Due reports whether the reminder should fire at now, honoring snooze.
func (r *Reminder) Due(now time.Time) bool {
	if r.Status != ReminderActive {
		return false
	}
	if r.SnoozeUntil != nil && now.Before(*r.SnoozeUntil) {
		return false
	}
	if r.NextRetryTS != nil {
		return !now.Before(*r.NextRetryTS)
	}
	return !now.Before(r.DueTS)
}
