package engine

import (
	"sync"
	"time"
)

// maxRecentTurns bounds the per-session turn ring used for summaries.
const maxRecentTurns = 12

// sessionState tracks one tenant's conversation within the process.
type sessionState struct {
	turns     int
	recent    []string
	lastTouch time.Time
}

// sessionTable is a bounded map of per-tenant session states. When full,
// the least recently touched session is evicted.
type sessionTable struct {
	mu  sync.Mutex
	max int
	m   map[string]*sessionState
}

func newSessionTable(max int) *sessionTable {
	if max < 1 {
		max = 1
	}
	return &sessionTable{max: max, m: make(map[string]*sessionState)}
}

// recordTurn counts a user turn against the session and reports whether a
// summary is due at this turn. When it is, the recent turn texts are
// returned for digestion.
func (t *sessionTable) recordTurn(userID string, now time.Time, text string, cadence int) (turn int, summarize bool, digest []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.sessionLocked(userID, now)
	st.turns++
	if text != "" {
		st.recent = append(st.recent, text)
		if len(st.recent) > maxRecentTurns {
			st.recent = st.recent[len(st.recent)-maxRecentTurns:]
		}
	}

	if cadence > 0 && st.turns%cadence == 0 {
		summarize = true
		digest = append([]string(nil), st.recent...)
		st.recent = st.recent[:0]
	}
	return st.turns, summarize, digest
}

func (t *sessionTable) sessionLocked(userID string, now time.Time) *sessionState {
	st, ok := t.m[userID]
	if !ok {
		if len(t.m) >= t.max {
			t.evictOldestLocked()
		}
		st = &sessionState{}
		t.m[userID] = st
	}
	st.lastTouch = now
	return st
}

func (t *sessionTable) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, st := range t.m {
		if oldestID == "" || st.lastTouch.Before(oldest) {
			oldestID = id
			oldest = st.lastTouch
		}
	}
	if oldestID != "" {
		delete(t.m, oldestID)
	}
}
