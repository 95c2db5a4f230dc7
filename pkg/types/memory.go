// Package types defines the shared data model for the engram memory engine:
// memory items, reminders, extraction candidates, and their closed enums.
package types

import "time"

// Lane partitions memory items for retrieval and context compilation.
// Pinned items always surface; volatile items expire; summaries are
// periodic digests of recent conversation.
type Lane string

const (
	LanePinned   Lane = "pinned"
	LaneFacts    Lane = "facts"
	LaneSkills   Lane = "skills"
	LaneVolatile Lane = "volatile"
	LaneSummary  Lane = "summary"
)

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	switch l {
	case LanePinned, LaneFacts, LaneSkills, LaneVolatile, LaneSummary:
		return true
	}
	return false
}

// Kind classifies what a memory item asserts about the user or the work.
type Kind string

const (
	KindIdentity   Kind = "identity"
	KindPreference Kind = "preference"
	KindConstraint Kind = "constraint"
	KindEvent      Kind = "event"
	KindSkill      Kind = "skill"
	KindSummary    Kind = "summary"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIdentity, KindPreference, KindConstraint, KindEvent, KindSkill, KindSummary:
		return true
	}
	return false
}

// Bucket groups items into broad life areas for browsing and pruning.
type Bucket string

const (
	BucketIdentity      Bucket = "identity"
	BucketProjects      Bucket = "ongoing_projects"
	BucketRelationships Bucket = "relationships"
	BucketGeneral       Bucket = "general"
)

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	switch b {
	case BucketIdentity, BucketProjects, BucketRelationships, BucketGeneral:
		return true
	}
	return false
}

// Status is the lifecycle state of a memory item. Superseded and expired
// rows are retained for audit but never compiled into context.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusExpired    Status = "expired"
	StatusRetracted  Status = "retracted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuperseded, StatusExpired, StatusRetracted:
		return true
	}
	return false
}

// Item is a single durable memory row. Facts carry Entity/Key/Value;
// skills carry Content (newline-joined steps) keyed by their title;
// summaries carry Content only.
type Item struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Lane       Lane       `json:"lane"`
	Kind       Kind       `json:"kind"`
	Entity     string     `json:"entity"`
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Content    string     `json:"content,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Bucket     Bucket     `json:"bucket"`
	Importance float64    `json:"importance"` // 0.0-1.0, compiler ordering weight
	Confidence float64    `json:"confidence"` // 0.0-1.0, extraction certainty
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // volatile lane only
	ReplacedBy string     `json:"replaced_by,omitempty"`
	Supersedes string     `json:"supersedes,omitempty"`
	LastUsed   *time.Time `json:"last_used,omitempty"` // skills: last surfaced in a block
}

// Expired reports whether the item has an expiry in the past relative to now.
func (m *Item) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// FactCandidate is a proposed fact produced by heuristic or LLM extraction,
// before sanitization and upsert.
type FactCandidate struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Kind   Kind   `json:"kind"`
	Bucket Bucket `json:"bucket"`
	// Importance is nil when the producer expressed no weight; an
	// explicit zero survives the upsert as zero.
	Importance *float64      `json:"importance,omitempty"`
	Confidence float64       `json:"confidence"`
	Pinned     bool          `json:"pinned"`
	Volatile   bool          `json:"volatile"`
	TTL        time.Duration `json:"-"` // zero means the configured default
}

// SkillCandidate is a proposed reusable procedure extracted from an
// assistant turn.
type SkillCandidate struct {
	Title      string   `json:"title"`
	Steps      string   `json:"steps"` // newline-joined
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence"`
}

// ConflictNotice records a supersession of a critical identity key so the
// caller can surface the change to the user.
type ConflictNotice struct {
	Key      string `json:"key"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}
