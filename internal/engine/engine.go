package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/embed"
	"github.com/scrypster/engram/internal/extract"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/reminder"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// criticalKeys are identity keys whose supersession is surfaced to the
// caller as a conflict notice.
var criticalKeys = map[string]bool{
	"name":           true,
	"preferred_name": true,
	"timezone":       true,
}

var reForget = regexp.MustCompile(`(?i)\bforget\s+(?:that|about)\s+(.+?)[.!?]*$`)

// Mirror receives the pinned lane whenever it changes, for sidecar files
// or other external views.
type Mirror interface {
	MirrorPinned(userID string, items []types.Item) error
}

// Engine is the memory engine facade: turn ingestion, fact lifecycle,
// hybrid retrieval and context compilation, all tenant-scoped.
type Engine struct {
	store     storage.Store
	embedder  embed.Embedder
	extractor *llm.Extractor
	sched     *reminder.Scheduler
	cfg       *config.Config
	sessions  *sessionTable
	mirror    Mirror

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine wires the engine over a store. extractor may be nil to disable
// the LLM extraction pass regardless of configuration.
func NewEngine(store storage.Store, embedder embed.Embedder, extractor *llm.Extractor, cfg *config.Config) *Engine {
	if embedder == nil {
		embedder = embed.NullClient{}
	}
	return &Engine{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		sched:     reminder.NewScheduler(store, store),
		cfg:       cfg,
		sessions:  newSessionTable(cfg.Memory.MaxSessions),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Scheduler exposes the reminder scheduler that shares this engine's store.
func (e *Engine) Scheduler() *reminder.Scheduler { return e.sched }

// SetMirror attaches a pinned-lane mirror. Pass nil to detach.
func (e *Engine) SetMirror(m Mirror) { e.mirror = m }

// IngestResult reports what one turn produced.
type IngestResult struct {
	Turn           int                    `json:"turn"`
	Facts          []types.Item           `json:"facts"`
	Skills         []types.Item           `json:"skills"`
	Notices        []types.ConflictNotice `json:"notices,omitempty"`
	Retracted      int                    `json:"retracted"`
	SummaryCreated bool                   `json:"summary_created"`
}

// IngestTurn processes one user/assistant exchange: expiry sweep, forget
// hints, heuristic extraction, the optional LLM pass, sanitization, and
// upserts. Session summaries are written every SummaryCadence turns.
func (e *Engine) IngestTurn(ctx context.Context, userID, userText, assistantText string, toolSummaries ...string) (*IngestResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", storage.ErrInvalidInput)
	}
	now := e.now()
	res := &IngestResult{}

	if _, err := e.store.ExpireVolatiles(ctx, userID, now); err != nil {
		log.Printf("engine: expire volatiles: %v", err)
	}

	extractText := userText
	if m := reForget.FindStringSubmatch(userText); m != nil {
		n, err := e.ForgetPhrase(ctx, userID, m[1])
		if err != nil {
			log.Printf("engine: forget hint: %v", err)
		}
		res.Retracted = n
		// A forget turn is not a source of new facts.
		extractText = ""
	}

	// Tool summaries ride along with the assistant text so procedures the
	// tools carried out are extractable too.
	assistantSignal := assistantText
	for _, ts := range toolSummaries {
		if ts = strings.TrimSpace(ts); ts != "" {
			assistantSignal = strings.TrimSpace(assistantSignal + "\n" + ts)
		}
	}

	facts, skills := extract.Heuristics(extractText, assistantSignal)
	facts, skills = e.llmPass(ctx, extractText, assistantSignal, facts, skills)
	facts, skills = extract.Sanitize(facts, skills, e.cfg.Memory.MaxFactsPerTurn)

	for i := range facts {
		item, notice, err := e.UpsertFact(ctx, userID, facts[i])
		if err != nil {
			log.Printf("engine: upsert fact %s: %v", facts[i].Key, err)
			continue
		}
		if item != nil {
			res.Facts = append(res.Facts, *item)
		}
		if notice != nil {
			res.Notices = append(res.Notices, *notice)
		}
	}
	for i := range skills {
		item, err := e.AddSkill(ctx, userID, skills[i])
		if err != nil {
			log.Printf("engine: add skill %s: %v", skills[i].Title, err)
			continue
		}
		if item != nil {
			res.Skills = append(res.Skills, *item)
		}
	}

	turn, summarize, digest := e.sessions.recordTurn(userID, now, strings.TrimSpace(userText), e.cfg.Memory.SummaryCadence)
	res.Turn = turn
	if summarize {
		if err := e.writeSummary(ctx, userID, turn, digest, now); err != nil {
			log.Printf("engine: session summary: %v", err)
		} else {
			res.SummaryCreated = true
		}
	}
	return res, nil
}

// llmPass augments heuristic candidates with LLM extraction when enabled
// and the turn looks worth the call. LLM candidates never override a
// heuristic candidate for the same key.
func (e *Engine) llmPass(ctx context.Context, userText, assistantText string, facts []types.FactCandidate, skills []types.SkillCandidate) ([]types.FactCandidate, []types.SkillCandidate) {
	if e.extractor == nil || !e.cfg.LLM.Enabled || !extract.ShouldCallLLM(userText, assistantText) {
		return facts, skills
	}

	resp, err := e.extractor.Extract(ctx, userText, assistantText)
	if err != nil {
		log.Printf("engine: llm extraction: %v", err)
		return facts, skills
	}

	seen := make(map[string]bool, len(facts))
	for _, f := range facts {
		seen[extract.SnakeKey(f.Key)] = true
	}
	for _, f := range resp.Facts {
		if !seen[extract.SnakeKey(f.Key)] {
			facts = append(facts, f)
		}
	}
	skills = append(skills, resp.Skills...)
	return facts, skills
}

// UpsertFact stores a fact with supersession semantics. A value-equal
// upsert (case-insensitive) is an idempotent no-op returning the existing
// row. A changed value supersedes the old row and, for critical identity
// keys, returns a conflict notice.
func (e *Engine) UpsertFact(ctx context.Context, userID string, c types.FactCandidate) (*types.Item, *types.ConflictNotice, error) {
	entity := strings.ToLower(strings.TrimSpace(c.Entity))
	if entity == "" {
		entity = "user"
	}
	key := extract.SnakeKey(c.Key)
	value := strings.TrimSpace(c.Value)
	if value == "" {
		return nil, nil, fmt.Errorf("%w: empty fact value", storage.ErrInvalidInput)
	}

	now := e.now()
	lane := types.LaneFacts
	switch {
	case c.Pinned:
		lane = types.LanePinned
	case c.Volatile:
		lane = types.LaneVolatile
	}

	existing, err := e.store.ActiveFact(ctx, userID, entity, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("engine: upsert %s: %w", key, err)
	}
	if existing != nil && strings.EqualFold(strings.TrimSpace(existing.Value), value) {
		return existing, nil, nil
	}

	item := &types.Item{
		ID:         uuid.NewString(),
		UserID:     userID,
		Lane:       lane,
		Kind:       c.Kind,
		Entity:     entity,
		Key:        key,
		Value:      value,
		Bucket:     c.Bucket,
		Confidence: c.Confidence,
		Status:     types.StatusActive,
		CreatedAt:  now,
	}
	if !item.Kind.Valid() {
		item.Kind = types.KindPreference
	}
	// An absent importance gets the neutral default; an explicit zero is
	// stored as zero.
	item.Importance = 0.5
	if c.Importance != nil {
		item.Importance = math.Max(0, math.Min(1, *c.Importance))
	}
	if lane == types.LaneVolatile {
		ttl := c.TTL
		if ttl <= 0 {
			ttl = time.Duration(e.cfg.Memory.VolatileTTLHours) * time.Hour
		}
		exp := now.Add(ttl)
		item.ExpiresAt = &exp
	}
	if existing == nil {
		if err := e.store.PutItem(ctx, item); err != nil {
			return nil, nil, fmt.Errorf("engine: upsert %s: %w", key, err)
		}
	} else {
		item.Supersedes = existing.ID
		// One transaction: the new row and the tombstone land together
		// or not at all.
		if err := e.store.SupersedeFact(ctx, item, existing.ID); err != nil {
			return nil, nil, fmt.Errorf("engine: supersede %s: %w", existing.ID, err)
		}
	}

	var notice *types.ConflictNotice
	if existing != nil && criticalKeys[key] {
		notice = &types.ConflictNotice{Key: key, OldValue: existing.Value, NewValue: value}
	}

	e.indexItem(ctx, item)
	e.audit(ctx, userID, "fact_upsert", item.ID, key+"="+value)
	// Superseding a pinned row changes the pinned lane even when the new
	// row lands elsewhere.
	if lane == types.LanePinned || (existing != nil && existing.Lane == types.LanePinned) {
		e.refreshMirror(ctx, userID)
	}
	return item, notice, nil
}

// AddSkill stores a reusable procedure. Re-adding a skill with the same
// title reinforces the existing row instead of duplicating it.
func (e *Engine) AddSkill(ctx context.Context, userID string, c types.SkillCandidate) (*types.Item, error) {
	title := strings.TrimSpace(c.Title)
	if title == "" || strings.TrimSpace(c.Steps) == "" {
		return nil, fmt.Errorf("%w: skill needs a title and steps", storage.ErrInvalidInput)
	}
	key := extract.SnakeKey(title)
	now := e.now()

	existing, err := e.store.ItemsByLane(ctx, userID, types.LaneSkills, 100)
	if err != nil {
		return nil, fmt.Errorf("engine: add skill: %w", err)
	}
	for i := range existing {
		if existing[i].Key == key {
			if err := e.store.ReinforceSkill(ctx, userID, existing[i].ID, now); err != nil {
				return nil, fmt.Errorf("engine: reinforce skill: %w", err)
			}
			return e.store.GetItem(ctx, userID, existing[i].ID)
		}
	}

	item := &types.Item{
		ID:         uuid.NewString(),
		UserID:     userID,
		Lane:       types.LaneSkills,
		Kind:       types.KindSkill,
		Entity:     "user",
		Key:        key,
		Value:      title,
		Content:    strings.TrimSpace(c.Steps),
		Tags:       c.Tags,
		Bucket:     types.BucketGeneral,
		Importance: 0.5,
		Confidence: c.Confidence,
		Status:     types.StatusActive,
		CreatedAt:  now,
	}
	if err := e.store.PutItem(ctx, item); err != nil {
		return nil, fmt.Errorf("engine: add skill: %w", err)
	}
	e.indexItem(ctx, item)
	e.audit(ctx, userID, "skill_add", item.ID, title)
	return item, nil
}

// ForgetPhrase retracts active items related to the phrase: items whose
// text contains the phrase, plus items whose stored value appears inside
// the phrase itself.
func (e *Engine) ForgetPhrase(ctx context.Context, userID, phrase string) (int, error) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return 0, fmt.Errorf("%w: empty phrase", storage.ErrInvalidInput)
	}

	n, err := e.store.RetractMatching(ctx, userID, phrase)
	if err != nil {
		return 0, fmt.Errorf("engine: forget: %w", err)
	}

	for _, lane := range []types.Lane{types.LanePinned, types.LaneFacts, types.LaneVolatile} {
		items, err := e.store.ItemsByLane(ctx, userID, lane, 200)
		if err != nil {
			return n, fmt.Errorf("engine: forget: %w", err)
		}
		for i := range items {
			v := strings.ToLower(strings.TrimSpace(items[i].Value))
			if v == "" || !strings.Contains(phrase, v) {
				continue
			}
			if err := e.store.MarkStatus(ctx, userID, items[i].ID, types.StatusRetracted, ""); err != nil {
				log.Printf("engine: retract %s: %v", items[i].ID, err)
				continue
			}
			n++
		}
	}

	if n > 0 {
		e.audit(ctx, userID, "forget", "", fmt.Sprintf("%q retracted %d", phrase, n))
		e.refreshMirror(ctx, userID)
	}
	return n, nil
}

// ListRecent returns the tenant's newest memory items across lanes.
func (e *Engine) ListRecent(ctx context.Context, userID string, limit int) ([]types.Item, error) {
	return e.store.RecentItems(ctx, userID, limit)
}

// BuildInjectedContext compiles the memory block for a query: pinned lane,
// retrieved facts and skills, volatile items and due reminders. Surfaced
// skills are reinforced. The result never exceeds the configured budget.
func (e *Engine) BuildInjectedContext(ctx context.Context, userID, query string) (string, error) {
	now := e.now()
	if _, err := e.store.ExpireVolatiles(ctx, userID, now); err != nil {
		log.Printf("engine: expire volatiles: %v", err)
	}

	pinnedItems, err := e.store.ItemsByLane(ctx, userID, types.LanePinned, e.cfg.Memory.MaxPinnedLines)
	if err != nil {
		return "", fmt.Errorf("engine: build context: %w", err)
	}
	pinned := make([]string, 0, len(pinnedItems))
	for i := range pinnedItems {
		pinned = append(pinned, factLine(&pinnedItems[i]))
	}

	factItems, skillItems, err := e.retrieve(ctx, userID, query)
	if err != nil {
		return "", fmt.Errorf("engine: build context: %w", err)
	}
	facts := make([]string, 0, len(factItems))
	for i := range factItems {
		facts = append(facts, factLine(&factItems[i]))
	}
	skills := make([]string, 0, len(skillItems))
	for i := range skillItems {
		skills = append(skills, skillLine(&skillItems[i]))
	}

	var volatile []string
	volItems, err := e.store.ItemsByLane(ctx, userID, types.LaneVolatile, e.cfg.Memory.MaxVolatileLines)
	if err != nil {
		return "", fmt.Errorf("engine: build context: %w", err)
	}
	for i := range volItems {
		if !volItems[i].Expired(now) {
			volatile = append(volatile, volatileLine(&volItems[i]))
		}
	}
	if due, err := e.sched.Consume(ctx, userID, e.cfg.Memory.MaxVolatileLines); err != nil {
		log.Printf("engine: due reminders: %v", err)
	} else {
		for i := range due {
			volatile = append(volatile, reminderLine(&due[i]))
		}
	}

	for i := range skillItems {
		if i >= e.cfg.Memory.MaxSkillLines {
			break
		}
		if err := e.store.ReinforceSkill(ctx, userID, skillItems[i].ID, now); err != nil {
			log.Printf("engine: reinforce %s: %v", skillItems[i].ID, err)
		}
	}

	return BuildBlock(e.cfg.Memory, pinned, facts, skills, volatile), nil
}

// writeSummary persists a session digest item.
func (e *Engine) writeSummary(ctx context.Context, userID string, turn int, digest []string, now time.Time) error {
	content := strings.Join(digest, "; ")
	if len(content) > 600 {
		content = content[:600]
	}
	item := &types.Item{
		ID:         uuid.NewString(),
		UserID:     userID,
		Lane:       types.LaneSummary,
		Kind:       types.KindSummary,
		Entity:     "user",
		Key:        fmt.Sprintf("session_summary_%d", turn),
		Value:      fmt.Sprintf("summary through turn %d", turn),
		Content:    content,
		Bucket:     types.BucketGeneral,
		Importance: 0.4,
		Confidence: 0.9,
		Status:     types.StatusActive,
		CreatedAt:  now,
	}
	if err := e.store.PutItem(ctx, item); err != nil {
		return err
	}
	e.indexItem(ctx, item)
	e.audit(ctx, userID, "summary_create", item.ID, item.Key)
	return nil
}

// indexItem stores the item's embedding and graph edges, best-effort.
func (e *Engine) indexItem(ctx context.Context, item *types.Item) {
	text := strings.TrimSpace(item.Key + " " + item.Value + " " + item.Content)

	if vec, err := e.embedder.Embed(ctx, text); err == nil {
		if err := e.store.StoreEmbedding(ctx, item.ID, vec); err != nil {
			log.Printf("engine: store embedding %s: %v", item.ID, err)
		}
	}

	if err := e.store.AddEdges(ctx, item.UserID, item.ID, tokenize(text)); err != nil {
		log.Printf("engine: graph edges %s: %v", item.ID, err)
	}
}

// refreshMirror pushes the pinned lane to the attached mirror.
func (e *Engine) refreshMirror(ctx context.Context, userID string) {
	if e.mirror == nil {
		return
	}
	items, err := e.store.ItemsByLane(ctx, userID, types.LanePinned, e.cfg.Memory.MaxPinnedLines)
	if err != nil {
		log.Printf("engine: mirror load: %v", err)
		return
	}
	if err := e.mirror.MirrorPinned(userID, items); err != nil {
		log.Printf("engine: mirror write: %v", err)
	}
}

// audit appends a best-effort event row.
func (e *Engine) audit(ctx context.Context, userID, eventType, itemID, detail string) {
	if err := e.store.AppendEvent(ctx, userID, eventType, itemID, detail); err != nil {
		log.Printf("engine: audit %s: %v", eventType, err)
	}
}
