// Package extract turns raw conversation turns into fact and skill
// candidates. Cheap regex heuristics run on every turn; the LLM pass is
// gated behind trigger phrases and everything funnels through Sanitize
// before reaching storage.
package extract

import (
	"regexp"
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

var (
	reFavoriteColor = regexp.MustCompile(`\bmy\s+favorite\s+colou?r\s+is\s+([a-zA-Z ]{2,24})`)
	reDogName       = regexp.MustCompile(`(?i)\bmy\s+dog(?:'s)?\s+name\s+is\s+([a-zA-Z0-9 _'-]{1,32})`)
	reTimezone      = regexp.MustCompile(`\b(?:my\s+)?timezone\s+is\s+([a-zA-Z0-9_\-/]+)`)
	reCallMe        = regexp.MustCompile(`(?i)\bcall\s+me\s+([a-zA-Z0-9 _'-]{1,32})`)
	reName          = regexp.MustCompile(`(?i)\bmy\s+name\s+is\s+([a-zA-Z0-9 _'-]{1,40})`)
	reFavoriteDrink = regexp.MustCompile(`(?i)\bmy\s+favorite\s+drink\s+is\s+([a-zA-Z0-9 _'-]{1,48})`)
	reDrinkUpdate   = regexp.MustCompile(`(?i)\bupdate\s*:\s*my\s+favorite\s+drink\s+is\s+now\s+([a-zA-Z0-9 _'-]{1,48})`)
	reLikes         = regexp.MustCompile(`(?i)\bi\s+(?:really\s+)?(?:love|like|prefer|am\s+into)\s+([a-zA-Z0-9 _'-]{2,48})`)
	reConstraint    = regexp.MustCompile(`\b(?:don't|dont|do not)\s+([a-zA-Z0-9 ':-]{1,48})`)
	reCodeRequest   = regexp.MustCompile(`\bwhen\s+i\s+ask\s+for\s+code`)
	reStepVerb      = regexp.MustCompile(`\b(run|edit|patch|set|create|use|check|test|open)\b`)
)

// technicalMarkers guard the likes rule against classifying tooling talk
// as a food preference.
var technicalMarkers = []string{
	"python", "javascript", "typescript", "rust", "golang", "java", "c++", "sql",
	"coding", "code", "repo", "framework", "api", "model", "research", "paper",
}

// foodContext words mark an explicit food or drink preference.
var foodContext = []string{
	"food", "foods", "snack", "snacks", "drink", "drinks", "tea", "coffee", "fruit",
	"meal", "dessert", "breakfast", "lunch", "dinner", "juice",
}

// Heuristics extracts fact candidates from the user's turn and at most one
// skill candidate from the assistant's turn, without any model call.
func Heuristics(userText, assistantText string) ([]types.FactCandidate, []types.SkillCandidate) {
	t := strings.TrimSpace(userText)
	tl := strings.ToLower(t)

	var facts []types.FactCandidate

	if strings.Contains(tl, "don't output json") || strings.Contains(tl, "dont output json") || strings.Contains(tl, "no json") {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "output_format", Value: "structured text",
			Kind: types.KindPreference, Confidence: 0.96, Pinned: true,
		})
	}

	if m := reFavoriteColor.FindStringSubmatch(tl); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "favorite_color", Value: capValue(m[1], 24),
			Kind: types.KindPreference, Confidence: 0.93,
		})
	}

	if m := reDogName.FindStringSubmatch(t); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "dog_name", Value: capValue(m[1], 32),
			Kind: types.KindIdentity, Confidence: 0.9,
		})
	}

	if m := reTimezone.FindStringSubmatch(tl); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "timezone", Value: capValue(m[1], 64),
			Kind: types.KindIdentity, Confidence: 0.92,
		})
	}

	if m := reCallMe.FindStringSubmatch(t); m != nil {
		c := types.FactCandidate{
			Entity: "user", Key: "preferred_name", Value: capValue(m[1], 32),
			Kind: types.KindPreference, Confidence: 0.88,
		}
		// "for this session" scopes the name to the current session only.
		if strings.Contains(tl, "for this session") {
			c.Volatile = true
		}
		facts = append(facts, c)
	}

	if m := reName.FindStringSubmatch(t); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "name", Value: capValue(m[1], 40),
			Kind: types.KindIdentity, Confidence: 0.96,
		})
	}

	// The update form wins over the plain form when both match.
	if m := reDrinkUpdate.FindStringSubmatch(t); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "favorite_drink", Value: capValue(m[1], 48),
			Kind: types.KindPreference, Confidence: 0.97,
		})
	} else if m := reFavoriteDrink.FindStringSubmatch(t); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "favorite_drink", Value: capValue(m[1], 48),
			Kind: types.KindPreference, Confidence: 0.95,
		})
	}

	if m := reLikes.FindStringSubmatch(t); m != nil {
		value := capValue(m[1], 48)
		key := "user_preference"
		if looksLikeFoodPreference(value) {
			key = "favorite_food"
		}
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: key, Value: value,
			Kind: types.KindPreference, Confidence: 0.84,
		})
	}

	if m := reConstraint.FindStringSubmatch(tl); m != nil {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "constraint", Value: capValue(m[1], 60),
			Kind: types.KindConstraint, Confidence: 0.85,
		})
	}

	if reCodeRequest.MatchString(tl) && strings.Contains(tl, "python") {
		facts = append(facts, types.FactCandidate{
			Entity: "user", Key: "coding_style", Value: "Python 3.11+ and type hints",
			Kind: types.KindPreference, Confidence: 0.9,
		})
	}

	return facts, skillFromAssistant(assistantText)
}

// skillFromAssistant returns one skill candidate when the assistant's turn
// reads like a procedure: three or more lines containing an action verb.
func skillFromAssistant(assistantText string) []types.SkillCandidate {
	var stepLines []string
	for _, ln := range strings.Split(assistantText, "\n") {
		if reStepVerb.MatchString(strings.ToLower(ln)) {
			stepLines = append(stepLines, strings.Trim(ln, "- \t"))
		}
	}
	if len(stepLines) < 3 {
		return nil
	}
	if len(stepLines) > 8 {
		stepLines = stepLines[:8]
	}
	return []types.SkillCandidate{{
		Title:      "procedural fix",
		Steps:      strings.Join(stepLines, "\n"),
		Tags:       []string{"auto", "replay"},
		Confidence: 0.7,
	}}
}

// looksLikeFoodPreference guesses whether a liked thing is food rather than
// tooling. Single short phrases without technical markers count as food.
func looksLikeFoodPreference(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	for _, m := range technicalMarkers {
		if strings.Contains(t, m) {
			return false
		}
	}
	for _, m := range foodContext {
		if strings.Contains(t, m) {
			return true
		}
	}
	return len(strings.Fields(t)) <= 3
}

// llmTriggers gate the model call: only turns that look like self-disclosure
// or standing instructions are worth the extraction cost.
var llmTriggers = []string{
	"my ", "i am", "i'm", "i prefer", "i like", "i love", "i hate", "i'm into", "im into",
	"call me", "timezone", "for this session", "from now on", "always", "don't", "dont",
	"as a ", "i work as", "i teach", "i research", "i code in", "please remember",
}

// ShouldCallLLM reports whether the turn justifies an LLM extraction pass.
func ShouldCallLLM(userText, assistantText string) bool {
	tl := strings.ToLower(userText)
	for _, trigger := range llmTriggers {
		if strings.Contains(tl, trigger) {
			return true
		}
	}
	for _, outcome := range []string{"worked", "fixed", "solved"} {
		if strings.Contains(tl, outcome) {
			return true
		}
	}
	return false
}

// capValue trims and caps a candidate value.
func capValue(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
