package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/pkg/types"
)

const (
	blockHeader = "MEMORY CONTEXT (authoritative; may be incomplete)"
	blockRule   = "Rule: If the user's latest instruction conflicts with memory, follow the latest instruction and update memory."

	maxLineChars = 160
)

// ellipsisLine trims a line to maxLineChars, replacing the tail with "...".
func ellipsisLine(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLineChars {
		return s
	}
	return strings.TrimRight(string(r[:maxLineChars-3]), " ") + "..."
}

// cutLines caps a section at n lines, normalizing each one.
func cutLines(lines []string, n int) []string {
	if n < 0 {
		n = 0
	}
	out := make([]string, 0, n)
	for _, l := range lines {
		if len(out) >= n {
			break
		}
		out = append(out, ellipsisLine(l))
	}
	return out
}

// BuildBlock renders the injected memory block. Sections are capped at the
// configured line counts, and the whole block never exceeds MaxTotalChars.
// Under pressure the volatile section is dropped first, then facts from the
// tail, then skills; pinned lines are never dropped.
func BuildBlock(cfg config.MemoryConfig, pinned, facts, skills, volatile []string) string {
	pinned = cutLines(pinned, cfg.MaxPinnedLines)
	facts = cutLines(facts, cfg.MaxFactLines)
	skills = cutLines(skills, cfg.MaxSkillLines)
	volatile = cutLines(volatile, cfg.MaxVolatileLines)

	render := func() string {
		var b strings.Builder
		b.WriteString(blockHeader)
		writeSection(&b, "Pinned:", pinned)
		writeSection(&b, "Relevant facts:", facts)
		writeSection(&b, "Relevant prior solutions:", skills)
		writeSection(&b, "Volatile:", volatile)
		b.WriteString("\n")
		b.WriteString(blockRule)
		return strings.TrimSpace(b.String())
	}

	budget := cfg.MaxTotalChars
	block := render()
	if budget <= 0 || len(block) <= budget {
		return block
	}

	volatile = nil
	block = render()
	for len(facts) > 0 && len(block) > budget {
		facts = facts[:len(facts)-1]
		block = render()
	}
	for len(skills) > 0 && len(block) > budget {
		skills = skills[:len(skills)-1]
		block = render()
	}
	if len(block) > budget {
		block = block[:budget]
	}
	return block
}

// writeSection appends a header plus its lines, with a placeholder when the
// section is empty.
func writeSection(b *strings.Builder, header string, lines []string) {
	b.WriteString("\n")
	b.WriteString(header)
	if len(lines) == 0 {
		b.WriteString("\n- (none)")
		return
	}
	for _, l := range lines {
		b.WriteString("\n")
		b.WriteString(l)
	}
}

// factLine renders a fact item as a block line.
func factLine(it *types.Item) string {
	return fmt.Sprintf("- %s: %s", it.Key, it.Value)
}

// volatileLine renders a volatile item with its expiry.
func volatileLine(it *types.Item) string {
	if it.ExpiresAt == nil {
		return factLine(it)
	}
	return fmt.Sprintf("- %s: %s (expires %s)", it.Key, it.Value, it.ExpiresAt.UTC().Format("15:04 MST"))
}

// reminderLine folds a due reminder into the volatile section.
func reminderLine(r *types.Reminder) string {
	return fmt.Sprintf("- reminder: %s (due %s)", r.Title, r.DueTS.UTC().Format(time.RFC822))
}

// skillLine renders a skill as its title plus the steps joined inline.
func skillLine(it *types.Item) string {
	steps := strings.Split(it.Content, "\n")
	for i := range steps {
		steps[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(steps[i]), "-"))
	}
	return fmt.Sprintf("- %s: %s", it.Value, strings.Join(steps, "; "))
}
