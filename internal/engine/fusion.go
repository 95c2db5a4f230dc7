// Package engine ties extraction, storage, retrieval and context
// compilation together behind a single facade. It owns the ingestion
// pipeline, hybrid search fusion, and the character-budgeted memory block.
package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/scrypster/engram/internal/config"
)

// RRFMerge fuses ranked id lists with reciprocal-rank fusion. Each list
// contributes 1/(k+rank) per id, rank starting at 1. Ties are broken by
// id string order so fusion is deterministic across runs.
func RRFMerge(k float64, lists ...[]string) []string {
	if k <= 0 {
		k = 60.0
	}

	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list {
			if id == "" {
				continue
			}
			rank := float64(i + 1)
			scores[id] += 1.0 / (k + rank)
		}
	}

	fused := make([]string, 0, len(scores))
	for id := range scores {
		fused = append(fused, id)
	}
	sort.Slice(fused, func(i, j int) bool {
		si, sj := scores[fused[i]], scores[fused[j]]
		if si != sj {
			return si > sj
		}
		return fused[i] < fused[j]
	})
	return fused
}

// tokenize lowercases text and splits it into alphanumeric tokens of two
// or more characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// tokenSet builds a membership set from tokenize output.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(text) {
		set[tok] = true
	}
	return set
}

// tokenOverlap returns the fraction of query tokens present in the item
// text. Zero query tokens score zero.
func tokenOverlap(query map[string]bool, itemText string) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := make(map[string]bool)
	for _, tok := range tokenize(itemText) {
		if query[tok] {
			matched[tok] = true
		}
	}
	return float64(len(matched)) / float64(len(query))
}

// recencyScore decays with item age: 1.0 at creation, halving roughly
// every two weeks.
func recencyScore(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return 1.0 / (1.0 + ageDays/14.0)
}

// blendScore combines overlap, recency and a per-row weight.
func blendScore(w config.ScoreWeights, overlap, recency, weight float64) float64 {
	return w.Overlap*overlap + w.Recency*recency + w.Weight*weight
}
