package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/scrypster/engram/internal/embed"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// graphSeedLimit caps how many fused ids seed the neighbor expansion.
const graphSeedLimit = 8

// retrieve runs the hybrid search pipeline for a query: lexical and vector
// candidates fused with RRF, optional graph-neighbor widening, then a
// weighted re-score split into facts and skills. Vector search degrades
// silently when no embedder is available.
func (e *Engine) retrieve(ctx context.Context, userID, query string) (facts, skills []types.Item, err error) {
	topK := e.cfg.Retrieval.TopK

	lexIDs, lexErr := e.store.LexicalSearch(ctx, userID, storage.SearchOptions{Query: query, Limit: topK})
	if lexErr != nil {
		log.Printf("engine: lexical search: %v", lexErr)
	}

	var vecIDs []string
	if vec, embErr := e.embedder.Embed(ctx, query); embErr == nil {
		vecIDs, err = e.store.VectorSearch(ctx, userID, vec, topK)
		if err != nil {
			log.Printf("engine: vector search: %v", err)
			vecIDs = nil
		}
	} else if !errors.Is(embErr, embed.ErrEmbeddingUnavailable) {
		log.Printf("engine: embed query: %v", embErr)
	}

	fused := RRFMerge(e.cfg.Retrieval.RRFK, lexIDs, vecIDs)
	fused = e.expandNeighbors(ctx, userID, fused)
	if len(fused) == 0 {
		return nil, nil, nil
	}

	items, err := e.store.ItemsByIDs(ctx, userID, fused)
	if err != nil {
		return nil, nil, err
	}

	now := e.now()
	for i := range items {
		it := items[i]
		if it.Status != types.StatusActive || it.Expired(now) {
			continue
		}
		switch it.Lane {
		case types.LaneSkills:
			skills = append(skills, it)
		case types.LaneFacts, types.LaneSummary:
			facts = append(facts, it)
		}
	}

	qset := tokenSet(query)
	e.rankItems(facts, qset, now, false)
	e.rankItems(skills, qset, now, true)
	return facts, skills, nil
}

// expandNeighbors widens the fused set with graph neighbors when enabled,
// appending unseen ids after the directly retrieved ones.
func (e *Engine) expandNeighbors(ctx context.Context, userID string, fused []string) []string {
	hops := e.cfg.Retrieval.GraphHops
	if hops < 1 || len(fused) == 0 {
		return fused
	}

	seeds := fused
	if len(seeds) > graphSeedLimit {
		seeds = seeds[:graphSeedLimit]
	}
	neighbors, err := e.store.Neighbors(ctx, userID, seeds, storage.GraphBounds{MaxHops: hops})
	if err != nil {
		log.Printf("engine: graph expansion: %v", err)
		return fused
	}

	seen := make(map[string]bool, len(fused))
	for _, id := range fused {
		seen[id] = true
	}
	for _, id := range neighbors {
		if !seen[id] {
			seen[id] = true
			fused = append(fused, id)
		}
	}
	return fused
}

// rankItems re-scores items with the configured blend and sorts them best
// first. Facts weigh importance; skills weigh confidence.
func (e *Engine) rankItems(items []types.Item, query map[string]bool, now time.Time, isSkill bool) {
	weights := e.cfg.Retrieval.FactWeights
	if isSkill {
		weights = e.cfg.Retrieval.SkillWeights
	}

	scores := make(map[string]float64, len(items))
	for i := range items {
		it := &items[i]
		rowWeight := it.Importance
		if isSkill {
			rowWeight = it.Confidence
		}
		overlap := tokenOverlap(query, it.Key+" "+it.Value+" "+it.Content)
		scores[it.ID] = blendScore(weights, overlap, recencyScore(it.CreatedAt, now), rowWeight)
	}

	sort.SliceStable(items, func(i, j int) bool {
		si, sj := scores[items[i].ID], scores[items[j].ID]
		if si != sj {
			return si > sj
		}
		return items[i].ID < items[j].ID
	})
}
