package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/memoria-db/memoria/pkg/math/vector"
	"github.com/memoria-db/memoria/pkg/storage"
	"github.com/memoria-db/memoria/pkg/temporal"
)

// RerankConfig tunes the standalone Reranker — the alternate scoring model
// with exponential time decay and per-type weighting, used when a host
// application wants diversity-aware or custom-weighted ranking instead of
// the service's built-in formula.
type RerankConfig struct {
	// SimilarityWeight scales the vector-similarity component.
	SimilarityWeight float32
	// ImportanceWeight scales the importance component.
	ImportanceWeight float32
	// RecencyWeight scales the exponential-decay freshness component.
	RecencyWeight float32
	// FrequencyWeight scales the log-access-count component.
	FrequencyWeight float32
	// CustomMemoryBonus is added to the score of marked nodes.
	CustomMemoryBonus float32
	// DecayRate is the per-day exponential decay constant.
	DecayRate float32
	// TopN bounds the result count.
	TopN int
}

// DefaultRerankConfig returns the standard weights.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		SimilarityWeight:  0.4,
		ImportanceWeight:  0.25,
		RecencyWeight:     0.2,
		FrequencyWeight:   0.15,
		CustomMemoryBonus: 0.2,
		DecayRate:         0.01,
		TopN:              5,
	}
}

// ScoredMemory is a candidate with its similarity and final scores.
type ScoredMemory struct {
	Node            *storage.MemoryNode
	SimilarityScore float32
	FinalScore      float32
	IsCustom        bool
}

// typeMultipliers damp non-event results: events carry the conversation,
// entities support it, concepts are glue.
var typeMultipliers = map[storage.NodeType]float32{
	storage.NodeTypeEvent:   1.0,
	storage.NodeTypeEntity:  0.9,
	storage.NodeTypeConcept: 0.7,
}

// Reranker scores and orders candidate nodes.
type Reranker struct {
	config    RerankConfig
	customIDs map[storage.NodeID]struct{}
}

// NewReranker creates a reranker with the given config.
func NewReranker(config RerankConfig) *Reranker {
	return &Reranker{
		config:    config,
		customIDs: make(map[storage.NodeID]struct{}),
	}
}

// SetCustomMemories installs the set of custom-marked node IDs.
func (r *Reranker) SetCustomMemories(ids map[storage.NodeID]struct{}) {
	r.customIDs = ids
}

// AddCustomMemory marks a single node.
func (r *Reranker) AddCustomMemory(id storage.NodeID) {
	r.customIDs[id] = struct{}{}
}

// Rerank scores every candidate against the query embedding and returns
// the TopN best, descending.
func (r *Reranker) Rerank(queryEmbedding []float32, candidates []*storage.MemoryNode) []ScoredMemory {
	now := time.Now().Unix()

	scored := make([]ScoredMemory, len(candidates))
	for i, node := range candidates {
		scored[i] = r.score(node, queryEmbedding, now)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})
	if len(scored) > r.config.TopN {
		scored = scored[:r.config.TopN]
	}
	return scored
}

// RerankWithDiversity selects results greedily by Maximal Marginal
// Relevance: each pick maximizes λ·score − (1−λ)·maxSimToSelected, trading
// relevance against redundancy.
func (r *Reranker) RerankWithDiversity(queryEmbedding []float32, candidates []*storage.MemoryNode, lambda float32) []ScoredMemory {
	if len(candidates) == 0 {
		return nil
	}

	now := time.Now().Unix()
	remaining := make([]ScoredMemory, len(candidates))
	for i, node := range candidates {
		remaining[i] = r.score(node, queryEmbedding, now)
	}

	var selected []ScoredMemory
	for len(selected) < r.config.TopN && len(remaining) > 0 {
		bestIdx := 0
		bestMMR := float32(math.Inf(-1))

		for i, candidate := range remaining {
			var maxSim float32
			for _, s := range selected {
				if len(s.Node.Embedding) == 0 || len(candidate.Node.Embedding) == 0 {
					continue
				}
				sim := vector.CosineSimilarity(s.Node.Embedding, candidate.Node.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}

			mmr := lambda*candidate.FinalScore - (1-lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// score computes one candidate's final score.
func (r *Reranker) score(node *storage.MemoryNode, queryEmbedding []float32, now int64) ScoredMemory {
	var similarity float32
	if len(node.Embedding) > 0 {
		similarity = vector.CosineSimilarity(queryEmbedding, node.Embedding)
	}

	ageDays := float64(now-node.CreatedAt) / 86400.0
	recency := float32(math.Exp(-float64(r.config.DecayRate) * ageDays))

	frequency := float32(math.Log(1.0+float64(node.AccessCount)) / 5.0)
	if frequency > 1 {
		frequency = 1
	}

	_, isCustom := r.customIDs[node.ID]
	var bonus float32
	if isCustom {
		bonus = r.config.CustomMemoryBonus
	}

	multiplier, ok := typeMultipliers[node.Type()]
	if !ok {
		multiplier = 1
	}

	final := (similarity*r.config.SimilarityWeight +
		node.Importance*r.config.ImportanceWeight +
		recency*r.config.RecencyWeight +
		frequency*r.config.FrequencyWeight +
		bonus) * multiplier

	return ScoredMemory{
		Node:            node,
		SimilarityScore: similarity,
		FinalScore:      final,
		IsCustom:        isCustom,
	}
}

// ScoredToRetrieved converts reranker output into result rows.
func ScoredToRetrieved(scored []ScoredMemory) []RetrievedMemory {
	results := make([]RetrievedMemory, len(scored))
	for i, s := range scored {
		results[i] = toRetrievedMemory(s.Node, s.FinalScore)
	}
	return results
}

// Deduplicate drops memories that duplicate an earlier entry: embedding
// similarity above threshold, or byte-equal content when either side is
// unembedded. Earlier (higher-ranked) entries win.
func Deduplicate(memories []ScoredMemory, threshold float32) []ScoredMemory {
	var result []ScoredMemory

	for _, memory := range memories {
		duplicate := false
		for _, existing := range result {
			if len(existing.Node.Embedding) == 0 || len(memory.Node.Embedding) == 0 {
				if existing.Node.Content == memory.Node.Content {
					duplicate = true
					break
				}
				continue
			}
			if vector.CosineSimilarity(existing.Node.Embedding, memory.Node.Embedding) > threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			result = append(result, memory)
		}
	}
	return result
}

// SortByTime orders memories by event time. Nodes without an event time
// sort as empty strings.
func SortByTime(memories []ScoredMemory, ascending bool) {
	sort.SliceStable(memories, func(i, j int) bool {
		timeI, _ := memories[i].Node.EventTime()
		timeJ, _ := memories[j].Node.EventTime()
		if ascending {
			return timeI < timeJ
		}
		return timeI > timeJ
	})
}

// DateGroup is one day's worth of memories.
type DateGroup struct {
	Date     string
	Memories []ScoredMemory
}

// GroupByDate buckets memories by the date part of their event time,
// sorted by date. Non-events land under "未知日期".
func GroupByDate(memories []ScoredMemory) []DateGroup {
	buckets := make(map[string][]ScoredMemory)
	for _, memory := range memories {
		date := "未知日期"
		if eventTime, ok := memory.Node.EventTime(); ok {
			date = temporal.FormatDate(eventTime)
		}
		buckets[date] = append(buckets[date], memory)
	}

	dates := make([]string, 0, len(buckets))
	for date := range buckets {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	groups := make([]DateGroup, len(dates))
	for i, date := range dates {
		groups[i] = DateGroup{Date: date, Memories: buckets[date]}
	}
	return groups
}
