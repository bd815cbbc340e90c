// Package retrieval answers natural-language queries against the memory
// graph.
//
// The pipeline is HippoRAG-shaped — vector search finds entry points, the
// graph widens them, concepts bridge across subgraphs, and a weighted
// rerank picks the final few:
//
//	query ──embed──► vector top-k ──► subgraph expansion (N-hop BFS)
//	                                        │
//	                                        ▼
//	                              concept bridging
//	                                        │
//	                                        ▼
//	                       score + rank ──► format ("## 相关记忆")
//
// Scoring blends four signals: vector similarity (40%), recency (20%),
// importance with the custom-mark bonus (25%) and access frequency (15%).
//
// Locking discipline: the expansion loop never holds the graph lock and
// the store lock at the same time. Each layer computes its frontier
// against the graph, releases it, then batch-fetches payloads from the
// store.
//
// ELI12:
//
// Imagine remembering "that trip to Beijing": first a few memories jump to
// mind directly (vector search). Each of those drags in connected memories
// — who was there, what happened after (subgraph expansion). Thinking of
// one friend reminds you of other friends, because they're both "people
// you know" (concept bridging). Then you keep only the memories that feel
// most relevant, recent and important (reranking).
package retrieval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/memoria-db/memoria/pkg/embed"
	"github.com/memoria-db/memoria/pkg/graph"
	"github.com/memoria-db/memoria/pkg/ingest"
	"github.com/memoria-db/memoria/pkg/math/vector"
	"github.com/memoria-db/memoria/pkg/storage"
	"github.com/memoria-db/memoria/pkg/temporal"
)

// Scoring weights for the primary rank. They sum to 1; the custom-mark
// bonus raises importance before weighting, capped at 1.
const (
	similarityWeight = 0.4
	recencyWeight    = 0.2
	importanceWeight = 0.25
	frequencyWeight  = 0.15
	customMarkBonus  = 0.3
)

// Config tunes the retrieval pipeline.
type Config struct {
	// TopK is the vector-search fan-in (overridable per query).
	TopK int
	// HopDepth bounds the subgraph expansion BFS.
	HopDepth int
	// MaxSubgraphNodes caps the candidate set during expansion.
	MaxSubgraphNodes int
	// RerankTopN is how many results survive the final rank.
	RerankTopN int
	// ContextWeight blends recent-message embeddings into the query
	// vector. Zero disables query expansion.
	ContextWeight float32
}

// DefaultConfig returns the standard pipeline shape: top-10 seeds, 2-hop
// expansion capped at 30 nodes, 5 final results.
func DefaultConfig() Config {
	return Config{
		TopK:             10,
		HopDepth:         2,
		MaxSubgraphNodes: 30,
		RerankTopN:       5,
		ContextWeight:    0.3,
	}
}

// Params is one retrieval request.
type Params struct {
	// UserMessage is the query text. Required.
	UserMessage string
	// RecentMessages optionally biases the query toward the current
	// conversation.
	RecentMessages []ingest.Message
	// TopK overrides Config.TopK when positive.
	TopK int
	// IncludeRaw asks for the structured results alongside the
	// formatted context.
	IncludeRaw bool
}

// RetrievedMemory is one ranked result.
type RetrievedMemory struct {
	Content    string           `json:"content"`
	MemoryType storage.NodeType `json:"memory_type"`
	Relevance  float32          `json:"relevance"`
	EventTime  string           `json:"event_time,omitempty"`
	TimeAgo    string           `json:"time_ago,omitempty"`
}

// Result is the answer to one retrieval request.
type Result struct {
	FormattedContext string            `json:"formatted_context"`
	Count            int               `json:"count"`
	Raw              []RetrievedMemory `json:"raw,omitempty"`
}

// Service orchestrates retrieval. It borrows the store, the graph index
// and the embedder; it owns only the custom-mark snapshot, which is
// reloaded at the start of every query behind its own lock.
type Service struct {
	store    *storage.Store
	graph    *graph.KnowledgeGraph
	embedder embed.Embedder
	config   Config

	customMu  sync.RWMutex
	customIDs map[storage.NodeID]struct{}
}

// NewService creates a retrieval service with the default config.
func NewService(store *storage.Store, g *graph.KnowledgeGraph, embedder embed.Embedder) *Service {
	return NewServiceWithConfig(store, g, embedder, DefaultConfig())
}

// NewServiceWithConfig creates a retrieval service with a custom config.
func NewServiceWithConfig(store *storage.Store, g *graph.KnowledgeGraph, embedder embed.Embedder, config Config) *Service {
	return &Service{
		store:     store,
		graph:     g,
		embedder:  embedder,
		config:    config,
		customIDs: make(map[storage.NodeID]struct{}),
	}
}

// Retrieve runs the full pipeline for one query.
//
// An empty vector-search result short-circuits to an empty Result.
// Embedder failures surface to the caller; missing neighbor nodes are
// logged and omitted.
func (s *Service) Retrieve(ctx context.Context, params *Params) (*Result, error) {
	if strings.TrimSpace(params.UserMessage) == "" {
		return nil, fmt.Errorf("retrieval: empty user message")
	}

	if err := s.loadCustomIDs(ctx); err != nil {
		return nil, err
	}

	queryEmbedding, err := s.queryEmbedding(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	topK := params.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}
	seeds, err := s.store.VectorSearch(ctx, queryEmbedding, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}
	if len(seeds) == 0 {
		return &Result{FormattedContext: "", Count: 0}, nil
	}

	seedNodes := make([]*storage.MemoryNode, len(seeds))
	for i, hit := range seeds {
		seedNodes[i] = hit.Node
	}

	candidates, err := s.expandSubgraph(ctx, seedNodes)
	if err != nil {
		return nil, err
	}

	bridged, err := s.conceptBridgedNodes(ctx, candidates)
	if err != nil {
		return nil, err
	}
	candidates = mergeAndDedupe(candidates, bridged)

	ranked := s.scoreAndRank(candidates, queryEmbedding, s.config.RerankTopN)

	result := &Result{
		FormattedContext: FormatMemories(ranked),
		Count:            len(ranked),
	}
	if params.IncludeRaw {
		result.Raw = ranked
	}
	return result, nil
}

// loadCustomIDs snapshots the custom-mark table for this query.
func (s *Service) loadCustomIDs(ctx context.Context) error {
	ids, err := s.store.CustomMemoryIDs(ctx)
	if err != nil {
		return fmt.Errorf("retrieval: load custom marks: %w", err)
	}
	s.customMu.Lock()
	s.customIDs = ids
	s.customMu.Unlock()
	return nil
}

// queryEmbedding embeds the user message, optionally fusing in recent
// conversation context. Context embedding is best-effort: on failure the
// plain query vector is used.
func (s *Service) queryEmbedding(ctx context.Context, params *Params) ([]float32, error) {
	queryVec, err := s.embedder.Embed(ctx, params.UserMessage)
	if err != nil {
		return nil, err
	}

	if s.config.ContextWeight <= 0 || len(params.RecentMessages) == 0 {
		return queryVec, nil
	}

	texts := make([]string, 0, len(params.RecentMessages))
	for _, msg := range params.RecentMessages {
		if strings.TrimSpace(msg.Content) != "" {
			texts = append(texts, msg.Content)
		}
	}
	if len(texts) == 0 {
		return queryVec, nil
	}

	contextVecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		log.Printf("retrieval: context embedding failed, using plain query: %v", err)
		return queryVec, nil
	}
	return vector.ExpandQuery(queryVec, contextVecs, s.config.ContextWeight), nil
}

// expandSubgraph grows the seed set through the graph index, at most
// HopDepth hops and MaxSubgraphNodes nodes.
//
// The next layer is tracked explicitly (not derived from the visited set)
// so expansion order is reproducible. Per layer: frontier against the
// graph first, graph lock released, then one batched store fetch.
func (s *Service) expandSubgraph(ctx context.Context, seeds []*storage.MemoryNode) ([]*storage.MemoryNode, error) {
	maxNodes := s.config.MaxSubgraphNodes

	visited := make(map[storage.NodeID]struct{}, maxNodes)
	var nodes []*storage.MemoryNode
	var layer []storage.NodeID

	for _, seed := range seeds {
		if _, seen := visited[seed.ID]; !seen {
			visited[seed.ID] = struct{}{}
			nodes = append(nodes, seed)
			layer = append(layer, seed.ID)
		}
	}

	for hop := 0; hop < s.config.HopDepth && len(nodes) < maxNodes; hop++ {
		var next []storage.NodeID
		for _, id := range layer {
			if len(nodes)+len(next) >= maxNodes {
				break
			}
			for neighborID := range s.graph.Neighbors(id, 1) {
				if _, seen := visited[neighborID]; seen {
					continue
				}
				visited[neighborID] = struct{}{}
				next = append(next, neighborID)
				if len(nodes)+len(next) >= maxNodes {
					break
				}
			}
		}
		if len(next) == 0 {
			break
		}

		fetched, err := s.store.GetNodes(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("retrieval: expand subgraph: %w", err)
		}
		if len(fetched) < len(next) {
			log.Printf("retrieval: %d neighbor nodes missing from store; omitted", len(next)-len(fetched))
		}
		nodes = append(nodes, fetched...)
		layer = next
	}

	return nodes, nil
}

// conceptBridgedNodes finds additional candidates reachable through the
// concept nodes already present in the candidate set.
func (s *Service) conceptBridgedNodes(ctx context.Context, candidates []*storage.MemoryNode) ([]*storage.MemoryNode, error) {
	conceptIDs := make(map[storage.NodeID]struct{})
	sourceIDs := make([]storage.NodeID, len(candidates))
	for i, node := range candidates {
		sourceIDs[i] = node.ID
		if node.Type() == storage.NodeTypeConcept {
			conceptIDs[node.ID] = struct{}{}
		}
	}
	if len(conceptIDs) == 0 {
		return nil, nil
	}

	bridgedIDs := s.graph.FindConceptBridged(sourceIDs, conceptIDs)
	if len(bridgedIDs) == 0 {
		return nil, nil
	}

	ids := make([]storage.NodeID, 0, len(bridgedIDs))
	for id := range bridgedIDs {
		ids = append(ids, id)
	}
	nodes, err := s.store.GetNodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("retrieval: concept bridging: %w", err)
	}
	return nodes, nil
}

// mergeAndDedupe concatenates two candidate lists, keeping first
// occurrence per node ID.
func mergeAndDedupe(first, second []*storage.MemoryNode) []*storage.MemoryNode {
	seen := make(map[storage.NodeID]struct{}, len(first)+len(second))
	result := make([]*storage.MemoryNode, 0, len(first)+len(second))

	for _, node := range append(first, second...) {
		if _, dup := seen[node.ID]; !dup {
			seen[node.ID] = struct{}{}
			result = append(result, node)
		}
	}
	return result
}

// scoreAndRank weighs every candidate, sorts descending, and keeps topN.
func (s *Service) scoreAndRank(candidates []*storage.MemoryNode, queryEmbedding []float32, topN int) []RetrievedMemory {
	s.customMu.RLock()
	customIDs := s.customIDs
	s.customMu.RUnlock()

	type scored struct {
		node  *storage.MemoryNode
		score float32
	}
	items := make([]scored, len(candidates))
	for i, node := range candidates {
		items[i] = scored{node: node, score: nodeWeight(node, queryEmbedding, customIDs)}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	if len(items) > topN {
		items = items[:topN]
	}

	results := make([]RetrievedMemory, len(items))
	for i, item := range items {
		results[i] = toRetrievedMemory(item.node, item.score)
	}
	return results
}

// nodeWeight is the primary scoring formula:
//
//	0.4·sim + 0.2·recency + 0.25·importance' + 0.15·freq
//
// where importance' adds the custom-mark bonus (capped at 1) and freq is
// ln(access+1)/10 capped at 1. Unembedded nodes score sim 0 but stay
// rankable through the other components.
func nodeWeight(node *storage.MemoryNode, queryEmbedding []float32, customIDs map[storage.NodeID]struct{}) float32 {
	var similarity float32
	if len(node.Embedding) > 0 {
		similarity = vector.CosineSimilarity(node.Embedding, queryEmbedding)
	}

	recency := temporal.Recency(node.UpdatedAt)

	importance := node.Importance
	if _, marked := customIDs[node.ID]; marked {
		importance = float32(math.Min(float64(importance+customMarkBonus), 1.0))
	}

	frequency := float32(math.Min(math.Log(float64(node.AccessCount)+1)/10.0, 1.0))

	return similarityWeight*similarity +
		recencyWeight*recency +
		importanceWeight*importance +
		frequencyWeight*frequency
}

// toRetrievedMemory shapes a scored node into a result row.
func toRetrievedMemory(node *storage.MemoryNode, score float32) RetrievedMemory {
	memory := RetrievedMemory{
		Content:    node.Content,
		MemoryType: node.Type(),
		Relevance:  score,
	}
	if eventTime, ok := node.EventTime(); ok {
		memory.EventTime = eventTime
		memory.TimeAgo = temporal.TimeAgo(eventTime)
	}
	return memory
}

// typeLabels are the Chinese display labels used in formatted output.
var typeLabels = map[storage.NodeType]string{
	storage.NodeTypeEntity:  "实体",
	storage.NodeTypeEvent:   "事件",
	storage.NodeTypeConcept: "概念",
}

// FormatMemories renders ranked results as the "## 相关记忆" context block:
// one "- [类型] content (time_ago)" line per memory. Empty input yields an
// empty string.
func FormatMemories(memories []RetrievedMemory) string {
	if len(memories) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## 相关记忆\n")
	for i, m := range memories {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- [")
		b.WriteString(typeLabels[m.MemoryType])
		b.WriteString("] ")
		b.WriteString(m.Content)
		if m.TimeAgo != "" {
			b.WriteString(" (")
			b.WriteString(m.TimeAgo)
			b.WriteString(")")
		}
	}
	return b.String()
}
