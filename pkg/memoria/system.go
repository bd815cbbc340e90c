// Package memoria is the embedded conversational memory engine.
//
// A host application hands Memoria batches of chat messages; the engine
// distills them into a typed knowledge graph (entities, events, concepts),
// persists graph and embeddings in a BadgerDB-backed table store, and
// answers natural-language queries with a ranked, formatted set of
// relevant memories.
//
//	┌─────────────────────────────────────────────────────┐
//	│                      System                         │
//	├─────────────────────────────────────────────────────┤
//	│  ┌───────────────┐       ┌───────────────────────┐  │
//	│  │ storage.Store │       │ graph.KnowledgeGraph  │  │
//	│  │ (vectors+rows)│       │ (in-memory topology)  │  │
//	│  └───────────────┘       └───────────────────────┘  │
//	│  ┌───────────────────┐   ┌───────────────────────┐  │
//	│  │ retrieval.Service │   │ embed.RemoteEmbedder  │  │
//	│  └───────────────────┘   └───────────────────────┘  │
//	└─────────────────────────────────────────────────────┘
//
// Example Usage:
//
//	system := memoria.New("./memory_db")
//	if err := system.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer system.Close()
//
//	system.SetAuthToken(token)
//
//	err := system.Save(ctx, []memoria.Message{
//		{Role: "user", Content: "去北京见了朋友", Timestamp: 1700000000},
//		{Role: "assistant", Content: "听起来不错！"},
//	})
//
//	result, err := system.Query(ctx, &memoria.QueryParams{
//		UserMessage: "我什么时候去的北京？",
//	})
//	fmt.Println(result.FormattedContext)
//	// ## 相关记忆
//	// - [事件] 用户说：去北京见了朋友... (2天前)
package memoria

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/memoria-db/memoria/pkg/embed"
	"github.com/memoria-db/memoria/pkg/graph"
	"github.com/memoria-db/memoria/pkg/ingest"
	"github.com/memoria-db/memoria/pkg/retrieval"
	"github.com/memoria-db/memoria/pkg/storage"
)

// Message is one chat message handed to Save.
type Message = ingest.Message

// Message roles.
const (
	RoleUser      = ingest.RoleUser
	RoleAssistant = ingest.RoleAssistant
	RoleSystem    = ingest.RoleSystem
)

// QueryParams is the input to Query.
type QueryParams = retrieval.Params

// QueryResult is the output of Query.
type QueryResult = retrieval.Result

// RetrievedMemory is one ranked memory inside a QueryResult.
type RetrievedMemory = retrieval.RetrievedMemory

// System is the memory engine facade. Construction performs no I/O; call
// Initialize before anything else.
//
// The store and the graph each guard themselves with a read-write lock;
// the embedder's server config sits behind its own lock. System adds only
// the initialized flag. All public operations are safe for concurrent use.
type System struct {
	config    *Config
	store     *storage.Store
	graph     *graph.KnowledgeGraph
	embedder  *embed.RemoteEmbedder
	retrieval *retrieval.Service

	mu          sync.RWMutex
	initialized bool
}

// New creates a memory system at the given database path. An empty path
// uses "./memory_db". No I/O happens here.
func New(dbPath string) *System {
	config := DefaultConfig()
	if dbPath != "" {
		config.DBPath = dbPath
	}
	return NewWithConfig(config)
}

// NewWithConfig creates a memory system from an explicit configuration.
func NewWithConfig(config *Config) *System {
	store := storage.New(config.DBPath, config.EmbeddingDimensions)
	knowledgeGraph := graph.NewKnowledgeGraph()
	embedder := embed.NewRemote(config.serverConfig(), config.embedConfig())
	retrievalService := retrieval.NewServiceWithConfig(store, knowledgeGraph, embedder, config.retrievalConfig())

	return &System{
		config:    config,
		store:     store,
		graph:     knowledgeGraph,
		embedder:  embedder,
		retrieval: retrievalService,
	}
}

// Initialize opens the store, creates missing tables, and rebuilds the
// in-memory graph from the persisted edges. Idempotent.
//
// Dangling edges — edges whose source or target no longer exists, e.g.
// orphans from a cancelled save — are dropped from the graph with a log
// entry; they never fail initialization.
func (s *System) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if err := s.store.Initialize(ctx); err != nil {
		return storageFailure(err)
	}

	edges, err := s.store.AllEdges(ctx)
	if err != nil {
		return storageFailure(err)
	}
	nodeIDs, err := s.store.NodeIDs(ctx)
	if err != nil {
		return storageFailure(err)
	}

	s.graph.Clear()
	dangling := 0
	for _, edge := range edges {
		_, haveSource := nodeIDs[edge.Source]
		_, haveTarget := nodeIDs[edge.Target]
		if !haveSource || !haveTarget {
			dangling++
			continue
		}
		s.graph.AddEdge(*edge)
	}
	if dangling > 0 {
		log.Printf("memoria: dropped %d dangling edges while rebuilding graph", dangling)
	}

	s.initialized = true
	return nil
}

// IsInitialized reports whether Initialize has completed.
func (s *System) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Close releases the underlying store. The system may be re-initialized
// afterwards.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	if err := s.store.Close(); err != nil {
		return storageFailure(err)
	}
	return nil
}

func (s *System) requireInitialized() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// storageFailure maps a store error onto the public kinds, keeping the
// cause chain: invalid rows classify as serialization failures,
// filesystem-level causes carry the io kind, everything else is a plain
// storage failure.
func storageFailure(err error) error {
	if errors.Is(err, storage.ErrInvalidData) {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %w: %w", ErrStorage, ErrIO, err)
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// Save distills a batch of messages into the knowledge graph:
//
//  1. messages → event nodes
//  2. keyword entity extraction (+ participation map)
//  3. conceptualization (one concept node per entity kind)
//  4. batch embedding of all new content
//  5. edge assembly (participation + conceptualization)
//  6. persist nodes, then edges, then concept-pool upserts
//  7. insert the new edges into the in-memory graph
//
// Embedding failure degrades, never aborts: the nodes are stored without
// vectors and stay reachable through graph traversal. An empty message
// list is a no-op. The graph is only touched after the store writes
// succeed, preserving the graph ⊆ store invariant.
func (s *System) Save(ctx context.Context, messages []Message) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	events := ingest.MessagesToEvents(messages)
	entities, participation := ingest.ExtractEntities(messages, events)
	concepts, conceptEdges := ingest.ConceptualizeEntities(entities)

	allNodes := make([]*storage.MemoryNode, 0, len(events)+len(entities)+len(concepts))
	allNodes = append(allNodes, events...)
	allNodes = append(allNodes, entities...)
	allNodes = append(allNodes, concepts...)
	if len(allNodes) == 0 {
		return nil
	}

	s.embedNodes(ctx, allNodes)

	edges := ingest.ParticipationEdges(events, participation)
	edges = append(edges, conceptEdges...)

	if err := s.store.AddNodes(ctx, allNodes); err != nil {
		return storageFailure(err)
	}
	if err := s.store.AddEdges(ctx, edges); err != nil {
		return storageFailure(err)
	}

	conceptNames := make([]string, len(concepts))
	for i, concept := range concepts {
		conceptNames[i] = concept.Content
	}
	if len(conceptNames) > 0 {
		if err := s.store.UpsertConcepts(ctx, conceptNames); err != nil {
			return storageFailure(err)
		}
	}

	s.graph.AddEdges(edges)
	return nil
}

// embedNodes fills in embeddings for the batch, best-effort. Vectors of
// the wrong length are dropped with a log line, leaving those nodes
// unembedded.
func (s *System) embedNodes(ctx context.Context, nodes []*storage.MemoryNode) {
	texts := make([]string, len(nodes))
	for i, node := range nodes {
		texts[i] = node.Content
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		log.Printf("memoria: embedding failed, storing nodes without vectors: %v", err)
		return
	}

	dim := s.config.EmbeddingDimensions
	for i, node := range nodes {
		if i >= len(embeddings) {
			break
		}
		if len(embeddings[i]) != dim {
			log.Printf("memoria: node %s embedding length %d, want %d; leaving unembedded",
				node.ID, len(embeddings[i]), dim)
			continue
		}
		node.Embedding = embeddings[i]
	}
}

// Query retrieves relevant memories for a user message.
func (s *System) Query(ctx context.Context, params *QueryParams) (*QueryResult, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	if params == nil || strings.TrimSpace(params.UserMessage) == "" {
		return nil, fmt.Errorf("%w: empty user message", ErrInvalidInput)
	}

	result, err := s.retrieval.Retrieve(ctx, params)
	if err != nil {
		return nil, s.classifyQueryError(err)
	}
	return result, nil
}

// classifyQueryError maps a retrieval failure onto the public error kinds.
func (s *System) classifyQueryError(err error) error {
	var statusErr *embed.StatusError
	switch {
	case errors.Is(err, embed.ErrEmptyInput):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, embed.ErrNoAuthToken), errors.As(err, &statusErr):
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w: %w", ErrEmbedding, ErrHTTP, err)
	}
	return fmt.Errorf("%w: %w", ErrRetrieval, err)
}

// SetAuthToken installs the bearer token forwarded to the embedding
// service. Observable by the next embedding request.
func (s *System) SetAuthToken(token string) {
	s.embedder.SetAuthToken(token)
}

// SetServerURL changes the embedding service base URL. Observable by the
// next embedding request.
func (s *System) SetServerURL(url string) {
	s.embedder.SetServerURL(url)
}

// MarkCustomMemory flags a node so retrieval boosts its rank.
func (s *System) MarkCustomMemory(ctx context.Context, id storage.NodeID) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if err := s.store.MarkCustomMemory(ctx, id); err != nil {
		return storageFailure(err)
	}
	return nil
}

// UnmarkCustomMemory removes a node's custom mark.
func (s *System) UnmarkCustomMemory(ctx context.Context, id storage.NodeID) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if err := s.store.UnmarkCustomMemory(ctx, id); err != nil {
		return storageFailure(err)
	}
	return nil
}

// IsCustomMemory reports whether a node carries a custom mark.
func (s *System) IsCustomMemory(ctx context.Context, id storage.NodeID) (bool, error) {
	if err := s.requireInitialized(); err != nil {
		return false, err
	}
	marked, err := s.store.IsCustomMemory(ctx, id)
	if err != nil {
		return false, storageFailure(err)
	}
	return marked, nil
}

// DeleteMemory removes a node, cascades its edges in the store, and drops
// it from the in-memory graph.
func (s *System) DeleteMemory(ctx context.Context, id storage.NodeID) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}

	if err := s.store.DeleteNodeEdges(ctx, id); err != nil {
		return storageFailure(err)
	}
	if err := s.store.DeleteNode(ctx, id); err != nil {
		return storageFailure(err)
	}
	s.graph.RemoveNode(id)
	return nil
}

// PruneInactiveConcepts deletes concept-pool entries with fewer than
// minCount instances not used within maxAge. Returns the delete count.
func (s *System) PruneInactiveConcepts(ctx context.Context, minCount uint32, maxAge time.Duration) (int, error) {
	if err := s.requireInitialized(); err != nil {
		return 0, err
	}
	pruned, err := s.store.PruneInactiveConcepts(ctx, minCount, maxAge)
	if err != nil {
		return 0, storageFailure(err)
	}
	return pruned, nil
}

// LastSyncTime returns the last recorded sync timestamp, or 0 when the
// store has never synced.
func (s *System) LastSyncTime(ctx context.Context) (int64, error) {
	if err := s.requireInitialized(); err != nil {
		return 0, err
	}
	last, err := s.store.LastSyncTime(ctx)
	if err != nil {
		return 0, storageFailure(err)
	}
	return last, nil
}

// RecordSync overwrites the sync-metadata row with the current time and
// the given version string.
func (s *System) RecordSync(ctx context.Context, version string) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if err := s.store.UpdateSyncMetadata(ctx, time.Now().Unix(), version); err != nil {
		return storageFailure(err)
	}
	return nil
}
