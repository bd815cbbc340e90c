// Package storage provides the persistent table store for Memoria.
//
// Memoria keeps its knowledge graph in five fixed-schema tables backed by a
// single BadgerDB directory:
//
//	nodes           — memory nodes (entity / event / concept) with embeddings
//	edges           — directed, typed relations between nodes
//	concept_pool    — usage statistics per concept name
//	custom_memories — caller-applied rank-boost marks
//	sync_metadata   — single-row last-sync bookkeeping
//
// The store is the source of truth. The in-memory graph index (pkg/graph)
// holds only topology and is rebuilt from the edges table on startup.
//
// Example Usage:
//
//	store := storage.New("./memory_db", 1024)
//	if err := store.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	node := storage.NewEvent("用户说：去北京见了朋友", "2026-01-15-10-30")
//	if err := store.AddNodes(ctx, []*storage.MemoryNode{node}); err != nil {
//		log.Fatal(err)
//	}
//
//	results, _ := store.VectorSearch(ctx, queryVec, 10, nil)
//	for _, r := range results {
//		fmt.Printf("%s (%.3f)\n", r.Node.Content, r.Similarity)
//	}
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the store.
var (
	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("store not initialized")
	ErrInvalidData    = errors.New("invalid data")
	ErrStorageClosed  = errors.New("store closed")
)

// NodeID is a strongly-typed unique identifier for memory nodes.
//
// IDs are UUIDv4 strings: freshly generated for every node, never reused.
type NodeID string

// EdgeID is a strongly-typed unique identifier for edges.
type EdgeID string

// NewNodeID generates a fresh random node identifier.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// NewEdgeID generates a fresh random edge identifier.
func NewEdgeID() EdgeID {
	return EdgeID(uuid.NewString())
}

// NodeType identifies the variant a memory node carries.
type NodeType string

const (
	// NodeTypeEntity is a referent extracted from user text: a person,
	// place, time expression or object.
	NodeTypeEntity NodeType = "entity"
	// NodeTypeEvent is one conversational turn (user + assistant pair)
	// stored as a single memory unit.
	NodeTypeEvent NodeType = "event"
	// NodeTypeConcept is an abstract class ("人物", "地点", …) linking
	// entities of the same kind.
	NodeTypeConcept NodeType = "concept"
)

// EntityType classifies entity nodes.
type EntityType string

const (
	EntityPerson EntityType = "person"
	EntityPlace  EntityType = "place"
	EntityObject EntityType = "object"
	EntityTime   EntityType = "time"
	EntityOther  EntityType = "other"
)

// NodeData is the tagged variant payload of a memory node. The node's kind
// is always derived from the payload — there is no separate type field that
// could disagree with it.
//
// Exactly three implementations exist: EntityData, EventData, ConceptData.
type NodeData interface {
	// NodeType reports which variant this payload is.
	NodeType() NodeType
}

// EntityData is the payload of an entity node.
type EntityData struct {
	// EntityType classifies the referent (person/place/object/time/other).
	EntityType EntityType `json:"entity_type"`
	// Attributes carries optional opaque JSON supplied by the caller.
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// NodeType implements NodeData.
func (EntityData) NodeType() NodeType { return NodeTypeEntity }

// EventData is the payload of an event node.
type EventData struct {
	// EventTime is the canonical "YYYY-MM-DD-HH-MM" stamp of the turn.
	EventTime string `json:"event_time"`
	// Participants lists the entity nodes taking part in the event.
	Participants []NodeID `json:"participants,omitempty"`
	// SourceConversationID optionally names the conversation this event
	// was distilled from.
	SourceConversationID string `json:"source_conversation_id,omitempty"`
}

// NodeType implements NodeData.
func (EventData) NodeType() NodeType { return NodeTypeEvent }

// ConceptData is the payload of a concept node.
type ConceptData struct {
	// InstanceCount is the number of entities conceptualized as this
	// concept. Always ≥ 1.
	InstanceCount uint32 `json:"instance_count"`
	// LastUsedAt is the unix-seconds timestamp of the last use.
	LastUsedAt int64 `json:"last_used_at"`
}

// NodeType implements NodeData.
func (ConceptData) NodeType() NodeType { return NodeTypeConcept }

// MemoryNode is a single knowledge unit: an entity, event or concept.
//
// Common fields live on the struct; variant-specific fields live in Data.
// An empty Embedding means "not yet embedded" — such nodes are reachable
// through graph traversal but invisible to vector search.
type MemoryNode struct {
	ID          NodeID    `json:"id"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Importance  float32   `json:"importance"`
	AccessCount uint32    `json:"access_count"`
	CreatedAt   int64     `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	Data        NodeData  `json:"data"`
}

// NewEntity creates an entity node with a fresh ID and default importance.
func NewEntity(content string, entityType EntityType) *MemoryNode {
	now := time.Now().Unix()
	return &MemoryNode{
		ID:         NewNodeID(),
		Content:    content,
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
		Data:       EntityData{EntityType: entityType},
	}
}

// NewEvent creates an event node with a fresh ID. eventTime must be a
// canonical "YYYY-MM-DD-HH-MM" stamp.
func NewEvent(content, eventTime string) *MemoryNode {
	now := time.Now().Unix()
	return &MemoryNode{
		ID:         NewNodeID(),
		Content:    content,
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
		Data:       EventData{EventTime: eventTime},
	}
}

// NewConcept creates a concept node with a fresh ID.
func NewConcept(content string) *MemoryNode {
	now := time.Now().Unix()
	return &MemoryNode{
		ID:         NewNodeID(),
		Content:    content,
		Importance: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
		Data:       ConceptData{InstanceCount: 1, LastUsedAt: now},
	}
}

// Type reports the node's kind, derived from its variant payload.
func (n *MemoryNode) Type() NodeType {
	if n.Data == nil {
		return ""
	}
	return n.Data.NodeType()
}

// EntityType returns the entity classification, or false for non-entities.
func (n *MemoryNode) EntityType() (EntityType, bool) {
	if d, ok := n.Data.(EntityData); ok {
		return d.EntityType, true
	}
	return "", false
}

// EventTime returns the canonical event stamp, or false for non-events.
func (n *MemoryNode) EventTime() (string, bool) {
	if d, ok := n.Data.(EventData); ok {
		return d.EventTime, true
	}
	return "", false
}

// Edge is a directed, typed relation between two memory nodes.
//
// Relations are drawn from the controlled vocabulary in pkg/graph, or
// user-supplied after normalization. Weight defaults to 1.0.
type Edge struct {
	ID        EdgeID          `json:"id"`
	Source    NodeID          `json:"source_id"`
	Target    NodeID          `json:"target_id"`
	Relation  string          `json:"relation"`
	Weight    float32         `json:"weight"`
	CreatedAt int64           `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// NewEdge creates an edge with a fresh ID and weight 1.0.
func NewEdge(source, target NodeID, relation string) *Edge {
	return &Edge{
		ID:        NewEdgeID(),
		Source:    source,
		Target:    target,
		Relation:  relation,
		Weight:    1.0,
		CreatedAt: time.Now().Unix(),
	}
}

// ConceptPoolEntry tracks usage statistics for one concept name. The pool
// is a separate index from concept nodes: the node carries the concept's
// identity and embedding, the pool carries pruning statistics.
type ConceptPoolEntry struct {
	Name          string `json:"name"`
	InstanceCount uint32 `json:"instance_count"`
	LastUsedAt    int64  `json:"last_used_at"`
}

// CustomMemoryRecord marks a node for a scoring bonus during retrieval.
type CustomMemoryRecord struct {
	NodeID   NodeID `json:"node_id"`
	MarkedAt int64  `json:"marked_at"`
}

// SyncMetadata is the single-row sync bookkeeping table, overwritten on
// each sync.
type SyncMetadata struct {
	LastSyncAt int64  `json:"last_sync_at"`
	Version    string `json:"version"`
}

// ValidateNode checks a node against the data-model invariants. dim is the
// configured embedding dimension; an embedding length of 0 (the "not yet
// embedded" sentinel) is always accepted.
func ValidateNode(n *MemoryNode, dim int) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: node missing id", ErrInvalidData)
	}
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: node %s has empty content", ErrInvalidData, n.ID)
	}
	if n.Importance < 0 || n.Importance > 1 {
		return fmt.Errorf("%w: node %s importance %.3f out of [0,1]", ErrInvalidData, n.ID, n.Importance)
	}
	if len(n.Embedding) != 0 && len(n.Embedding) != dim {
		return fmt.Errorf("%w: node %s embedding length %d, want 0 or %d", ErrInvalidData, n.ID, len(n.Embedding), dim)
	}

	switch d := n.Data.(type) {
	case EntityData:
	case EventData:
		if d.EventTime == "" {
			return fmt.Errorf("%w: event node %s missing event_time", ErrInvalidData, n.ID)
		}
	case ConceptData:
		if d.InstanceCount < 1 {
			return fmt.Errorf("%w: concept node %s instance_count must be ≥ 1", ErrInvalidData, n.ID)
		}
	default:
		return fmt.Errorf("%w: node %s has no variant payload", ErrInvalidData, n.ID)
	}
	return nil
}

// ValidateEdge checks an edge against the data-model invariants: self-loops
// and empty relations are rejected, weight must sit in [0,1].
func ValidateEdge(e *Edge) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: edge missing id", ErrInvalidData)
	}
	if strings.TrimSpace(e.Relation) == "" {
		return fmt.Errorf("%w: edge %s has empty relation", ErrInvalidData, e.ID)
	}
	if e.Source == e.Target {
		return fmt.Errorf("%w: edge %s is a self-loop on %s", ErrInvalidData, e.ID, e.Source)
	}
	if e.Weight < 0 || e.Weight > 1 {
		return fmt.Errorf("%w: edge %s weight %.3f out of [0,1]", ErrInvalidData, e.ID, e.Weight)
	}
	return nil
}

// DecayedWeight computes a node's time-decayed importance:
//
//	importance · e^(−decayRate·ageDays) · (1 + max(0, ln(accessCount))·0.1)
//
// Importance erodes exponentially with age (decayRate is per day) while
// repeated access counters the erosion. Hosts use this for maintenance
// decisions — which memories to surface, demote or delete — independent of
// any query.
func DecayedWeight(node *MemoryNode, decayRate float32) float32 {
	ageDays := float64(time.Now().Unix()-node.CreatedAt) / 86400.0
	decayFactor := math.Exp(-float64(decayRate) * ageDays)

	accessBoost := 1.0
	if node.AccessCount > 0 {
		accessBoost += math.Max(0, math.Log(float64(node.AccessCount))) * 0.1
	}

	return float32(float64(node.Importance) * decayFactor * accessBoost)
}

// MergeNodes folds newNode into existing, used when ingestion dedups by
// content. Keeps the higher importance, bumps the access counter, refreshes
// the embedding when the new node has one, and unions event participants.
func MergeNodes(existing, newNode *MemoryNode) {
	existing.AccessCount++
	existing.UpdatedAt = time.Now().Unix()

	if newNode.Importance > existing.Importance {
		existing.Importance = newNode.Importance
	}
	if len(newNode.Embedding) > 0 {
		existing.Embedding = newNode.Embedding
	}

	ed, ok1 := existing.Data.(EventData)
	nd, ok2 := newNode.Data.(EventData)
	if ok1 && ok2 {
		seen := make(map[NodeID]struct{}, len(ed.Participants))
		for _, p := range ed.Participants {
			seen[p] = struct{}{}
		}
		for _, p := range nd.Participants {
			if _, dup := seen[p]; !dup {
				ed.Participants = append(ed.Participants, p)
			}
		}
		existing.Data = ed
	}
}
