// Package ingest turns raw chat messages into knowledge-graph material.
//
// The pipeline is deliberately heuristic — no LLM calls:
//
//  1. Messages → events: each user message (paired with its immediate
//     assistant reply, when present) becomes one event node.
//  2. Entity extraction: user text is split on punctuation, and segments
//     are classified by keyword lookup into person / place / time
//     entities. Unrecognized segments are dropped.
//  3. Conceptualization: every extracted entity is linked to the one
//     concept node of its kind ("人物", "地点", "时间", "物品").
//
// The facade runs this pipeline inside Save, then embeds the new nodes and
// persists everything.
package ingest

import (
	"github.com/memoria-db/memoria/pkg/graph"
	"github.com/memoria-db/memoria/pkg/storage"
	"github.com/memoria-db/memoria/pkg/temporal"
)

// Message roles understood by the pipeline.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one chat message. Timestamp is unix seconds; zero means
// "unknown", in which case event times fall back to the current time.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Importance buckets assigned to events by user-message length (bytes).
// Longer messages tend to carry more to remember.
const (
	importanceShort  = 0.4 // ≤ 50 bytes
	importanceMedium = 0.6 // ≤ 200 bytes
	importanceLong   = 0.8 // > 200 bytes
)

// Entity text length bounds, in bytes. Single characters are too ambiguous
// to be entities; anything past 20 bytes is a phrase, not a referent.
const (
	minEntityLen = 2
	maxEntityLen = 20
)

// MessagesToEvents scans messages left-to-right and pairs each user message
// with an immediately following assistant reply into one event node. User
// messages without a reply become single-sided events; assistant or system
// messages that do not follow a user message are skipped.
//
// The event time comes from the user message's timestamp, or the current
// time when unset.
func MessagesToEvents(messages []Message) []*storage.MemoryNode {
	nowTime := temporal.NowEventTime()
	var events []*storage.MemoryNode

	for i := 0; i < len(messages); {
		msg := messages[i]
		if msg.Role != RoleUser {
			i++
			continue
		}

		var reply *Message
		if i+1 < len(messages) && messages[i+1].Role == RoleAssistant {
			reply = &messages[i+1]
		}

		content := "用户说：" + msg.Content
		if reply != nil {
			content += "\n回复：" + reply.Content
		}

		eventTime := nowTime
		if msg.Timestamp != 0 {
			eventTime = temporal.FormatEventTime(msg.Timestamp)
		}

		event := storage.NewEvent(content, eventTime)
		event.Importance = importanceForLength(len(msg.Content))
		events = append(events, event)

		if reply != nil {
			i += 2
		} else {
			i++
		}
	}
	return events
}

func importanceForLength(length int) float32 {
	switch {
	case length > 200:
		return importanceLong
	case length > 50:
		return importanceMedium
	default:
		return importanceShort
	}
}

// ExtractEntities pulls typed entities out of the user messages and
// records, per entity, which events it participates in.
//
// Entities are deduplicated by trimmed text within one call: the same
// referent mentioned in several messages yields a single node whose
// participation list covers every mentioning event.
func ExtractEntities(messages []Message, events []*storage.MemoryNode) ([]*storage.MemoryNode, map[storage.NodeID][]storage.NodeID) {
	entityByText := make(map[string]*storage.MemoryNode)
	participation := make(map[storage.NodeID][]storage.NodeID)
	var order []string

	userIdx := -1
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		userIdx++

		for _, segment := range SimpleSegment(msg.Content) {
			if len(segment) < minEntityLen || len(segment) > maxEntityLen {
				continue
			}
			entityType := InferEntityType(segment)
			if entityType == storage.EntityOther {
				continue
			}

			entity, seen := entityByText[segment]
			if !seen {
				entity = storage.NewEntity(segment, entityType)
				entityByText[segment] = entity
				order = append(order, segment)
			}

			// Each user message maps to at most one event node.
			if userIdx < len(events) {
				eventID := events[userIdx].ID
				if !containsID(participation[entity.ID], eventID) {
					participation[entity.ID] = append(participation[entity.ID], eventID)
				}
			}
		}
	}

	entities := make([]*storage.MemoryNode, 0, len(order))
	for _, text := range order {
		entities = append(entities, entityByText[text])
	}
	return entities, participation
}

func containsID(ids []storage.NodeID, id storage.NodeID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// conceptLabels names the concept node for each entity kind.
var conceptLabels = map[storage.EntityType]string{
	storage.EntityPerson: "人物",
	storage.EntityPlace:  "地点",
	storage.EntityTime:   "时间",
	storage.EntityObject: "物品",
}

// ConceptualizeEntities creates (or reuses, within this call) one concept
// node per entity kind present, and a conceptualization edge from every
// entity to its concept.
func ConceptualizeEntities(entities []*storage.MemoryNode) ([]*storage.MemoryNode, []*storage.Edge) {
	conceptByLabel := make(map[string]*storage.MemoryNode)
	var concepts []*storage.MemoryNode
	var edges []*storage.Edge

	for _, entity := range entities {
		entityType, ok := entity.EntityType()
		if !ok {
			continue
		}
		label, known := conceptLabels[entityType]
		if !known {
			continue
		}

		concept, exists := conceptByLabel[label]
		if !exists {
			concept = storage.NewConcept(label)
			conceptByLabel[label] = concept
			concepts = append(concepts, concept)
		}

		edges = append(edges, graph.NewConceptualizationEdge(entity.ID, concept.ID))
	}
	return concepts, edges
}

// ParticipationEdges turns the entity→events participation map into
// `entity —participates_in→ event` edges and fills each event's
// participant list.
func ParticipationEdges(events []*storage.MemoryNode, participation map[storage.NodeID][]storage.NodeID) []*storage.Edge {
	eventByID := make(map[storage.NodeID]*storage.MemoryNode, len(events))
	for _, event := range events {
		eventByID[event.ID] = event
	}

	var edges []*storage.Edge
	for entityID, eventIDs := range participation {
		for _, eventID := range eventIDs {
			edges = append(edges, graph.NewParticipationEdge(entityID, eventID))

			if event, ok := eventByID[eventID]; ok {
				if data, isEvent := event.Data.(storage.EventData); isEvent {
					data.Participants = append(data.Participants, entityID)
					event.Data = data
				}
			}
		}
	}
	return edges
}
