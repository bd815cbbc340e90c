package graph

import (
	"strings"

	"github.com/memoria-db/memoria/pkg/storage"
)

// Controlled relation vocabulary. Edges use these canonical strings;
// user-supplied relations pass through NormalizeRelation first.
const (
	// Entity ↔ entity
	RelationRelatesTo = "relates_to"
	RelationBelongsTo = "belongs_to"
	RelationCreatedBy = "created_by"
	RelationLocatedAt = "located_at"
	RelationKnows     = "knows"
	RelationOwns      = "owns"

	// Entity ↔ event
	RelationParticipatesIn = "participates_in"
	RelationInitiated      = "initiated"
	RelationAffectedBy     = "affected_by"

	// Event ↔ event
	RelationBefore     = "before"
	RelationAfter      = "after"
	RelationAtSameTime = "at_same_time"
	RelationBecause    = "because"
	RelationAsResult   = "as_result"

	// Entity/event ↔ concept
	RelationIsA              = "is_a"
	RelationInstanceOf       = "instance_of"
	RelationConceptualizedAs = "conceptualized_as"
)

// relationSynonyms maps Chinese (and loose) relation spellings to canonical
// vocabulary entries.
var relationSynonyms = map[string]string{
	// Temporal
	"之前": RelationBefore,
	"前":  RelationBefore,
	"早于": RelationBefore,
	"之后": RelationAfter,
	"后":  RelationAfter,
	"晚于": RelationAfter,
	"同时": RelationAtSameTime,
	"一起": RelationAtSameTime,
	"因为": RelationBecause,
	"由于": RelationBecause,
	"因":  RelationBecause,
	"导致": RelationAsResult,
	"结果": RelationAsResult,
	"所以": RelationAsResult,

	// Ownership / association
	"属于": RelationBelongsTo,
	"归属": RelationBelongsTo,
	"拥有": RelationOwns,
	"有":  RelationOwns,
	"认识": RelationKnows,
	"知道": RelationKnows,
	"位于": RelationLocatedAt,
	"在":  RelationLocatedAt,
}

// NormalizeRelation maps a user-supplied relation onto the controlled
// vocabulary. Unknown relations are lowercased and kept as-is.
func NormalizeRelation(relation string) string {
	normalized := strings.ToLower(strings.TrimSpace(relation))
	if canonical, ok := relationSynonyms[normalized]; ok {
		return canonical
	}
	return normalized
}

// NewParticipationEdge creates an `entity —participates_in→ event` edge.
func NewParticipationEdge(entityID, eventID storage.NodeID) *storage.Edge {
	return storage.NewEdge(entityID, eventID, RelationParticipatesIn)
}

// NewConceptualizationEdge creates a `node —conceptualized_as→ concept`
// edge.
func NewConceptualizationEdge(nodeID, conceptID storage.NodeID) *storage.Edge {
	return storage.NewEdge(nodeID, conceptID, RelationConceptualizedAs)
}

// NewParticipationEdges links several entities to one event.
func NewParticipationEdges(entityIDs []storage.NodeID, eventID storage.NodeID) []*storage.Edge {
	edges := make([]*storage.Edge, 0, len(entityIDs))
	for _, entityID := range entityIDs {
		edges = append(edges, NewParticipationEdge(entityID, eventID))
	}
	return edges
}

// NewConceptualizationEdges links one node to several concepts.
func NewConceptualizationEdges(nodeID storage.NodeID, conceptIDs []storage.NodeID) []*storage.Edge {
	edges := make([]*storage.Edge, 0, len(conceptIDs))
	for _, conceptID := range conceptIDs {
		edges = append(edges, NewConceptualizationEdge(nodeID, conceptID))
	}
	return edges
}
