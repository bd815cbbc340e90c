package storage

import (
	"encoding/json"
	"fmt"
)

// Row types mirror the on-disk table schemas. A row is the flat, columnar
// view of a domain object: the variant tag is flattened into the node_type
// column and the variant payload into the metadata JSON string, then
// reconstituted at read.
//
// Round-trip law: node → row → node preserves every field including the
// variant payload, bit-exact for the embedding.

// nodeRow is one row of the nodes table.
type nodeRow struct {
	ID          string    `json:"id"`
	NodeType    string    `json:"node_type"`
	Content     string    `json:"content"`
	Vector      []float32 `json:"vector"`
	Importance  float32   `json:"importance"`
	AccessCount uint32    `json:"access_count"`
	EventTime   string    `json:"event_time,omitempty"`
	CreatedAt   int64     `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	Metadata    string    `json:"metadata"`
}

// nodeMeta is the variant payload stored in the metadata column. It carries
// its own type tag so disagreement with the node_type column is detectable
// at load time.
type nodeMeta struct {
	Type    NodeType     `json:"type"`
	Entity  *EntityData  `json:"entity,omitempty"`
	Event   *EventData   `json:"event,omitempty"`
	Concept *ConceptData `json:"concept,omitempty"`
}

// edgeRow is one row of the edges table.
type edgeRow struct {
	ID        string          `json:"id"`
	SourceID  string          `json:"source_id"`
	TargetID  string          `json:"target_id"`
	Relation  string          `json:"relation"`
	Weight    float32         `json:"weight"`
	CreatedAt int64           `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// nodeToRow flattens a domain node into its columnar row.
func nodeToRow(n *MemoryNode) (*nodeRow, error) {
	meta := nodeMeta{Type: n.Type()}
	var eventTime string

	switch d := n.Data.(type) {
	case EntityData:
		meta.Entity = &d
	case EventData:
		meta.Event = &d
		eventTime = d.EventTime
	case ConceptData:
		meta.Concept = &d
	default:
		return nil, fmt.Errorf("%w: node %s has no variant payload", ErrInvalidData, n.ID)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal node metadata: %w", err)
	}

	return &nodeRow{
		ID:          string(n.ID),
		NodeType:    string(n.Type()),
		Content:     n.Content,
		Vector:      n.Embedding,
		Importance:  n.Importance,
		AccessCount: n.AccessCount,
		EventTime:   eventTime,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		Metadata:    string(metaJSON),
	}, nil
}

// rowToNode reconstitutes a domain node from its columnar row.
//
// The node_type column must agree with the metadata payload's own tag; a
// disagreement means the row was corrupted and the row is rejected (the
// caller logs and skips it, per the batch-read contract).
func rowToNode(row *nodeRow) (*MemoryNode, error) {
	var meta nodeMeta
	if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("node %s: parse metadata: %w", row.ID, err)
	}

	if string(meta.Type) != row.NodeType {
		return nil, fmt.Errorf("%w: node %s node_type column %q disagrees with payload %q",
			ErrInvalidData, row.ID, row.NodeType, meta.Type)
	}

	var data NodeData
	switch meta.Type {
	case NodeTypeEntity:
		if meta.Entity == nil {
			return nil, fmt.Errorf("%w: node %s missing entity payload", ErrInvalidData, row.ID)
		}
		data = *meta.Entity
	case NodeTypeEvent:
		if meta.Event == nil {
			return nil, fmt.Errorf("%w: node %s missing event payload", ErrInvalidData, row.ID)
		}
		data = *meta.Event
	case NodeTypeConcept:
		if meta.Concept == nil {
			return nil, fmt.Errorf("%w: node %s missing concept payload", ErrInvalidData, row.ID)
		}
		data = *meta.Concept
	default:
		return nil, fmt.Errorf("%w: node %s has unknown node_type %q", ErrInvalidData, row.ID, row.NodeType)
	}

	return &MemoryNode{
		ID:          NodeID(row.ID),
		Content:     row.Content,
		Embedding:   row.Vector,
		Importance:  row.Importance,
		AccessCount: row.AccessCount,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Data:        data,
	}, nil
}

// edgeToRow flattens a domain edge into its columnar row.
func edgeToRow(e *Edge) *edgeRow {
	return &edgeRow{
		ID:        string(e.ID),
		SourceID:  string(e.Source),
		TargetID:  string(e.Target),
		Relation:  e.Relation,
		Weight:    e.Weight,
		CreatedAt: e.CreatedAt,
		Metadata:  e.Metadata,
	}
}

// marshalRow encodes any row value as JSON, the store's on-disk value
// format.
func marshalRow(row any) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	return data, nil
}

func unmarshalNodeRow(data []byte) (*nodeRow, error) {
	var row nodeRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("unmarshal node row: %w", err)
	}
	return &row, nil
}

func unmarshalEdgeRow(data []byte) (*edgeRow, error) {
	var row edgeRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("unmarshal edge row: %w", err)
	}
	return &row, nil
}

func unmarshalInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal row: %w", err)
	}
	return nil
}

// rowToEdge reconstitutes a domain edge from its columnar row.
func rowToEdge(row *edgeRow) *Edge {
	return &Edge{
		ID:        EdgeID(row.ID),
		Source:    NodeID(row.SourceID),
		Target:    NodeID(row.TargetID),
		Relation:  row.Relation,
		Weight:    row.Weight,
		CreatedAt: row.CreatedAt,
		Metadata:  row.Metadata,
	}
}
