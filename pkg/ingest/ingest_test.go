package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoria-db/memoria/pkg/graph"
	"github.com/memoria-db/memoria/pkg/storage"
)

func TestSimpleSegment(t *testing.T) {
	segments := SimpleSegment("今天去了公园，见到了朋友。天气 很好！")
	assert.Equal(t, []string{"今天去了公园", "见到了朋友", "天气", "很好"}, segments)
}

func TestSimpleSegmentASCIIPunctuation(t *testing.T) {
	segments := SimpleSegment("hello, world. (test)")
	assert.Equal(t, []string{"hello", "world", "test"}, segments)
}

func TestSimpleSegmentEmpty(t *testing.T) {
	assert.Empty(t, SimpleSegment(""))
	assert.Empty(t, SimpleSegment("，。！"))
}

func TestInferEntityType(t *testing.T) {
	tests := []struct {
		segment string
		want    storage.EntityType
	}{
		{"我的朋友张三", storage.EntityPerson},
		{"北京的公园", storage.EntityPlace},
		{"今天下午", storage.EntityTime},
		{"一本书", storage.EntityOther},
		// Person keywords win over place and time.
		{"老师今天在学校", storage.EntityPerson},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferEntityType(tt.segment), "segment %q", tt.segment)
	}
}

func TestMessagesToEventsPairing(t *testing.T) {
	events := MessagesToEvents([]Message{
		{Role: RoleUser, Content: "去北京见了朋友", Timestamp: 1700000000},
		{Role: RoleAssistant, Content: "好的"},
		{Role: RoleUser, Content: "然后回家了"},
	})

	require.Len(t, events, 2)

	assert.Equal(t, "用户说：去北京见了朋友\n回复：好的", events[0].Content)
	eventTime, ok := events[0].EventTime()
	require.True(t, ok)
	assert.Equal(t, "2023-11-14-22-13", eventTime)

	// Second user message has no reply: single-sided event with a
	// current-time stamp.
	assert.Equal(t, "用户说：然后回家了", events[1].Content)
	eventTime, ok = events[1].EventTime()
	require.True(t, ok)
	assert.NotEmpty(t, eventTime)
}

func TestMessagesToEventsSkipsLoneAssistant(t *testing.T) {
	events := MessagesToEvents([]Message{
		{Role: RoleAssistant, Content: "你好"},
		{Role: RoleSystem, Content: "system prompt"},
	})
	assert.Empty(t, events)
}

func TestMessagesToEventsImportanceBuckets(t *testing.T) {
	short := strings.Repeat("a", 10)
	medium := strings.Repeat("a", 100)
	long := strings.Repeat("a", 300)

	events := MessagesToEvents([]Message{
		{Role: RoleUser, Content: short},
		{Role: RoleUser, Content: medium},
		{Role: RoleUser, Content: long},
	})

	require.Len(t, events, 3)
	assert.InDelta(t, 0.4, events[0].Importance, 1e-6)
	assert.InDelta(t, 0.6, events[1].Importance, 1e-6)
	assert.InDelta(t, 0.8, events[2].Importance, 1e-6)
}

func TestExtractEntitiesDedup(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "回家吃饭"},
		{Role: RoleAssistant, Content: "好"},
		{Role: RoleUser, Content: "回家吃饭"},
	}
	events := MessagesToEvents(messages)
	require.Len(t, events, 2)

	entities, participation := ExtractEntities(messages, events)

	// The same segment in both messages yields a single entity node.
	require.Len(t, entities, 1)
	home := entities[0]
	assert.Equal(t, "回家吃饭", home.Content)

	entityType, ok := home.EntityType()
	require.True(t, ok)
	assert.Equal(t, storage.EntityPlace, entityType)

	// ...and participates in both events.
	assert.Len(t, participation[home.ID], 2)
}

func TestExtractEntitiesSkipsOther(t *testing.T) {
	messages := []Message{{Role: RoleUser, Content: "苹果，香蕉"}}
	events := MessagesToEvents(messages)

	entities, _ := ExtractEntities(messages, events)
	assert.Empty(t, entities, "unclassifiable segments are dropped")
}

func TestExtractEntitiesLengthBounds(t *testing.T) {
	// A single-byte segment and an over-long segment are both skipped even
	// when they contain keywords.
	messages := []Message{{Role: RoleUser, Content: "y," + strings.Repeat("家", 10)}}
	events := MessagesToEvents(messages)

	entities, _ := ExtractEntities(messages, events)
	assert.Empty(t, entities)
}

func TestConceptualizeEntities(t *testing.T) {
	person := storage.NewEntity("朋友", storage.EntityPerson)
	person2 := storage.NewEntity("老师", storage.EntityPerson)
	place := storage.NewEntity("学校", storage.EntityPlace)

	concepts, edges := ConceptualizeEntities([]*storage.MemoryNode{person, person2, place})

	// One concept per kind present.
	require.Len(t, concepts, 2)
	labels := []string{concepts[0].Content, concepts[1].Content}
	assert.Contains(t, labels, "人物")
	assert.Contains(t, labels, "地点")

	require.Len(t, edges, 3)
	for _, e := range edges {
		assert.Equal(t, graph.RelationConceptualizedAs, e.Relation)
	}

	// Both persons link to the same 人物 concept.
	assert.Equal(t, edges[0].Target, edges[1].Target)
}

func TestParticipationEdges(t *testing.T) {
	event := storage.NewEvent("用户说：去公园", "2026-01-01-10-00")
	entity := storage.NewEntity("公园", storage.EntityPlace)

	edges := ParticipationEdges(
		[]*storage.MemoryNode{event},
		map[storage.NodeID][]storage.NodeID{entity.ID: {event.ID}},
	)

	require.Len(t, edges, 1)
	assert.Equal(t, entity.ID, edges[0].Source)
	assert.Equal(t, event.ID, edges[0].Target)
	assert.Equal(t, graph.RelationParticipatesIn, edges[0].Relation)

	// The event's participant list is filled in as a side effect.
	data, ok := event.Data.(storage.EventData)
	require.True(t, ok)
	assert.Equal(t, []storage.NodeID{entity.ID}, data.Participants)
}
