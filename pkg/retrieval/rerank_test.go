package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoria-db/memoria/pkg/storage"
)

func eventNode(content, eventTime string) *storage.MemoryNode {
	return storage.NewEvent(content, eventTime)
}

func TestRerankBasic(t *testing.T) {
	r := NewReranker(DefaultRerankConfig())

	node := eventNode("测试事件", "2026-02-06-12-00")
	query := make([]float32, 8)

	results := r.Rerank(query, []*storage.MemoryNode{node})
	require.Len(t, results, 1)
	assert.Same(t, node, results[0].Node)
}

func TestRerankOrdersBySimilarity(t *testing.T) {
	r := NewReranker(DefaultRerankConfig())

	near := eventNode("近", "2026-01-01-00-00")
	near.Embedding = []float32{1, 0}
	far := eventNode("远", "2026-01-01-00-00")
	far.Embedding = []float32{0, 1}

	results := r.Rerank([]float32{1, 0}, []*storage.MemoryNode{far, near})
	require.Len(t, results, 2)
	assert.Equal(t, "近", results[0].Node.Content)
}

func TestRerankCustomBonus(t *testing.T) {
	r := NewReranker(DefaultRerankConfig())

	plain := eventNode("普通", "2026-01-01-00-00")
	marked := eventNode("标记", "2026-01-01-00-00")
	r.AddCustomMemory(marked.ID)

	results := r.Rerank(make([]float32, 4), []*storage.MemoryNode{plain, marked})
	require.Len(t, results, 2)
	assert.Equal(t, "标记", results[0].Node.Content)
	assert.True(t, results[0].IsCustom)
	assert.Greater(t, results[0].FinalScore, results[1].FinalScore)
}

func TestRerankTypeMultiplier(t *testing.T) {
	r := NewReranker(DefaultRerankConfig())

	event := eventNode("事件", "2026-01-01-00-00")
	concept := storage.NewConcept("概念")
	// Identical embeddings and importance: the type multiplier decides.
	event.Embedding = []float32{1, 0}
	concept.Embedding = []float32{1, 0}

	results := r.Rerank([]float32{1, 0}, []*storage.MemoryNode{concept, event})
	require.Len(t, results, 2)
	assert.Equal(t, storage.NodeTypeEvent, results[0].Node.Type())
}

func TestRerankTruncatesToTopN(t *testing.T) {
	config := DefaultRerankConfig()
	config.TopN = 2
	r := NewReranker(config)

	var nodes []*storage.MemoryNode
	for i := 0; i < 5; i++ {
		nodes = append(nodes, eventNode("事件", "2026-01-01-00-00"))
	}

	results := r.Rerank(make([]float32, 4), nodes)
	assert.Len(t, results, 2)
}

func TestRerankWithDiversityPrefersSpread(t *testing.T) {
	config := DefaultRerankConfig()
	config.TopN = 2
	r := NewReranker(config)

	a := eventNode("A", "2026-01-01-00-00")
	a.Embedding = []float32{1, 0}
	aTwin := eventNode("A2", "2026-01-01-00-00")
	aTwin.Embedding = []float32{0.99, 0.01}
	b := eventNode("B", "2026-01-01-00-00")
	b.Embedding = []float32{0, 1}

	// With a strong diversity term, the near-duplicate of A loses to B.
	results := r.RerankWithDiversity([]float32{1, 0}, []*storage.MemoryNode{a, aTwin, b}, 0.3)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Node.Content)
	assert.Equal(t, "B", results[1].Node.Content)
}

func TestDeduplicateByContent(t *testing.T) {
	a := eventNode("事件A", "2026-01-01-00-00")
	b := eventNode("事件A", "2026-01-01-00-00")

	deduped := Deduplicate([]ScoredMemory{
		{Node: a, FinalScore: 0.8},
		{Node: b, FinalScore: 0.7},
	}, 0.95)

	require.Len(t, deduped, 1)
	assert.Same(t, a, deduped[0].Node)
}

func TestDeduplicateByEmbedding(t *testing.T) {
	a := eventNode("甲", "2026-01-01-00-00")
	a.Embedding = []float32{1, 0}
	b := eventNode("乙", "2026-01-01-00-00")
	b.Embedding = []float32{0.999, 0.001}
	c := eventNode("丙", "2026-01-01-00-00")
	c.Embedding = []float32{0, 1}

	deduped := Deduplicate([]ScoredMemory{
		{Node: a}, {Node: b}, {Node: c},
	}, 0.95)

	require.Len(t, deduped, 2)
	assert.Equal(t, "甲", deduped[0].Node.Content)
	assert.Equal(t, "丙", deduped[1].Node.Content)
}

func TestSortByTime(t *testing.T) {
	early := ScoredMemory{Node: eventNode("早", "2026-01-01-08-00")}
	late := ScoredMemory{Node: eventNode("晚", "2026-01-02-08-00")}

	memories := []ScoredMemory{late, early}
	SortByTime(memories, true)
	assert.Equal(t, "早", memories[0].Node.Content)

	SortByTime(memories, false)
	assert.Equal(t, "晚", memories[0].Node.Content)
}

func TestGroupByDate(t *testing.T) {
	memories := []ScoredMemory{
		{Node: eventNode("事件1", "2026-01-01-10-00")},
		{Node: eventNode("事件2", "2026-01-01-15-00")},
		{Node: eventNode("事件3", "2026-01-02-10-00")},
		{Node: storage.NewConcept("概念")},
	}

	groups := GroupByDate(memories)
	require.Len(t, groups, 3)

	byDate := map[string]int{}
	for _, g := range groups {
		byDate[g.Date] = len(g.Memories)
	}
	assert.Equal(t, 2, byDate["2026-01-01"])
	assert.Equal(t, 1, byDate["2026-01-02"])
	assert.Equal(t, 1, byDate["未知日期"])
}

func TestFormatMemories(t *testing.T) {
	memories := []RetrievedMemory{
		{Content: "用户说：去北京", MemoryType: storage.NodeTypeEvent, TimeAgo: "2天前"},
		{Content: "北京", MemoryType: storage.NodeTypeEntity},
		{Content: "地点", MemoryType: storage.NodeTypeConcept},
	}

	formatted := FormatMemories(memories)
	assert.Contains(t, formatted, "## 相关记忆\n")
	assert.Contains(t, formatted, "- [事件] 用户说：去北京 (2天前)")
	assert.Contains(t, formatted, "- [实体] 北京")
	assert.Contains(t, formatted, "- [概念] 地点")
}

func TestFormatMemoriesEmpty(t *testing.T) {
	assert.Equal(t, "", FormatMemories(nil))
}

func TestScoredToRetrieved(t *testing.T) {
	node := eventNode("事件", "2026-01-01-10-00")
	results := ScoredToRetrieved([]ScoredMemory{{Node: node, FinalScore: 0.42}})

	require.Len(t, results, 1)
	assert.Equal(t, storage.NodeTypeEvent, results[0].MemoryType)
	assert.InDelta(t, 0.42, results[0].Relevance, 1e-6)
	assert.Equal(t, "2026-01-01-10-00", results[0].EventTime)
	assert.NotEmpty(t, results[0].TimeAgo)
}

func TestRerankRecencyDecay(t *testing.T) {
	r := NewReranker(DefaultRerankConfig())

	fresh := eventNode("新", "2026-01-01-00-00")
	stale := eventNode("旧", "2026-01-01-00-00")
	stale.CreatedAt = time.Now().Add(-90 * 24 * time.Hour).Unix()

	results := r.Rerank(make([]float32, 4), []*storage.MemoryNode{stale, fresh})
	require.Len(t, results, 2)
	assert.Equal(t, "新", results[0].Node.Content)
}
