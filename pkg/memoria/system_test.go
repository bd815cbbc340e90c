package memoria

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoria-db/memoria/pkg/storage"
)

const testDim = 8

// embedText is the deterministic test embedding: a character histogram
// folded into testDim buckets, so overlapping texts get similar vectors.
func embedText(text string) []float32 {
	vec := make([]float32, testDim)
	for _, r := range text {
		vec[int(r)%testDim]++
	}
	return vec
}

// newEmbeddingServer serves the OpenAI-compatible wire format over the
// histogram embedding. It rejects requests without a bearer token.
func newEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req struct {
			Input any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var texts []string
		switch v := req.Input.(type) {
		case string:
			texts = []string{v}
		case []any:
			for _, item := range v {
				texts = append(texts, item.(string))
			}
		}

		data := make([]map[string]any, len(texts))
		for i, text := range texts {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": embedText(text)}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test",
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestSystem(t *testing.T) *System {
	t.Helper()
	server := newEmbeddingServer(t)

	config := DefaultConfig()
	config.DBPath = t.TempDir()
	config.ServerURL = server.URL
	config.EmbeddingDimensions = testDim
	config.EmbeddingMaxRetries = 0
	config.EmbeddingRetryDelay = time.Millisecond

	system := NewWithConfig(config)
	require.NoError(t, system.Initialize(context.Background()))
	t.Cleanup(func() { system.Close() })

	system.SetAuthToken("test-token")
	return system
}

func TestNotInitialized(t *testing.T) {
	system := New(t.TempDir())
	ctx := context.Background()

	assert.False(t, system.IsInitialized())

	err := system.Save(ctx, []Message{{Role: RoleUser, Content: "测试"}})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = system.Query(ctx, &QueryParams{UserMessage: "测试"})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeIdempotent(t *testing.T) {
	system := newTestSystem(t)
	require.NoError(t, system.Initialize(context.Background()))
	assert.True(t, system.IsInitialized())
}

func TestSaveEmptyNoOp(t *testing.T) {
	system := newTestSystem(t)
	assert.NoError(t, system.Save(context.Background(), nil))
}

func TestQueryEmptyDatabase(t *testing.T) {
	system := newTestSystem(t)

	result, err := system.Query(context.Background(), &QueryParams{UserMessage: "北京"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Empty(t, result.FormattedContext)
}

func TestInitSaveQuery(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	err := system.Save(ctx, []Message{
		{Role: RoleUser, Content: "去北京见了朋友", Timestamp: 1700000000},
		{Role: RoleAssistant, Content: "好的", Timestamp: 1700000001},
	})
	require.NoError(t, err)

	result, err := system.Query(ctx, &QueryParams{UserMessage: "北京", IncludeRaw: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Count, 1)
	assert.Contains(t, result.FormattedContext, "[事件]")
	assert.Contains(t, result.FormattedContext, "北京")
}

func TestSaveCreatesGraphMaterial(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "今天去了公园，见到了朋友"},
		{Role: RoleAssistant, Content: "真好"},
	}))

	// One event, 公园-segment place entity... the graph should now hold
	// participation and conceptualization topology.
	assert.Greater(t, system.graph.EdgeCount(), 0)

	concepts, err := system.store.NodesByType(ctx, storage.NodeTypeConcept)
	require.NoError(t, err)
	assert.NotEmpty(t, concepts)

	pool, err := system.store.AllConcepts(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, pool)
}

func TestDedupRepeatedEntity(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "回家"},
		{Role: RoleAssistant, Content: "好"},
		{Role: RoleUser, Content: "回家"},
		{Role: RoleAssistant, Content: "好"},
	}))

	entities, err := system.store.NodesByType(ctx, storage.NodeTypeEntity)
	require.NoError(t, err)

	var homes int
	for _, e := range entities {
		if e.Content == "回家" {
			homes++
		}
	}
	assert.Equal(t, 1, homes, "repeated 家 segment must yield one entity")

	concepts, err := system.store.NodesByType(ctx, storage.NodeTypeConcept)
	require.NoError(t, err)
	var places int
	for _, c := range concepts {
		if c.Content == "地点" {
			places++
		}
	}
	assert.Equal(t, 1, places, "one 地点 concept per save")
}

func TestConceptBridgingAcrossEvents(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	// Two persons in separate saves; both conceptualize to 人物 within
	// their own save.
	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "见了朋友张三"},
		{Role: RoleAssistant, Content: "好"},
	}))
	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "见了同学李四"},
		{Role: RoleAssistant, Content: "好"},
	}))

	result, err := system.Query(ctx, &QueryParams{UserMessage: "我的朋友", TopK: 10, IncludeRaw: true})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Count, 1)
}

func TestCustomMarkBoostsRank(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	// Two identical events in separate saves: equal raw scores.
	require.NoError(t, system.Save(ctx, []Message{{Role: RoleUser, Content: "一模一样的事情"}}))
	require.NoError(t, system.Save(ctx, []Message{{Role: RoleUser, Content: "一模一样的事情"}}))

	events, err := system.store.NodesByType(ctx, storage.NodeTypeEvent)
	require.NoError(t, err)
	require.Len(t, events, 2)

	marked := events[1]
	require.NoError(t, system.MarkCustomMemory(ctx, marked.ID))

	isMarked, err := system.IsCustomMemory(ctx, marked.ID)
	require.NoError(t, err)
	assert.True(t, isMarked)

	result, err := system.Query(ctx, &QueryParams{UserMessage: "一模一样的事情", IncludeRaw: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Count, 2)
	assert.Greater(t, result.Raw[0].Relevance, result.Raw[1].Relevance,
		"marked event must rank strictly first")
}

func TestQueryEmptyMessageIsInvalidInput(t *testing.T) {
	system := newTestSystem(t)

	_, err := system.Query(context.Background(), &QueryParams{UserMessage: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = system.Query(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStorageFailureClassification(t *testing.T) {
	err := storageFailure(fmt.Errorf("bad row: %w", storage.ErrInvalidData))
	assert.ErrorIs(t, err, ErrSerialization)

	err = storageFailure(&fs.PathError{Op: "open", Path: "/nope", Err: errors.New("permission denied")})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, ErrIO)

	err = storageFailure(errors.New("transaction conflict"))
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrSerialization)
}

func TestQueryWithoutTokenIsEmbeddingError(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()
	system.SetAuthToken("")

	_, err := system.Query(ctx, &QueryParams{UserMessage: "北京"})
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestSaveDegradesWithoutEmbeddings(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()
	system.SetAuthToken("")

	// Embedding fails, but the save still lands: nodes are stored without
	// vectors and remain reachable through the graph.
	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "去医院看望朋友"},
		{Role: RoleAssistant, Content: "保重"},
	}))

	events, err := system.store.NodesByType(ctx, storage.NodeTypeEvent)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Embedding)
}

func TestDanglingEdgesDroppedOnInitialize(t *testing.T) {
	server := newEmbeddingServer(t)
	dir := t.TempDir()
	ctx := context.Background()

	config := DefaultConfig()
	config.DBPath = dir
	config.ServerURL = server.URL
	config.EmbeddingDimensions = testDim

	system := NewWithConfig(config)
	require.NoError(t, system.Initialize(ctx))
	system.SetAuthToken("test-token")

	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "去学校见老师"},
		{Role: RoleAssistant, Content: "好"},
	}))

	// Simulate a partial delete: remove one entity row directly, leaving
	// its edges behind.
	entities, err := system.store.NodesByType(ctx, storage.NodeTypeEntity)
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	require.NoError(t, system.store.DeleteNode(ctx, entities[0].ID))
	require.NoError(t, system.Close())

	// Re-initialization succeeds and simply drops the dangling edges.
	reopened := NewWithConfig(config)
	require.NoError(t, reopened.Initialize(ctx))
	defer reopened.Close()
	reopened.SetAuthToken("test-token")

	assert.False(t, reopened.graph.ContainsNode(entities[0].ID))

	// Orphan nodes are still retrievable by vector search.
	result, err := reopened.Query(ctx, &QueryParams{UserMessage: "学校"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Count, 1)
}

func TestDeleteMemoryCascades(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	require.NoError(t, system.Save(ctx, []Message{
		{Role: RoleUser, Content: "去餐厅吃饭"},
		{Role: RoleAssistant, Content: "好"},
	}))

	events, err := system.store.NodesByType(ctx, storage.NodeTypeEvent)
	require.NoError(t, err)
	require.Len(t, events, 1)
	eventID := events[0].ID

	require.NoError(t, system.DeleteMemory(ctx, eventID))

	_, err = system.store.GetNode(ctx, eventID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	edges, err := system.store.NodeEdges(ctx, eventID)
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.False(t, system.graph.ContainsNode(eventID))
}

func TestPruneAndSyncPassthroughs(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	pruned, err := system.PruneInactiveConcepts(ctx, 2, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	last, err := system.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, system.RecordSync(ctx, "1.0.0"))
	last, err = system.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Greater(t, last, int64(0))
}

func TestSetServerURLRedirects(t *testing.T) {
	system := newTestSystem(t)
	ctx := context.Background()

	// Point at a dead server: queries must surface an embedding error with
	// the transport kind underneath.
	system.SetServerURL("http://127.0.0.1:1")
	_, err := system.Query(ctx, &QueryParams{UserMessage: "北京"})
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.ErrorIs(t, err, ErrHTTP)
}
