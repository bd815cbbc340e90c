package retrieval

import (
	"sort"

	"github.com/memoria-db/memoria/pkg/math/vector"
	"github.com/memoria-db/memoria/pkg/storage"
)

// VectorSearchConfig tunes VectorSearchInMemory.
type VectorSearchConfig struct {
	// TopK bounds the result count.
	TopK int
	// Threshold drops results scoring below it.
	Threshold float32
	// Metric selects the similarity measure.
	Metric vector.Metric
	// Normalize scales the query to unit length before comparing.
	Normalize bool
}

// DefaultVectorSearchConfig returns the standard in-memory search shape:
// cosine similarity, top 10, no threshold.
func DefaultVectorSearchConfig() VectorSearchConfig {
	return VectorSearchConfig{
		TopK:      10,
		Threshold: 0,
		Metric:    vector.Cosine,
		Normalize: true,
	}
}

// VectorSearchResult is one in-memory search hit.
type VectorSearchResult struct {
	NodeID   storage.NodeID
	Score    float32
	Content  string
	NodeType storage.NodeType
}

// VectorSearchInMemory ranks a node slice against a query vector without
// touching the store. Useful for callers holding nodes already in hand —
// re-scoring a candidate set, or searching a subgraph — where a trip
// through Store.VectorSearch would rescan the whole table.
//
// Unembedded nodes are skipped; results below the threshold are dropped;
// the remainder is sorted by score descending and truncated to TopK.
func VectorSearchInMemory(query []float32, nodes []*storage.MemoryNode, config VectorSearchConfig) []VectorSearchResult {
	if config.Normalize {
		query = vector.Normalize(query)
	}

	results := make([]VectorSearchResult, 0, len(nodes))
	for _, node := range nodes {
		if len(node.Embedding) == 0 {
			continue
		}
		score := vector.Similarity(query, node.Embedding, config.Metric)
		if score < config.Threshold {
			continue
		}
		results = append(results, VectorSearchResult{
			NodeID:   node.ID,
			Score:    score,
			Content:  node.Content,
			NodeType: node.Type(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > config.TopK {
		results = results[:config.TopK]
	}
	return results
}
