package memoria

import (
	"time"

	"github.com/memoria-db/memoria/pkg/embed"
	"github.com/memoria-db/memoria/pkg/retrieval"
)

// Config holds the memory system configuration.
//
// Example:
//
//	config := memoria.DefaultConfig()
//	config.DBPath = "/var/lib/memoria"
//	config.ServerURL = "https://memory.example.com/api"
//
//	system := memoria.NewWithConfig(config)
type Config struct {
	// DBPath is the database directory.
	DBPath string `yaml:"db_path"`

	// Embedding service
	ServerURL           string        `yaml:"server_url"`
	AuthToken           string        `yaml:"auth_token"`
	EmbeddingEndpoint   string        `yaml:"embedding_endpoint"`
	EmbeddingModel      string        `yaml:"embedding_model"`
	EmbeddingDimensions int           `yaml:"embedding_dimensions"`
	EmbeddingBatchSize  int           `yaml:"embedding_batch_size"`
	EmbeddingTimeout    time.Duration `yaml:"embedding_timeout"`
	EmbeddingMaxRetries int           `yaml:"embedding_max_retries"`
	EmbeddingRetryDelay time.Duration `yaml:"embedding_retry_delay"`

	// Retrieval
	TopK             int     `yaml:"top_k"`
	HopDepth         int     `yaml:"hop_depth"`
	MaxSubgraphNodes int     `yaml:"max_subgraph_nodes"`
	RerankTopN       int     `yaml:"rerank_top_n"`
	ContextWeight    float32 `yaml:"context_weight"`
}

// DefaultConfig returns the standard configuration: ./memory_db, bge-m3 at
// 1024 dimensions, top-10 vector search, 2-hop expansion, 5 final results.
func DefaultConfig() *Config {
	serverDefaults := embed.DefaultServerConfig()
	embedDefaults := embed.DefaultConfig()
	retrievalDefaults := retrieval.DefaultConfig()

	return &Config{
		DBPath:              "./memory_db",
		ServerURL:           serverDefaults.ServerURL,
		EmbeddingEndpoint:   serverDefaults.EmbeddingEndpoint,
		EmbeddingModel:      embedDefaults.Model,
		EmbeddingDimensions: embedDefaults.Dimensions,
		EmbeddingBatchSize:  embedDefaults.BatchSize,
		EmbeddingTimeout:    embedDefaults.Timeout,
		EmbeddingMaxRetries: embedDefaults.MaxRetries,
		EmbeddingRetryDelay: embedDefaults.RetryDelay,
		TopK:                retrievalDefaults.TopK,
		HopDepth:            retrievalDefaults.HopDepth,
		MaxSubgraphNodes:    retrievalDefaults.MaxSubgraphNodes,
		RerankTopN:          retrievalDefaults.RerankTopN,
		ContextWeight:       retrievalDefaults.ContextWeight,
	}
}

// serverConfig shapes the embedder's server settings.
func (c *Config) serverConfig() *embed.ServerConfig {
	return &embed.ServerConfig{
		ServerURL:         c.ServerURL,
		AuthToken:         c.AuthToken,
		EmbeddingEndpoint: c.EmbeddingEndpoint,
	}
}

// embedConfig shapes the embedder's request settings.
func (c *Config) embedConfig() *embed.Config {
	return &embed.Config{
		Model:      c.EmbeddingModel,
		Dimensions: c.EmbeddingDimensions,
		BatchSize:  c.EmbeddingBatchSize,
		Timeout:    c.EmbeddingTimeout,
		MaxRetries: c.EmbeddingMaxRetries,
		RetryDelay: c.EmbeddingRetryDelay,
	}
}

// retrievalConfig shapes the retrieval pipeline settings.
func (c *Config) retrievalConfig() retrieval.Config {
	return retrieval.Config{
		TopK:             c.TopK,
		HopDepth:         c.HopDepth,
		MaxSubgraphNodes: c.MaxSubgraphNodes,
		RerankTopN:       c.RerankTopN,
		ContextWeight:    c.ContextWeight,
	}
}
