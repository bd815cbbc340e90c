package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"

	"github.com/memoria-db/memoria/pkg/math/vector"
)

// Key prefixes for table organization inside the badger keyspace.
// Single-byte prefixes keep iteration cheap; 0x00 separates compound keys
// (safe because IDs and names never contain a NUL byte).
const (
	prefixNode     = byte(0x01) // node:id -> nodeRow JSON
	prefixEdge     = byte(0x02) // edge:id -> edgeRow JSON
	prefixOutgoing = byte(0x03) // out:sourceID 0x00 edgeID -> empty
	prefixIncoming = byte(0x04) // in:targetID 0x00 edgeID -> empty
	prefixConcept  = byte(0x05) // concept:name -> ConceptPoolEntry JSON
	prefixCustom   = byte(0x06) // custom:nodeID -> CustomMemoryRecord JSON
	prefixSyncMeta = byte(0x07) // singleton -> SyncMetadata JSON
)

// keySep separates compound key segments.
const keySep = byte(0x00)

// Store is the BadgerDB-backed table store.
//
// Thread safety: Initialize and Close take the write lock; every row-level
// operation (including inserts) takes the read lock — Badger provides its
// own transaction-level concurrency underneath. All methods return
// ErrNotInitialized before Initialize succeeds.
type Store struct {
	mu  sync.RWMutex
	dir string
	dim int
	db  *badger.DB
}

// SearchResult is one vector-search hit: a node and its similarity to the
// query, reported as 1/(1+distance) over L2 distance.
type SearchResult struct {
	Node       *MemoryNode
	Similarity float32
}

// VectorSearchFilter restricts vector search. Only node-type equality is
// supported.
type VectorSearchFilter struct {
	NodeType NodeType
}

// New creates a store bound to a database directory. No I/O happens until
// Initialize. dim is the embedding dimension used for validation.
func New(dir string, dim int) *Store {
	return &Store{dir: dir, dim: dim}
}

// Initialize opens the database directory, creating it if missing.
// Idempotent: a second call on an open store is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(s.dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", s.dir, err)
	}
	s.db = db
	return nil
}

// Close releases the database directory. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int { return s.dim }

// handle returns the open database or ErrNotInitialized. Callers must hold
// at least the read lock for the duration of use.
func (s *Store) handle() (*badger.DB, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, string(id)...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, string(id)...)
}

func adjacencyKey(prefix byte, nodeID NodeID, edgeID EdgeID) []byte {
	key := append([]byte{prefix}, string(nodeID)...)
	key = append(key, keySep)
	return append(key, string(edgeID)...)
}

func adjacencyPrefix(prefix byte, nodeID NodeID) []byte {
	key := append([]byte{prefix}, string(nodeID)...)
	return append(key, keySep)
}

func conceptKey(name string) []byte {
	return append([]byte{prefixConcept}, name...)
}

func customKey(id NodeID) []byte {
	return append([]byte{prefixCustom}, string(id)...)
}

// ============================================================
// Nodes
// ============================================================

// AddNodes appends a batch of nodes as one atomic write. Ordering within
// the batch is preserved; no ordering is guaranteed across batches. An
// empty batch is a no-op.
func (s *Store) AddNodes(ctx context.Context, nodes []*MemoryNode) error {
	if len(nodes) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	rows := make([][]byte, len(nodes))
	keys := make([][]byte, len(nodes))
	for i, n := range nodes {
		if err := ValidateNode(n, s.dim); err != nil {
			return err
		}
		row, err := nodeToRow(n)
		if err != nil {
			return err
		}
		data, err := marshalRow(row)
		if err != nil {
			return err
		}
		rows[i] = data
		keys[i] = nodeKey(n.ID)
	}

	err = db.Update(func(txn *badger.Txn) error {
		for i := range rows {
			if err := txn.Set(keys[i], rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add %d nodes: %w", len(nodes), err)
	}
	return nil
}

// UpdateNode replaces the row with the node's ID: delete then insert. The
// pair is not atomic — a concurrent reader may briefly observe neither row.
// Readers hold no guarantees about transient states, so this is accepted.
func (s *Store) UpdateNode(ctx context.Context, node *MemoryNode) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := ValidateNode(node, s.dim); err != nil {
		return err
	}

	key := nodeKey(node.ID)
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("update node %s: delete old row: %w", node.ID, err)
	}

	row, err := nodeToRow(node)
	if err != nil {
		return err
	}
	data, err := marshalRow(row)
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("update node %s: insert new row: %w", node.ID, err)
	}
	return nil
}

// GetNode fetches one node by ID. Returns ErrNotFound when absent.
func (s *Store) GetNode(ctx context.Context, id NodeID) (*MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var node *MemoryNode
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			row, err := unmarshalNodeRow(val)
			if err != nil {
				return err
			}
			node, err = rowToNode(row)
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return node, nil
}

// GetNodes fetches a batch of nodes. Missing IDs are skipped; rows that
// fail to parse are logged and skipped, never abort the batch.
func (s *Store) GetNodes(ctx context.Context, ids []NodeID) ([]*MemoryNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var nodes []*MemoryNode
	err = db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(nodeKey(id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				row, err := unmarshalNodeRow(val)
				if err != nil {
					log.Printf("storage: skipping node %s: %v", id, err)
					return nil
				}
				node, err := rowToNode(row)
				if err != nil {
					log.Printf("storage: skipping node %s: %v", id, err)
					return nil
				}
				nodes = append(nodes, node)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %d nodes: %w", len(ids), err)
	}
	return nodes, nil
}

// DeleteNode removes a node row. Incident edges are not touched; callers
// cascade with DeleteNodeEdges.
func (s *Store) DeleteNode(ctx context.Context, id NodeID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nodeKey(id))
	}); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

// NodesByType returns every node of the given kind.
func (s *Store) NodesByType(ctx context.Context, nodeType NodeType) ([]*MemoryNode, error) {
	return s.scanNodes(ctx, func(row *nodeRow) bool {
		return row.NodeType == string(nodeType)
	})
}

// AllNodes returns every node in the store.
func (s *Store) AllNodes(ctx context.Context) ([]*MemoryNode, error) {
	return s.scanNodes(ctx, nil)
}

// NodeIDs returns the IDs of every node without decoding rows. Used by
// initialization to drop dangling edges cheaply.
func (s *Store) NodeIDs(ctx context.Context) (map[NodeID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	ids := make(map[NodeID]struct{})
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixNode}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids[NodeID(key[1:])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan node ids: %w", err)
	}
	return ids, nil
}

// scanNodes iterates the nodes table, applying an optional row filter.
// Corrupt rows are logged and skipped.
func (s *Store) scanNodes(ctx context.Context, keep func(*nodeRow) bool) ([]*MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var nodes []*MemoryNode
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixNode}
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Rewind(); it.Valid(); it.Next() {
			count++
			if count%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			err := it.Item().Value(func(val []byte) error {
				row, err := unmarshalNodeRow(val)
				if err != nil {
					log.Printf("storage: skipping corrupt node row: %v", err)
					return nil
				}
				if keep != nil && !keep(row) {
					return nil
				}
				node, err := rowToNode(row)
				if err != nil {
					log.Printf("storage: skipping node row: %v", err)
					return nil
				}
				nodes = append(nodes, node)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	return nodes, nil
}

// ============================================================
// Vector search
// ============================================================

// VectorSearch returns up to k nodes nearest to the query vector, with
// similarity reported as 1/(1+distance) over L2 distance.
//
// Nodes without an embedding are invisible here (they remain reachable via
// graph traversal). Nodes whose stored vector length disagrees with the
// query are logged and treated as unembedded.
func (s *Store) VectorSearch(ctx context.Context, query []float32, k int, filter *VectorSearchFilter) ([]SearchResult, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	type scored struct {
		node     *MemoryNode
		distance float32
	}
	var hits []scored

	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixNode}
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Rewind(); it.Valid(); it.Next() {
			count++
			if count%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			err := it.Item().Value(func(val []byte) error {
				row, err := unmarshalNodeRow(val)
				if err != nil {
					log.Printf("storage: skipping corrupt node row: %v", err)
					return nil
				}
				if filter != nil && filter.NodeType != "" && row.NodeType != string(filter.NodeType) {
					return nil
				}
				if len(row.Vector) == 0 {
					return nil
				}
				if len(row.Vector) != len(query) {
					log.Printf("storage: node %s vector length %d, want %d; treating as unembedded",
						row.ID, len(row.Vector), len(query))
					return nil
				}
				node, err := rowToNode(row)
				if err != nil {
					log.Printf("storage: skipping node row: %v", err)
					return nil
				}
				hits = append(hits, scored{node: node, distance: vector.EuclideanDistance(query, node.Embedding)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{Node: h.node, Similarity: 1.0 / (1.0 + h.distance)}
	}
	return results, nil
}

// ============================================================
// Edges
// ============================================================

// AddEdges appends a batch of edges atomically, maintaining the outgoing
// and incoming adjacency indexes. An empty batch is a no-op.
func (s *Store) AddEdges(ctx context.Context, edges []*Edge) error {
	if len(edges) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	for _, e := range edges {
		if err := ValidateEdge(e); err != nil {
			return err
		}
	}

	err = db.Update(func(txn *badger.Txn) error {
		for _, e := range edges {
			data, err := marshalRow(edgeToRow(e))
			if err != nil {
				return err
			}
			if err := txn.Set(edgeKey(e.ID), data); err != nil {
				return err
			}
			if err := txn.Set(adjacencyKey(prefixOutgoing, e.Source, e.ID), nil); err != nil {
				return err
			}
			if err := txn.Set(adjacencyKey(prefixIncoming, e.Target, e.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add %d edges: %w", len(edges), err)
	}
	return nil
}

// OutgoingEdges returns every edge whose source is the given node.
func (s *Store) OutgoingEdges(ctx context.Context, id NodeID) ([]*Edge, error) {
	return s.adjacentEdges(ctx, prefixOutgoing, id)
}

// IncomingEdges returns every edge whose target is the given node.
func (s *Store) IncomingEdges(ctx context.Context, id NodeID) ([]*Edge, error) {
	return s.adjacentEdges(ctx, prefixIncoming, id)
}

// NodeEdges returns all edges incident to a node. The outgoing and
// incoming queries run in parallel.
func (s *Store) NodeEdges(ctx context.Context, id NodeID) ([]*Edge, error) {
	var outgoing, incoming []*Edge

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		outgoing, err = s.OutgoingEdges(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		incoming, err = s.IncomingEdges(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(outgoing, incoming...), nil
}

// NeighborIDs returns the distinct IDs on the far side of every edge
// incident to the node.
func (s *Store) NeighborIDs(ctx context.Context, id NodeID) ([]NodeID, error) {
	edges, err := s.NodeEdges(ctx, id)
	if err != nil {
		return nil, err
	}

	seen := make(map[NodeID]struct{}, len(edges))
	var neighbors []NodeID
	for _, e := range edges {
		peer := e.Target
		if peer == id {
			peer = e.Source
		}
		if _, dup := seen[peer]; !dup {
			seen[peer] = struct{}{}
			neighbors = append(neighbors, peer)
		}
	}
	return neighbors, nil
}

// AllEdges returns every edge in the store. Corrupt rows are logged and
// skipped.
func (s *Store) AllEdges(ctx context.Context) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var edges []*Edge
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixEdge}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				row, err := unmarshalEdgeRow(val)
				if err != nil {
					log.Printf("storage: skipping corrupt edge row: %v", err)
					return nil
				}
				edges = append(edges, rowToEdge(row))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan edges: %w", err)
	}
	return edges, nil
}

// DeleteEdge removes one edge and its adjacency index entries.
func (s *Store) DeleteEdge(ctx context.Context, id EdgeID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(txn *badger.Txn) error {
		edge, err := readEdge(txn, id)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(edgeKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(adjacencyKey(prefixOutgoing, edge.Source, id)); err != nil {
			return err
		}
		return txn.Delete(adjacencyKey(prefixIncoming, edge.Target, id))
	})
	if err != nil {
		return fmt.Errorf("delete edge %s: %w", id, err)
	}
	return nil
}

// DeleteNodeEdges removes every edge incident to a node, in both
// directions, along with all index entries.
func (s *Store) DeleteNodeEdges(ctx context.Context, id NodeID) error {
	edges, err := s.NodeEdges(ctx, id)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := s.DeleteEdge(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// adjacentEdges resolves edge IDs through an adjacency index, then loads
// the edge rows.
func (s *Store) adjacentEdges(ctx context.Context, prefix byte, id NodeID) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var edges []*Edge
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		keyPrefix := adjacencyPrefix(prefix, id)
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			edgeID := EdgeID(bytes.TrimPrefix(key, keyPrefix))

			edge, err := readEdge(txn, edgeID)
			if err == badger.ErrKeyNotFound {
				log.Printf("storage: adjacency index references missing edge %s; skipping", edgeID)
				continue
			}
			if err != nil {
				return err
			}
			edges = append(edges, edge)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("edges of node %s: %w", id, err)
	}
	return edges, nil
}

// readEdge loads one edge row inside an open transaction.
func readEdge(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if err != nil {
		return nil, err
	}
	var edge *Edge
	err = item.Value(func(val []byte) error {
		row, err := unmarshalEdgeRow(val)
		if err != nil {
			return err
		}
		edge = rowToEdge(row)
		return nil
	})
	return edge, err
}

// ============================================================
// Concept pool
// ============================================================

// UpsertConcept increments the instance count of a concept name, creating
// the entry on first use.
//
// This is a read-check-then-write pair, not a serializable upsert: two
// concurrent upserts of the same name may each increment by 1 where one of
// them should have observed the other. Accepted for the single-writer
// workload this engine targets.
func (s *Store) UpsertConcept(ctx context.Context, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	entry := ConceptPoolEntry{Name: name, InstanceCount: 1, LastUsedAt: time.Now().Unix()}

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conceptKey(name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var existing ConceptPoolEntry
			if err := unmarshalInto(val, &existing); err != nil {
				log.Printf("storage: corrupt concept entry %q; recreating: %v", name, err)
				return nil
			}
			entry.InstanceCount = existing.InstanceCount + 1
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("upsert concept %q: read: %w", name, err)
	}

	data, err := marshalRow(&entry)
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(conceptKey(name), data)
	}); err != nil {
		return fmt.Errorf("upsert concept %q: write: %w", name, err)
	}
	return nil
}

// UpsertConcepts upserts a list of concept names in order.
func (s *Store) UpsertConcepts(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := s.UpsertConcept(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// AllConcepts returns every concept pool entry.
func (s *Store) AllConcepts(ctx context.Context) ([]ConceptPoolEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var entries []ConceptPoolEntry
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixConcept}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry ConceptPoolEntry
				if err := unmarshalInto(val, &entry); err != nil {
					log.Printf("storage: skipping corrupt concept entry: %v", err)
					return nil
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan concepts: %w", err)
	}
	return entries, nil
}

// ActiveConcepts returns up to limit concepts, most-used first.
func (s *Store) ActiveConcepts(ctx context.Context, limit int) ([]ConceptPoolEntry, error) {
	entries, err := s.AllConcepts(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].InstanceCount > entries[j].InstanceCount
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// PruneInactiveConcepts deletes entries with instance_count below minCount
// AND last_used_at older than maxAge. Returns the delete count. This is
// the only operation that decreases a concept's presence in the pool.
func (s *Store) PruneInactiveConcepts(ctx context.Context, minCount uint32, maxAge time.Duration) (int, error) {
	entries, err := s.AllConcepts(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	var doomed []string
	for _, e := range entries {
		if e.InstanceCount < minCount && e.LastUsedAt < cutoff {
			doomed = append(doomed, e.Name)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	err = db.Update(func(txn *badger.Txn) error {
		for _, name := range doomed {
			if err := txn.Delete(conceptKey(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune concepts: %w", err)
	}
	return len(doomed), nil
}

// ============================================================
// Custom memory marks
// ============================================================

// MarkCustomMemory flags a node for the retrieval scoring bonus.
// Marking an already-marked node is a no-op.
func (s *Store) MarkCustomMemory(ctx context.Context, id NodeID) error {
	marked, err := s.IsCustomMemory(ctx, id)
	if err != nil {
		return err
	}
	if marked {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	record := CustomMemoryRecord{NodeID: id, MarkedAt: time.Now().Unix()}
	data, err := marshalRow(&record)
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(customKey(id), data)
	}); err != nil {
		return fmt.Errorf("mark custom memory %s: %w", id, err)
	}
	return nil
}

// UnmarkCustomMemory removes a node's custom mark.
func (s *Store) UnmarkCustomMemory(ctx context.Context, id NodeID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete(customKey(id))
	}); err != nil {
		return fmt.Errorf("unmark custom memory %s: %w", id, err)
	}
	return nil
}

// IsCustomMemory reports whether a node carries a custom mark.
func (s *Store) IsCustomMemory(ctx context.Context, id NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return false, err
	}

	var marked bool
	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(customKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check custom memory %s: %w", id, err)
	}
	return marked, nil
}

// CustomMemoryIDs returns the set of all custom-marked node IDs.
func (s *Store) CustomMemoryIDs(ctx context.Context) (map[NodeID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	ids := make(map[NodeID]struct{})
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixCustom}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids[NodeID(key[1:])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan custom memories: %w", err)
	}
	return ids, nil
}

// ============================================================
// Sync metadata
// ============================================================

// LastSyncTime returns the recorded last-sync timestamp, or 0 when the
// store has never synced.
func (s *Store) LastSyncTime(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var meta SyncMetadata
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte{prefixSyncMeta})
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshalInto(val, &meta)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("read sync metadata: %w", err)
	}
	return meta.LastSyncAt, nil
}

// UpdateSyncMetadata overwrites the single sync-metadata row.
func (s *Store) UpdateSyncMetadata(ctx context.Context, timestamp int64, version string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	data, err := marshalRow(&SyncMetadata{LastSyncAt: timestamp, Version: version})
	if err != nil {
		return err
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte{prefixSyncMeta}, data)
	}); err != nil {
		return fmt.Errorf("update sync metadata: %w", err)
	}
	return nil
}
