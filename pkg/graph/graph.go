// Package graph provides the in-memory topology index for Memoria.
//
// KnowledgeGraph is a directed multigraph over node IDs. It carries no node
// payload — payloads live in the persistent store (pkg/storage) — and holds
// the full edge record on each arc for relation-aware traversal. The graph
// is an index, not a container: it is rebuilt from the edges table on every
// Initialize, and it must always be a subset of the persisted edges.
//
// Node handles are indexes into a compact arena and are renumbered when a
// node is removed. They are opaque and short-lived: the external-ID→handle
// map is rebuilt after every removal, and callers only ever see NodeIDs.
//
// Example Usage:
//
//	g := graph.NewKnowledgeGraph()
//	g.AddEdge(*storage.NewEdge(entityID, eventID, graph.RelationParticipatesIn))
//
//	// Everything within two hops of a seed node
//	nearby := g.Neighbors(entityID, 2)
//
//	// Entities reachable through a shared concept
//	bridged := g.FindConceptBridged([]storage.NodeID{entityID}, conceptIDs)
//
// ELI12:
//
// Think of the store as a library's bookshelves and this graph as the index
// cards at the front desk. The cards don't contain the books — just "book A
// references book B". Walking the cards is fast; fetching an actual book
// means going back to the shelves. If a card is thrown out, the desk
// renumbers its drawers, so the catalog (ID → drawer) is written fresh.
package graph

import (
	"sync"

	"github.com/memoria-db/memoria/pkg/storage"
)

// KnowledgeGraph is a thread-safe directed multigraph keyed by external
// node IDs. The zero value is not usable; call NewKnowledgeGraph.
type KnowledgeGraph struct {
	mu sync.RWMutex

	// nodes is the handle arena: handle = index. Compacted on removal.
	nodes []storage.NodeID
	// idx maps external IDs to handles. Rebuilt after every removal
	// because compaction renumbers handles.
	idx map[storage.NodeID]int

	// edges is the edge arena; out/in hold per-handle edge slots.
	edges []graphEdge
	out   [][]int
	in    [][]int
}

type graphEdge struct {
	edge storage.Edge
	src  int
	tgt  int
}

// NewKnowledgeGraph creates an empty graph.
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		idx: make(map[storage.NodeID]int),
	}
}

// AddNode inserts a node with no edges. Idempotent.
func (g *KnowledgeGraph) AddNode(id storage.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
}

func (g *KnowledgeGraph) addNodeLocked(id storage.NodeID) int {
	if h, ok := g.idx[id]; ok {
		return h
	}
	h := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.idx[id] = h
	return h
}

// AddEdge appends an edge, creating missing endpoints. No deduplication is
// performed — the same (source, target, relation) may appear several times;
// ingestion dedups before it gets here.
func (g *KnowledgeGraph) AddEdge(edge storage.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.addNodeLocked(edge.Source)
	tgt := g.addNodeLocked(edge.Target)

	slot := len(g.edges)
	g.edges = append(g.edges, graphEdge{edge: edge, src: src, tgt: tgt})
	g.out[src] = append(g.out[src], slot)
	g.in[tgt] = append(g.in[tgt], slot)
}

// AddEdges appends a batch of edges.
func (g *KnowledgeGraph) AddEdges(edges []*storage.Edge) {
	for _, e := range edges {
		if e != nil {
			g.AddEdge(*e)
		}
	}
}

// RemoveNode deletes a node and every incident edge. Returns false when
// the node is unknown.
//
// Removal compacts both arenas (swap-remove), which renumbers internal
// handles; the ID→handle map is rebuilt afterwards to preserve the
// external-ID view.
func (g *KnowledgeGraph) RemoveNode(id storage.NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.idx[id]
	if !ok {
		return false
	}

	for len(g.out[h]) > 0 {
		g.removeEdgeSlotLocked(g.out[h][0])
	}
	for len(g.in[h]) > 0 {
		g.removeEdgeSlotLocked(g.in[h][0])
	}

	last := len(g.nodes) - 1
	if h != last {
		g.nodes[h] = g.nodes[last]
		g.out[h] = g.out[last]
		g.in[h] = g.in[last]
		for _, slot := range g.out[h] {
			g.edges[slot].src = h
		}
		for _, slot := range g.in[h] {
			g.edges[slot].tgt = h
		}
	}
	g.nodes = g.nodes[:last]
	g.out = g.out[:last]
	g.in = g.in[:last]

	g.rebuildIndexLocked()
	return true
}

// removeEdgeSlotLocked deletes one edge from the arena, swap-filling the
// hole and patching the adjacency lists of the moved edge.
func (g *KnowledgeGraph) removeEdgeSlotLocked(slot int) {
	ge := g.edges[slot]
	g.out[ge.src] = removeValue(g.out[ge.src], slot)
	g.in[ge.tgt] = removeValue(g.in[ge.tgt], slot)

	last := len(g.edges) - 1
	if slot != last {
		moved := g.edges[last]
		g.edges[slot] = moved
		replaceValue(g.out[moved.src], last, slot)
		replaceValue(g.in[moved.tgt], last, slot)
	}
	g.edges = g.edges[:last]
}

// rebuildIndexLocked rewrites the ID→handle map from the node arena.
func (g *KnowledgeGraph) rebuildIndexLocked() {
	g.idx = make(map[storage.NodeID]int, len(g.nodes))
	for h, id := range g.nodes {
		g.idx[id] = h
	}
}

// ContainsNode reports whether the node is indexed.
func (g *KnowledgeGraph) ContainsNode(id storage.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.idx[id]
	return ok
}

// NodeCount returns the number of indexed nodes.
func (g *KnowledgeGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of indexed edges.
func (g *KnowledgeGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Neighbors returns every node within hops steps of the start node,
// including the start itself. Adjacency is treated as undirected: both
// in-edges and out-edges are followed. Unknown start nodes yield an empty
// set.
//
// Applications needing directional reachability should walk OutgoingEdges
// instead.
func (g *KnowledgeGraph) Neighbors(id storage.NodeID, hops int) map[storage.NodeID]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[storage.NodeID]struct{})
	start, ok := g.idx[id]
	if !ok {
		return visited
	}

	visited[id] = struct{}{}
	frontier := []int{start}

	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []int
		for _, h := range frontier {
			for _, peer := range g.undirectedPeersLocked(h) {
				peerID := g.nodes[peer]
				if _, seen := visited[peerID]; !seen {
					visited[peerID] = struct{}{}
					next = append(next, peer)
				}
			}
		}
		frontier = next
	}

	return visited
}

// undirectedPeersLocked lists the handles adjacent to h in either
// direction, with duplicates (multigraph arcs yield one entry each).
func (g *KnowledgeGraph) undirectedPeersLocked(h int) []int {
	peers := make([]int, 0, len(g.out[h])+len(g.in[h]))
	for _, slot := range g.out[h] {
		peers = append(peers, g.edges[slot].tgt)
	}
	for _, slot := range g.in[h] {
		peers = append(peers, g.edges[slot].src)
	}
	return peers
}

// FindConceptBridged discovers nodes reachable through a shared concept:
// for each source, walk to any neighbor in conceptIDs, then from that
// concept to any neighbor not among the sources. Used to surface
// semantically similar but topologically distant memories.
func (g *KnowledgeGraph) FindConceptBridged(sourceIDs []storage.NodeID, conceptIDs map[storage.NodeID]struct{}) map[storage.NodeID]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sources := make(map[storage.NodeID]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		sources[id] = struct{}{}
	}

	bridged := make(map[storage.NodeID]struct{})
	for _, sourceID := range sourceIDs {
		h, ok := g.idx[sourceID]
		if !ok {
			continue
		}
		for _, conceptHandle := range g.undirectedPeersLocked(h) {
			conceptID := g.nodes[conceptHandle]
			if _, isConcept := conceptIDs[conceptID]; !isConcept {
				continue
			}
			for _, peer := range g.undirectedPeersLocked(conceptHandle) {
				peerID := g.nodes[peer]
				if _, isSource := sources[peerID]; !isSource {
					bridged[peerID] = struct{}{}
				}
			}
		}
	}
	return bridged
}

// OutgoingEdges returns copies of every edge leaving the node.
func (g *KnowledgeGraph) OutgoingEdges(id storage.NodeID) []storage.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h, ok := g.idx[id]
	if !ok {
		return nil
	}
	edges := make([]storage.Edge, 0, len(g.out[h]))
	for _, slot := range g.out[h] {
		edges = append(edges, g.edges[slot].edge)
	}
	return edges
}

// EdgeBetween returns the first edge from source to target, if any.
func (g *KnowledgeGraph) EdgeBetween(source, target storage.NodeID) (storage.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	src, ok := g.idx[source]
	if !ok {
		return storage.Edge{}, false
	}
	tgt, ok := g.idx[target]
	if !ok {
		return storage.Edge{}, false
	}
	for _, slot := range g.out[src] {
		if g.edges[slot].tgt == tgt {
			return g.edges[slot].edge, true
		}
	}
	return storage.Edge{}, false
}

// AllNodeIDs returns every indexed node ID, in arena order.
func (g *KnowledgeGraph) AllNodeIDs() []storage.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]storage.NodeID, len(g.nodes))
	copy(ids, g.nodes)
	return ids
}

// Clear drops all nodes and edges.
func (g *KnowledgeGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = nil
	g.edges = nil
	g.out = nil
	g.in = nil
	g.idx = make(map[storage.NodeID]int)
}

func removeValue(list []int, value int) []int {
	for i, v := range list {
		if v == value {
			list[i] = list[len(list)-1]
			return list[:len(list)-1]
		}
	}
	return list
}

func replaceValue(list []int, from, to int) {
	for i, v := range list {
		if v == from {
			list[i] = to
			return
		}
	}
}
