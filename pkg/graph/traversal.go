package graph

import "github.com/memoria-db/memoria/pkg/storage"

// NeighborInfo describes one direct neighbor and the relation reaching it.
type NeighborInfo struct {
	NodeID   storage.NodeID
	Distance int
	Relation string
}

// NeighborsWithRelations lists the direct neighbors of a node together
// with the relation on each connecting edge. Both directions are included;
// multigraph arcs yield one entry each.
func (g *KnowledgeGraph) NeighborsWithRelations(id storage.NodeID) []NeighborInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h, ok := g.idx[id]
	if !ok {
		return nil
	}

	neighbors := make([]NeighborInfo, 0, len(g.out[h])+len(g.in[h]))
	for _, slot := range g.out[h] {
		ge := g.edges[slot]
		neighbors = append(neighbors, NeighborInfo{
			NodeID:   g.nodes[ge.tgt],
			Distance: 1,
			Relation: ge.edge.Relation,
		})
	}
	for _, slot := range g.in[h] {
		ge := g.edges[slot]
		neighbors = append(neighbors, NeighborInfo{
			NodeID:   g.nodes[ge.src],
			Distance: 1,
			Relation: ge.edge.Relation,
		})
	}
	return neighbors
}

// DegreeCentrality returns the normalized degree centrality of a node:
// (in-degree + out-degree) / (2·(N−1)). Unknown nodes and single-node
// graphs score 0.
func (g *KnowledgeGraph) DegreeCentrality(id storage.NodeID) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h, ok := g.idx[id]
	if !ok {
		return 0
	}
	total := float64(len(g.nodes))
	if total <= 1 {
		return 0
	}
	return float64(len(g.in[h])+len(g.out[h])) / (2 * (total - 1))
}

// ConnectedComponents partitions the graph into its undirected connected
// components.
func (g *KnowledgeGraph) ConnectedComponents() [][]storage.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make([]bool, len(g.nodes))
	var components [][]storage.NodeID

	for start := range g.nodes {
		if visited[start] {
			continue
		}
		var component []storage.NodeID
		stack := []int{start}
		for len(stack) > 0 {
			h := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[h] {
				continue
			}
			visited[h] = true
			component = append(component, g.nodes[h])
			for _, peer := range g.undirectedPeersLocked(h) {
				if !visited[peer] {
					stack = append(stack, peer)
				}
			}
		}
		components = append(components, component)
	}
	return components
}
