// Package graph builds a read-only adjacency index over a pipeline snapshot.
// The index is computed once per recompute pass so that upstream and
// downstream lookups are constant time.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rpattn/dataflow/internal/domain"
)

// ErrCycle is returned when the node references form a cycle.
var ErrCycle = errors.New("pipeline graph contains cycles")

// Index is an immutable adjacency view of one pipeline snapshot
type Index struct {
	nodes    map[string]domain.Node
	position map[string]int
	inbound  map[string][]string
	outbound map[string][]string
	order    []string
}

// Build indexes the pipeline. References to nodes that no longer exist are
// dropped from the inbound lists, duplicate references are collapsed.
func Build(p domain.Pipeline) (*Index, error) {
	idx := &Index{
		nodes:    make(map[string]domain.Node, len(p.Nodes)),
		position: make(map[string]int, len(p.Nodes)),
		inbound:  make(map[string][]string, len(p.Nodes)),
		outbound: make(map[string][]string, len(p.Nodes)),
	}
	for i, node := range p.Nodes {
		if _, dup := idx.nodes[node.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %s", node.ID)
		}
		idx.nodes[node.ID] = node
		idx.position[node.ID] = i
	}
	for _, node := range p.Nodes {
		seen := make(map[string]bool, len(node.Src))
		inbound := make([]string, 0, len(node.Src))
		for _, src := range node.Src {
			if _, ok := idx.nodes[src]; !ok || seen[src] {
				continue
			}
			if src == node.ID {
				return nil, fmt.Errorf("%w: node %s references itself", ErrCycle, node.ID)
			}
			seen[src] = true
			inbound = append(inbound, src)
			idx.outbound[src] = append(idx.outbound[src], node.ID)
		}
		idx.inbound[node.ID] = inbound
	}
	order, err := idx.breadthFirstOrder(p.Nodes)
	if err != nil {
		return nil, err
	}
	idx.order = order
	return idx, nil
}

// breadthFirstOrder walks outward from root nodes; a node is emitted once all
// of its upstream nodes have been emitted. Ties follow pipeline order.
func (idx *Index) breadthFirstOrder(nodes []domain.Node) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	var queue []string
	for _, node := range nodes {
		indegree[node.ID] = len(idx.inbound[node.ID])
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		next := append([]string(nil), idx.outbound[current]...)
		sort.SliceStable(next, func(i, j int) bool { return idx.position[next[i]] < idx.position[next[j]] })
		for _, id := range next {
			indegree[id]--
			if indegree[id] == 0 {
				queue = append(queue, id)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

// Node returns the node with the given id.
func (idx *Index) Node(id string) (domain.Node, bool) {
	node, ok := idx.nodes[id]
	return node, ok
}

// Inbound returns the existing upstream node ids of a node in src order.
func (idx *Index) Inbound(id string) []string {
	return idx.inbound[id]
}

// Outbound returns the ids of nodes that reference the node.
func (idx *Index) Outbound(id string) []string {
	return idx.outbound[id]
}

// Order returns node ids in evaluation order.
func (idx *Index) Order() []string {
	return append([]string(nil), idx.order...)
}

// Roots returns the nodes without upstream references in pipeline order.
func (idx *Index) Roots() []string {
	var roots []string
	for _, id := range idx.order {
		if len(idx.inbound[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Descendants returns every node reachable downstream of id, excluding id.
func (idx *Index) Descendants(id string) map[string]bool {
	reached := make(map[string]bool)
	queue := append([]string(nil), idx.outbound[id]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if reached[current] {
			continue
		}
		reached[current] = true
		queue = append(queue, idx.outbound[current]...)
	}
	return reached
}

// Ancestors returns every node upstream of id, excluding id.
func (idx *Index) Ancestors(id string) map[string]bool {
	reached := make(map[string]bool)
	queue := append([]string(nil), idx.inbound[id]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if reached[current] {
			continue
		}
		reached[current] = true
		queue = append(queue, idx.inbound[current]...)
	}
	return reached
}

// UltimateSources returns the reference ids of every source operator that
// feeds the node, following upstream edges until root nodes are reached.
// Result is sorted for deterministic comparisons.
func (idx *Index) UltimateSources(id string) []string {
	refs := make(map[string]bool)
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(current string) {
		if visited[current] {
			return
		}
		visited[current] = true
		node, ok := idx.nodes[current]
		if !ok {
			return
		}
		for _, op := range node.Formula {
			if cfg, ok := op.Config.(domain.SourceConfig); ok && cfg.ReferenceID != "" {
				refs[cfg.ReferenceID] = true
			}
		}
		for _, src := range idx.inbound[current] {
			walk(src)
		}
	}
	walk(id)

	result := make([]string, 0, len(refs))
	for ref := range refs {
		result = append(result, ref)
	}
	sort.Strings(result)
	return result
}

// SharedSource reports the first source reference that appears in the
// ancestry of more than one of the given nodes.
func (idx *Index) SharedSource(nodeIDs []string) (string, bool) {
	owner := make(map[string]string)
	for _, id := range nodeIDs {
		for _, ref := range idx.UltimateSources(id) {
			if prev, ok := owner[ref]; ok && prev != id {
				return ref, true
			}
			owner[ref] = id
		}
	}
	return "", false
}
