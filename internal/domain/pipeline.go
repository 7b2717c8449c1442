package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/dataflow/internal/xjson"
)

// Node is a vertex of the pipeline graph holding an ordered operator chain
type Node struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Src     []string   `json:"src"`
	Formula []Operator `json:"formula"`
}

// IsRoot reports whether the node has no upstream references.
func (n Node) IsRoot() bool {
	return len(n.Src) == 0
}

// Last returns the final operator of the chain.
func (n Node) Last() (Operator, bool) {
	if len(n.Formula) == 0 {
		return Operator{}, false
	}
	return n.Formula[len(n.Formula)-1], true
}

// Output returns the fields produced by the last operator of the chain.
func (n Node) Output() []Field {
	last, ok := n.Last()
	if !ok {
		return nil
	}
	return last.OutputFields
}

// OperatorIndex returns the position of an operator in the chain.
func (n Node) OperatorIndex(operatorID string) (int, bool) {
	for i, op := range n.Formula {
		if op.ID == operatorID {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a copy of the node that shares no slices with the original
func (n Node) Clone() Node {
	n.Src = append([]string(nil), n.Src...)
	formula := make([]Operator, len(n.Formula))
	for i, op := range n.Formula {
		formula[i] = op.Clone()
	}
	n.Formula = formula
	return n
}

// Pipeline is a persisted transformation graph
type Pipeline struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Nodes       []Node    `json:"nodes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPipeline creates an empty pipeline
func NewPipeline(name, description string) Pipeline {
	now := time.Now()
	return Pipeline{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Nodes:       []Node{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NodeByID returns the node with the given id.
func (p Pipeline) NodeByID(id string) (Node, bool) {
	for _, node := range p.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

// Operator locates an operator anywhere in the graph.
func (p Pipeline) Operator(operatorID string) (Node, int, bool) {
	for _, node := range p.Nodes {
		if idx, ok := node.OperatorIndex(operatorID); ok {
			return node, idx, true
		}
	}
	return Node{}, -1, false
}

// Clone returns a deep copy of the graph and its derived state.
func (p Pipeline) Clone() Pipeline {
	nodes := make([]Node, len(p.Nodes))
	for i, node := range p.Nodes {
		nodes[i] = node.Clone()
	}
	p.Nodes = nodes
	return p
}

// WithNode returns a copy of the pipeline where the node with the same id is
// replaced, or appended when absent.
func (p Pipeline) WithNode(node Node) Pipeline {
	clone := p.Clone()
	for i := range clone.Nodes {
		if clone.Nodes[i].ID == node.ID {
			clone.Nodes[i] = node.Clone()
			return clone
		}
	}
	clone.Nodes = append(clone.Nodes, node.Clone())
	return clone
}

// WithoutNode returns a copy of the pipeline with the node removed. References
// to it from other nodes are left in place; the graph index ignores them.
func (p Pipeline) WithoutNode(id string) Pipeline {
	clone := p.Clone()
	nodes := clone.Nodes[:0]
	for _, node := range clone.Nodes {
		if node.ID != id {
			nodes = append(nodes, node)
		}
	}
	clone.Nodes = nodes
	return clone
}

// Blocking lists the operators whose state prevents saving the pipeline:
// operator errors and field-level errors alike.
func (p Pipeline) Blocking() []Operator {
	var blocking []Operator
	for _, node := range p.Nodes {
		for _, op := range node.Formula {
			if op.Error != nil || len(op.FieldErrors) > 0 {
				blocking = append(blocking, op)
			}
		}
	}
	return blocking
}

// LineageStep is one hop of a field traced back towards its source.
type LineageStep struct {
	NodeID     string       `json:"nodeId"`
	OperatorID string       `json:"operatorId"`
	Kind       OperatorKind `json:"kind"`
	Alias      string       `json:"alias"`
}

// Lineage traces a field from the given operator back through every earlier
// operator that still carries the same identity.
func (p Pipeline) Lineage(operatorID string, key FieldKey) []LineageStep {
	var steps []LineageStep
	visited := make(map[string]bool)
	var walk func(nodeID string, upto int)
	walk = func(nodeID string, upto int) {
		node, ok := p.NodeByID(nodeID)
		if !ok {
			return
		}
		for i := upto; i >= 0; i-- {
			op := node.Formula[i]
			if visited[op.ID] {
				return
			}
			visited[op.ID] = true
			field, found := FindField(op.OutputFields, key)
			if !found {
				return
			}
			steps = append(steps, LineageStep{NodeID: node.ID, OperatorID: op.ID, Kind: op.Kind, Alias: field.Alias})
		}
		for _, src := range node.Src {
			upstream, ok := p.NodeByID(src)
			if !ok || len(upstream.Formula) == 0 {
				continue
			}
			if _, found := FindField(upstream.Output(), key); found {
				walk(src, len(upstream.Formula)-1)
			}
		}
	}
	node, idx, ok := p.Operator(operatorID)
	if !ok {
		return nil
	}
	walk(node.ID, idx)
	return steps
}

// NodesToJSON encodes a node list for storage.
func NodesToJSON(nodes []Node) (xjson.RawMessage, error) {
	if nodes == nil {
		nodes = []Node{}
	}
	return xjson.Marshal(nodes)
}

// NodesFromJSON decodes a stored node list.
func NodesFromJSON(data xjson.RawMessage) ([]Node, error) {
	if len(data) == 0 {
		return []Node{}, nil
	}
	var nodes []Node
	if err := xjson.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []Node{}
	}
	return nodes, nil
}
