// Package engine walks a pipeline graph from its source nodes outward and
// recomputes the derived state of every operator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/execution"
	"github.com/rpattn/dataflow/internal/graph"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/registry"
	"github.com/rpattn/dataflow/internal/validators"
)

const defaultSampleLimit = 20

// ErrNotPreviewable is returned when the target node has no valid output.
var ErrNotPreviewable = errors.New("node has no valid output to preview")

// Previewer runs a subgraph on the execution service.
type Previewer interface {
	Preview(ctx context.Context, req execution.Request) (execution.Preview, error)
}

// Options configures an Engine. Zero values get working defaults.
type Options struct {
	Validators  *validators.Set
	Metadata    metadata.FieldLister
	Samples     metadata.SampleSource
	Registry    *registry.Registry
	Previewer   Previewer
	Logger      hclog.Logger
	SampleLimit int
	// LoaderWait is the batching window of the per-pass metadata loader.
	LoaderWait time.Duration
}

// Engine recomputes pipelines. Passes are serialized so that no two passes
// write to the registry at the same time.
type Engine struct {
	validators  *validators.Set
	metadata    metadata.FieldLister
	samples     metadata.SampleSource
	registry    *registry.Registry
	previewer   Previewer
	logger      hclog.Logger
	sampleLimit int
	loaderWait  time.Duration

	passMu sync.Mutex
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Registry == nil {
		opts.Registry = registry.MustNew(registry.DefaultSampleCacheSize)
	}
	if opts.Validators == nil {
		opts.Validators = validators.NewSet(validators.Deps{Logger: opts.Logger})
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = defaultSampleLimit
	}
	return &Engine{
		validators:  opts.Validators,
		metadata:    opts.Metadata,
		samples:     opts.Samples,
		registry:    opts.Registry,
		previewer:   opts.Previewer,
		logger:      opts.Logger.Named("engine"),
		sampleLimit: opts.SampleLimit,
		loaderWait:  opts.LoaderWait,
	}
}

// Registry returns the field registry shared by all passes.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Recompute re-evaluates every operator of the pipeline. The input is never
// modified; the returned pipeline carries the new derived state.
func (e *Engine) Recompute(ctx context.Context, p domain.Pipeline) (domain.Pipeline, error) {
	return e.run(ctx, p, func(*graph.Index) plan {
		return func(string) (int, bool) { return 0, true }
	})
}

// RecomputeFrom re-evaluates one node from the given operator onward and
// every node downstream of it. Other nodes keep their derived state.
func (e *Engine) RecomputeFrom(ctx context.Context, p domain.Pipeline, nodeID string, opIndex int) (domain.Pipeline, error) {
	node, ok := p.NodeByID(nodeID)
	if !ok {
		return domain.Pipeline{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, nodeID)
	}
	if opIndex < 0 || opIndex >= len(node.Formula) {
		return domain.Pipeline{}, fmt.Errorf("%w: index %d of node %s", domain.ErrOperatorNotFound, opIndex, nodeID)
	}
	return e.run(ctx, p, func(idx *graph.Index) plan {
		downstream := idx.Descendants(nodeID)
		return func(id string) (int, bool) {
			if id == nodeID {
				return opIndex, true
			}
			return 0, downstream[id]
		}
	})
}

// plan decides whether a node is evaluated in this pass and from which operator.
type plan func(nodeID string) (start int, evaluate bool)

func (e *Engine) run(ctx context.Context, p domain.Pipeline, planFor func(*graph.Index) plan) (domain.Pipeline, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	out := p.Clone()
	idx, err := graph.Build(out)
	if err != nil {
		return domain.Pipeline{}, err
	}
	planner := planFor(idx)

	env := validators.Env{Graph: idx, Registry: e.registry}
	if e.metadata != nil {
		env.Metadata = metadata.NewLoader(e.metadata, e.loaderWait)
	}

	position := make(map[string]int, len(out.Nodes))
	for i, node := range out.Nodes {
		position[node.ID] = i
	}

	evaluated := 0
	for _, id := range idx.Order() {
		start, ok := planner(id)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return domain.Pipeline{}, err
		}
		branches := make([]validators.Branch, 0, len(idx.Inbound(id)))
		for _, src := range idx.Inbound(id) {
			upstream := out.Nodes[position[src]]
			branches = append(branches, validators.Branch{NodeID: src, Fields: domain.CloneFields(upstream.Output())})
		}
		node, err := e.evaluate(ctx, env, out.Nodes[position[id]], start, branches)
		if err != nil {
			return domain.Pipeline{}, err
		}
		out.Nodes[position[id]] = node
		evaluated++
	}
	e.logger.Debug("recompute pass finished", "pipeline", p.ID, "nodes", evaluated)
	return out, nil
}

// evaluate runs the chain of one node from start. After the first failing
// operator the rest of the chain is marked as missing upstream data without
// consulting the validators.
func (e *Engine) evaluate(ctx context.Context, env validators.Env, node domain.Node, start int, branches []validators.Branch) (domain.Node, error) {
	var previous []domain.Field
	failed := false
	if start > 0 {
		prior := node.Formula[start-1]
		previous = prior.OutputFields
		failed = prior.Error != nil
	}

	for i := start; i < len(node.Formula); i++ {
		if err := ctx.Err(); err != nil {
			return domain.Node{}, err
		}
		op := node.Formula[i]
		if failed {
			op.OutputFields = []domain.Field{}
			op.Error = domain.NewOperatorError(domain.ErrMissingUpstreamData, "an earlier operator of this node failed")
			op.FieldErrors = nil
			node.Formula[i] = op
			continue
		}

		result := e.validators.Validate(ctx, validators.Input{
			Env:      env,
			Node:     node,
			Index:    i,
			Operator: op,
			Previous: domain.CloneFields(previous),
			Branches: branches,
		})
		op.Config = result.Config
		op.OutputFields = result.Fields
		op.Error = result.Err
		op.FieldErrors = result.FieldErrors
		node.Formula[i] = op

		if result.Err != nil {
			e.logger.Trace("operator failed", "node", node.ID, "operator", op.ID, "kind", op.Kind, "error", result.Err)
			failed = true
			continue
		}
		if cfg, ok := op.Config.(domain.SourceConfig); ok {
			e.prefetchSamples(ctx, cfg.ReferenceID)
		}
		previous = result.Fields
	}
	return node, nil
}

// prefetchSamples caches sample rows for a source. Failures are only logged.
func (e *Engine) prefetchSamples(ctx context.Context, referenceID string) {
	if e.samples == nil {
		return
	}
	if _, cached := e.registry.ExampleData(referenceID); cached {
		return
	}
	rows, err := e.samples.SampleRows(ctx, referenceID, e.sampleLimit)
	if err != nil {
		e.logger.Debug("sample rows unavailable", "reference", referenceID, "error", err)
		return
	}
	e.registry.AddExampleData(referenceID, rows, false)
}

// Preview sends the subgraph ending at nodeID to the execution service and
// caches the returned rows as the example data of the node's last operator.
func (e *Engine) Preview(ctx context.Context, p domain.Pipeline, nodeID string) (execution.Preview, error) {
	if e.previewer == nil {
		return execution.Preview{}, execution.ErrNotConfigured
	}
	idx, err := graph.Build(p)
	if err != nil {
		return execution.Preview{}, err
	}
	target, ok := idx.Node(nodeID)
	if !ok {
		return execution.Preview{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, nodeID)
	}
	last, ok := target.Last()
	if !ok || last.Error != nil || len(last.OutputFields) == 0 {
		return execution.Preview{}, fmt.Errorf("%w: %s", ErrNotPreviewable, nodeID)
	}

	include := idx.Ancestors(nodeID)
	include[nodeID] = true
	var nodes []domain.Node
	for _, id := range idx.Order() {
		if include[id] {
			node, _ := idx.Node(id)
			nodes = append(nodes, node.Clone())
		}
	}

	preview, err := e.previewer.Preview(ctx, execution.Request{
		PipelineID: p.ID.String(),
		Target:     nodeID,
		Nodes:      nodes,
		Limit:      e.sampleLimit,
	})
	if err != nil {
		return execution.Preview{}, fmt.Errorf("preview node %s: %w", nodeID, err)
	}
	e.registry.AddExampleData(last.ID, preview.Rows, true)
	return preview, nil
}
