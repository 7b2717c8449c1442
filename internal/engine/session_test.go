package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/registry"
)

// blockingLister holds the first field-list call until its context ends.
type blockingLister struct {
	metadata.FieldLister
	entered chan struct{}
	calls   atomic.Int32
}

func (b *blockingLister) FieldList(ctx context.Context, ref string) ([]domain.Field, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.FieldLister.FieldList(ctx, ref)
}

func TestSession_ApplyPublishesSnapshot(t *testing.T) {
	session := NewSession(newEngine(nil), scenarioA())
	_, version := session.Snapshot()
	assert.Zero(t, version)

	result, err := session.Apply(context.Background(), scenarioA())
	require.NoError(t, err)
	assert.Nil(t, operatorOf(t, result, "indicator").Error)

	snapshot, version := session.Snapshot()
	assert.EqualValues(t, 1, version)
	assert.Equal(t, result.Nodes, snapshot.Nodes)

	again, err := session.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Nodes, again.Nodes)
	_, version = session.Snapshot()
	assert.EqualValues(t, 2, version)
}

func TestSession_NewerPassSupersedesOlder(t *testing.T) {
	lister := &blockingLister{FieldLister: testCatalog(), entered: make(chan struct{})}
	e := New(Options{Metadata: lister, Registry: registry.MustNew(8)})
	session := NewSession(e, scenarioA())

	firstErr := make(chan error, 1)
	go func() {
		_, err := session.Apply(context.Background(), scenarioA())
		firstErr <- err
	}()
	<-lister.entered

	second, err := session.Apply(context.Background(), scenarioA())
	require.NoError(t, err)
	assert.Nil(t, operatorOf(t, second, "src-src").Error)

	assert.ErrorIs(t, <-firstErr, ErrStalePass)
	snapshot, version := session.Snapshot()
	assert.EqualValues(t, 2, version)
	assert.Equal(t, second.Nodes, snapshot.Nodes)
}

func TestSession_FailedPassKeepsSnapshot(t *testing.T) {
	session := NewSession(newEngine(nil), scenarioA())
	good, err := session.Apply(context.Background(), scenarioA())
	require.NoError(t, err)

	cyclic := pipeline(
		domain.Node{ID: "a", Src: []string{"b"}},
		domain.Node{ID: "b", Src: []string{"a"}},
	)
	_, err = session.Apply(context.Background(), cyclic)
	require.Error(t, err)

	snapshot, version := session.Snapshot()
	assert.EqualValues(t, 1, version)
	assert.Equal(t, good.Nodes, snapshot.Nodes)
}

func TestSession_ApplyFrom(t *testing.T) {
	session := NewSession(newEngine(nil), scenarioA())
	first, err := session.Apply(context.Background(), scenarioA())
	require.NoError(t, err)

	node, idx, ok := first.Operator("indicator")
	require.True(t, ok)
	edited := node.Clone()
	cfg := edited.Formula[idx].Config.(domain.IndicatorConfig)
	cfg.Aggregate = domain.AggregateCount
	edited.Formula[idx] = edited.Formula[idx].WithConfig(cfg)

	result, err := session.ApplyFrom(context.Background(), first.WithNode(edited), "agg", idx)
	require.NoError(t, err)
	indicator := operatorOf(t, result, "indicator")
	require.Nil(t, indicator.Error)
	assert.Equal(t, "amt_count", indicator.OutputFields[0].NameEn)
}
