package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rpattn/dataflow/internal/domain"
)

// ErrStalePass is returned by a pass that was superseded by a newer one.
var ErrStalePass = errors.New("recompute pass superseded by a newer pass")

// Session holds the current snapshot of one pipeline being edited. Every
// pass is tagged with an increasing version; starting a pass cancels the one
// in flight and only the newest pass may publish its result.
type Session struct {
	engine *Engine

	mu      sync.Mutex
	current domain.Pipeline
	version uint64
	applied uint64
	cancel  context.CancelFunc
}

// NewSession starts a session on a pipeline snapshot.
func NewSession(engine *Engine, p domain.Pipeline) *Session {
	return &Session{engine: engine, current: p.Clone()}
}

// Snapshot returns the last published pipeline and the version that produced it.
func (s *Session) Snapshot() (domain.Pipeline, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone(), s.applied
}

// Apply replaces the pipeline with an edited version and recomputes it fully.
func (s *Session) Apply(ctx context.Context, p domain.Pipeline) (domain.Pipeline, error) {
	return s.pass(ctx, func(ctx context.Context) (domain.Pipeline, error) {
		return s.engine.Recompute(ctx, p)
	})
}

// ApplyFrom replaces the pipeline and recomputes from one changed operator onward.
func (s *Session) ApplyFrom(ctx context.Context, p domain.Pipeline, nodeID string, opIndex int) (domain.Pipeline, error) {
	return s.pass(ctx, func(ctx context.Context) (domain.Pipeline, error) {
		return s.engine.RecomputeFrom(ctx, p, nodeID, opIndex)
	})
}

// Recompute re-runs a full pass over the current snapshot.
func (s *Session) Recompute(ctx context.Context) (domain.Pipeline, error) {
	snapshot, _ := s.Snapshot()
	return s.Apply(ctx, snapshot)
}

func (s *Session) pass(ctx context.Context, run func(context.Context) (domain.Pipeline, error)) (domain.Pipeline, error) {
	passCtx, version := s.begin(ctx)
	result, err := run(passCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if version != s.version {
		return domain.Pipeline{}, ErrStalePass
	}
	s.cancel()
	s.cancel = nil
	if err != nil {
		return domain.Pipeline{}, err
	}
	s.current = result
	s.applied = version
	return result.Clone(), nil
}

func (s *Session) begin(ctx context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.version++
	passCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return passCtx, s.version
}
