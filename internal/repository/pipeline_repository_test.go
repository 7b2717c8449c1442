package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/db"
	"github.com/rpattn/dataflow/internal/domain"
)

// fakeRow scans a stored pipeline row in column order.
type fakeRow struct {
	row db.Pipeline
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*uuid.UUID) = r.row.ID
	*dest[1].(*string) = r.row.Name
	*dest[2].(*pgtype.Text) = r.row.Description
	*dest[3].(*[]byte) = r.row.Nodes
	*dest[4].(*time.Time) = r.row.CreatedAt
	*dest[5].(*time.Time) = r.row.UpdatedAt
	return nil
}

// fakeDB keeps pipeline rows in memory and dispatches on the statement verb.
type fakeDB struct {
	rows map[uuid.UUID]db.Pipeline
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[uuid.UUID]db.Pipeline)}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	id := args[0].(uuid.UUID)
	if _, ok := f.rows[id]; !ok {
		return pgconn.NewCommandTag("DELETE 0"), nil
	}
	delete(f.rows, id)
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("connection reset")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	switch verb := strings.Fields(sql)[0]; verb {
	case "INSERT":
		row := db.Pipeline{
			ID:          args[0].(uuid.UUID),
			Name:        args[1].(string),
			Description: args[2].(pgtype.Text),
			Nodes:       args[3].([]byte),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		f.rows[row.ID] = row
		return fakeRow{row: row}
	case "SELECT":
		row, ok := f.rows[args[0].(uuid.UUID)]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{row: row}
	case "UPDATE":
		id := args[3].(uuid.UUID)
		row, ok := f.rows[id]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		if name := args[0].(pgtype.Text); name.Valid {
			row.Name = name.String
		}
		if desc := args[1].(pgtype.Text); desc.Valid {
			row.Description = desc
		}
		row.Nodes = args[2].([]byte)
		row.UpdatedAt = now.Add(time.Hour)
		f.rows[id] = row
		return fakeRow{row: row}
	default:
		return fakeRow{err: fmt.Errorf("unexpected statement %s", verb)}
	}
}

// fakeTx routes statements to the in-memory rows.
type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	statements []string
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.statements = append(t.statements, sql)
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.statements = append(t.statements, sql)
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.statements = append(t.statements, sql)
	return t.db.QueryRow(ctx, sql, args...)
}

// fakeTxRunner restores the rows when fn fails.
type fakeTxRunner struct {
	db         *fakeDB
	committed  int
	rolledBack int
	last       *fakeTx
}

func (r *fakeTxRunner) WithTx(_ context.Context, fn func(pgx.Tx) error) error {
	snapshot := maps.Clone(r.db.rows)
	r.last = &fakeTx{db: r.db}
	if err := fn(r.last); err != nil {
		r.db.rows = snapshot
		r.rolledBack++
		return err
	}
	r.committed++
	return nil
}

func newTestRepository() (PipelineRepository, *fakeTxRunner) {
	store := newFakeDB()
	txs := &fakeTxRunner{db: store}
	return NewPipelineRepository(db.New(store), txs), txs
}

func samplePipeline() domain.Pipeline {
	p := domain.NewPipeline("daily sales", "")
	p.Nodes = []domain.Node{
		{ID: "src", Formula: []domain.Operator{{
			ID: "op1", Kind: domain.OperatorSource, Config: domain.SourceConfig{ReferenceID: "sales"},
		}}},
		{ID: "agg", Src: []string{"src"}, Formula: []domain.Operator{{
			ID: "op2", Kind: domain.OperatorSelect, Config: domain.SelectConfig{},
		}}},
	}
	return p
}

func TestPipelineRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, txs := newTestRepository()

	created, err := repo.Create(ctx, samplePipeline())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Empty(t, created.Description)

	loaded, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, []string{"src"}, loaded.Nodes[1].Src)
	assert.Equal(t, domain.SourceConfig{ReferenceID: "sales"}, loaded.Nodes[0].Formula[0].Config)

	loaded.Description = "rolled up by region"
	loaded.Nodes = loaded.Nodes[:1]
	updated, err := repo.Update(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, "daily sales", updated.Name)
	assert.Equal(t, "rolled up by region", updated.Description)
	assert.Len(t, updated.Nodes, 1)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.Equal(t, 1, txs.committed)
	require.Len(t, txs.last.statements, 2)
	assert.Contains(t, txs.last.statements[0], "FOR UPDATE")
	assert.Contains(t, txs.last.statements[1], "UPDATE pipelines")

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
}

func TestPipelineRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, txs := newTestRepository()
	missing := samplePipeline()

	_, err := repo.Update(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
	assert.Equal(t, 0, txs.committed)
	assert.Equal(t, 1, txs.rolledBack)
	assert.Len(t, txs.last.statements, 1)
	assert.ErrorIs(t, repo.Delete(ctx, missing.ID), domain.ErrPipelineNotFound)
	assert.True(t, domain.IsNotFound(repo.Delete(ctx, missing.ID)))
}

func TestPipelineRepository_ListPropagatesErrors(t *testing.T) {
	repo, _ := newTestRepository()
	_, err := repo.List(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMapPipelineRow_RejectsCorruptNodes(t *testing.T) {
	_, err := mapPipelineRow(db.Pipeline{ID: uuid.New(), Nodes: []byte(`{"not":"a list"}`)})
	assert.ErrorContains(t, err, "unmarshal nodes")

	p, err := mapPipelineRow(db.Pipeline{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, []domain.Node{}, p.Nodes)
}
