package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the statements of the pipelines table.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns queries bound to a transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Pipeline is one row of the pipelines table.
type Pipeline struct {
	ID          uuid.UUID
	Name        string
	Description pgtype.Text
	Nodes       []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const pipelineColumns = `id, name, description, nodes, created_at, updated_at`

func scanPipeline(row pgx.Row) (Pipeline, error) {
	var p Pipeline
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Nodes, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const createPipeline = `
INSERT INTO pipelines (id, name, description, nodes)
VALUES ($1, $2, $3, $4)
RETURNING ` + pipelineColumns

type CreatePipelineParams struct {
	ID          uuid.UUID
	Name        string
	Description pgtype.Text
	Nodes       []byte
}

func (q *Queries) CreatePipeline(ctx context.Context, arg CreatePipelineParams) (Pipeline, error) {
	return scanPipeline(q.db.QueryRow(ctx, createPipeline, arg.ID, arg.Name, arg.Description, arg.Nodes))
}

const getPipeline = `SELECT ` + pipelineColumns + ` FROM pipelines WHERE id = $1`

func (q *Queries) GetPipeline(ctx context.Context, id uuid.UUID) (Pipeline, error) {
	return scanPipeline(q.db.QueryRow(ctx, getPipeline, id))
}

const lockPipeline = getPipeline + ` FOR UPDATE`

// LockPipeline reads a row and holds its lock until the transaction ends.
func (q *Queries) LockPipeline(ctx context.Context, id uuid.UUID) (Pipeline, error) {
	return scanPipeline(q.db.QueryRow(ctx, lockPipeline, id))
}

const listPipelines = `SELECT ` + pipelineColumns + ` FROM pipelines ORDER BY name, created_at LIMIT $1 OFFSET $2`

func (q *Queries) ListPipelines(ctx context.Context, limit, offset int32) ([]Pipeline, error) {
	rows, err := q.db.Query(ctx, listPipelines, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// Name and description are only overwritten when valid.
const updatePipeline = `
UPDATE pipelines
SET name = COALESCE($1, name),
    description = COALESCE($2, description),
    nodes = $3,
    updated_at = NOW()
WHERE id = $4
RETURNING ` + pipelineColumns

type UpdatePipelineParams struct {
	Name        pgtype.Text
	Description pgtype.Text
	Nodes       []byte
	ID          uuid.UUID
}

func (q *Queries) UpdatePipeline(ctx context.Context, arg UpdatePipelineParams) (Pipeline, error) {
	return scanPipeline(q.db.QueryRow(ctx, updatePipeline, arg.Name, arg.Description, arg.Nodes, arg.ID))
}

const deletePipeline = `DELETE FROM pipelines WHERE id = $1`

func (q *Queries) DeletePipeline(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deletePipeline, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
