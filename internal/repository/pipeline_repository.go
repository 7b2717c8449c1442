package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/dataflow/internal/db"
	"github.com/rpattn/dataflow/internal/domain"
)

const defaultListLimit = 100

type pipelineRepository struct {
	queries *db.Queries
	txs     db.TxRunner
}

// NewPipelineRepository returns a repository for pipeline graphs. Updates run
// inside transactions opened by txs.
func NewPipelineRepository(queries *db.Queries, txs db.TxRunner) PipelineRepository {
	return &pipelineRepository{queries: queries, txs: txs}
}

func (r *pipelineRepository) Create(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, error) {
	if pipeline.ID == uuid.Nil {
		pipeline.ID = uuid.New()
	}
	nodesJSON, err := domain.NodesToJSON(pipeline.Nodes)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("marshal nodes: %w", err)
	}
	row, err := r.queries.CreatePipeline(ctx, db.CreatePipelineParams{
		ID:          pipeline.ID,
		Name:        pipeline.Name,
		Description: optionalText(pipeline.Description),
		Nodes:       nodesJSON,
	})
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("create pipeline: %w", err)
	}
	return mapPipelineRow(row)
}

func (r *pipelineRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Pipeline, error) {
	row, err := r.queries.GetPipeline(ctx, id)
	if err != nil {
		return domain.Pipeline{}, notFound("get pipeline", id, err)
	}
	return mapPipelineRow(row)
}

func (r *pipelineRepository) List(ctx context.Context, limit, offset int) ([]domain.Pipeline, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.queries.ListPipelines(ctx, int32(limit), int32(offset))
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	result := make([]domain.Pipeline, 0, len(rows))
	for _, row := range rows {
		mapped, err := mapPipelineRow(row)
		if err != nil {
			return nil, err
		}
		result = append(result, mapped)
	}
	return result, nil
}

// Update locks the stored row before overwriting it, so concurrent saves of
// one pipeline apply one after the other.
func (r *pipelineRepository) Update(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, error) {
	nodesJSON, err := domain.NodesToJSON(pipeline.Nodes)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("marshal nodes: %w", err)
	}
	var row db.Pipeline
	err = r.txs.WithTx(ctx, func(tx pgx.Tx) error {
		queries := r.queries.WithTx(tx)
		if _, err := queries.LockPipeline(ctx, pipeline.ID); err != nil {
			return notFound("lock pipeline", pipeline.ID, err)
		}
		row, err = queries.UpdatePipeline(ctx, db.UpdatePipelineParams{
			Name:        optionalText(pipeline.Name),
			Description: optionalText(pipeline.Description),
			Nodes:       nodesJSON,
			ID:          pipeline.ID,
		})
		if err != nil {
			return notFound("update pipeline", pipeline.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.Pipeline{}, err
	}
	return mapPipelineRow(row)
}

func (r *pipelineRepository) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := r.queries.DeletePipeline(ctx, id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, id)
	}
	return nil
}

func optionalText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func notFound(action string, id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, id)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func mapPipelineRow(row db.Pipeline) (domain.Pipeline, error) {
	nodes, err := domain.NodesFromJSON(row.Nodes)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("unmarshal nodes: %w", err)
	}
	description := ""
	if row.Description.Valid {
		description = row.Description.String
	}
	return domain.Pipeline{
		ID:          row.ID,
		Name:        row.Name,
		Description: description,
		Nodes:       nodes,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
