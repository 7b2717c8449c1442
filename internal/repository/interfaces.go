package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/dataflow/internal/domain"
)

// PipelineRepository defines the interface for pipeline persistence
type PipelineRepository interface {
	Create(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Pipeline, error)
	List(ctx context.Context, limit, offset int) ([]domain.Pipeline, error)
	Update(ctx context.Context, pipeline domain.Pipeline) (domain.Pipeline, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
