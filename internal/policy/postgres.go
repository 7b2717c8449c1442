package policy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/dataflow/internal/domain"
)

// PostgresProvider reads sensitivity flags from the field_sensitivity table.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider returns a provider backed by the given pool.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

func (p *PostgresProvider) SensitiveFields(ctx context.Context, viewID string) ([]domain.FieldKey, error) {
	rows, err := p.pool.Query(ctx, `SELECT field_id FROM field_sensitivity WHERE view_id = $1 ORDER BY field_id`, viewID)
	if err != nil {
		return nil, fmt.Errorf("query field sensitivity: %w", err)
	}
	defer rows.Close()

	var keys []domain.FieldKey
	for rows.Next() {
		var fieldID string
		if err := rows.Scan(&fieldID); err != nil {
			return nil, fmt.Errorf("scan field sensitivity: %w", err)
		}
		keys = append(keys, domain.FieldKey{ID: fieldID, SourceID: viewID})
	}
	return keys, rows.Err()
}
