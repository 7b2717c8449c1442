package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/registry"
)

const postgresColumnsQuery = `
SELECT c.column_name,
       c.data_type,
       COALESCE(pgd.description, '') AS comment,
       EXISTS (
           SELECT 1
           FROM information_schema.table_constraints tc
           JOIN information_schema.key_column_usage k
             ON tc.constraint_name = k.constraint_name
            AND tc.table_schema = k.table_schema
            AND tc.table_name = k.table_name
           WHERE tc.constraint_type = 'PRIMARY KEY'
             AND tc.table_schema = c.table_schema
             AND tc.table_name = c.table_name
             AND k.column_name = c.column_name
       ) AS is_primary
FROM information_schema.columns c
LEFT JOIN pg_catalog.pg_statio_all_tables st
  ON st.schemaname = c.table_schema AND st.relname = c.table_name
LEFT JOIN pg_catalog.pg_description pgd
  ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

// PostgresCatalog reads table metadata from information_schema. References
// are "schema.table" or a bare table name in the default schema.
type PostgresCatalog struct {
	pool          *pgxpool.Pool
	defaultSchema string
}

// NewPostgresCatalog returns a catalog backed by the given pool.
func NewPostgresCatalog(pool *pgxpool.Pool, defaultSchema string) *PostgresCatalog {
	if strings.TrimSpace(defaultSchema) == "" {
		defaultSchema = "public"
	}
	return &PostgresCatalog{pool: pool, defaultSchema: defaultSchema}
}

func (c *PostgresCatalog) FieldList(ctx context.Context, referenceID string) ([]domain.Field, error) {
	schema, table := splitReference(referenceID, c.defaultSchema)
	rows, err := c.pool.Query(ctx, postgresColumnsQuery, schema, table)
	if err != nil {
		return nil, classifyPostgres(referenceID, err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var name, dataType, comment string
		var primary bool
		if err := rows.Scan(&name, &dataType, &comment, &primary); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", referenceID, err)
		}
		alias := comment
		if alias == "" {
			alias = name
		}
		fields = append(fields, domain.Field{
			ID:         name,
			Alias:      alias,
			NameEn:     name,
			DataType:   postgresType(dataType),
			PrimaryKey: primary,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres(referenceID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, referenceID)
	}
	return stamp(referenceID, fields), nil
}

func (c *PostgresCatalog) SampleRows(ctx context.Context, referenceID string, limit int) ([]registry.Row, error) {
	schema, table := splitReference(referenceID, c.defaultSchema)
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT $1", pgx.Identifier{schema, table}.Sanitize())
	rows, err := c.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, classifyPostgres(referenceID, err)
	}
	defer rows.Close()

	descriptions := rows.FieldDescriptions()
	var result []registry.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read sample row of %s: %w", referenceID, err)
		}
		row := make(registry.Row, len(values))
		for i, value := range values {
			row[descriptions[i].Name] = value
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func classifyPostgres(referenceID string, err error) error {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrOffline, referenceID, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", ErrNotFound, referenceID)
	}
	return fmt.Errorf("read metadata of %s: %w", referenceID, err)
}

func postgresType(dataType string) domain.DataType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint":
		return domain.DataTypeInt
	case "numeric", "real", "double precision", "money":
		return domain.DataTypeNumber
	case "boolean":
		return domain.DataTypeBoolean
	case "date":
		return domain.DataTypeDate
	case "timestamp without time zone", "timestamp with time zone":
		return domain.DataTypeDatetime
	case "time without time zone", "time with time zone":
		return domain.DataTypeTime
	case "bytea":
		return domain.DataTypeBinary
	default:
		return domain.DataTypeChar
	}
}

func splitReference(referenceID, defaultSchema string) (string, string) {
	if schema, table, ok := strings.Cut(referenceID, "."); ok {
		return schema, table
	}
	return defaultSchema, referenceID
}
