package metadata

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/registry"
)

// MySQLCatalog reads table metadata from INFORMATION_SCHEMA.
type MySQLCatalog struct {
	db     *sql.DB
	schema string
}

// NewMySQLCatalog opens a connection and verifies it.
func NewMySQLCatalog(dsn, schema string) (*MySQLCatalog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if schema == "" {
		if cfg, err := mysql.ParseDSN(dsn); err == nil {
			schema = cfg.DBName
		}
	}
	return &MySQLCatalog{db: db, schema: schema}, nil
}

// Close releases the connection pool.
func (c *MySQLCatalog) Close() error {
	return c.db.Close()
}

func (c *MySQLCatalog) FieldList(ctx context.Context, referenceID string) ([]domain.Field, error) {
	schema, table := splitReference(referenceID, c.schema)
	query := `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_COMMENT, COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := c.db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, classifyMySQL(referenceID, err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var name, dataType, comment, key string
		if err := rows.Scan(&name, &dataType, &comment, &key); err != nil {
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
			DataType:   mysqlType(dataType),
			PrimaryKey: key == "PRI",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQL(referenceID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, referenceID)
	}
	return stamp(referenceID, fields), nil
}

func (c *MySQLCatalog) SampleRows(ctx context.Context, referenceID string, limit int) ([]registry.Row, error) {
	schema, table := splitReference(referenceID, c.schema)
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT * FROM %s.%s LIMIT ?", quoteMySQL(schema), quoteMySQL(table))
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, classifyMySQL(referenceID, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []registry.Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("read sample row of %s: %w", referenceID, err)
		}
		row := make(registry.Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
				continue
			}
			row[column] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func classifyMySQL(referenceID string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1146 {
		return fmt.Errorf("%w: %s", ErrNotFound, referenceID)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrOffline, referenceID, err)
	}
	return fmt.Errorf("read metadata of %s: %w", referenceID, err)
}

func mysqlType(dataType string) domain.DataType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "mediumint", "int", "bigint":
		return domain.DataTypeInt
	case "decimal", "float", "double":
		return domain.DataTypeNumber
	case "bit", "bool", "boolean":
		return domain.DataTypeBoolean
	case "date":
		return domain.DataTypeDate
	case "datetime", "timestamp":
		return domain.DataTypeDatetime
	case "time":
		return domain.DataTypeTime
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return domain.DataTypeBinary
	default:
		return domain.DataTypeChar
	}
}

func quoteMySQL(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}
