package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	entsql "entgo.io/ent/dialect/sql"
)

// StagingSuffix is appended to a table name to name its staging copy.
const StagingSuffix = "_staging"

// Row is one row read from a staging table, keyed by column name.
type Row map[string]any

// String returns the column as a string. JSON documents decoded by the
// driver are re-encoded.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Int64 returns the column as an integer, or zero when it cannot be read
// as one.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// JSON decodes the column as a JSON object. Empty values decode to an
// empty map.
func (r Row) JSON(col string) (map[string]any, error) {
	out := make(map[string]any)
	if m, ok := r[col].(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	}
	s := r.String(col)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("column %s is not a JSON object: %w", col, err)
	}
	return out, nil
}

// TableRebuild describes how one table moves from its live shape to a new
// shape through a staging copy.
type TableRebuild struct {
	// Table is the live table name. The rebuilt table keeps the name.
	Table string

	// OrderBy orders staging rows as they are copied.
	OrderBy []string

	// Create holds the DDL for the new shape, including its indexes.
	Create []string

	// Columns are the new table's columns written by the copy.
	Columns []string

	// Map converts a staging row into a row of the new shape.
	Map func(Row) (Row, error)
}

// Rebuild moves tables to a new shape inside tx: snapshot every table into
// a staging copy, drop the live tables (in reverse order, so children go
// first), create the new shapes (in order), copy the rows through Map,
// check that row counts match, and drop the staging copies. The caller's
// transaction makes the whole move atomic.
func Rebuild(ctx context.Context, tx *sql.Tx, dialectName string, tables []TableRebuild) error {
	for _, t := range tables {
		stmt := "CREATE TABLE " + t.Table + StagingSuffix + " AS SELECT * FROM " + t.Table
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to stage %s: %w", t.Table, err)
		}
	}
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+tables[i].Table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", tables[i].Table, err)
		}
	}
	for _, t := range tables {
		for _, stmt := range t.Create {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create %s: %w", t.Table, err)
			}
		}
	}

	for _, t := range tables {
		staged, err := copyRows(ctx, tx, dialectName, t)
		if err != nil {
			return err
		}
		copied, err := CountRows(ctx, tx, dialectName, t.Table)
		if err != nil {
			return err
		}
		if copied != staged {
			return fmt.Errorf("row count mismatch for %s: staged %d, copied %d", t.Table, staged, copied)
		}
	}

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+t.Table+StagingSuffix); err != nil {
			return fmt.Errorf("failed to drop staging copy of %s: %w", t.Table, err)
		}
	}
	return nil
}

func copyRows(ctx context.Context, tx *sql.Tx, dialectName string, t TableRebuild) (int64, error) {
	sel := entsql.Dialect(dialectName).
		Select("*").
		From(entsql.Table(t.Table + StagingSuffix))
	if len(t.OrderBy) > 0 {
		sel.OrderBy(t.OrderBy...)
	}
	query, args := sel.Query()

	staged, err := ReadRows(ctx, tx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging copy of %s: %w", t.Table, err)
	}

	for _, row := range staged {
		mapped, err := t.Map(row)
		if err != nil {
			return 0, fmt.Errorf("failed to map %s row: %w", t.Table, err)
		}
		values := make([]any, len(t.Columns))
		for i, col := range t.Columns {
			values[i] = mapped[col]
		}
		query, args := entsql.Dialect(dialectName).
			Insert(t.Table).
			Columns(t.Columns...).
			Values(values...).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("failed to copy %s row: %w", t.Table, err)
		}
	}
	return int64(len(staged)), nil
}

// ReadRows runs query and returns every row keyed by column name.
func ReadRows(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountRows counts the rows of table.
func CountRows(ctx context.Context, tx *sql.Tx, dialectName, table string) (int64, error) {
	query, args := entsql.Dialect(dialectName).
		Select(entsql.Count("*")).
		From(entsql.Table(table)).
		Query()
	var n int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
