package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	ErrMissingDataStore  = errors.New("data store file does not exist")
	ErrTableNameNotFound = errors.New("table name not found in definition")
)

// SampleSize is the number of example rows shown per table.
const SampleSize = 5

var tableNamePattern = regexp.MustCompile("(?is)^\\s*CREATE\\s+(?:TEMP\\s+|TEMPORARY\\s+)?TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?" +
	"(?:\"([^\"]+)\"|`([^`]+)`|\\[([^\\]]+)\\]|([A-Za-z_][A-Za-z0-9_]*))")

// ParseTableName extracts the table name from a CREATE TABLE statement.
func ParseTableName(ddl string) (string, error) {
	m := tableNamePattern.FindStringSubmatch(ddl)
	if m == nil {
		return "", ErrTableNameNotFound
	}
	for _, g := range m[1:] {
		if g != "" {
			return g, nil
		}
	}
	return "", ErrTableNameNotFound
}

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens an existing database file read-only. Generated SQL runs against this
// connection, so nothing it does can modify the data.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingDataStore, path)
		}
		return nil, fmt.Errorf("failed to stat database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// NewStoreFromDB wraps an already opened handle.
func NewStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TableDefinitions returns every non-null schema definition in catalog order.
func (s *SQLiteStore) TableDefinitions(ctx context.Context) ([]TableDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, sql FROM sqlite_master WHERE sql IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to query sqlite_master: %w", err)
	}
	defer rows.Close()

	var defs []TableDefinition
	for rows.Next() {
		var kind, ddl string
		if err := rows.Scan(&kind, &ddl); err != nil {
			return nil, fmt.Errorf("failed to scan sqlite_master row: %w", err)
		}
		def := TableDefinition{SQL: ddl}
		if kind == "table" {
			def.Name, _ = ParseTableName(ddl)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sqlite_master: %w", err)
	}
	return defs, nil
}

// Query runs an arbitrary read statement and materializes the whole result.
func (s *SQLiteStore) Query(ctx context.Context, query string) (*QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: [][]string{}}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Columns lists a table's column names in declaration order.
func (s *SQLiteStore) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// SampleRows returns up to SampleSize random rows with distinct values in the representative
// column. When the table has no column named preferredColumn its first column is used instead.
func (s *SQLiteStore) SampleRows(ctx context.Context, table, preferredColumn string) (*QueryResult, error) {
	columns, err := s.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table)
	}

	column := columns[0]
	for _, c := range columns {
		if strings.EqualFold(c, preferredColumn) {
			column = c
			break
		}
	}

	t := QuoteIdent(table)
	grouped := fmt.Sprintf(
		"SELECT * FROM %s WHERE rowid IN (SELECT rowid FROM (SELECT rowid, %s FROM %s GROUP BY %s ORDER BY RANDOM() LIMIT %d))",
		t, QuoteIdent(column), t, QuoteIdent(column), SampleSize)
	result, err := s.Query(ctx, grouped)
	if err == nil {
		return result, nil
	}

	// WITHOUT ROWID tables cannot use the grouped form.
	log.Printf("Grouped sampling of %s by %s failed, falling back to plain random rows: %v", table, column, err)
	result, err = s.Query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY RANDOM() LIMIT %d", t, SampleSize))
	if err != nil {
		return nil, fmt.Errorf("failed to sample rows of %s: %w", table, err)
	}
	return result, nil
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
