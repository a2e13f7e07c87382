package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// Filter selects a page of rows from a table.
type Filter struct {
	// Where is an SQL condition with ? placeholders, e.g. "Node = ?".
	Where string
	Args  []any

	// OrderBy lists the sort columns, e.g. "Time, PacketID".
	OrderBy string

	// Limit is the page size. Zero returns every matching row.
	Limit  int
	Offset int
}

func (f Filter) whereClause() string {
	if f.Where == "" {
		return ""
	}

	return " WHERE " + f.Where
}

// A Page holds the rows selected by a filter and the number of rows that
// match the filter regardless of paging.
type Page[T any] struct {
	Rows  []T
	Total int
}

// Reader reads back the tables of a recording.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an existing recording. The .sqlite3 extension may be
// left out.
func OpenReader(path string) (*Reader, error) {
	filename := path
	if !strings.HasSuffix(filename, ".sqlite3") {
		filename += ".sqlite3"
	}

	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, err
	}

	return &Reader{db: db}, nil
}

// NewReaderWithDB reads from an open database.
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Tables returns the names of the recorded tables, sorted.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// Count returns the number of rows of the table that match the filter.
func (r *Reader) Count(ctx context.Context, table string, f Filter) (int, error) {
	if !validTableName.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}

	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+f.whereClause(), f.Args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}

	return n, nil
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Query reads a page of rows into structs of type T. Columns are matched to
// fields by name. Columns without a field are skipped.
func Query[T any](ctx context.Context, r *Reader, table string, f Filter) (Page[T], error) {
	var page Page[T]

	rowType := reflect.TypeOf((*T)(nil)).Elem()
	if rowType.Kind() != reflect.Struct {
		return page, fmt.Errorf("rows of %s must be read into a struct, not %s",
			table, rowType)
	}

	total, err := r.Count(ctx, table, f)
	if err != nil {
		return page, err
	}
	page.Total = total

	query := "SELECT * FROM " + table + f.whereClause()
	if f.OrderBy != "" {
		query += " ORDER BY " + f.OrderBy
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, f.Args...)
	if err != nil {
		return page, fmt.Errorf("reading %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return page, err
	}

	for rows.Next() {
		var row T
		v := reflect.ValueOf(&row).Elem()

		targets := make([]any, len(columns))
		for i, col := range columns {
			field := v.FieldByName(col)
			if field.IsValid() && field.CanSet() {
				targets[i] = field.Addr().Interface()
			} else {
				targets[i] = new(any)
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return page, fmt.Errorf("reading %s: %w", table, err)
		}

		page.Rows = append(page.Rows, row)
	}

	return page, rows.Err()
}
