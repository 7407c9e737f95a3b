package engine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// identPattern restricts table and column names to plain identifiers, since
// they are interpolated into DDL.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// session owns the one open engine connection for the lifetime of a bridge.
// It lives inside the worker goroutine and is never shared, so its methods
// need no locking.
type session struct {
	db      *sql.DB
	variant Variant
}

func newSession(ctx context.Context, variants []Variant) (*session, error) {
	db, variant, err := openVariant(ctx, variants)
	if err != nil {
		return nil, err
	}
	return &session{db: db, variant: variant}, nil
}

func (s *session) close() error {
	return s.db.Close()
}

// query runs one SQL statement and materializes all result rows. A query
// error leaves the session usable for further calls.
func (s *session) query(ctx context.Context, sqlText string) ([]string, [][]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close() //nolint:errcheck

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	out := make([][]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			// Drivers may hand back raw byte slices; normalize to string so
			// results survive the channel boundary and JSON encoding.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

// register creates the table if it does not exist and appends the rows.
// Registering the same table twice appends; it never fails on existence.
func (s *session) register(ctx context.Context, p *RegisterPayload) error {
	if p == nil {
		return fmt.Errorf("register payload is required")
	}
	if len(p.Columns) == 0 {
		return fmt.Errorf("register %q: at least one column is required", p.Table)
	}
	if !identPattern.MatchString(p.Table) {
		return fmt.Errorf("invalid table name %q", p.Table)
	}
	for _, c := range p.Columns {
		if !identPattern.MatchString(c) {
			return fmt.Errorf("invalid column name %q", c)
		}
	}

	colDefs := make([]string, len(p.Columns))
	placeholders := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		colDefs[i] = fmt.Sprintf("%q TEXT", c)
		placeholders[i] = "?"
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", p.Table, strings.Join(colDefs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q: %w", p.Table, err)
	}

	if len(p.Rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register %q: %w", p.Table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %q VALUES (%s)", p.Table, strings.Join(placeholders, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert %q: %w", p.Table, err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range p.Rows {
		if len(row) != len(p.Columns) {
			return fmt.Errorf("register %q: row has %d values, want %d", p.Table, len(row), len(p.Columns))
		}
		args := make([]interface{}, len(row))
		for i, v := range row {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %q: %w", p.Table, err)
		}
	}

	return tx.Commit()
}
