package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite reads the catalog from a local sqlite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path read-only and checks that the catalog table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_query_only=true", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	return newSQLite(ctx, db)
}

func newSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM catalog_items").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Search(ctx context.Context, q Query) ([]Candidate, error) {
	query, args, ok := searchSQL(dialectSQLite, q)
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.code, &r.name, &r.unit, &r.nameKey); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}

	return scoreRows(out, q), nil
}

func (s *SQLite) GetByCode(ctx context.Context, code string) (*Candidate, error) {
	var r row
	err := s.db.QueryRowContext(ctx, getByCodeSQL(dialectSQLite), code).Scan(&r.code, &r.name, &r.unit, &r.nameKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog item %s: %w", code, err)
	}
	return &Candidate{Code: r.code, Name: r.name, Unit: r.unit}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
