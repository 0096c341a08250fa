package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads the catalog from a shared PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and checks that the catalog is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Candidate, error) {
	query, args, ok := searchSQL(dialectPostgres, q)
	if !ok {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *Postgres) GetByCode(ctx context.Context, code string) (*Candidate, error) {
	var r row
	err := p.pool.QueryRow(ctx, getByCodeSQL(dialectPostgres), code).Scan(&r.code, &r.name, &r.unit, &r.nameKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog item %s: %w", code, err)
	}
	return &Candidate{Code: r.code, Name: r.name, Unit: r.unit}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
