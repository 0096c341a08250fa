// Package memory keeps previously confirmed matches: a persistent sqlite
// store of description to code pairs and an in-process result cache.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/normalize"
)

// Confidence is assigned to every remembered match.
const Confidence = 0.9

// ErrEmptyDescription is returned when a description normalizes to nothing.
var ErrEmptyDescription = errors.New("description is empty after normalization")

// Schema creates the memory table.
const Schema = `
CREATE TABLE IF NOT EXISTS match_memory (
	key          TEXT PRIMARY KEY,
	description  TEXT NOT NULL,
	code         TEXT NOT NULL,
	name         TEXT DEFAULT '',
	unit         TEXT DEFAULT '',
	confirmed_by TEXT DEFAULT '',
	confirmed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_match_memory_code ON match_memory(code);
`

// Pair is a confirmed description to catalog item assignment.
type Pair struct {
	Description string
	Item        catalog.Candidate
	ConfirmedBy string
	ConfirmedAt time.Time
}

// Store is a sqlite-backed match memory.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens or creates the memory database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open match memory: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create match memory schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Remember stores or replaces the pair for the description's normalized key.
func (s *Store) Remember(ctx context.Context, p Pair) error {
	key := normalize.Normalize(p.Description).Key
	if key == "" {
		return ErrEmptyDescription
	}
	code := strings.TrimSpace(p.Item.Code)
	if code == "" {
		return fmt.Errorf("remember %q: code is required", p.Description)
	}
	at := p.ConfirmedAt
	if at.IsZero() {
		at = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_memory (key, description, code, name, unit, confirmed_by, confirmed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   description = excluded.description,
		   code = excluded.code,
		   name = excluded.name,
		   unit = excluded.unit,
		   confirmed_by = excluded.confirmed_by,
		   confirmed_at = excluded.confirmed_at`,
		key, normalize.Normalize(p.Description).Display, code, p.Item.Name, p.Item.Unit, p.ConfirmedBy, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("remember %q: %w", p.Description, err)
	}
	return nil
}

// Lookup returns the remembered match for a normalized key, or nil.
func (s *Store) Lookup(ctx context.Context, key string) (*match.RankedMatch, error) {
	if key == "" {
		return nil, nil
	}

	var c catalog.Candidate
	var by string
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, unit, confirmed_by FROM match_memory WHERE key = ?`, key,
	).Scan(&c.Code, &c.Name, &c.Unit, &by)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup match memory: %w", err)
	}

	m := &match.RankedMatch{
		Candidate:  c,
		Confidence: Confidence,
		Source:     match.SourceMemory,
	}
	if by != "" {
		m.Explanation = "confirmed by " + by
	}
	return m, nil
}

// Forget removes the pair stored for description. It reports whether one existed.
func (s *Store) Forget(ctx context.Context, description string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM match_memory WHERE key = ?`, normalize.Normalize(description).Key)
	if err != nil {
		return false, fmt.Errorf("forget %q: %w", description, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("forget %q: %w", description, err)
	}
	return n > 0, nil
}

// Count returns the number of remembered pairs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_memory`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count match memory: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
