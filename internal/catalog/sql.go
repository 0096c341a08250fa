package catalog

import (
	"fmt"
	"strings"

	"github.com/spigell/urs-matcher/internal/normalize"
)

// Schema is the table layout both SQL backends read. name_key holds
// normalize.Normalize(name).Key and is filled by whoever builds the corpus.
const Schema = `
CREATE TABLE IF NOT EXISTS catalog_items (
	code     TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	unit     TEXT NOT NULL DEFAULT '',
	name_key TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_catalog_items_name_key ON catalog_items(name_key);
`

// overfetch is how many rows per requested result are read before scoring.
const overfetch = 4

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// searchSQL builds the candidate query. Rows are scored again in Go, so the
// SQL only needs to narrow the set.
func searchSQL(d dialect, q Query) (string, []any, bool) {
	terms := searchTerms(q.Text)
	prefix := strings.TrimSpace(q.CodePrefix)
	if len(terms) == 0 && prefix == "" {
		return "", nil, false
	}

	var (
		where []string
		args  []any
	)

	if prefix != "" {
		args = append(args, prefix+"%")
		where = append(where, "code LIKE "+d.placeholder(len(args)))
	}

	if len(terms) > 0 {
		ors := make([]string, 0, len(terms))
		for _, term := range terms {
			args = append(args, "%"+term+"%")
			ors = append(ors, "name_key LIKE "+d.placeholder(len(args)))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	args = append(args, limitOrDefault(q.Limit)*overfetch)
	query := fmt.Sprintf(
		"SELECT code, name, unit, name_key FROM catalog_items WHERE %s ORDER BY code LIMIT %s",
		strings.Join(where, " AND "),
		d.placeholder(len(args)),
	)

	return query, args, true
}

func getByCodeSQL(d dialect) string {
	return "SELECT code, name, unit, name_key FROM catalog_items WHERE code = " + d.placeholder(1)
}

type row struct {
	code, name, unit, nameKey string
}

func scoreRows(rows []row, q Query) []Candidate {
	terms := searchTerms(q.Text)
	hits := make([]scored, 0, len(rows))
	for _, r := range rows {
		key := r.nameKey
		if key == "" {
			key = normalize.Normalize(r.name).Key
		}
		s := score(terms, normalize.Tokens(key))
		if len(terms) > 0 && s == 0 {
			continue
		}
		hits = append(hits, scored{Candidate: Candidate{Code: r.code, Name: r.name, Unit: r.unit}, score: s})
	}
	return rank(hits, limitOrDefault(q.Limit))
}
