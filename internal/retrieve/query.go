package retrieve

import (
	"fmt"
	"strings"

	"github.com/spigell/urs-matcher/internal/normalize"
)

// Depth controls how many query variants are tried.
type Depth string

const (
	Shallow Depth = "shallow"
	Normal  Depth = "normal"
	Deep    Depth = "deep"
)

// ParseDepth resolves a depth name; empty means Normal.
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Normal, nil
	case Shallow, Normal, Deep:
		return d, nil
	default:
		return "", fmt.Errorf("unknown search depth %q", s)
	}
}

// Variants is the maximum number of queries issued at this depth.
func (d Depth) Variants() int {
	switch d {
	case Shallow:
		return 1
	case Deep:
		return 6
	default:
		return 3
	}
}

// Query is one derived catalog query.
type Query struct {
	Text       string
	CodePrefix string
}

// Label is the query as shown in progress events.
func (q Query) Label() string {
	switch {
	case q.CodePrefix == "":
		return q.Text
	case q.Text == "":
		return q.CodePrefix + "*"
	default:
		return q.CodePrefix + "* " + q.Text
	}
}

// Variants derives queries from a Key in priority order, without duplicates,
// capped at limit. sectionPrefix is the classifier's code prefix, if any.
func Variants(key, sectionPrefix string, limit int) []Query {
	if strings.TrimSpace(key) == "" || limit <= 0 {
		return nil
	}

	keywords := normalize.Keywords(key)
	reduced := strings.Join(keywords, " ")

	stems := make([]string, len(keywords))
	for i, kw := range keywords {
		stems[i] = normalize.Stem(kw)
	}

	leading := keywords
	if len(leading) > 2 {
		leading = leading[:2]
	}

	candidates := []Query{
		{Text: key},
		{Text: reduced},
	}
	if codes := normalize.CodeFragments(key); len(codes) > 0 {
		candidates = append(candidates, Query{CodePrefix: codes[0]})
	}
	candidates = append(candidates,
		Query{Text: strings.Join(stems, " ")},
		Query{Text: strings.Join(leading, " ")},
	)
	if sectionPrefix != "" && reduced != "" {
		candidates = append(candidates, Query{Text: reduced, CodePrefix: sectionPrefix})
	}

	var (
		out  []Query
		seen = make(map[Query]struct{}, len(candidates))
	)
	for _, q := range candidates {
		if q.Text == "" && q.CodePrefix == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
