package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/spigell/urs-matcher/internal/normalize"
)

//go:embed sections.yaml
var defaultSections []byte

// Section is one node of the index as seen by callers.
type Section struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type sectionEntry struct {
	Code     string         `yaml:"code"`
	Name     string         `yaml:"name"`
	Keywords []string       `yaml:"keywords"`
	Children []sectionEntry `yaml:"children"`
}

type indexFile struct {
	Sections []sectionEntry `yaml:"sections"`
}

type node struct {
	Section
	parent *node
	depth  int
	stems  []string
}

// Index is an immutable section tree.
type Index struct {
	nodes []*node
}

// Len returns the number of sections.
func (ix *Index) Len() int { return len(ix.nodes) }

var defaultIndex = sync.OnceValues(func() (*Index, error) {
	return Parse(defaultSections)
})

// Default returns the embedded index, parsed once.
func Default() (*Index, error) {
	return defaultIndex()
}

// LoadFile reads an index in the embedded YAML layout from path.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open section index: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read section index: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML section index.
func Parse(data []byte) (*Index, error) {
	var doc indexFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode section index: %w", err)
	}
	if len(doc.Sections) == 0 {
		return nil, errors.New("section index is empty")
	}

	ix := &Index{}
	seen := make(map[string]struct{})
	var walk func(entries []sectionEntry, parent *node, depth int) error
	walk = func(entries []sectionEntry, parent *node, depth int) error {
		for _, s := range entries {
			code := strings.TrimSpace(s.Code)
			if code == "" {
				return fmt.Errorf("section %q has no code", s.Name)
			}
			if _, dup := seen[code]; dup {
				return fmt.Errorf("duplicate section code %q", code)
			}
			if parent != nil && !strings.HasPrefix(code, parent.Code) {
				return fmt.Errorf("section %q does not extend parent %q", code, parent.Code)
			}
			seen[code] = struct{}{}

			n := &node{
				Section: Section{Code: code, Name: strings.TrimSpace(s.Name)},
				parent:  parent,
				depth:   depth,
				stems:   stemsOf(append([]string{s.Name}, s.Keywords...)),
			}
			ix.nodes = append(ix.nodes, n)
			if err := walk(s.Children, n, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc.Sections, nil, 0); err != nil {
		return nil, err
	}
	return ix, nil
}

func stemsOf(phrases []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, phrase := range phrases {
		for _, kw := range normalize.Keywords(normalize.Normalize(phrase).Key) {
			stem := normalize.Stem(kw)
			if _, ok := seen[stem]; ok {
				continue
			}
			seen[stem] = struct{}{}
			out = append(out, stem)
		}
	}
	return out
}
