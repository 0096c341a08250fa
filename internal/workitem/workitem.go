// Package workitem loads estimate lines to match from spreadsheets and JSON.
package workitem

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spigell/urs-matcher/internal/llmjson"
	"github.com/spigell/urs-matcher/internal/match"
	"github.com/spigell/urs-matcher/internal/sheet"
)

var (
	descriptionHeaders = []string{"popis", "description", "popis položky", "název", "text"}
	quantityHeaders    = []string{"množství", "quantity", "výměra", "počet"}
	unitHeaders        = []string{"MJ", "unit", "jednotka", "měrná jednotka"}
)

// ErrNoItems is returned when an input holds no work items.
var ErrNoItems = errors.New("no work items found")

// LoadFile reads work items from .xlsx, .csv, .json or .jsonl files.
func LoadFile(path string) ([]match.WorkItem, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open work items: %w", err)
		}
		defer f.Close()
		if ext == ".json" {
			return ReadJSON(f)
		}
		return ReadJSONL(f)
	default:
		if !sheet.Supported(path) {
			return nil, fmt.Errorf("%w: %s", sheet.ErrUnsupported, ext)
		}
		rows, err := sheet.ReadFile(path)
		if err != nil {
			return nil, err
		}
		items, err := FromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("parse work items %s: %w", path, err)
		}
		return items, nil
	}
}

// FromRows maps sheet rows to work items. The first row is the header and
// must name a description column. Row numbers are 1-based sheet rows.
func FromRows(rows [][]string) ([]match.WorkItem, error) {
	if len(rows) < 2 {
		return nil, ErrNoItems
	}

	header := sheet.NewHeader(rows[0])
	descCol := header.Find(descriptionHeaders...)
	if descCol < 0 {
		return nil, errors.New("description column is required")
	}
	qtyCol := header.Find(quantityHeaders...)
	unitCol := header.Find(unitHeaders...)

	items := make([]match.WorkItem, 0, len(rows)-1)
	for i, r := range rows[1:] {
		if sheet.IsEmptyRow(r) {
			continue
		}
		row := i + 2
		items = append(items, match.WorkItem{
			Description: sheet.Cell(r, descCol),
			Quantity:    ParseQuantity(sheet.Cell(r, qtyCol)),
			Unit:        sheet.Cell(r, unitCol),
			Row:         &row,
		})
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

// ParseQuantity reads a decimal written with a comma or a dot and optional
// thousands spaces. Anything else gives nil.
func ParseQuantity(s string) *float64 {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return match.Float(v)
}

type jsonItem struct {
	Description string `json:"description"`
	Quantity    any    `json:"quantity"`
	Unit        string `json:"unit"`
	Row         *int   `json:"row"`
}

func (j jsonItem) item() match.WorkItem {
	it := match.WorkItem{Description: j.Description, Unit: j.Unit, Row: j.Row}
	switch q := j.Quantity.(type) {
	case nil:
	case string:
		it.Quantity = ParseQuantity(q)
	default:
		if f := llmjson.Float(q); !math.IsNaN(f) {
			it.Quantity = match.Float(f)
		}
	}
	return it
}

// ReadJSON decodes an array of work items.
func ReadJSON(r io.Reader) ([]match.WorkItem, error) {
	var raw []jsonItem
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode work items: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoItems
	}
	items := make([]match.WorkItem, 0, len(raw))
	for _, j := range raw {
		items = append(items, j.item())
	}
	return items, nil
}

// ReadJSONL decodes one work item per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]match.WorkItem, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var items []match.WorkItem
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var j jsonItem
		if err := json.Unmarshal([]byte(text), &j); err != nil {
			return nil, fmt.Errorf("decode work item on line %d: %w", line, err)
		}
		items = append(items, j.item())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read work items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}
