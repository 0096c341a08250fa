package catalog

import (
	"errors"
	"fmt"

	"github.com/spigell/urs-matcher/internal/sheet"
)

var (
	codeHeaders = []string{"kód", "code", "číslo položky", "kód položky"}
	nameHeaders = []string{"název", "name", "popis", "název položky"}
	unitHeaders = []string{"MJ", "unit", "jednotka", "měrná jednotka"}
)

// LoadFile reads a catalog export (.csv or .xlsx) into memory. The first row
// must name the code, name and (optionally) unit columns.
func LoadFile(path string) (*Memory, error) {
	rows, err := sheet.ReadFile(path)
	if err != nil {
		return nil, err
	}

	items, err := parseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return NewMemory(items), nil
}

func parseRows(rows [][]string) ([]Candidate, error) {
	if len(rows) < 2 {
		return nil, errors.New("expected a header row and at least one data row")
	}

	header := sheet.NewHeader(rows[0])
	codeCol := header.Find(codeHeaders...)
	nameCol := header.Find(nameHeaders...)
	unitCol := header.Find(unitHeaders...)
	if codeCol < 0 || nameCol < 0 {
		return nil, errors.New("code and name columns are required")
	}

	items := make([]Candidate, 0, len(rows)-1)
	for _, r := range rows[1:] {
		code := sheet.Cell(r, codeCol)
		name := sheet.Cell(r, nameCol)
		if code == "" || name == "" {
			continue
		}
		items = append(items, Candidate{Code: code, Name: name, Unit: sheet.Cell(r, unitCol)})
	}
	return items, nil
}
