package workitem

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/spigell/urs-matcher/internal/match"
)

func intp(v int) *int { return &v }

func TestParseQuantity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want *float64
	}{
		{"45", match.Float(45)},
		{"12,5", match.Float(12.5)},
		{"1 200,75", match.Float(1200.75)},
		{"1 200", match.Float(1200)},
		{"", nil},
		{"cca 5", nil},
		{"NaN", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseQuantity(tt.in)); diff != "" {
			t.Fatalf("ParseQuantity(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestFromRows(t *testing.T) {
	t.Parallel()

	got, err := FromRows([][]string{
		{"Č.", "Popis položky", "MJ", "Množství"},
		{"1", "Základová deska z betonu C25/30", "m3", "45"},
		{"", "", "", ""},
		{"3", "Bednění základové desky", "m2", "120,5"},
		{"4", "", "", "2"},
	})
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}

	want := []match.WorkItem{
		{Description: "Základová deska z betonu C25/30", Quantity: match.Float(45), Unit: "m3", Row: intp(2)},
		{Description: "Bednění základové desky", Quantity: match.Float(120.5), Unit: "m2", Row: intp(4)},
		{Description: "", Quantity: match.Float(2), Row: intp(5)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
}

func TestFromRowsErrors(t *testing.T) {
	t.Parallel()

	if _, err := FromRows([][]string{{"popis"}}); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
	if _, err := FromRows([][]string{{"kód", "MJ"}, {"1", "m"}}); err == nil {
		t.Fatalf("expected missing description column to fail")
	}
}

func TestReadJSONL(t *testing.T) {
	t.Parallel()

	got, err := ReadJSONL(strings.NewReader(`
{"description": "Zdivo z tvárnic", "quantity": "12,5", "unit": "m2"}

{"description": "Omítka vnitřní", "quantity": 30, "row": 7}
{"description": ""}
`))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	want := []match.WorkItem{
		{Description: "Zdivo z tvárnic", Quantity: match.Float(12.5), Unit: "m2"},
		{Description: "Omítka vnitřní", Quantity: match.Float(30), Row: intp(7)},
		{Description: ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}

	if _, err := ReadJSONL(strings.NewReader("{\"description\": 1}\n")); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line number in error, got %v", err)
	}
	if _, err := ReadJSONL(strings.NewReader("\n\n")); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "items.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"description":"Beton","quantity":1.5}]`), 0o600); err != nil {
		t.Fatalf("write json: %v", err)
	}
	got, err := LoadFile(jsonPath)
	if err != nil || len(got) != 1 || *got[0].Quantity != 1.5 {
		t.Fatalf("unexpected json items %+v (err %v)", got, err)
	}

	csvPath := filepath.Join(dir, "items.csv")
	if err := os.WriteFile(csvPath, []byte("popis;množství;MJ\n\"Beton; základy\";45;m3\n"), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	got, err = LoadFile(csvPath)
	if err != nil || len(got) != 1 || got[0].Description != "Beton; základy" || got[0].Unit != "m3" {
		t.Fatalf("unexpected csv items %+v (err %v)", got, err)
	}

	xlsxPath := filepath.Join(dir, "items.xlsx")
	f := excelize.NewFile()
	sheetName := f.GetSheetName(0)
	for i, row := range [][]any{{"Popis", "MJ", "Množství"}, {"Zdivo nosné", "m3", 12}} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.SaveAs(xlsxPath); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	got, err = LoadFile(xlsxPath)
	if err != nil || len(got) != 1 || got[0].Description != "Zdivo nosné" || *got[0].Quantity != 12 || *got[0].Row != 2 {
		t.Fatalf("unexpected xlsx items %+v (err %v)", got, err)
	}

	if _, err := LoadFile(filepath.Join(dir, "items.txt")); err == nil {
		t.Fatalf("expected unsupported extension to fail")
	}
}
