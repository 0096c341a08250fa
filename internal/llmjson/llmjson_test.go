package llmjson

import (
	"math"
	"testing"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain object", input: ` {"a":1} `, want: `{"a":1}`},
		{name: "fenced json", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", input: "```\n[1,2]\n```", want: `[1,2]`},
		{name: "prose around object", input: "Tady je výsledek: {\"composite\": true} Hotovo.", want: `{"composite": true}`},
		{name: "prose around array", input: "Result [1, 2] end", want: `[1, 2]`},
		{name: "no json", input: "nevím", want: "nevím"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Extract(tt.input); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecodeCoercesTypes(t *testing.T) {
	t.Parallel()

	var reply struct {
		Composite bool `json:"composite"`
		Ranking   []struct {
			Code       string  `json:"code"`
			Confidence float64 `json:"confidence"`
			Reason     string  `json:"reason"`
		} `json:"ranking"`
	}

	raw := "```json\n{\"composite\":\"yes\",\"ranking\":[{\"code\":273313611,\"confidence\":\"0,8\"},{\"code\":\"273351121\",\"confidence\":\"45%\",\"reason\":\"bednění\"}]}\n```"
	if err := Decode(raw, &reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reply.Composite {
		t.Fatalf("expected composite to be true")
	}
	if len(reply.Ranking) != 2 {
		t.Fatalf("expected 2 ranking entries, got %d", len(reply.Ranking))
	}
	if reply.Ranking[0].Code != "273313611" || reply.Ranking[0].Confidence != 0.8 {
		t.Fatalf("unexpected first entry: %+v", reply.Ranking[0])
	}
	if math.Abs(reply.Ranking[1].Confidence-0.45) > 1e-9 || reply.Ranking[1].Reason != "bednění" {
		t.Fatalf("unexpected second entry: %+v", reply.Ranking[1])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	var out map[string]any
	if err := Decode("not json at all", &out); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCoercion(t *testing.T) {
	t.Parallel()

	if !Bool("Ano") || Bool("ne") || !Bool(1.0) || Bool(nil) {
		t.Fatalf("unexpected Bool coercion")
	}
	if !math.IsNaN(Float("abc")) || Float(" 0.25 ") != 0.25 || Float(3) != 3 {
		t.Fatalf("unexpected Float coercion")
	}
	if String(nil) != "" || String(" x ") != "x" || String(12.5) != "12.5" {
		t.Fatalf("unexpected String coercion")
	}
	if Clamp(math.NaN()) != 0 || Clamp(-1) != 0 || Clamp(1.7) != 1 || Clamp(0.4) != 0.4 {
		t.Fatalf("unexpected Clamp result")
	}
}
