package normalize

import (
	"regexp"
	"strconv"
)

// Quantity is a number followed by a unit of measure found in a description.
type Quantity struct {
	Value float64
	Unit  string
	// Offset is the byte offset of the match in the Key.
	Offset int
}

var quantityRe = regexp.MustCompile(`(\d+(?:\.\d+)?) ?(m3|m2|ks|kg|bm|kpl|hod|t|m)\b`)

// ParseQuantities returns every quantity/unit pair in a Key, in order of appearance.
func ParseQuantities(key string) []Quantity {
	matches := quantityRe.FindAllStringSubmatchIndex(key, -1)
	out := make([]Quantity, 0, len(matches))
	for _, m := range matches {
		// Skip numbers glued to a preceding letter or slash, e.g. the "30" in "c25/30".
		if m[0] > 0 {
			prev := key[m[0]-1]
			if prev == '/' || (prev >= 'a' && prev <= 'z') {
				continue
			}
		}
		value, err := strconv.ParseFloat(key[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		out = append(out, Quantity{Value: value, Unit: key[m[4]:m[5]], Offset: m[0]})
	}
	return out
}
