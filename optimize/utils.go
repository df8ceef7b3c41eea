package optimize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ReadFloats parses floats separated by white space or commas, as in
// "0.1,0.2 0.3".
func ReadFloats(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	result := make([]float64, 0, len(fields))
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return result, fmt.Errorf("parsing %q: %w", f, err)
		}
		result = append(result, x)
	}
	return result, nil
}
