package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// field returns the trimmed value at idx, or "" when the row is too short.
func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseCoordinate parses a latitude or longitude, accepting a decimal comma.
func parseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse coordinate %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("coordinate %q is not finite", s)
	}
	return v, nil
}

// orDefault returns def when s is empty.
func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// townName folds a name to NFC so the same town typed with combining
// accents keys to the same snapshot entry.
func townName(s string) string {
	return norm.NFC.String(s)
}
