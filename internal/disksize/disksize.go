// Package disksize converts the human readable sizes reported for disks
// ("4 TB", "500GB") into byte counts and back.
package disksize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var sizeRe = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?B)?\s*$`)

var multipliers = map[string]float64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// Parse returns the size in bytes using 1024-based units. A missing unit means
// bytes. Malformed input yields 0, which callers treat as the smallest size.
func Parse(s string) uint64 {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := strings.ToUpper(m[2])
	if unit == "" {
		unit = "B"
	}
	return uint64(math.Round(n * multipliers[unit]))
}

var units = []string{"TB", "GB", "MB", "KB"}

// Format renders bytes with the largest unit that keeps the value >= 1, one
// decimal at most. Format output always round-trips through Parse within
// rounding of the last decimal.
func Format(b uint64) string {
	for _, u := range units {
		mult := multipliers[u]
		if float64(b) >= mult {
			v := strconv.FormatFloat(float64(b)/mult, 'f', 1, 64)
			return strings.TrimSuffix(v, ".0") + " " + u
		}
	}
	return strconv.FormatUint(b, 10) + " B"
}
