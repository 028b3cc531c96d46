package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Human-oriented Parsing Helpers
// --------------------------------------------------------------------------

// ParseHumanReadableBytes parses a size string like "128", "1G", "512mb" or
// "-2GiB" into a byte count. Only the first character after the number is
// considered, so "1G", "1GB", "1GiB" and "1Gigabytes" are equivalent.
func ParseHumanReadableBytes(str string) (int64, error) {
	if str == "" {
		return 0, fmt.Errorf("empty size string")
	}

	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}

	// split the leading number from the unit suffix
	numEnd := 0
	for numEnd < len(str) {
		c := str[numEnd]
		if (c < '0' || c > '9') && c != '.' {
			break
		}
		numEnd++
	}
	d, err := strconv.ParseFloat(str[:numEnd], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", str)
	}

	var scale float64 = 1
	if numEnd < len(str) {
		switch str[numEnd] {
		case 'E', 'e':
			scale = 1 << 60
		case 'P', 'p':
			scale = 1 << 50
		case 'T', 't':
			scale = 1 << 40
		case 'G', 'g':
			scale = 1 << 30
		case 'M', 'm':
			scale = 1 << 20
		case 'K', 'k':
			scale = 1 << 10
		case 'B', 'b':
			scale = 1
		default:
			return 0, fmt.Errorf("invalid size unit %q", str[numEnd:])
		}
	}

	d *= scale
	if d < 0 || d > math.MaxInt64 {
		return 0, fmt.Errorf("size %q out of range", str)
	}

	n := int64(d + 0.5)
	if neg {
		n = -n
	}
	return n, nil
}

// ParseDouble parses a float accepting the "+inf"/"-inf" spellings and
// rejecting NaN.
func ParseDouble(src string) (float64, error) {
	if src == "" {
		return 0, fmt.Errorf("empty float string")
	}
	if strings.EqualFold(src, "-inf") {
		return math.Inf(-1), nil
	}
	if strings.EqualFold(src, "+inf") || strings.EqualFold(src, "inf") {
		return math.Inf(1), nil
	}
	v, err := strconv.ParseFloat(src, 64)
	if err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf("invalid float %q", src)
	}
	return v, nil
}
