// Package bytesize parses and formats human-readable byte sizes.
// Units are binary (1024-based) and case-insensitive: B, KB/KiB, MB/MiB,
// GB/GiB, TB/TiB. A bare number is a byte count.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1024 * B
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// Parse converts strings like "1GB", "1.5 MiB", "500kb" or "4096" into a Size.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split the numeric prefix from the unit suffix.
	split := len(trimmed)
	for i, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}

	value, err := strconv.ParseFloat(trimmed[:split], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid value %q: %w", s, err)
	}

	mult, err := unit(strings.TrimSpace(trimmed[split:]))
	if err != nil {
		return 0, err
	}

	return Size(value * float64(mult)), nil
}

// MustParse is Parse for compile-time constants; it panics on error.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

func unit(suffix string) (Size, error) {
	switch strings.ToLower(suffix) {
	case "", "b":
		return B, nil
	case "k", "kb", "kib":
		return KB, nil
	case "m", "mb", "mib":
		return MB, nil
	case "g", "gb", "gib":
		return GB, nil
	case "t", "tb", "tib":
		return TB, nil
	default:
		return 0, fmt.Errorf("bytesize: unknown unit %q", suffix)
	}
}

// Format renders a Size using the largest unit with a value >= 1.
func Format(s Size) string {
	neg := ""
	if s < 0 {
		neg = "-"
		s = -s
	}

	switch {
	case s >= TB:
		return neg + trim(float64(s)/float64(TB)) + "TB"
	case s >= GB:
		return neg + trim(float64(s)/float64(GB)) + "GB"
	case s >= MB:
		return neg + trim(float64(s)/float64(MB)) + "MB"
	case s >= KB:
		return neg + trim(float64(s)/float64(KB)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", neg, int64(s))
	}
}

func trim(v float64) string {
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}

// Bytes returns the size as an int64 byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}

func (s Size) String() string {
	return Format(s)
}
