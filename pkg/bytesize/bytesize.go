// Package bytesize parses and formats byte counts with binary units.
//
// "512MB" is 512*1024*1024 bytes, "1.5GB" is 1.5*1024^3, a bare number is
// bytes. Units are case-insensitive and the IEC spellings (KiB, MiB, ...)
// are accepted as aliases.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Binary unit sizes.
const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
	PB Size = 1 << 50
)

// units orders the named units from largest to smallest for formatting.
var units = []struct {
	name string
	size Size
}{
	{"PB", PB},
	{"TB", TB},
	{"GB", GB},
	{"MB", MB},
	{"KB", KB},
}

// Parse parses a human-readable byte size. The numeric part may be a
// float; the unit may be omitted (bytes), a single letter ("k", "m"), the
// usual two-letter form ("KB"), or the IEC form ("KiB").
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == '-') {
		i++
	}
	numStr := s[:i]
	unitStr := strings.TrimSpace(s[i:])

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number in %q", s)
	}

	mult, err := unitSize(unitStr)
	if err != nil {
		return 0, fmt.Errorf("bytesize: %w in %q", err, s)
	}

	return Size(value * float64(mult)), nil
}

// unitSize resolves a unit suffix to its byte multiplier.
func unitSize(unit string) (Size, error) {
	switch strings.ToLower(unit) {
	case "", "b", "byte", "bytes":
		return B, nil
	case "k", "kb", "kib":
		return KB, nil
	case "m", "mb", "mib":
		return MB, nil
	case "g", "gb", "gib":
		return GB, nil
	case "t", "tb", "tib":
		return TB, nil
	case "p", "pb", "pib":
		return PB, nil
	}
	return 0, fmt.Errorf("unknown unit %q", unit)
}

// MustParse is like Parse but panics on invalid input. For constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders a size with the largest unit that keeps the value at or
// above one, trimming trailing zeros: 512*MB is "512MB", 1536*MB is
// "1.5GB".
func Format(s Size) string {
	neg := ""
	if s < 0 {
		neg = "-"
		s = -s
	}

	for _, u := range units {
		if s < u.size {
			continue
		}
		value := float64(s) / float64(u.size)
		text := strconv.FormatFloat(value, 'f', 2, 64)
		text = strings.TrimRight(text, "0")
		text = strings.TrimRight(text, ".")
		return neg + text + u.name
	}
	return fmt.Sprintf("%s%dB", neg, int64(s))
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
