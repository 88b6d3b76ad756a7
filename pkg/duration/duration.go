// Package duration parses and formats durations with day and week units
// on top of Go's standard syntax.
//
// Anything time.ParseDuration accepts parses unchanged. Additionally "d"
// means days (24 hours) and "w" means weeks (7 days), and units combine
// in any order: "30d", "1w2d12h", "2d30m".
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// Parse parses a duration string, accepting the standard Go units plus
// "d" for days and "w" for weeks.
func Parse(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	neg := strings.HasPrefix(s, "-")
	if neg || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if s == "0" {
		return 0, nil
	}

	var total time.Duration
	for s != "" {
		num, unit, rest, err := nextToken(s)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid syntax %q", orig)
		}

		switch unit {
		case "d":
			total += scale(num, Day)
		case "w":
			total += scale(num, Week)
		default:
			d, err := time.ParseDuration(num + unit)
			if err != nil {
				return 0, fmt.Errorf("duration: invalid unit %q in %q", unit, orig)
			}
			total += d
		}
		s = rest
	}

	if neg {
		total = -total
	}
	return total, nil
}

// nextToken splits the leading number+unit pair off s.
func nextToken(s string) (num, unit, rest string, err error) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return "", "", "", fmt.Errorf("missing number")
	}
	num = s[:i]

	j := i
	for j < len(s) {
		r := []rune(s[j:])[0]
		if !unicode.IsLetter(r) && r != 'µ' {
			break
		}
		j += len(string(r))
	}
	if j == i {
		return "", "", "", fmt.Errorf("missing unit")
	}
	return num, s[i:j], s[j:], nil
}

// scale multiplies a decimal count by a unit.
func scale(num string, unit time.Duration) time.Duration {
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(unit))
}

// MustParse is like Parse but panics on invalid input. For constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration compactly with the largest units first,
// omitting zero components: 36*time.Hour becomes "1d12h", 90*time.Second
// becomes "1m30s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	units := []struct {
		name string
		size time.Duration
	}{
		{"w", Week},
		{"d", Day},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
		{"us", time.Microsecond},
		{"ns", time.Nanosecond},
	}

	for _, u := range units {
		if d < u.size {
			continue
		}
		n := d / u.size
		d -= n * u.size
		fmt.Fprintf(&b, "%d%s", n, u.name)
	}

	return b.String()
}
