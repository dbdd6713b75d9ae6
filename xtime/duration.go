// Package xtime parses and formats durations with day and week units, which
// time.ParseDuration doesn't support.
package xtime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var (
	durationRx = regexp.MustCompile(`^(\d*\.?\d+)(ns|us|µs|ms|s|m|h|d|D|w|W)`)
	units      = map[string]time.Duration{
		"ns": time.Nanosecond,
		"us": time.Microsecond,
		"µs": time.Microsecond,
		"ms": time.Millisecond,
		"s":  time.Second,
		"m":  time.Minute,
		"h":  time.Hour,
		"d":  day,
		"D":  day,
		"w":  week,
		"W":  week,
	}
)

// ParseDuration parses a duration string such as "30s", "1m30s", "2d" or
// "-1.5w". In addition to the units time.ParseDuration accepts, "d"/"D" is a
// day and "w"/"W" a week.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}
	if s == "0" {
		return 0, nil
	}

	var sum time.Duration
	for s != "" {
		m := durationRx.FindStringSubmatch(s)
		if m == nil {
			return 0, fmt.Errorf("invalid duration '%s'", orig)
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
		}
		sum += time.Duration(val * float64(units[m[2]]))
		s = s[len(m[0]):]
	}

	if neg {
		sum = -sum
	}

	return sum, nil
}

// FormatDuration formats a duration using the largest units first, e.g.
// "1w2d", "1m30s" or "-3h". The duration is first rounded to round, and units
// smaller than it are omitted.
func FormatDuration(d, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}

	for _, u := range []struct {
		name string
		dur  time.Duration
	}{
		{"w", week}, {"d", day}, {"h", time.Hour}, {"m", time.Minute},
		{"s", time.Second}, {"ms", time.Millisecond}, {"µs", time.Microsecond}, {"ns", time.Nanosecond},
	} {
		if u.dur < round {
			break
		}
		if n := d / u.dur; n > 0 {
			fmt.Fprintf(&sb, "%d%s", n, u.name)
			d -= n * u.dur
		}
	}

	return sb.String()
}

// ErrNegative is returned by ParsePositive for durations that aren't greater
// than zero.
var ErrNegative = errors.New("duration must be positive")

// ParsePositive parses a duration like ParseDuration, and rejects durations
// that aren't greater than zero.
func ParsePositive(s string) (time.Duration, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNegative, s)
	}
	return d, nil
}
