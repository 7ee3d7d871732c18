package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses durations written as "<n><unit>" with unit one of
// ms, s, m, h or d (case insensitive), e.g. "10s" or "2d".
func ParseStringTime(timeString string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(timeString))
	for _, u := range timeUnits {
		number, found := strings.CutSuffix(s, u.suffix)
		if !found {
			continue
		}
		n, err := strconv.Atoi(number)
		if err != nil {
			return 0, fmt.Errorf("invalid time string %q: %w", timeString, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("invalid time string %q: negative duration", timeString)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid time format: %q", timeString)
}
