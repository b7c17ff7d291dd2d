package market

import (
	"strconv"
	"strings"
	"time"
)

// ParseBarSize parses a gateway bar size such as "1 min", "5 mins", "1 hour" or
// "1 day" into a time.Duration. Returns (0, false) on invalid input.
func ParseBarSize(size string) (time.Duration, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(size)))
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch strings.TrimSuffix(fields[1], "s") {
	case "sec":
		return time.Duration(n) * time.Second, true
	case "min":
		return time.Duration(n) * time.Minute, true
	case "hour":
		return time.Duration(n) * time.Hour, true
	case "day":
		return time.Duration(n) * 24 * time.Hour, true
	case "week":
		return time.Duration(n) * 7 * 24 * time.Hour, true
	case "month":
		return time.Duration(n) * 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ParseLookback parses a request duration such as "1 D", "2 W" or "3600 S".
// Months and years are approximated as 30 and 365 days.
func ParseLookback(duration string) (time.Duration, bool) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(duration)))
	if len(fields) != 2 || len(fields[1]) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	day := 24 * time.Hour
	switch fields[1][0] {
	case 'S':
		return time.Duration(n) * time.Second, true
	case 'D':
		return time.Duration(n) * day, true
	case 'W':
		return time.Duration(n) * 7 * day, true
	case 'M':
		return time.Duration(n) * 30 * day, true
	case 'Y':
		return time.Duration(n) * 365 * day, true
	default:
		return 0, false
	}
}
