package recorder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a set of permitted local wall-clock hour ranges, e.g. the
// `DVR_RECORD_SCHEDULE` value "0-7,22-23" (spec section 4.3.2, 6).
type Schedule struct {
	ranges [][2]int // inclusive [start, end], 0-23
}

// ParseSchedule parses a comma-separated list of "H-H" or single-hour "H"
// entries. An empty string means "always armed".
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Schedule{}, nil
	}
	var sched Schedule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end, err := parseRange(part)
		if err != nil {
			return Schedule{}, fmt.Errorf("recorder: schedule %q: %w", part, err)
		}
		sched.ranges = append(sched.ranges, [2]int{start, end})
	}
	return sched, nil
}

func parseRange(part string) (int, int, error) {
	if before, after, ok := strings.Cut(part, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(before))
		if err != nil {
			return 0, 0, err
		}
		end, err := strconv.Atoi(strings.TrimSpace(after))
		if err != nil {
			return 0, 0, err
		}
		if start < 0 || start > 23 || end < 0 || end > 23 {
			return 0, 0, fmt.Errorf("hour out of range 0-23")
		}
		return start, end, nil
	}
	h, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, err
	}
	if h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("hour out of range 0-23")
	}
	return h, h, nil
}

// Armed reports whether t's local hour falls within the schedule. An empty
// Schedule (no ranges parsed) is always armed.
func (s Schedule) Armed(t time.Time) bool {
	if len(s.ranges) == 0 {
		return true
	}
	h := t.Hour()
	for _, r := range s.ranges {
		if r[0] <= r[1] {
			if h >= r[0] && h <= r[1] {
				return true
			}
		} else {
			// Wraps midnight, e.g. "22-23" never wraps but "22-2" would.
			if h >= r[0] || h <= r[1] {
				return true
			}
		}
	}
	return false
}
