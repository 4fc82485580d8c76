package ioformat

import (
	"fmt"
	"strconv"
	"strings"
)

// parseClock parses an "HH:MM:SS" duration/time-of-day string into integer
// seconds, as used by a population file's start-time/end-time/max-duration
// attributes.
func parseClock(s string) (uint32, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("ioformat: %q is not an HH:MM:SS value", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("ioformat: %q: bad hours: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("ioformat: %q: bad minutes: %w", s, err)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("ioformat: %q: bad seconds: %w", s, err)
	}
	return uint32(h*3600 + m*60 + sec), nil
}

// formatClock is parseClock's inverse; it has no caller in the repository.
func formatClock(sec uint32) string {
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
