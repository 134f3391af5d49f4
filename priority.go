package jobsched

import (
	"fmt"
	"strings"
)

// Priority is a discrete scheduling class. Higher values are drained first
// on every poll.
type Priority uint8

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// PriorityCount is the number of priority levels and therefore the number
// of queues owned by a Pool.
const PriorityCount = int(Critical) + 1

// Valid reports whether p names one of the defined levels.
func (p Priority) Valid() bool {
	return p <= Critical
}

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority converts a level name (case-insensitive) back into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "normal", "":
		return Normal, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return Normal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}
