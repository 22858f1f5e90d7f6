package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/sidereal-labs/jyotish-client/pkg/provider"
)

// Priority orders units within a batch. Higher priorities are dispatched
// strictly before lower ones.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// ParsePriority maps a priority name to its value. Unknown names map to
// PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Unit is one chart request within a batch.
type Unit struct {
	// ID identifies the unit within its batch. Assigned when empty.
	ID string

	// Params are the birth parameters for the chart.
	Params provider.BirthParams

	// Priority controls dispatch order within the batch.
	Priority Priority

	// Attempts counts dispatches of this unit, filled in by the executor.
	Attempts int

	// LastAttemptAt is when the unit was last dispatched.
	LastAttemptAt time.Time
}

// UnitResult is the outcome of one unit. Exactly one of Chart and Err is
// set.
type UnitResult struct {
	UnitID   string
	Priority Priority
	Chart    *provider.ChartResult
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the unit produced a chart.
func (r UnitResult) Succeeded() bool {
	return r.Err == nil
}

func ensureUnitID(u *Unit) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
}
