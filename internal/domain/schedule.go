package domain

import "time"

// BusyInterval is a UTC snapshot of occupied time on the remote calendar.
// Fetched fresh each reconciliation pass and never persisted.
type BusyInterval struct {
	Start         time.Time
	End           time.Time
	SourceEventID string
}

// Overlaps reports whether two half-open intervals [Start, End) intersect.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// PlacedActivity pairs an activity with its assigned start instant.
type PlacedActivity struct {
	Activity Activity
	StartUTC time.Time
}

// EndUTC returns the placed activity's end instant.
func (p PlacedActivity) EndUTC() time.Time {
	return p.StartUTC.Add(p.Activity.Duration())
}

// Conflict records one busy interval that blocked an activity candidate.
type Conflict struct {
	ActivityID string
	Busy       BusyInterval
}

// Placement is the scheduler's output for one pass: every plan activity is
// either scheduled or conflicted.
type Placement struct {
	Scheduled  []PlacedActivity
	Conflicted []Conflict
}

// ConflictedIDs lists the activities that could not be placed, in plan order.
func (p Placement) ConflictedIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range p.Conflicted {
		if _, ok := seen[c.ActivityID]; ok {
			continue
		}
		seen[c.ActivityID] = struct{}{}
		ids = append(ids, c.ActivityID)
	}
	return ids
}

// MappingEntry records what the engine last told the calendar about one activity.
type MappingEntry struct {
	RemoteEventID    string
	LastSyncedStart  time.Time
	LastSyncedDurMin int
	ContentHash      string
	IdempotencyKey   string
}

// ScheduleMapping maps activity ids to their remote event bindings. It is the
// durable source of truth for idempotent sync; the engine only ever mutates
// remote events whose ids appear here.
type ScheduleMapping map[string]MappingEntry

// OperationKind names a remote calendar mutation.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// OperationFailure records a single remote operation that failed after retries.
type OperationFailure struct {
	ActivityID string
	Kind       OperationKind
	Err        string
}

// PassSummary reports the outcome of one reconciliation pass to the caller.
type PassSummary struct {
	PlanVersion string
	Scheduled   int
	Conflicted  int
	Created     int
	Updated     int
	Deleted     int
	Unchanged   int
	Failures    []OperationFailure
	Conflicts   []Conflict
	StartedAt   time.Time
	FinishedAt  time.Time
}

// AdaptationDirection suggests how the external generator should adjust the plan.
type AdaptationDirection string

const (
	AdaptationReduce   AdaptationDirection = "reduce"
	AdaptationIncrease AdaptationDirection = "increase"
)

// RegenerationSuggested signals that the current plan no longer fits the
// user's observed behaviour. Consumed by the external plan generator; the
// engine never alters plan content itself.
type RegenerationSuggested struct {
	UserID       string
	ActivityType ActivityType
	Reason       string
	Direction    AdaptationDirection
	SuggestedAt  time.Time
}

// ProgressEvent is one completion/skip observation from progress tracking.
type ProgressEvent struct {
	EventID      string
	UserID       string
	ActivityID   string
	ActivityType ActivityType
	Completed    bool
	EnergyLevel  int // 0 when unreported
	OccurredAt   time.Time
}
