// Package schedule places plan activities into free calendar slots.
package schedule

import (
	"time"

	"example.com/wellness/internal/domain"
)

// DefaultBuffer is the gap kept between a scheduled activity and any
// existing busy interval when no override is configured.
const DefaultBuffer = 15 * time.Minute

// Detector decides whether a candidate activity window collides with busy
// time. Pure and deterministic: identical inputs always yield the same verdict.
type Detector struct {
	buffer time.Duration
}

// NewDetector constructs a Detector with the given safety buffer. A
// non-positive buffer falls back to DefaultBuffer.
func NewDetector(buffer time.Duration) Detector {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return Detector{buffer: buffer}
}

// Buffer returns the configured safety gap.
func (d Detector) Buffer() time.Duration {
	return d.buffer
}

// Conflicts reports whether the activity window [start, start+duration),
// expanded by the buffer on both sides, intersects the busy interval. The
// buffer is applied to the activity window only, so back-to-back existing
// events are respected without double expansion. A start exactly buffer away
// from a busy boundary is not a conflict: the comparison is exclusive of the
// boundary point.
func (d Detector) Conflicts(start time.Time, duration time.Duration, busy domain.BusyInterval) bool {
	expandedStart := start.Add(-d.buffer)
	expandedEnd := start.Add(duration).Add(d.buffer)
	return busy.Overlaps(expandedStart, expandedEnd)
}

// FirstConflict returns the first busy interval colliding with the candidate
// window, or nil when the candidate is free.
func (d Detector) FirstConflict(start time.Time, duration time.Duration, busy []domain.BusyInterval) *domain.BusyInterval {
	for i := range busy {
		if d.Conflicts(start, duration, busy[i]) {
			return &busy[i]
		}
	}
	return nil
}
