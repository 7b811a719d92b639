// Package availability resolves the user's busy time over the planning horizon.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"example.com/wellness/internal/calendar"
	"example.com/wellness/internal/domain"
)

// Resolver fetches remote busy intervals and normalises them for conflict checks.
type Resolver struct {
	client calendar.Client
}

// NewResolver constructs a Resolver over the given calendar capability.
func NewResolver(client calendar.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns a time-ordered, non-overlapping list of busy intervals in
// UTC covering [horizonStart, horizonStart+horizonDays) in the given
// timezone. Intervals backed by an event id in ignoreEventIDs are dropped
// before merging; the reconcile engine passes its own previously synced
// events here so they are not mistaken for foreign busy time. Failure to
// fetch yields ErrCalendarUnavailable, never a silently empty list: callers
// must not place activities against stale or partial data.
func (r *Resolver) Resolve(ctx context.Context, tz string, horizonStart time.Time, horizonDays int, ignoreEventIDs map[string]bool) ([]domain.BusyInterval, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	if horizonDays <= 0 {
		horizonDays = domain.DefaultHorizonDays
	}

	start := horizonStart.In(loc)
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).UTC()
	to := from.AddDate(0, 0, horizonDays)

	raw, err := r.client.ListFreeBusy(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCalendarUnavailable, err)
	}

	if len(ignoreEventIDs) > 0 {
		kept := make([]domain.BusyInterval, 0, len(raw))
		for _, iv := range raw {
			if iv.SourceEventID != "" && ignoreEventIDs[iv.SourceEventID] {
				continue
			}
			kept = append(kept, iv)
		}
		raw = kept
	}

	return Coalesce(raw), nil
}

// Coalesce sorts intervals and merges any that touch or overlap, so
// downstream checks see each stretch of busy time exactly once.
func Coalesce(intervals []domain.BusyInterval) []domain.BusyInterval {
	if len(intervals) == 0 {
		return []domain.BusyInterval{}
	}

	sorted := make([]domain.BusyInterval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.End.After(iv.Start) {
			continue // zero-length or inverted, nothing to block
		}
		sorted = append(sorted, domain.BusyInterval{
			Start:         iv.Start.UTC(),
			End:           iv.End.UTC(),
			SourceEventID: iv.SourceEventID,
		})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]domain.BusyInterval, 0, len(sorted))
	for _, iv := range sorted {
		last := len(merged) - 1
		if last >= 0 && !iv.Start.After(merged[last].End) {
			if iv.End.After(merged[last].End) {
				merged[last].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
