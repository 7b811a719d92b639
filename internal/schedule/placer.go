package schedule

import (
	"fmt"
	"time"

	"example.com/wellness/internal/domain"
)

// DefaultProbeStep is the increment used when probing alternate start times.
const DefaultProbeStep = 15 * time.Minute

// Placer assigns a concrete start instant to every activity in a plan.
// Placement is greedy in the plan's declared order, so repeated runs over
// unchanged inputs are deterministic.
type Placer struct {
	detector Detector
	step     time.Duration
}

// NewPlacer constructs a Placer. A non-positive step falls back to DefaultProbeStep.
func NewPlacer(detector Detector, step time.Duration) *Placer {
	if step <= 0 {
		step = DefaultProbeStep
	}
	return &Placer{detector: detector, step: step}
}

// Place produces a placement for the plan against the resolved busy
// intervals. Every activity ends up scheduled or conflicted; one activity
// failing never blocks the rest. Activities placed earlier in the pass count
// as busy time for the ones that follow, so the scheduler cannot double-book
// its own slots.
func (p *Placer) Place(plan *domain.WellnessPlan, busy []domain.BusyInterval) (domain.Placement, error) {
	working := make([]domain.BusyInterval, len(busy))
	copy(working, busy)

	var placement domain.Placement
	for _, act := range plan.Activities {
		if act.Status == domain.ActivityStatusSkipped {
			continue
		}

		preferred, err := plan.PreferredStartUTC(act)
		if err != nil {
			return domain.Placement{}, fmt.Errorf("activity %s: %w", act.ID, err)
		}

		start, blockers, ok := p.findSlot(preferred, act, working)
		if !ok {
			for _, b := range blockers {
				placement.Conflicted = append(placement.Conflicted, domain.Conflict{ActivityID: act.ID, Busy: b})
			}
			continue
		}

		placed := act
		placed.Status = domain.ActivityStatusScheduled
		placement.Scheduled = append(placement.Scheduled, domain.PlacedActivity{Activity: placed, StartUTC: start})
		working = append(working, domain.BusyInterval{
			Start:         start,
			End:           start.Add(act.Duration()),
			SourceEventID: "placed:" + act.ID,
		})
	}
	return placement, nil
}

// findSlot probes outward from the preferred start, alternating later then
// earlier, bounded by the activity's flexibility. When a candidate collides
// with a busy interval the cursor jumps past it (busy end plus buffer going
// later, busy start minus buffer and duration going earlier) rather than
// crawling through starts that are guaranteed to collide with the same event.
func (p *Placer) findSlot(preferred time.Time, act domain.Activity, busy []domain.BusyInterval) (time.Time, []domain.BusyInterval, bool) {
	flex := time.Duration(act.FlexibilityMin) * time.Minute
	dur := act.Duration()
	earliest := preferred.Add(-flex)
	latest := preferred.Add(flex)

	blocked := newBlockerSet()

	first := p.detector.FirstConflict(preferred, dur, busy)
	if first == nil {
		return preferred, nil, true
	}
	blocked.add(*first)

	laterNext := p.advanceLater(preferred, first)
	earlierNext := p.advanceEarlier(preferred, dur, first)

	for !laterNext.After(latest) || !earlierNext.Before(earliest) {
		if !laterNext.After(latest) {
			b := p.detector.FirstConflict(laterNext, dur, busy)
			if b == nil {
				return laterNext, nil, true
			}
			blocked.add(*b)
			laterNext = p.advanceLater(laterNext, b)
		}
		if !earlierNext.Before(earliest) {
			b := p.detector.FirstConflict(earlierNext, dur, busy)
			if b == nil {
				return earlierNext, nil, true
			}
			blocked.add(*b)
			earlierNext = p.advanceEarlier(earlierNext, dur, b)
		}
	}
	return time.Time{}, blocked.list, false
}

func (p *Placer) advanceLater(from time.Time, b *domain.BusyInterval) time.Time {
	next := from.Add(p.step)
	if snap := b.End.Add(p.detector.Buffer()); snap.After(next) {
		return snap
	}
	return next
}

func (p *Placer) advanceEarlier(from time.Time, dur time.Duration, b *domain.BusyInterval) time.Time {
	next := from.Add(-p.step)
	if snap := b.Start.Add(-p.detector.Buffer()).Add(-dur); snap.Before(next) {
		return snap
	}
	return next
}

// blockerSet deduplicates busy intervals reported for one activity.
type blockerSet struct {
	seen map[string]struct{}
	list []domain.BusyInterval
}

func newBlockerSet() *blockerSet {
	return &blockerSet{seen: make(map[string]struct{})}
}

func (s *blockerSet) add(b domain.BusyInterval) {
	key := b.Start.Format(time.RFC3339) + "/" + b.End.Format(time.RFC3339)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.list = append(s.list, b)
}
