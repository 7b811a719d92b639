package reconcile

import (
	"sort"

	"example.com/wellness/internal/domain"
)

// editScript is the minimal set of remote mutations bringing the calendar in
// line with a new placement. Deletes are ordered before creates so a stale
// event never transiently double-books the slot its replacement wants.
type editScript struct {
	deletes   []deleteOp
	creates   []writeOp
	updates   []writeOp
	unchanged int
}

type deleteOp struct {
	activityID string
	entry      domain.MappingEntry
}

type writeOp struct {
	placed domain.PlacedActivity
	entry  domain.MappingEntry // prior entry, zero-valued for creates
}

// buildScript diffs the new placement against the prior mapping.
func buildScript(placement domain.Placement, prior domain.ScheduleMapping) editScript {
	desired := make(map[string]domain.PlacedActivity, len(placement.Scheduled))
	for _, p := range placement.Scheduled {
		desired[p.Activity.ID] = p
	}

	var script editScript

	// Prior bindings whose activity is gone, conflicted or skipped lose
	// their remote event.
	for activityID, entry := range prior {
		if _, still := desired[activityID]; !still {
			script.deletes = append(script.deletes, deleteOp{activityID: activityID, entry: entry})
		}
	}
	sort.Slice(script.deletes, func(i, j int) bool {
		return script.deletes[i].activityID < script.deletes[j].activityID
	})

	for _, p := range placement.Scheduled {
		entry, bound := prior[p.Activity.ID]
		if !bound {
			script.creates = append(script.creates, writeOp{placed: p})
			continue
		}
		if entry.ContentHash == ContentHash(p) &&
			entry.LastSyncedStart.Equal(p.StartUTC) &&
			entry.LastSyncedDurMin == p.Activity.DurationMin {
			script.unchanged++
			continue
		}
		script.updates = append(script.updates, writeOp{placed: p, entry: entry})
	}

	return script
}
