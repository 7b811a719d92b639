package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"example.com/wellness/internal/calendar"
	"example.com/wellness/internal/domain"
)

// BuildEvent renders the remote event payload for a placed activity.
func BuildEvent(p domain.PlacedActivity) calendar.Event {
	act := p.Activity
	title := act.Title
	if title == "" {
		title = titleCase(strings.ReplaceAll(string(act.Type), "_", " "))
	}

	var details []string
	if act.Details != "" {
		details = append(details, act.Details)
	}
	if act.Intensity != "" {
		details = append(details, "Intensity: "+act.Intensity)
	}
	details = append(details, "Generated by Personal AI Wellness Assistant")

	return calendar.Event{
		Title:       title,
		Description: strings.Join(details, "\n"),
		Start:       p.StartUTC,
		End:         p.EndUTC(),
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ContentHash fingerprints everything the engine writes to the remote event.
// Equal hashes mean a sync would be a redundant write.
func ContentHash(p domain.PlacedActivity) string {
	event := BuildEvent(p)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d",
		event.Title,
		event.Description,
		p.StartUTC.UTC().Format(time.RFC3339),
		p.Activity.DurationMin,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyKey derives a stable create key for an activity within a plan
// version, so a create replayed across passes resolves to the same remote event.
func IdempotencyKey(userID, planVersion, activityID string) string {
	h := sha256.Sum256([]byte(userID + "\x00" + planVersion + "\x00" + activityID))
	return hex.EncodeToString(h[:16])
}
