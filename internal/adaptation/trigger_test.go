package adaptation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wellness/internal/domain"
)

func history(userID string, at domain.ActivityType, completions []bool, energy int) []domain.ProgressEvent {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	events := make([]domain.ProgressEvent, 0, len(completions))
	for i, done := range completions {
		events = append(events, domain.ProgressEvent{
			EventID:      string(rune('a' + i)),
			UserID:       userID,
			ActivityID:   "act",
			ActivityType: at,
			Completed:    done,
			EnergyLevel:  energy,
			OccurredAt:   base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	return events
}

func TestEvaluateSuggestsReduceOnLowCompletion(t *testing.T) {
	trigger := NewTrigger(7)
	events := history("user-1", domain.ActivityTypeWorkout,
		[]bool{true, false, false, true, false, false, false}, 0)

	signals := trigger.Evaluate("user-1", events, time.Now().UTC())
	require.Len(t, signals, 1)
	require.Equal(t, domain.AdaptationReduce, signals[0].Direction)
	require.Equal(t, domain.ActivityTypeWorkout, signals[0].ActivityType)
}

func TestEvaluateSuggestsIncreaseOnFullCompletionWithHighEnergy(t *testing.T) {
	trigger := NewTrigger(7)
	events := history("user-1", domain.ActivityTypeWorkout,
		[]bool{true, true, true, true, true, true, true}, 9)

	signals := trigger.Evaluate("user-1", events, time.Now().UTC())
	require.Len(t, signals, 1)
	require.Equal(t, domain.AdaptationIncrease, signals[0].Direction)
}

func TestEvaluateStaysQuietWithoutEnergyData(t *testing.T) {
	trigger := NewTrigger(7)
	events := history("user-1", domain.ActivityTypeWorkout,
		[]bool{true, true, true, true, true, true, true}, 0)

	require.Empty(t, trigger.Evaluate("user-1", events, time.Now().UTC()))
}

func TestEvaluateNeedsFullWindow(t *testing.T) {
	trigger := NewTrigger(7)
	events := history("user-1", domain.ActivityTypeWorkout,
		[]bool{false, false, false}, 0)

	require.Empty(t, trigger.Evaluate("user-1", events, time.Now().UTC()))
}

func TestEvaluateUsesMostRecentWindow(t *testing.T) {
	trigger := NewTrigger(7)
	// Ten events: the three oldest are misses, the last seven are all done.
	events := history("user-1", domain.ActivityTypeWorkout,
		[]bool{false, false, false, true, true, true, true, true, true, true}, 0)

	require.Empty(t, trigger.Evaluate("user-1", events, time.Now().UTC()))
}

func TestEvaluateIgnoresOtherUsers(t *testing.T) {
	trigger := NewTrigger(7)
	events := history("someone-else", domain.ActivityTypeWorkout,
		[]bool{false, false, false, false, false, false, false}, 0)

	require.Empty(t, trigger.Evaluate("user-1", events, time.Now().UTC()))
}

func TestEvaluateTreatsTypesIndependently(t *testing.T) {
	trigger := NewTrigger(7)
	events := append(
		history("user-1", domain.ActivityTypeWorkout,
			[]bool{false, false, false, false, false, false, false}, 0),
		history("user-1", domain.ActivityTypeMeditation,
			[]bool{true, true, true, true, true, true, true}, 0)...,
	)

	signals := trigger.Evaluate("user-1", events, time.Now().UTC())
	require.Len(t, signals, 1)
	require.Equal(t, domain.ActivityTypeWorkout, signals[0].ActivityType)
}

func TestFromFeedbackMapsDirections(t *testing.T) {
	trigger := NewTrigger(0)
	now := time.Now().UTC()

	sig, ok := trigger.FromFeedback("user-1", domain.ActivityTypeWorkout, FeedbackTooHard, now)
	require.True(t, ok)
	require.Equal(t, domain.AdaptationReduce, sig.Direction)

	sig, ok = trigger.FromFeedback("user-1", domain.ActivityTypeWorkout, FeedbackTooEasy, now)
	require.True(t, ok)
	require.Equal(t, domain.AdaptationIncrease, sig.Direction)

	_, ok = trigger.FromFeedback("user-1", domain.ActivityTypeWorkout, Feedback("meh"), now)
	require.False(t, ok)
}
