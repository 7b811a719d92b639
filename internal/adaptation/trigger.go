// Package adaptation decides when the current plan no longer fits observed
// behaviour. It only observes progress history and emits signals; plan
// content is authored elsewhere.
package adaptation

import (
	"fmt"
	"sort"
	"time"

	"example.com/wellness/internal/domain"
)

const (
	// DefaultWindowSize is how many recent occurrences per activity type feed
	// the completion-rate check.
	DefaultWindowSize = 7

	lowCompletionThreshold  = 0.5
	highCompletionThreshold = 0.95
	highEnergyThreshold     = 7.0
)

// Trigger evaluates rolling completion history per activity type.
type Trigger struct {
	windowSize int
}

// NewTrigger constructs a Trigger. A non-positive window falls back to
// DefaultWindowSize.
func NewTrigger(windowSize int) Trigger {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return Trigger{windowSize: windowSize}
}

// Evaluate inspects the user's progress events and returns a
// RegenerationSuggested signal per activity type whose recent window crosses
// a threshold. Types with fewer occurrences than the window are left alone:
// too little evidence to second-guess the plan.
func (t Trigger) Evaluate(userID string, events []domain.ProgressEvent, now time.Time) []domain.RegenerationSuggested {
	byType := make(map[domain.ActivityType][]domain.ProgressEvent)
	for _, ev := range events {
		if ev.UserID != userID {
			continue
		}
		byType[ev.ActivityType] = append(byType[ev.ActivityType], ev)
	}

	types := make([]domain.ActivityType, 0, len(byType))
	for at := range byType {
		types = append(types, at)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var signals []domain.RegenerationSuggested
	for _, at := range types {
		window := lastN(byType[at], t.windowSize)
		if len(window) < t.windowSize {
			continue
		}

		completed := 0
		energySum := 0
		energyCount := 0
		for _, ev := range window {
			if ev.Completed {
				completed++
			}
			if ev.EnergyLevel > 0 {
				energySum += ev.EnergyLevel
				energyCount++
			}
		}
		rate := float64(completed) / float64(len(window))

		switch {
		case rate < lowCompletionThreshold:
			signals = append(signals, domain.RegenerationSuggested{
				UserID:       userID,
				ActivityType: at,
				Reason:       fmt.Sprintf("completion rate %.0f%% over last %d occurrences", rate*100, len(window)),
				Direction:    domain.AdaptationReduce,
				SuggestedAt:  now,
			})
		case rate > highCompletionThreshold && energyCount > 0 && float64(energySum)/float64(energyCount) > highEnergyThreshold:
			signals = append(signals, domain.RegenerationSuggested{
				UserID:       userID,
				ActivityType: at,
				Reason:       fmt.Sprintf("completion rate %.0f%% with high reported energy", rate*100),
				Direction:    domain.AdaptationIncrease,
				SuggestedAt:  now,
			})
		}
	}
	return signals
}

// Feedback names an explicit difficulty report from the user.
type Feedback string

const (
	FeedbackTooHard Feedback = "too_hard"
	FeedbackTooEasy Feedback = "too_easy"
)

// FromFeedback converts a direct user report into a signal, bypassing the
// completion-rate window.
func (t Trigger) FromFeedback(userID string, activityType domain.ActivityType, fb Feedback, now time.Time) (domain.RegenerationSuggested, bool) {
	switch fb {
	case FeedbackTooHard:
		return domain.RegenerationSuggested{
			UserID:       userID,
			ActivityType: activityType,
			Reason:       "user reported plan too hard",
			Direction:    domain.AdaptationReduce,
			SuggestedAt:  now,
		}, true
	case FeedbackTooEasy:
		return domain.RegenerationSuggested{
			UserID:       userID,
			ActivityType: activityType,
			Reason:       "user reported plan too easy",
			Direction:    domain.AdaptationIncrease,
			SuggestedAt:  now,
		}, true
	}
	return domain.RegenerationSuggested{}, false
}

// lastN returns the n most recent events ordered oldest first.
func lastN(events []domain.ProgressEvent, n int) []domain.ProgressEvent {
	sorted := make([]domain.ProgressEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })
	if len(sorted) <= n {
		return sorted
	}
	return sorted[len(sorted)-n:]
}
