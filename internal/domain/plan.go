// Package domain defines the scheduling and reconciliation model for the wellness service.
package domain

import (
	"fmt"
	"time"
)

// ActivityType categorises a plan activity.
type ActivityType string

const (
	ActivityTypeWorkout    ActivityType = "workout"
	ActivityTypeMeditation ActivityType = "meditation"
	ActivityTypeNutrition  ActivityType = "nutrition"
	ActivityTypeOther      ActivityType = "other"
)

// ActivityStatus represents the scheduling state of an activity.
type ActivityStatus string

const (
	ActivityStatusPlanned    ActivityStatus = "planned"
	ActivityStatusScheduled  ActivityStatus = "scheduled"
	ActivityStatusConflicted ActivityStatus = "conflicted"
	ActivityStatusSkipped    ActivityStatus = "skipped"
)

// Window is a time-of-day range in the plan's local timezone, expressed as
// minutes from midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

// Activity is a single plan entry to be placed on the calendar.
type Activity struct {
	ID             string
	Day            int // ordinal within the horizon, 0-based
	Type           ActivityType
	Title          string
	Details        string
	Intensity      string
	DurationMin    int
	Preferred      Window
	FlexibilityMin int
	Status         ActivityStatus
}

// Duration returns the activity length as a time.Duration.
func (a Activity) Duration() time.Duration {
	return time.Duration(a.DurationMin) * time.Minute
}

// WellnessPlan is an immutable plan snapshot produced by the external
// generator. A regenerated plan is a new value with a new Version; plans are
// never patched in place.
type WellnessPlan struct {
	Version      string
	UserID       string
	Name         string
	Timezone     string
	HorizonStart time.Time // local midnight of day 0
	HorizonDays  int
	Activities   []Activity
	GeneratedAt  time.Time
}

// DefaultHorizonDays is the planning window applied when a plan does not set one.
const DefaultHorizonDays = 7

// Location resolves the plan's timezone.
func (p *WellnessPlan) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("plan %s: invalid timezone %q: %w", p.Version, p.Timezone, err)
	}
	return loc, nil
}

// PreferredStartUTC computes the UTC instant of an activity's preferred
// window start on its plan day.
func (p *WellnessPlan) PreferredStartUTC(a Activity) (time.Time, error) {
	loc, err := p.Location()
	if err != nil {
		return time.Time{}, err
	}
	day := p.HorizonStart.In(loc).AddDate(0, 0, a.Day)
	local := time.Date(day.Year(), day.Month(), day.Day(), 0, a.Preferred.StartMinute, 0, 0, loc)
	return local.UTC(), nil
}

// Validate checks plan invariants before a reconciliation pass.
func (p *WellnessPlan) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("plan version is required")
	}
	if p.UserID == "" {
		return fmt.Errorf("plan user id is required")
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	days := p.HorizonDays
	if days == 0 {
		days = DefaultHorizonDays
	}
	seen := make(map[string]struct{}, len(p.Activities))
	for _, a := range p.Activities {
		if a.ID == "" {
			return fmt.Errorf("activity without id")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate activity id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Day < 0 || a.Day >= days {
			return fmt.Errorf("activity %s: day %d outside horizon", a.ID, a.Day)
		}
		if a.DurationMin <= 0 {
			return fmt.Errorf("activity %s: duration must be > 0", a.ID)
		}
		if a.FlexibilityMin < 0 {
			return fmt.Errorf("activity %s: negative flexibility", a.ID)
		}
	}
	return nil
}
