package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/wellness/internal/domain"
)

// SavePlan stores an immutable plan snapshot under its version. Plans are
// never updated in place; regeneration inserts a new version.
func (s *Store) SavePlan(ctx context.Context, plan *domain.WellnessPlan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO plans (user_id, plan_version, payload, created_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id, plan_version) DO NOTHING`

	_, err = s.pool.Exec(ctx, stmt, plan.UserID, plan.Version, payload, time.Now().UTC())
	return err
}

// GetPlan loads a specific plan version.
func (s *Store) GetPlan(ctx context.Context, userID, version string) (*domain.WellnessPlan, error) {
	const query = `SELECT payload FROM plans WHERE user_id=$1 AND plan_version=$2`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, userID, version).Scan(&payload); err != nil {
		if errNoRows(err) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	return decodePlan(payload)
}

// ActivePlan returns the most recently stored plan for the user.
func (s *Store) ActivePlan(ctx context.Context, userID string) (*domain.WellnessPlan, error) {
	const query = `SELECT payload FROM plans WHERE user_id=$1 ORDER BY created_at DESC LIMIT 1`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&payload); err != nil {
		if errNoRows(err) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	return decodePlan(payload)
}

func decodePlan(payload []byte) (*domain.WellnessPlan, error) {
	var plan domain.WellnessPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, fmt.Errorf("decode plan payload: %w", err)
	}
	return &plan, nil
}

// InsertProgress appends one completion/skip observation. Replayed event ids
// are ignored so the Kafka consumer can safely redeliver.
func (s *Store) InsertProgress(ctx context.Context, ev domain.ProgressEvent) error {
	const stmt = `INSERT INTO progress_events (event_id, user_id, activity_id, activity_type, completed, energy_level, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (event_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, stmt,
		ev.EventID,
		ev.UserID,
		ev.ActivityID,
		string(ev.ActivityType),
		ev.Completed,
		ev.EnergyLevel,
		ev.OccurredAt.UTC(),
	)
	return err
}

// RecentProgress returns the user's newest progress events, most recent last.
func (s *Store) RecentProgress(ctx context.Context, userID string, limit int) ([]domain.ProgressEvent, error) {
	const query = `SELECT event_id, user_id, activity_id, activity_type, completed, energy_level, occurred_at
        FROM progress_events WHERE user_id=$1
        ORDER BY occurred_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var ev domain.ProgressEvent
		var activityType string
		if err := rows.Scan(&ev.EventID, &ev.UserID, &ev.ActivityID, &activityType, &ev.Completed, &ev.EnergyLevel, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.ActivityType = domain.ActivityType(activityType)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// InsertSuggestion records an emitted regeneration signal for the API to surface.
func (s *Store) InsertSuggestion(ctx context.Context, sig domain.RegenerationSuggested) error {
	const stmt = `INSERT INTO regeneration_suggestions (user_id, activity_type, reason, direction, suggested_at)
        VALUES ($1,$2,$3,$4,$5)`

	_, err := s.pool.Exec(ctx, stmt, sig.UserID, string(sig.ActivityType), sig.Reason, string(sig.Direction), sig.SuggestedAt.UTC())
	return err
}

// PendingSuggestions lists signals emitted since the given instant.
func (s *Store) PendingSuggestions(ctx context.Context, userID string, since time.Time) ([]domain.RegenerationSuggested, error) {
	const query = `SELECT user_id, activity_type, reason, direction, suggested_at
        FROM regeneration_suggestions WHERE user_id=$1 AND suggested_at >= $2
        ORDER BY suggested_at`

	rows, err := s.pool.Query(ctx, query, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.RegenerationSuggested
	for rows.Next() {
		var sig domain.RegenerationSuggested
		var activityType, direction string
		if err := rows.Scan(&sig.UserID, &activityType, &sig.Reason, &direction, &sig.SuggestedAt); err != nil {
			return nil, err
		}
		sig.ActivityType = domain.ActivityType(activityType)
		sig.Direction = domain.AdaptationDirection(direction)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
