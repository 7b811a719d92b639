package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/wellness/internal/adaptation"
	"example.com/wellness/internal/domain"
	"example.com/wellness/internal/observability"
)

// EventTypeProgress is the only event type the progress handler accepts.
const EventTypeProgress = "progress.recorded"

// suggestionCooldown suppresses repeat signals for a type that was already
// flagged recently; the generator needs one nudge, not one per event.
const suggestionCooldown = 24 * time.Hour

// ProgressStore captures the persistence operations the handler needs.
type ProgressStore interface {
	InsertProgress(ctx context.Context, ev domain.ProgressEvent) error
	RecentProgress(ctx context.Context, userID string, limit int) ([]domain.ProgressEvent, error)
	InsertSuggestion(ctx context.Context, sig domain.RegenerationSuggested) error
	PendingSuggestions(ctx context.Context, userID string, since time.Time) ([]domain.RegenerationSuggested, error)
}

// SignalPublisher forwards regeneration signals to the external plan generator.
type SignalPublisher interface {
	Publish(ctx context.Context, sig domain.RegenerationSuggested) error
}

// ProgressHandler persists completion/skip events and runs the adaptation
// trigger over the user's recent history.
type ProgressHandler struct {
	store   ProgressStore
	signals SignalPublisher
	trigger adaptation.Trigger
}

// NewProgressHandler constructs a ProgressHandler.
func NewProgressHandler(store ProgressStore, signals SignalPublisher, trigger adaptation.Trigger) *ProgressHandler {
	return &ProgressHandler{store: store, signals: signals, trigger: trigger}
}

type progressPayload struct {
	EventID      string    `json:"event_id"`
	ActivityID   string    `json:"activity_id"`
	ActivityType string    `json:"activity_type"`
	Completed    bool      `json:"completed"`
	EnergyLevel  int       `json:"energy_level"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Handle stores the event and emits regeneration signals when a type's
// rolling completion window crosses a threshold.
func (h *ProgressHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != EventTypeProgress {
		return fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	if msg.UserID == "" {
		return fmt.Errorf("missing user_id header")
	}

	var payload progressPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode progress payload: %w", err)
	}
	if payload.ActivityID == "" {
		return fmt.Errorf("progress event without activity_id")
	}
	if payload.EventID == "" {
		payload.EventID = uuid.NewString()
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = msg.Timestamp
	}

	ev := domain.ProgressEvent{
		EventID:      payload.EventID,
		UserID:       msg.UserID,
		ActivityID:   payload.ActivityID,
		ActivityType: domain.ActivityType(payload.ActivityType),
		Completed:    payload.Completed,
		EnergyLevel:  payload.EnergyLevel,
		OccurredAt:   payload.OccurredAt,
	}
	if err := h.store.InsertProgress(ctx, ev); err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}

	history, err := h.store.RecentProgress(ctx, msg.UserID, 100)
	if err != nil {
		return fmt.Errorf("load progress history: %w", err)
	}

	now := time.Now().UTC()
	signals := h.trigger.Evaluate(msg.UserID, history, now)
	if len(signals) == 0 {
		return nil
	}

	recent, err := h.store.PendingSuggestions(ctx, msg.UserID, now.Add(-suggestionCooldown))
	if err != nil {
		return fmt.Errorf("load recent suggestions: %w", err)
	}
	flagged := make(map[domain.ActivityType]struct{}, len(recent))
	for _, sig := range recent {
		flagged[sig.ActivityType] = struct{}{}
	}

	for _, sig := range signals {
		if _, already := flagged[sig.ActivityType]; already {
			continue
		}
		if err := h.store.InsertSuggestion(ctx, sig); err != nil {
			return fmt.Errorf("store suggestion: %w", err)
		}
		if err := h.signals.Publish(ctx, sig); err != nil {
			return fmt.Errorf("publish suggestion: %w", err)
		}
		observability.RecordSuggestion(string(sig.Direction))
	}
	return nil
}
