// Package api exposes HTTP handlers for the wellness scheduling service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/wellness/internal/adaptation"
	"example.com/wellness/internal/auth"
	"example.com/wellness/internal/domain"
	"example.com/wellness/internal/observability"
)

// Reconciler runs one reconciliation pass for a plan.
type Reconciler interface {
	Reconcile(ctx context.Context, plan *domain.WellnessPlan) (*domain.PassSummary, error)
}

// PlanStore captures the persistence operations the handlers need.
type PlanStore interface {
	SavePlan(ctx context.Context, plan *domain.WellnessPlan) error
	GetPlan(ctx context.Context, userID, version string) (*domain.WellnessPlan, error)
	ActivePlan(ctx context.Context, userID string) (*domain.WellnessPlan, error)
	Load(ctx context.Context, userID string) (domain.ScheduleMapping, error)
	InsertSuggestion(ctx context.Context, sig domain.RegenerationSuggested) error
	PendingSuggestions(ctx context.Context, userID string, since time.Time) ([]domain.RegenerationSuggested, error)
}

// SignalPublisher forwards regeneration signals to the external plan generator.
type SignalPublisher interface {
	Publish(ctx context.Context, sig domain.RegenerationSuggested) error
}

// Handler coordinates HTTP requests with the scheduling engine.
type Handler struct {
	reconciler Reconciler
	store      PlanStore
	signals    SignalPublisher
	trigger    adaptation.Trigger
}

// NewHandler builds a Handler.
func NewHandler(reconciler Reconciler, store PlanStore, signals SignalPublisher, trigger adaptation.Trigger) *Handler {
	return &Handler{reconciler: reconciler, store: store, signals: signals, trigger: trigger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/plans", h.plans)
	mux.HandleFunc("/v1/plans/", h.planByVersion)
	mux.HandleFunc("/v1/schedule", h.schedule)
	mux.HandleFunc("/v1/suggestions", h.suggestions)
	mux.HandleFunc("/v1/feedback", h.feedback)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) plans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePlansWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope plans:write required")
		return
	}

	var req SubmitPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	plan, err := req.ToPlan(claims.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if err := plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if err := h.store.SavePlan(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.runPass(w, r, plan)
}

func (h *Handler) planByVersion(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	version, action, _ := strings.Cut(rest, "/")
	if version == "" || action != "reconcile" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePlansWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope plans:write required")
		return
	}

	plan, err := h.store.GetPlan(r.Context(), claims.Subject, version)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "plan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.runPass(w, r, plan)
}

func (h *Handler) runPass(w http.ResponseWriter, r *http.Request, plan *domain.WellnessPlan) {
	summary, err := h.reconciler.Reconcile(r.Context(), plan)
	if err != nil {
		if errors.Is(err, domain.ErrCalendarUnavailable) {
			writeError(w, http.StatusBadGateway, "calendar_unavailable", err.Error())
			return
		}
		if summary != nil {
			// Cancelled mid-batch: report what was confirmed.
			writeJSON(w, http.StatusAccepted, toSummaryView(summary))
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSummaryView(summary))
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePlansRead) && !claims.HasScope(auth.ScopePlansWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope plans:read required")
		return
	}

	plan, err := h.store.ActivePlan(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no plan for user")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	mapping, err := h.store.Load(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrMappingCorrupted) {
			mapping = domain.ScheduleMapping{}
		} else {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}

	resp := ScheduleResponse{PlanVersion: plan.Version, Timezone: plan.Timezone}
	for _, act := range plan.Activities {
		view := ScheduledActivityView{
			ActivityID:  act.ID,
			Type:        string(act.Type),
			Title:       act.Title,
			Day:         act.Day,
			DurationMin: act.DurationMin,
		}
		if entry, bound := mapping[act.ID]; bound {
			view.RemoteEventID = entry.RemoteEventID
			view.StartUTC = &entry.LastSyncedStart
			view.Status = string(domain.ActivityStatusScheduled)
		} else {
			view.Status = string(act.Status)
			if view.Status == "" {
				view.Status = string(domain.ActivityStatusPlanned)
			}
		}
		resp.Activities = append(resp.Activities, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopePlansRead) && !claims.HasScope(auth.ScopePlansWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope plans:read required")
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -domain.DefaultHorizonDays)
	signals, err := h.store.PendingSuggestions(r.Context(), claims.Subject, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := SuggestionsResponse{Items: make([]SuggestionView, 0, len(signals))}
	for _, sig := range signals {
		resp.Items = append(resp.Items, SuggestionView{
			ActivityType: string(sig.ActivityType),
			Reason:       sig.Reason,
			Direction:    string(sig.Direction),
			SuggestedAt:  sig.SuggestedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:write required")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	sig, ok := h.trigger.FromFeedback(claims.Subject, domain.ActivityType(req.ActivityType), adaptation.Feedback(req.Feedback), time.Now().UTC())
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_failed", "feedback must be too_hard or too_easy")
		return
	}

	if err := h.store.InsertSuggestion(r.Context(), sig); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	observability.RecordSuggestion(string(sig.Direction))
	if err := h.signals.Publish(r.Context(), sig); err != nil {
		// The suggestion is stored; delivery to the generator can lag.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stored", "delivery": "pending"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stored", "delivery": "published"})
}

// SubmitPlanRequest is the payload for POST /v1/plans.
type SubmitPlanRequest struct {
	Version      string            `json:"version"`
	Name         string            `json:"name"`
	Timezone     string            `json:"timezone"`
	HorizonStart string            `json:"horizon_start"` // YYYY-MM-DD in the plan timezone
	HorizonDays  int               `json:"horizon_days"`
	Activities   []ActivityRequest `json:"activities"`
}

// ActivityRequest describes one plan entry.
type ActivityRequest struct {
	ID             string `json:"id"`
	Day            int    `json:"day"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Details        string `json:"details"`
	Intensity      string `json:"intensity"`
	DurationMin    int    `json:"duration_min"`
	PreferredStart string `json:"preferred_start"` // HH:MM local
	PreferredEnd   string `json:"preferred_end"`   // HH:MM local
	FlexibilityMin int    `json:"flexibility_min"`
}

// ToPlan converts the request into a domain plan owned by the given user.
func (r SubmitPlanRequest) ToPlan(userID string) (*domain.WellnessPlan, error) {
	if strings.TrimSpace(r.Version) == "" {
		return nil, errors.New("version is required")
	}
	if strings.TrimSpace(r.Timezone) == "" {
		return nil, errors.New("timezone is required")
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q", r.Timezone)
	}
	startDay, err := time.ParseInLocation("2006-01-02", r.HorizonStart, loc)
	if err != nil {
		return nil, errors.New("horizon_start must be YYYY-MM-DD")
	}

	plan := &domain.WellnessPlan{
		Version:      r.Version,
		UserID:       userID,
		Name:         r.Name,
		Timezone:     r.Timezone,
		HorizonStart: startDay,
		HorizonDays:  r.HorizonDays,
		GeneratedAt:  time.Now().UTC(),
	}

	for _, a := range r.Activities {
		start, err := parseClock(a.PreferredStart)
		if err != nil {
			return nil, fmt.Errorf("activity %s: %v", a.ID, err)
		}
		end, err := parseClock(a.PreferredEnd)
		if err != nil {
			return nil, fmt.Errorf("activity %s: %v", a.ID, err)
		}
		plan.Activities = append(plan.Activities, domain.Activity{
			ID:             a.ID,
			Day:            a.Day,
			Type:           activityType(a.Type),
			Title:          a.Title,
			Details:        a.Details,
			Intensity:      a.Intensity,
			DurationMin:    a.DurationMin,
			Preferred:      domain.Window{StartMinute: start, EndMinute: end},
			FlexibilityMin: a.FlexibilityMin,
			Status:         domain.ActivityStatusPlanned,
		})
	}
	return plan, nil
}

func activityType(raw string) domain.ActivityType {
	switch domain.ActivityType(raw) {
	case domain.ActivityTypeWorkout, domain.ActivityTypeMeditation, domain.ActivityTypeNutrition:
		return domain.ActivityType(raw)
	default:
		return domain.ActivityTypeOther
	}
}

func parseClock(raw string) (int, error) {
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("time %q must be HH:MM", raw)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// SummaryView reports a reconciliation pass outcome.
type SummaryView struct {
	PlanVersion string         `json:"plan_version"`
	Scheduled   int            `json:"scheduled"`
	Conflicted  int            `json:"conflicted"`
	Created     int            `json:"created"`
	Updated     int            `json:"updated"`
	Deleted     int            `json:"deleted"`
	Unchanged   int            `json:"unchanged"`
	Failures    []FailureView  `json:"failures,omitempty"`
	Conflicts   []ConflictView `json:"conflicts,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// FailureView describes one remote operation that failed after retries.
type FailureView struct {
	ActivityID string `json:"activity_id"`
	Operation  string `json:"operation"`
	Error      string `json:"error"`
}

// ConflictView names a busy interval that blocked an activity.
type ConflictView struct {
	ActivityID string    `json:"activity_id"`
	BusyStart  time.Time `json:"busy_start"`
	BusyEnd    time.Time `json:"busy_end"`
}

// ScheduleResponse is the current placement for the active plan.
type ScheduleResponse struct {
	PlanVersion string                  `json:"plan_version"`
	Timezone    string                  `json:"timezone"`
	Activities  []ScheduledActivityView `json:"activities"`
}

// ScheduledActivityView exposes one activity's schedule state.
type ScheduledActivityView struct {
	ActivityID    string     `json:"activity_id"`
	Type          string     `json:"type"`
	Title         string     `json:"title,omitempty"`
	Day           int        `json:"day"`
	DurationMin   int        `json:"duration_min"`
	Status        string     `json:"status"`
	RemoteEventID string     `json:"remote_event_id,omitempty"`
	StartUTC      *time.Time `json:"start_utc,omitempty"`
}

// SuggestionsResponse packages pending regeneration signals.
type SuggestionsResponse struct {
	Items []SuggestionView `json:"items"`
}

// SuggestionView is one regeneration signal.
type SuggestionView struct {
	ActivityType string    `json:"activity_type"`
	Reason       string    `json:"reason"`
	Direction    string    `json:"direction"`
	SuggestedAt  time.Time `json:"suggested_at"`
}

// FeedbackRequest is the payload for POST /v1/feedback.
type FeedbackRequest struct {
	ActivityType string `json:"activity_type"`
	Feedback     string `json:"feedback"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toSummaryView(s *domain.PassSummary) SummaryView {
	view := SummaryView{
		PlanVersion: s.PlanVersion,
		Scheduled:   s.Scheduled,
		Conflicted:  s.Conflicted,
		Created:     s.Created,
		Updated:     s.Updated,
		Deleted:     s.Deleted,
		Unchanged:   s.Unchanged,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
	for _, f := range s.Failures {
		view.Failures = append(view.Failures, FailureView{
			ActivityID: f.ActivityID,
			Operation:  string(f.Kind),
			Error:      f.Err,
		})
	}
	for _, c := range s.Conflicts {
		view.Conflicts = append(view.Conflicts, ConflictView{
			ActivityID: c.ActivityID,
			BusyStart:  c.Busy.Start,
			BusyEnd:    c.Busy.End,
		})
	}
	return view
}
