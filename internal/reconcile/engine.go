// Package reconcile runs the end-to-end reconciliation pass: resolve remote
// availability, place plan activities, and converge the remote calendar on
// the result with a minimal edit script.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/wellness/internal/availability"
	"example.com/wellness/internal/calendar"
	"example.com/wellness/internal/domain"
	"example.com/wellness/internal/observability"
	"example.com/wellness/internal/schedule"
)

// MappingStore persists activity-to-event bindings. Writes are applied per
// confirmed remote operation so a crash or cancellation mid-pass leaves the
// mapping consistent with whatever actually reached the calendar.
type MappingStore interface {
	Load(ctx context.Context, userID string) (domain.ScheduleMapping, error)
	Put(ctx context.Context, userID, planVersion, activityID string, entry domain.MappingEntry) error
	Remove(ctx context.Context, userID, activityID string) error
}

// Locker provides the per-user exclusive scope for a pass. Release must be
// safe to call on every exit path.
type Locker interface {
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger used to report per-operation failures.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHorizonDays overrides the default 7-day planning window.
func WithHorizonDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.horizonDays = days
		}
	}
}

// Engine owns the reconciliation pass for one plan version at a time.
type Engine struct {
	resolver    *availability.Resolver
	placer      *schedule.Placer
	client      calendar.Client
	mappings    MappingStore
	locker      Locker
	horizonDays int
	logger      *log.Logger
}

// NewEngine constructs an Engine over the given collaborators.
func NewEngine(resolver *availability.Resolver, placer *schedule.Placer, client calendar.Client, mappings MappingStore, locker Locker, opts ...Option) *Engine {
	e := &Engine{
		resolver:    resolver,
		placer:      placer,
		client:      client,
		mappings:    mappings,
		locker:      locker,
		horizonDays: domain.DefaultHorizonDays,
		logger:      log.New(log.Writer(), "[reconcile] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile runs one pass for the plan. Resolver failure aborts before any
// remote write; individual operation failures are recorded in the summary and
// never abort the batch. Cancellation stops issuing new operations but the
// mapping still reflects every confirmed one.
func (e *Engine) Reconcile(ctx context.Context, plan *domain.WellnessPlan) (*domain.PassSummary, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx, plan.UserID)
	if err != nil {
		return nil, fmt.Errorf("acquire user scope: %w", err)
	}
	defer release()

	summary := &domain.PassSummary{
		PlanVersion: plan.Version,
		StartedAt:   time.Now().UTC(),
	}

	prior, err := e.mappings.Load(ctx, plan.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrMappingCorrupted) {
			observability.RecordPass("aborted")
			return nil, fmt.Errorf("load mapping: %w", err)
		}
		// Corrupt mapping degrades to a fresh sync: previously created
		// events may be orphaned, but the pass must not crash.
		e.logger.Printf("mapping for user %s corrupted, proceeding without prior bindings: %v", plan.UserID, err)
		prior = domain.ScheduleMapping{}
	}

	horizon := plan.HorizonDays
	if horizon == 0 {
		horizon = e.horizonDays
	}
	// Events this engine created on earlier passes must not count as busy
	// time, or every resync would shift each activity past its own event.
	owned := make(map[string]bool, len(prior))
	for _, entry := range prior {
		owned[entry.RemoteEventID] = true
	}
	busy, err := e.resolver.Resolve(ctx, plan.Timezone, plan.HorizonStart, horizon, owned)
	if err != nil {
		observability.RecordPass("aborted")
		return nil, err
	}

	placement, err := e.placer.Place(plan, busy)
	if err != nil {
		observability.RecordPass("aborted")
		return nil, err
	}
	summary.Scheduled = len(placement.Scheduled)
	summary.Conflicted = len(placement.ConflictedIDs())
	summary.Conflicts = placement.Conflicted
	observability.RecordConflicts(summary.Conflicted)

	script := buildScript(placement, prior)
	applyErr := e.apply(ctx, plan, script, summary)

	summary.FinishedAt = time.Now().UTC()
	if applyErr != nil {
		observability.RecordPass("cancelled")
		return summary, applyErr
	}
	observability.RecordPass("completed")
	return summary, nil
}

// apply executes the edit script, deletes first. Each operation is
// independent: a failure is logged and recorded, then the pass moves on.
// Only a cancelled context stops the batch early.
func (e *Engine) apply(ctx context.Context, plan *domain.WellnessPlan, script editScript, summary *domain.PassSummary) error {
	for _, op := range script.deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.applyDelete(ctx, plan, op); err != nil {
			e.recordFailure(summary, op.activityID, domain.OperationDelete, err)
			continue
		}
		summary.Deleted++
		observability.RecordRemoteOp("delete", true)
	}

	for _, op := range script.creates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.applyCreate(ctx, plan, op); err != nil {
			e.recordFailure(summary, op.placed.Activity.ID, domain.OperationCreate, err)
			continue
		}
		summary.Created++
		observability.RecordRemoteOp("create", true)
	}

	for _, op := range script.updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.applyUpdate(ctx, plan, op); err != nil {
			e.recordFailure(summary, op.placed.Activity.ID, domain.OperationUpdate, err)
			continue
		}
		summary.Updated++
		observability.RecordRemoteOp("update", true)
	}

	summary.Unchanged = script.unchanged
	return nil
}

func (e *Engine) applyDelete(ctx context.Context, plan *domain.WellnessPlan, op deleteOp) error {
	if err := e.client.Delete(ctx, op.entry.RemoteEventID); err != nil {
		return err
	}
	return e.mappings.Remove(ctx, plan.UserID, op.activityID)
}

func (e *Engine) applyCreate(ctx context.Context, plan *domain.WellnessPlan, op writeOp) error {
	key := IdempotencyKey(plan.UserID, plan.Version, op.placed.Activity.ID)
	remoteID, err := e.client.Create(ctx, BuildEvent(op.placed), key)
	if err != nil {
		return err
	}
	entry := domain.MappingEntry{
		RemoteEventID:    remoteID,
		LastSyncedStart:  op.placed.StartUTC,
		LastSyncedDurMin: op.placed.Activity.DurationMin,
		ContentHash:      ContentHash(op.placed),
		IdempotencyKey:   key,
	}
	return e.mappings.Put(ctx, plan.UserID, plan.Version, op.placed.Activity.ID, entry)
}

func (e *Engine) applyUpdate(ctx context.Context, plan *domain.WellnessPlan, op writeOp) error {
	if err := e.client.Update(ctx, op.entry.RemoteEventID, op.placed.StartUTC, op.placed.EndUTC()); err != nil {
		return err
	}
	entry := op.entry
	entry.LastSyncedStart = op.placed.StartUTC
	entry.LastSyncedDurMin = op.placed.Activity.DurationMin
	entry.ContentHash = ContentHash(op.placed)
	return e.mappings.Put(ctx, plan.UserID, plan.Version, op.placed.Activity.ID, entry)
}

func (e *Engine) recordFailure(summary *domain.PassSummary, activityID string, kind domain.OperationKind, err error) {
	e.logger.Printf("%s failed for activity %s: %v", kind, activityID, err)
	observability.RecordRemoteOp(string(kind), false)
	summary.Failures = append(summary.Failures, domain.OperationFailure{
		ActivityID: activityID,
		Kind:       kind,
		Err:        fmt.Errorf("%w: %v", domain.ErrRemoteOperationFailed, err).Error(),
	})
}
