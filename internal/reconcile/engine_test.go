package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wellness/internal/availability"
	"example.com/wellness/internal/calendar"
	"example.com/wellness/internal/domain"
	"example.com/wellness/internal/schedule"
)

// fakeCalendar is an in-memory calendar provider. Individual operations can
// be scripted to fail, create honours idempotency keys, and free/busy
// reflects stored events the way a real provider would.
type fakeCalendar struct {
	mu      sync.Mutex
	nextID  int
	events  map[string]calendar.Event
	byKey   map[string]string
	busy    []domain.BusyInterval
	listErr error

	failCreate map[string]error // keyed by event title
	failDelete map[string]error // keyed by remote event id

	creates int
	updates int
	deletes int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		events:     make(map[string]calendar.Event),
		byKey:      make(map[string]string),
		failCreate: make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (f *fakeCalendar) Create(_ context.Context, event calendar.Event, idempotencyKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := f.failCreate[event.Title]; err != nil {
		return "", err
	}
	if id, ok := f.byKey[idempotencyKey]; ok {
		return id, nil
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = event
	f.byKey[idempotencyKey] = id
	return id, nil
}

func (f *fakeCalendar) Update(_ context.Context, remoteEventID string, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	event, ok := f.events[remoteEventID]
	if !ok {
		return &calendar.RemoteError{Op: "update", Status: 404, Detail: "no such event"}
	}
	event.Start = start
	event.End = end
	f.events[remoteEventID] = event
	return nil
}

func (f *fakeCalendar) Delete(_ context.Context, remoteEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if err := f.failDelete[remoteEventID]; err != nil {
		return err
	}
	delete(f.events, remoteEventID)
	return nil
}

func (f *fakeCalendar) ListFreeBusy(_ context.Context, from, to time.Time) ([]domain.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.BusyInterval, 0, len(f.busy)+len(f.events))
	out = append(out, f.busy...)
	for id, event := range f.events {
		if event.Start.Before(to) && event.End.After(from) {
			out = append(out, domain.BusyInterval{Start: event.Start, End: event.End, SourceEventID: id})
		}
	}
	return out, nil
}

// memoryMappings is a MappingStore backed by a map.
type memoryMappings struct {
	mu      sync.Mutex
	entries domain.ScheduleMapping
	loadErr error
}

func newMemoryMappings() *memoryMappings {
	return &memoryMappings{entries: domain.ScheduleMapping{}}
}

func (m *memoryMappings) Load(context.Context, string) (domain.ScheduleMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(domain.ScheduleMapping, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *memoryMappings) Put(_ context.Context, _, _, activityID string, entry domain.MappingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[activityID] = entry
	return nil
}

func (m *memoryMappings) Remove(_ context.Context, _, activityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, activityID)
	return nil
}

type noopLocker struct {
	acquired int
}

func (l *noopLocker) Acquire(context.Context, string) (func(), error) {
	l.acquired++
	return func() {}, nil
}

func newTestEngine(cal *fakeCalendar, mappings *memoryMappings) *Engine {
	resolver := availability.NewResolver(cal)
	placer := schedule.NewPlacer(schedule.NewDetector(15*time.Minute), 15*time.Minute)
	return NewEngine(resolver, placer, cal, mappings, &noopLocker{})
}

func morningPlan(version string, activities ...domain.Activity) *domain.WellnessPlan {
	return &domain.WellnessPlan{
		Version:      version,
		UserID:       "user-1",
		Timezone:     "UTC",
		HorizonStart: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		HorizonDays:  7,
		Activities:   activities,
	}
}

func morningRun() domain.Activity {
	return domain.Activity{
		ID:             "run",
		Day:            0,
		Type:           domain.ActivityTypeWorkout,
		Title:          "Morning Run",
		DurationMin:    30,
		Preferred:      domain.Window{StartMinute: 7 * 60, EndMinute: 8 * 60},
		FlexibilityMin: 60,
	}
}

func eveningYoga() domain.Activity {
	return domain.Activity{
		ID:             "yoga",
		Day:            0,
		Type:           domain.ActivityTypeWorkout,
		Title:          "Evening Yoga",
		DurationMin:    45,
		Preferred:      domain.Window{StartMinute: 18 * 60, EndMinute: 19 * 60},
		FlexibilityMin: 60,
	}
}

func TestReconcileCreatesEventsForFreshPlan(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)

	summary, err := engine.Reconcile(context.Background(), morningPlan("v1", morningRun(), eveningYoga()))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Scheduled)
	require.Equal(t, 2, summary.Created)
	require.Zero(t, summary.Conflicted)
	require.Len(t, cal.events, 2)
	require.Len(t, mappings.entries, 2)
}

func TestReconcileSecondPassIsAllUnchanged(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)
	plan := morningPlan("v1", morningRun(), eveningYoga())

	_, err := engine.Reconcile(context.Background(), plan)
	require.NoError(t, err)
	opsAfterFirst := cal.creates + cal.updates + cal.deletes

	summary, err := engine.Reconcile(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Unchanged)
	require.Zero(t, summary.Created)
	require.Zero(t, summary.Updated)
	require.Zero(t, summary.Deleted)
	require.Equal(t, opsAfterFirst, cal.creates+cal.updates+cal.deletes)
}

func TestReconcileResyncIgnoresOwnEvents(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)
	plan := morningPlan("v1", morningRun(), eveningYoga())

	_, err := engine.Reconcile(context.Background(), plan)
	require.NoError(t, err)
	runID := mappings.entries["run"].RemoteEventID
	runStart := cal.events[runID].Start

	// The events created above now show up in free/busy. Resyncing the same
	// plan must recognise them as its own instead of shifting past them.
	for i := 0; i < 3; i++ {
		summary, err := engine.Reconcile(context.Background(), plan)
		require.NoError(t, err)
		require.Equal(t, 2, summary.Unchanged)
		require.Zero(t, summary.Created)
		require.Zero(t, summary.Updated)
		require.Zero(t, summary.Deleted)
	}
	require.Equal(t, runStart, cal.events[runID].Start)
}

func TestReconcileDeletesRemovedActivity(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)

	_, err := engine.Reconcile(context.Background(), morningPlan("v1", morningRun(), eveningYoga()))
	require.NoError(t, err)

	summary, err := engine.Reconcile(context.Background(), morningPlan("v2", morningRun()))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Deleted)
	require.Len(t, mappings.entries, 1)
	require.Contains(t, mappings.entries, "run")
}

func TestReconcileUpdatesMovedActivity(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)

	_, err := engine.Reconcile(context.Background(), morningPlan("v1", morningRun()))
	require.NoError(t, err)
	before := mappings.entries["run"]

	moved := morningRun()
	moved.Preferred = domain.Window{StartMinute: 9 * 60, EndMinute: 10 * 60}
	summary, err := engine.Reconcile(context.Background(), morningPlan("v1", moved))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Zero(t, summary.Created)

	after := mappings.entries["run"]
	require.Equal(t, before.RemoteEventID, after.RemoteEventID)
	require.NotEqual(t, before.LastSyncedStart, after.LastSyncedStart)
	require.Equal(t, after.LastSyncedStart, cal.events[after.RemoteEventID].Start)
}

func TestReconcileAbortsWhenCalendarUnavailable(t *testing.T) {
	cal := newFakeCalendar()
	cal.listErr = errors.New("upstream down")
	engine := newTestEngine(cal, newMemoryMappings())

	summary, err := engine.Reconcile(context.Background(), morningPlan("v1", morningRun()))
	require.ErrorIs(t, err, domain.ErrCalendarUnavailable)
	require.Nil(t, summary)
	require.Zero(t, cal.creates)
}

func TestReconcileIsolatesOperationFailures(t *testing.T) {
	cal := newFakeCalendar()
	cal.failCreate["Morning Run"] = &calendar.RemoteError{Op: "create", Status: 503, Detail: "overloaded"}
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)

	summary, err := engine.Reconcile(context.Background(), morningPlan("v1", morningRun(), eveningYoga()))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, "run", summary.Failures[0].ActivityID)
	require.Equal(t, domain.OperationCreate, summary.Failures[0].Kind)

	// Only the confirmed operation reached the mapping.
	require.Len(t, mappings.entries, 1)
	require.Contains(t, mappings.entries, "yoga")
}

func TestReconcileRetriedCreateResolvesToSameEvent(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)
	plan := morningPlan("v1", morningRun())

	_, err := engine.Reconcile(context.Background(), plan)
	require.NoError(t, err)
	firstID := mappings.entries["run"].RemoteEventID

	// Simulate a crash after the remote create but before the mapping write.
	mappings.entries = domain.ScheduleMapping{}

	_, err = engine.Reconcile(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, firstID, mappings.entries["run"].RemoteEventID)
	require.Len(t, cal.events, 1)
}

func TestReconcileCorruptMappingDegradesToFreshSync(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	mappings.loadErr = fmt.Errorf("%w: negative duration", domain.ErrMappingCorrupted)
	engine := newTestEngine(cal, mappings)

	summary, err := engine.Reconcile(context.Background(), morningPlan("v1", morningRun()))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)
}

func TestReconcileCancelledContextStopsBatch(t *testing.T) {
	cal := newFakeCalendar()
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := engine.Reconcile(ctx, morningPlan("v1", morningRun()))
	require.ErrorIs(t, err, context.Canceled)
	// The pass still reports what it managed before the cancellation.
	require.NotNil(t, summary)
	require.Zero(t, summary.Created)
	require.Zero(t, cal.creates)
	require.Empty(t, mappings.entries)
}

func TestReconcileRejectsInvalidPlan(t *testing.T) {
	engine := newTestEngine(newFakeCalendar(), newMemoryMappings())

	_, err := engine.Reconcile(context.Background(), &domain.WellnessPlan{UserID: "user-1", Timezone: "UTC"})
	require.Error(t, err)
}

func TestReconcileMarksConflictedActivities(t *testing.T) {
	cal := newFakeCalendar()
	cal.busy = []domain.BusyInterval{{
		Start:         time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC),
		End:           time.Date(2026, 1, 5, 7, 20, 0, 0, time.UTC),
		SourceEventID: "standup",
	}}
	mappings := newMemoryMappings()
	engine := newTestEngine(cal, mappings)

	rigid := morningRun()
	rigid.FlexibilityMin = 10
	summary, err := engine.Reconcile(context.Background(), morningPlan("v1", rigid))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Conflicted)
	require.Zero(t, summary.Created)
	require.Empty(t, mappings.entries)
}
