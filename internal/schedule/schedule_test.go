package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/plannerd/internal/calendar"
	"github.com/fyrsmithlabs/plannerd/internal/flow"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
	"github.com/fyrsmithlabs/plannerd/internal/store"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

type fakeUsers struct {
	mu          sync.Mutex
	users       []model.User
	occurrences map[string][]pattern.Occurrence
	listCalls   int
}

func (f *fakeUsers) ListActiveUsers(context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.users, nil
}

func (f *fakeUsers) ListOccurrences(_ context.Context, userID string, _ time.Time) ([]pattern.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.occurrences[userID], nil
}

func (f *fakeUsers) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type historySink struct {
	mu      sync.Mutex
	entries []store.SyncLogEntry
}

func (h *historySink) AppendSyncLog(_ context.Context, e store.SyncLogEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

type itemSink struct{}

func (itemSink) CreateItem(context.Context, *model.Item) error { return nil }

// newTestScheduler wires a scheduler over in-memory stores and a fake
// calendar. The returned flow store, calendar, history sink, and
// preference service let tests inspect job side effects.
func newTestScheduler(t *testing.T, users *fakeUsers) (*Scheduler, *flow.InMemoryStore, *syncrec.InMemoryStore, *calendar.Fake, *historySink, *preference.Service) {
	t.Helper()

	detector, err := pattern.NewDetector(pattern.NewInMemoryRejectionStore(), nil)
	require.NoError(t, err)

	flowStore := flow.NewInMemoryStore()
	flows, err := flow.NewService(flow.Options{
		Store:      flowStore,
		Items:      itemSink{},
		Rejections: detector,
	})
	require.NoError(t, err)

	syncStore := syncrec.NewInMemoryStore()
	cal := calendar.NewFake()
	recon, err := syncrec.NewService(syncrec.Options{Store: syncStore, Calendar: cal})
	require.NoError(t, err)

	prefs, err := preference.NewService(preference.NewInMemoryStore(), nil)
	require.NoError(t, err)
	learner, err := learning.NewService(learning.NewInMemoryStore(), prefs, nil)
	require.NoError(t, err)

	history := &historySink{}
	s, err := NewScheduler(Options{
		Users:    users,
		Patterns: detector,
		Flows:    flows,
		Recon:    recon,
		Learner:  learner,
		History:  history,
	})
	require.NoError(t, err)
	return s, flowStore, syncStore, cal, history, prefs
}

func TestNewScheduler_RequiresDependencies(t *testing.T) {
	_, err := NewScheduler(Options{})
	require.ErrorContains(t, err, "user source")
}

func TestStartStop_Lifecycle(t *testing.T) {
	users := &fakeUsers{}
	s, _, _, _, _, _ := newTestScheduler(t, users)

	require.NoError(t, s.Start())
	require.ErrorContains(t, s.Start(), "already running")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop()) // second stop is a no-op

	// The scheduler restarts cleanly after a stop.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestScheduler_TicksJobs(t *testing.T) {
	users := &fakeUsers{}
	s, _, _, _, _, _ := newTestScheduler(t, users)
	s.scanEvery = 50 * time.Millisecond
	s.syncEvery = time.Hour
	s.triggerEvery = time.Hour
	s.calibrateEvery = time.Hour

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return users.calls() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

// lastWeekday returns the most recent occurrence of weekday at hour
// strictly before now.
func lastWeekday(now time.Time, wd time.Weekday, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	for t.Weekday() != wd || !t.Before(now) {
		t = t.Add(-24 * time.Hour)
	}
	return t
}

func TestRunPatternScan_SuggestsRecurringFlows(t *testing.T) {
	now := time.Now().UTC()
	slot := lastWeekday(now, time.Tuesday, 9)

	var history []pattern.Occurrence
	for week := 0; week < 5; week++ {
		history = append(history, pattern.Occurrence{
			UserID:          "u1",
			Title:           "Weekly status report",
			Category:        "work",
			StartedAt:       slot.Add(-time.Duration(week) * 7 * 24 * time.Hour),
			DurationMinutes: 60,
			Completed:       true,
		})
	}
	users := &fakeUsers{
		users:       []model.User{{ID: "u1", Active: true}},
		occurrences: map[string][]pattern.Occurrence{"u1": history},
	}
	s, flowStore, _, _, _, prefs := newTestScheduler(t, users)

	s.runPatternScan()

	flows, err := flowStore.ListFlows(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, flow.StateSuggested, flows[0].State)
	assert.Equal(t, "weekly status report", flows[0].Signature.TitleKey)

	// Every completion sat at 09:00, so the scan also reinforces that
	// hour as a time-of-day preference.
	nine, err := prefs.Get(context.Background(), "u1", preference.DimTimeOfDay, "9")
	require.NoError(t, err)
	assert.Greater(t, nine.Weight, preference.NeutralWeight)
}

func TestRunPeriodicSync_ReconcilesAndRecordsHistory(t *testing.T) {
	users := &fakeUsers{users: []model.User{{ID: "u1", Active: true}}}
	s, _, syncStore, cal, history, _ := newTestScheduler(t, users)

	start := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Minute)
	end := start.Add(time.Hour)
	syncStore.PutItem(model.Item{
		ID:             "i1",
		UserID:         "u1",
		Title:          "Dentist",
		Status:         model.StatusPending,
		ScheduledStart: &start,
		ScheduledEnd:   &end,
	})
	cal.Seed("u1", calendar.Event{ID: "ev1", Title: "Dentist", Start: start, End: end})
	require.NoError(t, syncStore.SaveLink(context.Background(), &syncrec.Link{
		ItemID:  "i1",
		UserID:  "u1",
		EventID: "ev1",
		State:   syncrec.LinkLinked,
	}))

	s.runPeriodicSync()

	history.mu.Lock()
	defer history.mu.Unlock()
	require.Len(t, history.entries, 1)
	assert.Equal(t, "reconcile", history.entries[0].Kind)
	assert.Equal(t, "u1", history.entries[0].UserID)
	assert.Contains(t, history.entries[0].Detail, "linked=1")
}

func TestRunPeriodicSync_SkipsUserWhenCalendarFetchFails(t *testing.T) {
	users := &fakeUsers{users: []model.User{{ID: "u1", Active: true}}}
	s, _, _, cal, history, _ := newTestScheduler(t, users)

	cal.FailNext(assert.AnError)

	s.runPeriodicSync()

	history.mu.Lock()
	defer history.mu.Unlock()
	assert.Empty(t, history.entries)
}

func TestRunFlowTriggers_StampsLastTriggered(t *testing.T) {
	users := &fakeUsers{users: []model.User{{ID: "u1", Active: true}}}
	s, flowStore, _, _, _, _ := newTestScheduler(t, users)

	target := time.Now().UTC().Add(time.Hour)
	f := &flow.Flow{
		ID:     "f1",
		UserID: "u1",
		Signature: pattern.Signature{
			TitleKey:   "weekly status report",
			Category:   "work",
			Weekday:    target.Weekday(),
			HourBucket: target.Hour(),
		},
		State: flow.StateActive,
		Config: flow.FlowConfig{
			Title:           "Weekly status report",
			Category:        "work",
			DurationMinutes: 60,
			Weekday:         target.Weekday(),
			HourBucket:      target.Hour(),
		},
	}
	require.NoError(t, flowStore.SaveFlow(context.Background(), f))

	s.runFlowTriggers()

	got, err := flowStore.GetFlow(context.Background(), "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.LastTriggered)
}

func TestRunCalibration_CompletesWithoutCorrections(t *testing.T) {
	users := &fakeUsers{users: []model.User{{ID: "u1", Active: true}}}
	s, _, _, _, _, _ := newTestScheduler(t, users)

	s.runCalibration()

	assert.Equal(t, 1, users.calls())
}
