package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/confirm"
	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
	"github.com/fyrsmithlabs/plannerd/internal/telemetry"
)

// Monday 2025-06-02 09:00 UTC.
var flowAnchor = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type recordedEvent struct {
	userID  string
	channel string
	kind    string
	payload map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Suggestion(userID, kind string, payload map[string]any) error {
	r.record(userID, "suggestions", kind, payload)
	return nil
}

func (r *eventRecorder) Reminder(userID, kind string, payload map[string]any) error {
	r.record(userID, "reminders", kind, payload)
	return nil
}

func (r *eventRecorder) record(userID, channel, kind string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{userID: userID, channel: channel, kind: kind, payload: payload})
}

func (r *eventRecorder) byKind(kind string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type itemRecorder struct {
	mu    sync.Mutex
	items []*model.Item
}

func (r *itemRecorder) CreateItem(_ context.Context, item *model.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *itemRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type correctionRecorder struct {
	mu      sync.Mutex
	records []learning.Correction
}

func (r *correctionRecorder) Record(_ context.Context, c learning.Correction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, c)
	return nil
}

func (r *correctionRecorder) byKind(kind learning.Kind) []learning.Correction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []learning.Correction
	for _, c := range r.records {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func newTestService(t *testing.T) (*service, *InMemoryStore, *pattern.InMemoryRejectionStore, *eventRecorder, *itemRecorder) {
	t.Helper()

	store := NewInMemoryStore()
	rejections := pattern.NewInMemoryRejectionStore()
	detector, err := pattern.NewDetector(rejections, zap.NewNop())
	require.NoError(t, err)

	events := &eventRecorder{}
	items := &itemRecorder{}

	svc, err := NewService(Options{
		Store:       store,
		Items:       items,
		Rejections:  detector,
		Bus:         events,
		Registry:    confirm.NewRegistry[Proposal](time.Hour),
		Corrections: &correctionRecorder{},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	s := svc.(*service)
	s.now = func() time.Time { return flowAnchor }
	return s, store, rejections, events, items
}

func reportSignature() pattern.Signature {
	return pattern.Signature{
		TitleKey:   "weekly status report",
		Category:   "work",
		Weekday:    time.Tuesday,
		HourBucket: 9,
	}
}

func reportCandidate(confidence float64) pattern.Candidate {
	return pattern.Candidate{
		Signature:          reportSignature(),
		Count:              5,
		Confidence:         confidence,
		SampleTitle:        "Weekly status report",
		AvgDurationMinutes: 60,
	}
}

func seedFlow(t *testing.T, store *InMemoryStore, state State) *Flow {
	t.Helper()
	f := &Flow{
		ID:         uuid.NewString(),
		UserID:     "u1",
		Signature:  reportSignature(),
		State:      state,
		Confidence: 0.8,
		Config: FlowConfig{
			Title:           "Weekly status report",
			Category:        "work",
			DurationMinutes: 60,
			Weekday:         time.Tuesday,
			HourBucket:      9,
			ReminderLead:    DefaultReminderLead,
		},
		CreatedAt: flowAnchor,
		UpdatedAt: flowAnchor,
	}
	require.NoError(t, store.SaveFlow(context.Background(), f))
	return f
}

func TestNewService_RequiresDependencies(t *testing.T) {
	store := NewInMemoryStore()
	items := &itemRecorder{}
	detector, err := pattern.NewDetector(pattern.NewInMemoryRejectionStore(), zap.NewNop())
	require.NoError(t, err)

	_, err = NewService(Options{Items: items, Rejections: detector})
	assert.Error(t, err)

	_, err = NewService(Options{Store: store, Rejections: detector})
	assert.Error(t, err)

	_, err = NewService(Options{Store: store, Items: items})
	assert.Error(t, err)

	svc, err := NewService(Options{Store: store, Items: items, Rejections: detector})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestService_Ingest_NewCandidateIsDetected(t *testing.T) {
	s, _, _, events, _ := newTestService(t)

	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.5)})
	require.NoError(t, err)
	require.Len(t, flows, 1)

	f := flows[0]
	assert.Equal(t, StateDetected, f.State)
	assert.Equal(t, "Weekly status report", f.Config.Title)
	assert.Equal(t, "work", f.Config.Category)
	assert.Equal(t, 60, f.Config.DurationMinutes)
	assert.Equal(t, time.Tuesday, f.Config.Weekday)
	assert.Equal(t, DefaultReminderLead, f.Config.ReminderLead)
	assert.Nil(t, f.SuggestedAt)
	assert.Empty(t, events.byKind(KindFlowSuggested))
}

func TestService_Ingest_HighConfidenceIsSuggested(t *testing.T) {
	s, _, _, events, _ := newTestService(t)

	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.82)})
	require.NoError(t, err)
	require.Len(t, flows, 1)

	f := flows[0]
	assert.Equal(t, StateSuggested, f.State)
	require.NotNil(t, f.SuggestedAt)
	assert.Equal(t, flowAnchor, *f.SuggestedAt)

	suggested := events.byKind(KindFlowSuggested)
	require.Len(t, suggested, 1)
	assert.Equal(t, "u1", suggested[0].userID)
	assert.Equal(t, "suggestions", suggested[0].channel)
	assert.Equal(t, f.ID, suggested[0].payload["flow_id"])
}

func TestService_Ingest_RepeatedScanDoesNotReSuggest(t *testing.T) {
	s, _, _, events, _ := newTestService(t)

	_, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.82)})
	require.NoError(t, err)
	_, err = s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.85)})
	require.NoError(t, err)

	assert.Len(t, events.byKind(KindFlowSuggested), 1)
}

func TestService_Ingest_DisabledFlowStaysDisabled(t *testing.T) {
	s, store, _, events, _ := newTestService(t)
	seedFlow(t, store, StateDisabled)

	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.95)})
	require.NoError(t, err)
	require.Len(t, flows, 1)

	assert.Equal(t, StateDisabled, flows[0].State)
	assert.InDelta(t, 0.95, flows[0].Confidence, 1e-9)
	assert.Empty(t, events.byKind(KindFlowSuggested))
}

func TestService_Ingest_PermanentlyDampedNeverSuggested(t *testing.T) {
	s, _, _, events, _ := newTestService(t)

	c := reportCandidate(0.9)
	c.Damped = true
	c.PermanentlyDamped = true

	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{c})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, StateDetected, flows[0].State)
	assert.Empty(t, events.byKind(KindFlowSuggested))
}

type fixedThreshold float64

func (f fixedThreshold) Threshold(context.Context, string, learning.Kind) (float64, error) {
	return float64(f), nil
}

func TestService_Ingest_UsesCalibratedThreshold(t *testing.T) {
	s, _, _, _, _ := newTestService(t)
	s.thresholds = fixedThreshold(0.6)

	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.65)})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, StateSuggested, flows[0].State)
}

func TestService_Ingest_EmptyUserID(t *testing.T) {
	s, _, _, _, _ := newTestService(t)

	_, err := s.Ingest(context.Background(), "", nil)
	assert.True(t, faults.IsValidation(err))
}

func TestService_Decide_AcceptActivates(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateSuggested)

	got, err := s.Decide(context.Background(), f.ID, true)
	require.NoError(t, err)

	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, 0, got.ConsecutiveRejections)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, flowAnchor, *got.DecidedAt)
}

func TestService_Decide_RejectReturnsToDetected(t *testing.T) {
	s, store, rejections, _, _ := newTestService(t)
	f := seedFlow(t, store, StateSuggested)

	got, err := s.Decide(context.Background(), f.ID, false)
	require.NoError(t, err)

	assert.Equal(t, StateDetected, got.State)
	assert.Equal(t, 1, got.ConsecutiveRejections)
	assert.Nil(t, got.SuggestedAt)

	recs, err := rejections.ListRejections(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Permanent)
}

func TestService_Decide_ThirdRejectionDisables(t *testing.T) {
	s, store, rejections, events, _ := newTestService(t)
	f := seedFlow(t, store, StateSuggested)

	for i := 0; i < 2; i++ {
		got, err := s.Decide(context.Background(), f.ID, false)
		require.NoError(t, err)
		assert.Equal(t, StateDetected, got.State)

		got.State = StateSuggested
		require.NoError(t, store.SaveFlow(context.Background(), got))
	}

	got, err := s.Decide(context.Background(), f.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, got.State)
	assert.Equal(t, 3, got.ConsecutiveRejections)

	recs, err := rejections.ListRejections(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Permanent)

	// A later scan must not revive it, however strong the signal.
	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.99)})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, StateDisabled, flows[0].State)
	assert.Empty(t, events.byKind(KindFlowSuggested))
}

func TestService_Decide_RejectedUpdateProposalKeepsFlowRunning(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateModified)

	got, err := s.Decide(context.Background(), f.ID, false)
	require.NoError(t, err)

	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, 1, got.ConsecutiveRejections)
}

func TestService_Decide_IllegalState(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	_, err := s.Decide(context.Background(), f.ID, true)
	assert.True(t, faults.IsValidation(err))
}

func TestService_Decide_UnknownFlow(t *testing.T) {
	s, _, _, _, _ := newTestService(t)

	_, err := s.Decide(context.Background(), "nope", true)
	assert.True(t, faults.IsValidation(err))
}

func TestService_Decide_Instrumented(t *testing.T) {
	rec := telemetry.NewRecorder()
	rec.Install(t)

	// The service captures its tracer and meter at construction, so the
	// recorder must be installed first.
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateSuggested)

	_, err := s.Decide(context.Background(), f.ID, true)
	require.NoError(t, err)

	span := rec.Span("flow.decide")
	require.NotNil(t, span, "have spans %v", rec.SpanNames())
	assert.Contains(t, span.Attributes(), attribute.Bool("accepted", true))
	assert.True(t, rec.HasMetric(t, "plannerd.flow.decisions_total"))
}

func TestService_RecordRun_WindowIsBounded(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	for i := 0; i < 6; i++ {
		_, err := s.RecordRun(context.Background(), f.ID, RunRecord{RunAt: flowAnchor.AddDate(0, 0, 7*i)})
		require.NoError(t, err)
	}

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Len(t, got.RecentRuns, RunWindow)
	assert.Equal(t, StateActive, got.State)
	// Oldest runs fell out of the window.
	assert.Equal(t, flowAnchor.AddDate(0, 0, 14), got.RecentRuns[0].RunAt)
}

func TestService_RecordRun_EditedRunsFlagModified(t *testing.T) {
	s, store, _, events, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	edits := []bool{true, false, true}
	for i, edited := range edits {
		got, err := s.RecordRun(context.Background(), f.ID, RunRecord{RunAt: flowAnchor.AddDate(0, 0, 7*i), Edited: edited})
		require.NoError(t, err)
		assert.Equal(t, StateActive, got.State)
	}

	got, err := s.RecordRun(context.Background(), f.ID, RunRecord{RunAt: flowAnchor.AddDate(0, 0, 21), Edited: true})
	require.NoError(t, err)
	assert.Equal(t, StateModified, got.State)

	needsUpdate := events.byKind(KindFlowNeedsUpdate)
	require.Len(t, needsUpdate, 1)
	assert.Equal(t, f.ID, needsUpdate[0].payload["flow_id"])

	// Further runs keep it MODIFIED without another notification.
	got, err = s.RecordRun(context.Background(), f.ID, RunRecord{RunAt: flowAnchor.AddDate(0, 0, 28), Edited: true})
	require.NoError(t, err)
	assert.Equal(t, StateModified, got.State)
	assert.Len(t, events.byKind(KindFlowNeedsUpdate), 1)
}

func TestService_RecordRun_NeedsUpdateCarriesRevisedTemplate(t *testing.T) {
	s, store, _, events, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	// The user keeps dragging the run to Wednesday 14:00 at 90 minutes
	// under a new name.
	for week := 0; week < 3; week++ {
		_, err := s.RecordRun(context.Background(), f.ID, RunRecord{
			RunAt:           time.Date(2025, 6, 4+7*week, 14, 0, 0, 0, time.UTC),
			Edited:          true,
			Title:           "Sprint review prep",
			DurationMinutes: 90,
		})
		require.NoError(t, err)
	}

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateModified, got.State)

	needsUpdate := events.byKind(KindFlowNeedsUpdate)
	require.Len(t, needsUpdate, 1)
	payload := needsUpdate[0].payload
	assert.Equal(t, "Sprint review prep", payload["proposed_title"])
	assert.Equal(t, int(time.Wednesday), payload["proposed_weekday"])
	assert.Equal(t, 14, payload["proposed_hour"])
	assert.Equal(t, 90, payload["proposed_duration_minutes"])
}

func TestFlow_RevisedConfig(t *testing.T) {
	f := &Flow{Config: FlowConfig{
		Title:           "Weekly status report",
		Category:        "work",
		DurationMinutes: 60,
		Weekday:         time.Tuesday,
		HourBucket:      9,
	}}

	// No edited runs: the template stands.
	f.RecentRuns = []RunRecord{{RunAt: flowAnchor, Title: "Weekly status report", DurationMinutes: 60}}
	assert.Equal(t, f.Config, f.RevisedConfig())

	// Two of three edits agree on Wednesday 14:00 at 90 minutes; the
	// majority wins over both the outlier and the original pattern.
	f.RecentRuns = []RunRecord{
		{RunAt: time.Date(2025, 6, 4, 14, 0, 0, 0, time.UTC), Edited: true, Title: "Sprint review prep", DurationMinutes: 90},
		{RunAt: time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC), Edited: true, Title: "Sprint review prep", DurationMinutes: 45},
		{RunAt: time.Date(2025, 6, 18, 14, 0, 0, 0, time.UTC), Edited: true, Title: "Sprint review prep", DurationMinutes: 90},
	}
	revised := f.RevisedConfig()
	assert.Equal(t, "Sprint review prep", revised.Title)
	assert.Equal(t, time.Wednesday, revised.Weekday)
	assert.Equal(t, 14, revised.HourBucket)
	assert.Equal(t, 90, revised.DurationMinutes)
	assert.Equal(t, "work", revised.Category)
}

func TestService_RecordRun_RequiresActive(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateSuggested)

	_, err := s.RecordRun(context.Background(), f.ID, RunRecord{RunAt: flowAnchor})
	assert.True(t, faults.IsValidation(err))
}

func TestService_Reconfigure_ReturnsToActive(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateModified)
	f.ConsecutiveRejections = 2
	f.RecentRuns = []RunRecord{{RunAt: flowAnchor, Edited: true}}
	require.NoError(t, store.SaveFlow(context.Background(), f))

	cfg := FlowConfig{
		Title:           "Weekly status report",
		Category:        "work",
		DurationMinutes: 45,
		Weekday:         time.Wednesday,
		HourBucket:      10,
	}
	got, err := s.Reconfigure(context.Background(), f.ID, cfg)
	require.NoError(t, err)

	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, 45, got.Config.DurationMinutes)
	assert.Equal(t, time.Wednesday, got.Config.Weekday)
	assert.Equal(t, DefaultReminderLead, got.Config.ReminderLead)
	assert.Empty(t, got.RecentRuns)
	assert.Equal(t, 0, got.ConsecutiveRejections)
}

func TestService_Reconfigure_ValidatesConfig(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateModified)

	bad := []FlowConfig{
		{Title: "", DurationMinutes: 30, HourBucket: 9},
		{Title: "x", DurationMinutes: 0, HourBucket: 9},
		{Title: "x", DurationMinutes: 30, HourBucket: 24},
	}
	for _, cfg := range bad {
		_, err := s.Reconfigure(context.Background(), f.ID, cfg)
		assert.True(t, faults.IsValidation(err))
	}
}

func TestService_DisableAndEnable(t *testing.T) {
	s, store, rejections, _, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	got, err := s.Disable(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, got.State)

	recs, err := rejections.ListRejections(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Permanent)

	got, err = s.Enable(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, 0, got.ConsecutiveRejections)

	// Damping history survives the re-enable.
	recs, err = rejections.ListRejections(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = s.Enable(context.Background(), f.ID)
	assert.True(t, faults.IsValidation(err))
}

func TestService_Trigger_ProposesWithinLead(t *testing.T) {
	s, store, _, events, items := newTestService(t)
	f := seedFlow(t, store, StateActive)

	// Next Tuesday 09:00 is exactly 24h from the Monday anchor.
	proposed, err := s.Trigger(context.Background(), flowAnchor)
	require.NoError(t, err)
	assert.Equal(t, 1, proposed)

	reminders := events.byKind(KindFlowRunProposed)
	require.Len(t, reminders, 1)
	assert.Equal(t, "reminders", reminders[0].channel)

	token, ok := reminders[0].payload["token"].(string)
	require.True(t, ok)

	p, ok := s.registry.Peek(token)
	require.True(t, ok)
	assert.Equal(t, f.ID, p.FlowID)
	assert.Equal(t, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC), p.End)

	// Proposing is not creating.
	assert.Equal(t, 0, items.count())

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTriggered)

	// A second sweep within the same cycle proposes nothing new.
	proposed, err = s.Trigger(context.Background(), flowAnchor.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, proposed)
	assert.Len(t, events.byKind(KindFlowRunProposed), 1)
}

func TestService_Trigger_SkipsOutsideLead(t *testing.T) {
	s, store, _, events, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)
	f.Config.Weekday = time.Friday
	require.NoError(t, store.SaveFlow(context.Background(), f))

	proposed, err := s.Trigger(context.Background(), flowAnchor)
	require.NoError(t, err)
	assert.Equal(t, 0, proposed)
	assert.Empty(t, events.byKind(KindFlowRunProposed))
}

func TestService_ConfirmRun_CreatesItem(t *testing.T) {
	s, store, _, events, items := newTestService(t)
	seedFlow(t, store, StateActive)

	_, err := s.Trigger(context.Background(), flowAnchor)
	require.NoError(t, err)

	reminders := events.byKind(KindFlowRunProposed)
	require.Len(t, reminders, 1)
	token := reminders[0].payload["token"].(string)

	item, err := s.ConfirmRun(context.Background(), token, nil)
	require.NoError(t, err)

	assert.Equal(t, "u1", item.UserID)
	assert.Equal(t, "Weekly status report", item.Title)
	assert.Equal(t, "work", item.Category)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.Equal(t, 60, item.DurationMinutes)
	require.NotNil(t, item.ScheduledStart)
	assert.Equal(t, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), *item.ScheduledStart)
	assert.Equal(t, 1, items.count())

	// Tokens are single use.
	_, err = s.ConfirmRun(context.Background(), token, nil)
	assert.True(t, faults.IsStaleToken(err))
}

func TestService_ConfirmRun_PlainConfirmRecordsAcceptance(t *testing.T) {
	s, store, _, events, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	_, err := s.Trigger(context.Background(), flowAnchor)
	require.NoError(t, err)
	token := events.byKind(KindFlowRunProposed)[0].payload["token"].(string)

	_, err = s.ConfirmRun(context.Background(), token, nil)
	require.NoError(t, err)

	recorder := s.corrections.(*correctionRecorder)
	accepted := recorder.byKind(learning.KindAcceptance)
	require.Len(t, accepted, 2)
	assert.Equal(t, "u1", accepted[0].UserID)
	assert.Equal(t, preference.DimTimeOfDay, accepted[0].Dimension)
	assert.Equal(t, "9", accepted[0].ToValue)

	// The categorized proposal also feeds the category-specific tier.
	assert.Equal(t, preference.DimCategoryTime, accepted[1].Dimension)
	assert.Equal(t, "work@9", accepted[1].ToValue)

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	require.Len(t, got.RecentRuns, 1)
	assert.False(t, got.RecentRuns[0].Edited)
	assert.Equal(t, StateActive, got.State)
}

func TestService_ConfirmRun_EditedRunFeedsLearner(t *testing.T) {
	s, store, _, events, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	_, err := s.Trigger(context.Background(), flowAnchor)
	require.NoError(t, err)
	token := events.byKind(KindFlowRunProposed)[0].payload["token"].(string)

	// Moved from Tuesday 09:00 to 14:00 and stretched to 2.5 hours.
	newStart := time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)
	item, err := s.ConfirmRun(context.Background(), token, &RunEdit{
		Start:           &newStart,
		DurationMinutes: 150,
	})
	require.NoError(t, err)

	assert.Equal(t, newStart, *item.ScheduledStart)
	assert.Equal(t, newStart.Add(150*time.Minute), *item.ScheduledEnd)
	assert.Equal(t, 150, item.DurationMinutes)

	recorder := s.corrections.(*correctionRecorder)

	reschedules := recorder.byKind(learning.KindReschedule)
	require.Len(t, reschedules, 2)
	assert.Equal(t, preference.DimTimeOfDay, reschedules[0].Dimension)
	assert.Equal(t, "9", reschedules[0].FromValue)
	assert.Equal(t, "14", reschedules[0].ToValue)
	assert.Equal(t, preference.DimCategoryTime, reschedules[1].Dimension)
	assert.Equal(t, "work@9", reschedules[1].FromValue)
	assert.Equal(t, "work@14", reschedules[1].ToValue)

	durations := recorder.byKind(learning.KindDurationChange)
	require.Len(t, durations, 1)
	assert.Equal(t, preference.DimDuration, durations[0].Dimension)
	assert.Equal(t, "medium", durations[0].FromValue)
	assert.Equal(t, "long", durations[0].ToValue)

	assert.Empty(t, recorder.byKind(learning.KindAcceptance))

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	require.Len(t, got.RecentRuns, 1)
	assert.True(t, got.RecentRuns[0].Edited)
	assert.Equal(t, newStart, got.RecentRuns[0].RunAt)
}

func TestService_DiscardRun_DropsProposal(t *testing.T) {
	s, store, _, events, items := newTestService(t)
	f := seedFlow(t, store, StateActive)

	_, err := s.Trigger(context.Background(), flowAnchor)
	require.NoError(t, err)
	token := events.byKind(KindFlowRunProposed)[0].payload["token"].(string)

	require.NoError(t, s.DiscardRun(context.Background(), token))
	assert.Equal(t, 0, items.count())

	_, err = s.ConfirmRun(context.Background(), token, nil)
	assert.True(t, faults.IsStaleToken(err))

	// The declined execution counts as a rejection.
	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveRejections)
	assert.Equal(t, StateActive, got.State)
}

// proposeRun registers a proposal for the flow directly, as the trigger
// sweep would for each weekly occurrence.
func proposeRun(s *service, f *Flow, start time.Time) string {
	token, _ := s.registry.Register(Proposal{
		FlowID:   f.ID,
		UserID:   f.UserID,
		Title:    f.Config.Title,
		Category: f.Config.Category,
		Start:    start,
		End:      start.Add(time.Duration(f.Config.DurationMinutes) * time.Minute),
	})
	return token
}

func TestService_DiscardRun_ThirdDiscardDisables(t *testing.T) {
	s, store, rejections, events, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	for week := 0; week < 3; week++ {
		token := proposeRun(s, f, flowAnchor.AddDate(0, 0, 1+7*week))
		require.NoError(t, s.DiscardRun(context.Background(), token))
	}

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, got.State)
	assert.Equal(t, 3, got.ConsecutiveRejections)

	// The third strike damps the signature for good.
	recs, err := rejections.ListRejections(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Permanent)

	// Each discard teaches the learner what was declined.
	recorder := s.corrections.(*correctionRecorder)
	rejected := recorder.byKind(learning.KindRejection)
	require.Len(t, rejected, 6)
	assert.Equal(t, preference.DimTimeOfDay, rejected[0].Dimension)
	assert.Equal(t, "9", rejected[0].FromValue)
	assert.Equal(t, preference.DimCategoryTime, rejected[1].Dimension)
	assert.Equal(t, "work@9", rejected[1].FromValue)

	// A later scan must not revive it.
	flows, err := s.Ingest(context.Background(), "u1", []pattern.Candidate{reportCandidate(0.99)})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, StateDisabled, flows[0].State)
	assert.Empty(t, events.byKind(KindFlowSuggested))
}

func TestService_DiscardRun_ConfirmedRunBreaksStreak(t *testing.T) {
	s, store, _, _, _ := newTestService(t)
	f := seedFlow(t, store, StateActive)

	for week := 0; week < 2; week++ {
		token := proposeRun(s, f, flowAnchor.AddDate(0, 0, 1+7*week))
		require.NoError(t, s.DiscardRun(context.Background(), token))
	}

	token := proposeRun(s, f, flowAnchor.AddDate(0, 0, 15))
	_, err := s.ConfirmRun(context.Background(), token, nil)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveRejections)
	assert.Equal(t, StateActive, got.State)

	// The streak restarts from zero afterwards.
	token = proposeRun(s, f, flowAnchor.AddDate(0, 0, 22))
	require.NoError(t, s.DiscardRun(context.Background(), token))
	got, err = s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveRejections)
	assert.Equal(t, StateActive, got.State)
}

func TestService_DiscardRun_InactiveFlowUncounted(t *testing.T) {
	s, store, rejections, _, _ := newTestService(t)
	f := seedFlow(t, store, StateDisabled)

	token := proposeRun(s, f, flowAnchor.AddDate(0, 0, 1))
	require.NoError(t, s.DiscardRun(context.Background(), token))

	got, err := s.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, got.State)
	assert.Equal(t, 0, got.ConsecutiveRejections)

	recs, err := rejections.ListRejections(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name    string
		weekday time.Weekday
		hour    int
		want    time.Time
	}{
		{"same day later hour", time.Monday, 10, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)},
		{"same slot rolls a week", time.Monday, 9, time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)},
		{"next day", time.Tuesday, 9, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)},
		{"earlier weekday rolls forward", time.Sunday, 8, time.Date(2025, 6, 8, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextOccurrence(flowAnchor, tt.weekday, tt.hour))
		})
	}
}
