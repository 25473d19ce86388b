package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/plannerd/internal/calendar"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/store"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

// Reconcile runs on the sync service's own clock, so fixtures here sit
// relative to the wall clock rather than the pinned handler anchor.

// linkItem schedules an item and links it to a calendar event at the
// given times.
func linkItem(t *testing.T, a *testAPI, userID, title string, itemStart, eventStart time.Time) *model.Item {
	t.Helper()
	ctx := context.Background()

	itemEnd := itemStart.Add(time.Hour)
	item := &model.Item{
		UserID:         userID,
		Title:          title,
		ScheduledStart: &itemStart,
		ScheduledEnd:   &itemEnd,
	}
	require.NoError(t, a.store.CreateItem(ctx, item))

	a.cal.Seed(userID, calendar.Event{
		ID:     "ev-" + item.ID,
		Title:  title,
		Start:  eventStart,
		End:    eventStart.Add(time.Hour),
		ItemID: item.ID,
	})
	require.NoError(t, a.store.SaveLink(ctx, &syncrec.Link{
		ItemID:       item.ID,
		UserID:       userID,
		EventID:      "ev-" + item.ID,
		State:        syncrec.LinkLinked,
		EventStart:   eventStart,
		EventEnd:     eventStart.Add(time.Hour),
		LastSyncedAt: time.Now().UTC().Add(-time.Hour),
	}))
	return item
}

func TestReconcile_CleanLinkSettles(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	linkItem(t, a, "u1", "Weekly report", start, start)

	rec := a.do(t, http.MethodPost, "/v1/users/u1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[syncrec.Report](t, rec)
	assert.Equal(t, "u1", report.UserID)
	assert.Equal(t, 1, report.Counts[syncrec.LinkLinked])
	assert.Empty(t, report.Drifts)
	assert.Empty(t, report.Actions)

	// The run lands in the sync history.
	rec = a.do(t, http.MethodGet, "/v1/users/u1/sync-log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logResp struct {
		Entries []store.SyncLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logResp))
	require.Len(t, logResp.Entries, 1)
	assert.Equal(t, "reconcile", logResp.Entries[0].Kind)
	assert.Contains(t, logResp.Entries[0].Detail, "linked=1")
}

func TestReconcile_DriftOffersBothResolutions(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")
	itemStart := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	eventStart := itemStart.Add(30 * time.Minute)
	item := linkItem(t, a, "u1", "Weekly report", itemStart, eventStart)

	rec := a.do(t, http.MethodPost, "/v1/users/u1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[syncrec.Report](t, rec)
	assert.Equal(t, 1, report.Counts[syncrec.LinkDrifted])
	require.Len(t, report.Drifts, 1)
	assert.WithinDuration(t, itemStart, report.Drifts[0].ItemStart, time.Second)
	assert.WithinDuration(t, eventStart, report.Drifts[0].EventStart, time.Second)

	require.Len(t, report.Actions, 2)
	var adopt, push syncrec.Action
	for _, act := range report.Actions {
		switch act.Kind {
		case syncrec.ActionAdoptEventTimes:
			adopt = act
		case syncrec.ActionUpdateEvent:
			push = act
		}
	}
	require.NotEmpty(t, adopt.Token)
	require.NotEmpty(t, push.Token)
	assert.NotEqual(t, adopt.Token, push.Token)

	// Adopt the calendar side; the item follows the event.
	rec = a.do(t, http.MethodPost, "/v1/sync/actions/"+adopt.Token+"/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := a.store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledStart)
	assert.WithinDuration(t, eventStart, *got.ScheduledStart, time.Second)

	link, err := a.store.GetLink(context.Background(), item.ID)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, syncrec.LinkLinked, link.State)

	// Tokens are single-use.
	rec = a.do(t, http.MethodPost, "/v1/sync/actions/"+adopt.Token+"/apply", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestReconcile_PushKeepsItemTimes(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")
	itemStart := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	item := linkItem(t, a, "u1", "Weekly report", itemStart, itemStart.Add(45*time.Minute))

	rec := a.do(t, http.MethodPost, "/v1/users/u1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[syncrec.Report](t, rec)

	var push syncrec.Action
	for _, act := range report.Actions {
		if act.Kind == syncrec.ActionUpdateEvent {
			push = act
		}
	}
	require.NotEmpty(t, push.Token)

	rec = a.do(t, http.MethodPost, "/v1/sync/actions/"+push.Token+"/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The calendar moved, the item did not.
	events := a.cal.Snapshot("u1")
	require.Len(t, events, 1)
	assert.WithinDuration(t, itemStart, events[0].Start, time.Second)

	got, err := a.store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, itemStart, *got.ScheduledStart, time.Second)
}

func TestReconcile_UnlinkedScheduledProposesCreate(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")

	ctx := context.Background()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	end := start.Add(time.Hour)
	item := &model.Item{UserID: "u1", Title: "Dentist", ScheduledStart: &start, ScheduledEnd: &end}
	require.NoError(t, a.store.CreateItem(ctx, item))

	rec := a.do(t, http.MethodPost, "/v1/users/u1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[syncrec.Report](t, rec)
	assert.Equal(t, 1, report.Counts[syncrec.LinkUnlinked])
	require.Len(t, report.Actions, 1)
	require.Equal(t, syncrec.ActionCreateEvent, report.Actions[0].Kind)

	rec = a.do(t, http.MethodPost, "/v1/sync/actions/"+report.Actions[0].Token+"/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := a.cal.Snapshot("u1")
	require.Len(t, events, 1)
	assert.Equal(t, "Dentist", events[0].Title)

	link, err := a.store.GetLink(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, syncrec.LinkLinked, link.State)
	assert.Equal(t, events[0].ID, link.EventID)
}

func TestActionDiscard_LeavesCalendarUntouched(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")
	itemStart := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	linkItem(t, a, "u1", "Weekly report", itemStart, itemStart.Add(30*time.Minute))

	rec := a.do(t, http.MethodPost, "/v1/users/u1/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[syncrec.Report](t, rec)
	require.NotEmpty(t, report.Actions)

	token := report.Actions[0].Token
	rec = a.do(t, http.MethodPost, "/v1/sync/actions/"+token+"/discard", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, a.cal.Mutations)

	rec = a.do(t, http.MethodPost, "/v1/sync/actions/"+token+"/discard", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestLinkList_ReturnsUserLinks(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	item := linkItem(t, a, "u1", "Weekly report", start, start)

	rec := a.do(t, http.MethodGet, "/v1/users/u1/links", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Links []syncrec.Link `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Links, 1)
	assert.Equal(t, item.ID, resp.Links[0].ItemID)
	assert.Equal(t, syncrec.LinkLinked, resp.Links[0].State)
}

func TestSyncLog_BadLimit400(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")

	rec := a.do(t, http.MethodGet, "/v1/users/u1/sync-log?limit=oops", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcile_UnknownUser404(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/users/ghost/reconcile", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
