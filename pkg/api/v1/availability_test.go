package v1

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/plannerd/internal/availability"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

func scheduleBusy(t *testing.T, a *testAPI, userID, title string, start, end time.Time) {
	t.Helper()
	item := &model.Item{
		UserID:         userID,
		Title:          title,
		ScheduledStart: &start,
		ScheduledEnd:   &end,
	}
	require.NoError(t, a.store.CreateItem(context.Background(), item))
}

func TestSlots_StaysInsideDailyWindows(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1") // 8-20 weekdays, 9-18 weekends

	rec := a.do(t, http.MethodPost, "/v1/users/u1/slots", SlotsRequest{DurationMinutes: 60})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[availability.Result](t, rec)
	require.NotEmpty(t, result.Slots)
	for _, s := range result.Slots {
		assert.False(t, s.Start.Before(apiAnchor), "slot %v starts in the past", s.Start)
		assert.GreaterOrEqual(t, s.End.Sub(s.Start), time.Hour)

		startHour, endHour := 8, 20
		if wd := s.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			startHour, endHour = 9, 18
		}
		y, m, d := s.Start.Date()
		windowStart := time.Date(y, m, d, startHour, 0, 0, 0, s.Start.Location())
		windowEnd := time.Date(y, m, d, endHour, 0, 0, 0, s.Start.Location())
		assert.False(t, s.Start.Before(windowStart), "slot %v before window", s.Start)
		assert.False(t, s.End.After(windowEnd), "slot %v past window", s.End)
	}
}

func TestSlots_WeekendHoursNarrowTheWindow(t *testing.T) {
	a := newTestAPI(t)
	u := &model.User{
		ID:               "u1",
		Active:           true,
		WorkStartHour:    9,
		WorkEndHour:      17,
		WeekendStartHour: 10,
		WeekendEndHour:   16,
	}
	require.NoError(t, a.store.UpsertUser(context.Background(), u))

	// Fill every weekday, so only the weekend can host the slot. The
	// deadline keeps the following Monday out of reach.
	for day := 0; day < 5; day++ {
		start := time.Date(2025, 6, 2+day, 9, 0, 0, 0, time.UTC)
		scheduleBusy(t, a, "u1", fmt.Sprintf("busy day %d", day), start, start.Add(8*time.Hour))
	}
	deadline := time.Date(2025, 6, 8, 20, 0, 0, 0, time.UTC) // Sunday night

	rec := a.do(t, http.MethodPost, "/v1/users/u1/slots", SlotsRequest{
		DurationMinutes: 60,
		Deadline:        &deadline,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[availability.Result](t, rec)
	require.NotEmpty(t, result.Slots)
	for _, s := range result.Slots {
		wd := s.Start.Weekday()
		require.True(t, wd == time.Saturday || wd == time.Sunday, "slot %v is not on the weekend", s.Start)
		assert.Equal(t, 10, s.Start.Hour())
		assert.Equal(t, 16, s.End.Hour())
	}
}

func TestSlots_BusyIntervalsAreAvoided(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")

	busyStart := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	busyEnd := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	scheduleBusy(t, a, "u1", "All morning", busyStart, busyEnd)

	rec := a.do(t, http.MethodPost, "/v1/users/u1/slots", SlotsRequest{DurationMinutes: 90})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[availability.Result](t, rec)
	require.NotEmpty(t, result.Slots)
	for _, s := range result.Slots {
		overlap := s.Start.Before(busyEnd) && s.End.After(busyStart)
		assert.False(t, overlap, "slot %v-%v overlaps the busy block", s.Start, s.End)
	}
}

func TestSlots_InvalidDuration400(t *testing.T) {
	a := newTestAPI(t)
	a.seedUser(t, "u1")

	rec := a.do(t, http.MethodPost, "/v1/users/u1/slots", SlotsRequest{DurationMinutes: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlots_UnknownUser404(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/users/ghost/slots", SlotsRequest{DurationMinutes: 60})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
