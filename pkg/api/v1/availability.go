package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/availability"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

// SlotsRequest is the body for POST /v1/users/:user_id/slots.
type SlotsRequest struct {
	Category        string     `json:"category,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Deadline        *time.Time `json:"deadline,omitempty"`
}

func (h *Handlers) handleSlots(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	var req SlotsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	now := h.now().In(h.userLocation(u))
	horizon := now.AddDate(0, 0, h.horizonDays)

	busy, err := h.store.ListBusy(ctx, u.ID, now, horizon)
	if err != nil {
		h.logger.Error("listing busy intervals", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	prefs, err := h.prefs.Snapshot(ctx, u.ID)
	if err != nil {
		h.logger.Error("loading preferences", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}

	window, masks := userWindow(u, now, h.horizonDays)
	result, err := availability.FindSlots(availability.Request{
		UserID:   u.ID,
		Category: req.Category,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		Deadline: req.Deadline,
		Now:      now,
		Busy:     append(busy, masks...),
		Window:   window,
		Prefs:    prefs,
		Horizon:  h.horizonDays,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// userLocation resolves the user's timezone, falling back to UTC when
// the stored name does not load.
func (h *Handlers) userLocation(u *model.User) *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		h.logger.Warn("unknown timezone, using UTC",
			zap.String("user_id", u.ID),
			zap.String("timezone", u.Timezone))
		return time.UTC
	}
	return loc
}

// userWindow merges the user's weekday and weekend hours into one work
// window wide enough for both, plus per-day busy masks that close the
// difference. The slot search applies a single window across the
// horizon; the masks give Saturday and Sunday their own bounds.
func userWindow(u *model.User, now time.Time, horizonDays int) (availability.WorkWindow, []availability.Interval) {
	window := availability.WorkWindow{
		StartHour: min(u.WorkStartHour, u.WeekendStartHour),
		EndHour:   max(u.WorkEndHour, u.WeekendEndHour),
	}

	var masks []availability.Interval
	for day := 0; day <= horizonDays; day++ {
		ref := now.AddDate(0, 0, day)
		startHour, endHour := u.WorkStartHour, u.WorkEndHour
		if wd := ref.Weekday(); wd == time.Saturday || wd == time.Sunday {
			startHour, endHour = u.WeekendStartHour, u.WeekendEndHour
		}
		if startHour > window.StartHour {
			masks = append(masks, dayInterval(ref, window.StartHour, startHour))
		}
		if endHour < window.EndHour {
			masks = append(masks, dayInterval(ref, endHour, window.EndHour))
		}
	}
	return window, masks
}

func dayInterval(on time.Time, fromHour, toHour int) availability.Interval {
	return availability.Interval{
		Start: time.Date(on.Year(), on.Month(), on.Day(), fromHour, 0, 0, 0, on.Location()),
		End:   time.Date(on.Year(), on.Month(), on.Day(), toHour, 0, 0, 0, on.Location()),
	}
}
