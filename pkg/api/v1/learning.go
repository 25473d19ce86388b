package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

// CorrectionRequest is the body for POST /v1/users/:user_id/corrections.
type CorrectionRequest struct {
	ItemID     string     `json:"item_id,omitempty"`
	Kind       string     `json:"kind"`
	Dimension  string     `json:"dimension"`
	Key        string     `json:"key,omitempty"`
	FromValue  string     `json:"from_value,omitempty"`
	ToValue    string     `json:"to_value,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

func (h *Handlers) handleCorrectionRecord(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	var req CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	correction := learning.Correction{
		UserID:    u.ID,
		ItemID:    req.ItemID,
		Kind:      learning.Kind(req.Kind),
		Dimension: preference.Dimension(req.Dimension),
		Key:       req.Key,
		FromValue: req.FromValue,
		ToValue:   req.ToValue,
	}
	if req.ObservedAt != nil {
		correction.ObservedAt = *req.ObservedAt
	}

	ctx := c.Request().Context()
	err = h.locks.Do(u.ID, func() error {
		return h.learner.Record(ctx, correction)
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "recorded"})
}

func (h *Handlers) handleCorrectionHistory(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	history, err := h.learner.History(c.Request().Context(), u.ID, limit)
	if err != nil {
		h.logger.Error("listing corrections", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"corrections": history})
}

func (h *Handlers) handlePreferences(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	snap, err := h.prefs.Snapshot(c.Request().Context(), u.ID)
	if err != nil {
		h.logger.Error("loading preferences", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"preferences": snap})
}

func (h *Handlers) handleCalibrate(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var report learning.CalibrationReport
	err = h.locks.Do(u.ID, func() error {
		var calErr error
		report, calErr = h.learner.Calibrate(ctx, u.ID)
		return calErr
	})
	if err != nil {
		h.logger.Error("calibrating", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}
