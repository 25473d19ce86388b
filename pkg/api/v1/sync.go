package v1

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/store"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

func (h *Handlers) handleReconcile(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	now := time.Now().UTC()

	// The calendar fetch and its retries run before the user lock.
	events, err := h.recon.EventWindow(ctx, u.ID, now)
	if err != nil {
		h.logger.Error("fetching calendar window", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}

	var report *syncrec.Report
	err = h.locks.Do(u.ID, func() error {
		var recErr error
		report, recErr = h.recon.ReconcileEvents(ctx, u.ID, now, events)
		return recErr
	})
	if err != nil {
		h.logger.Error("reconciling", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}

	entry := store.SyncLogEntry{
		UserID: u.ID,
		Kind:   "reconcile",
		Detail: fmt.Sprintf("linked=%d drifted=%d orphaned=%d actions=%d",
			report.Counts[syncrec.LinkLinked],
			report.Counts[syncrec.LinkDrifted],
			report.Counts[syncrec.LinkOrphaned],
			len(report.Actions)),
	}
	if err := h.store.AppendSyncLog(ctx, entry); err != nil {
		h.logger.Warn("recording sync history failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handlers) handleLinkList(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	links, err := h.recon.Links(c.Request().Context(), u.ID)
	if err != nil {
		h.logger.Error("listing links", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"links": links})
}

func (h *Handlers) handleActionApply(c echo.Context) error {
	token := c.Param("token")
	if err := h.recon.Apply(c.Request().Context(), token); err != nil {
		h.logger.Warn("action apply failed", zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "applied"})
}

func (h *Handlers) handleActionDiscard(c echo.Context) error {
	if err := h.recon.Discard(c.Request().Context(), c.Param("token")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) handleSyncLog(c echo.Context) error {
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

	entries, err := h.store.ListSyncLog(c.Request().Context(), u.ID, limit)
	if err != nil {
		h.logger.Error("listing sync log", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}
