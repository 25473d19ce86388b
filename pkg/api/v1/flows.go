package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/flow"
)

// DecisionRequest is the body for POST /v1/flows/:flow_id/decision.
type DecisionRequest struct {
	Accepted bool `json:"accepted"`
}

func (h *Handlers) handleFlowList(c echo.Context) error {
	userID := c.Param("user_id")

	var states []flow.State
	for _, raw := range c.QueryParams()["state"] {
		states = append(states, flow.State(raw))
	}

	flows, err := h.flows.List(c.Request().Context(), userID, states...)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"flows": flows})
}

func (h *Handlers) handleFlowGet(c echo.Context) error {
	f, err := h.flows.Get(c.Request().Context(), c.Param("flow_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handlers) handleFlowDecide(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.mutateFlow(c, func(f *flow.Flow) (*flow.Flow, error) {
		return h.flows.Decide(c.Request().Context(), f.ID, req.Accepted)
	})
}

func (h *Handlers) handleFlowReconfigure(c echo.Context) error {
	var cfg flow.FlowConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.mutateFlow(c, func(f *flow.Flow) (*flow.Flow, error) {
		return h.flows.Reconfigure(c.Request().Context(), f.ID, cfg)
	})
}

func (h *Handlers) handleFlowDisable(c echo.Context) error {
	return h.mutateFlow(c, func(f *flow.Flow) (*flow.Flow, error) {
		return h.flows.Disable(c.Request().Context(), f.ID)
	})
}

func (h *Handlers) handleFlowEnable(c echo.Context) error {
	return h.mutateFlow(c, func(f *flow.Flow) (*flow.Flow, error) {
		return h.flows.Enable(c.Request().Context(), f.ID)
	})
}

// mutateFlow loads the flow to learn its user, then runs the mutation
// under that user's lock so it cannot interleave with a periodic scan.
func (h *Handlers) mutateFlow(c echo.Context, fn func(*flow.Flow) (*flow.Flow, error)) error {
	f, err := h.flows.Get(c.Request().Context(), c.Param("flow_id"))
	if err != nil {
		return httpError(err)
	}

	var updated *flow.Flow
	err = h.locks.Do(f.UserID, func() error {
		var mutErr error
		updated, mutErr = fn(f)
		return mutErr
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handlers) handleRunConfirm(c echo.Context) error {
	var edit flow.RunEdit
	if err := c.Bind(&edit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var editPtr *flow.RunEdit
	if edit.Title != "" || edit.Start != nil || edit.DurationMinutes > 0 {
		editPtr = &edit
	}

	item, err := h.flows.ConfirmRun(c.Request().Context(), c.Param("token"), editPtr)
	if err != nil {
		h.logger.Warn("flow run confirmation failed", zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handlers) handleRunDiscard(c echo.Context) error {
	if err := h.flows.DiscardRun(c.Request().Context(), c.Param("token")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
