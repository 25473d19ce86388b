package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/engine/validate"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

// UserRequest is the body for PUT /v1/users/:user_id. Zero-valued work
// hours pick up the defaults; Active defaults to true.
type UserRequest struct {
	DisplayName      string `json:"display_name"`
	Timezone         string `json:"timezone"`
	WorkStartHour    int    `json:"work_start_hour"`
	WorkEndHour      int    `json:"work_end_hour"`
	WeekendStartHour int    `json:"weekend_start_hour"`
	WeekendEndHour   int    `json:"weekend_end_hour"`
	Active           *bool  `json:"active,omitempty"`
}

func (h *Handlers) handleUserUpsert(c echo.Context) error {
	id := c.Param("user_id")
	if err := validate.UserID(id); err != nil {
		return httpError(err)
	}

	var req UserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	u := &model.User{
		ID:               id,
		DisplayName:      req.DisplayName,
		Timezone:         req.Timezone,
		WorkStartHour:    req.WorkStartHour,
		WorkEndHour:      req.WorkEndHour,
		WeekendStartHour: req.WeekendStartHour,
		WeekendEndHour:   req.WeekendEndHour,
		Active:           active,
	}
	if err := h.store.UpsertUser(c.Request().Context(), u); err != nil {
		h.logger.Error("upserting user", zap.String("user_id", id), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handlers) handleUserGet(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
