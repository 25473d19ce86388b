package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/classify"
	"github.com/fyrsmithlabs/plannerd/internal/engine/validate"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

// ItemCreateRequest is the body for POST /v1/users/:user_id/items.
type ItemCreateRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Category        string     `json:"category,omitempty"`
	Priority        string     `json:"priority,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
}

// ItemUpdateRequest is the body for PATCH /v1/items/:item_id. Absent
// fields keep their stored values.
type ItemUpdateRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Category        *string    `json:"category,omitempty"`
	Priority        *string    `json:"priority,omitempty"`
	Status          *string    `json:"status,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
}

func (h *Handlers) handleItemCreate(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	var req ItemCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Title(req.Title); err != nil {
		return httpError(err)
	}
	if err := validate.Category(req.Category); err != nil {
		return httpError(err)
	}
	priority := validate.PriorityMedium
	if req.Priority != "" {
		priority, err = validate.Priority(req.Priority)
		if err != nil {
			return httpError(err)
		}
	}
	if req.DurationMinutes > 0 {
		if err := validate.Duration(time.Duration(req.DurationMinutes) * time.Minute); err != nil {
			return httpError(err)
		}
	}

	ctx := c.Request().Context()
	category := req.Category
	if category == "" && h.classifier != nil && h.classifier.Available() {
		label, err := h.classifier.Classify(ctx, classify.Input{
			Title:       req.Title,
			Description: req.Description,
		})
		if err != nil {
			h.logger.Warn("classification failed", zap.String("user_id", u.ID), zap.Error(err))
		} else {
			category = label.Value
		}
	}

	item := &model.Item{
		UserID:          u.ID,
		Title:           req.Title,
		Description:     req.Description,
		Category:        category,
		Priority:        priority,
		DueAt:           req.DueAt,
		DurationMinutes: req.DurationMinutes,
	}
	if err := h.store.CreateItem(ctx, item); err != nil {
		h.logger.Error("creating item", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handlers) handleItemList(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}

	items, err := h.store.ListItems(c.Request().Context(), u.ID)
	if err != nil {
		h.logger.Error("listing items", zap.String("user_id", u.ID), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *Handlers) handleItemGet(c echo.Context) error {
	id := c.Param("item_id")
	item, err := h.store.GetItem(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("loading item", zap.String("item_id", id), zap.Error(err))
		return httpError(err)
	}
	if item == nil {
		return notFound("item", id)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handlers) handleItemUpdate(c echo.Context) error {
	id := c.Param("item_id")

	var req ItemUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	item, err := h.store.GetItem(ctx, id)
	if err != nil {
		h.logger.Error("loading item", zap.String("item_id", id), zap.Error(err))
		return httpError(err)
	}
	if item == nil {
		return notFound("item", id)
	}

	if req.Title != nil {
		if err := validate.Title(*req.Title); err != nil {
			return httpError(err)
		}
		item.Title = *req.Title
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.Category != nil {
		if err := validate.Category(*req.Category); err != nil {
			return httpError(err)
		}
		item.Category = *req.Category
	}
	if req.Priority != nil {
		p, err := validate.Priority(*req.Priority)
		if err != nil {
			return httpError(err)
		}
		item.Priority = p
	}
	if req.Status != nil {
		if err := validate.Status(*req.Status); err != nil {
			return httpError(err)
		}
		item.Status = *req.Status
	}
	if req.DueAt != nil {
		item.DueAt = req.DueAt
	}
	if req.ScheduledStart != nil {
		item.ScheduledStart = req.ScheduledStart
	}
	if req.ScheduledEnd != nil {
		item.ScheduledEnd = req.ScheduledEnd
	}
	if req.DurationMinutes != nil {
		if err := validate.Duration(time.Duration(*req.DurationMinutes) * time.Minute); err != nil {
			return httpError(err)
		}
		item.DurationMinutes = *req.DurationMinutes
	}

	err = h.locks.Do(item.UserID, func() error {
		return h.store.UpdateItem(ctx, item)
	})
	if err != nil {
		h.logger.Error("updating item", zap.String("item_id", id), zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}
