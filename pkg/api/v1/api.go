// Package v1 serves the scheduling engine over a versioned REST API.
//
// Handlers translate HTTP into service calls and map the error taxonomy
// onto status codes; no scheduling logic lives here. Mutations that
// touch per-user state run under the same per-user locks the background
// jobs use, so a user request never interleaves with a periodic scan or
// sync on the same user.
package v1

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/availability"
	"github.com/fyrsmithlabs/plannerd/internal/classify"
	"github.com/fyrsmithlabs/plannerd/internal/engine/userlock"
	"github.com/fyrsmithlabs/plannerd/internal/flow"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
	"github.com/fyrsmithlabs/plannerd/internal/store"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

// Store is the persistence slice the handlers use directly. Everything
// behind a service goes through that service instead.
type Store interface {
	UpsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	CreateItem(ctx context.Context, item *model.Item) error
	UpdateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, itemID string) (*model.Item, error)
	ListItems(ctx context.Context, userID string) ([]model.Item, error)
	ListBusy(ctx context.Context, userID string, from, to time.Time) ([]availability.Interval, error)
	AppendSyncLog(ctx context.Context, e store.SyncLogEntry) error
	ListSyncLog(ctx context.Context, userID string, limit int) ([]store.SyncLogEntry, error)
}

// Options wires the API's collaborators. Classifier and NATS are
// optional: without a classifier new items stay uncategorized, and
// without NATS the events endpoint reports the stream unavailable.
type Options struct {
	Store      Store
	Prefs      *preference.Service
	Learner    *learning.Service
	Flows      flow.Service
	Recon      syncrec.Service
	Classifier classify.Classifier
	Locks      *userlock.Locker
	NATS       *nats.Conn
	Logger     *zap.Logger

	// HorizonDays bounds the slot search window; zero means the
	// availability default.
	HorizonDays int
}

// Handlers is the v1 route set.
type Handlers struct {
	store       Store
	prefs       *preference.Service
	learner     *learning.Service
	flows       flow.Service
	recon       syncrec.Service
	classifier  classify.Classifier
	locks       *userlock.Locker
	nats        *nats.Conn
	logger      *zap.Logger
	horizonDays int
	now         func() time.Time
}

// NewHandlers creates the v1 API. Store, Prefs, Learner, Flows, and
// Recon are required.
func NewHandlers(opts Options) (*Handlers, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Prefs == nil {
		return nil, errors.New("preference service is required")
	}
	if opts.Learner == nil {
		return nil, errors.New("learning service is required")
	}
	if opts.Flows == nil {
		return nil, errors.New("flow service is required")
	}
	if opts.Recon == nil {
		return nil, errors.New("sync reconciler is required")
	}
	if opts.Locks == nil {
		opts.Locks = &userlock.Locker{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = availability.HorizonDays
	}

	return &Handlers{
		store:       opts.Store,
		prefs:       opts.Prefs,
		learner:     opts.Learner,
		flows:       opts.Flows,
		recon:       opts.Recon,
		classifier:  opts.Classifier,
		locks:       opts.Locks,
		nats:        opts.NATS,
		logger:      opts.Logger,
		horizonDays: opts.HorizonDays,
		now:         time.Now,
	}, nil
}

// RegisterRoutes mounts the v1 API on the router.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")

	v1.PUT("/users/:user_id", h.handleUserUpsert)
	v1.GET("/users/:user_id", h.handleUserGet)

	v1.POST("/users/:user_id/items", h.handleItemCreate)
	v1.GET("/users/:user_id/items", h.handleItemList)
	v1.GET("/items/:item_id", h.handleItemGet)
	v1.PATCH("/items/:item_id", h.handleItemUpdate)

	v1.POST("/users/:user_id/slots", h.handleSlots)

	v1.POST("/users/:user_id/corrections", h.handleCorrectionRecord)
	v1.GET("/users/:user_id/corrections", h.handleCorrectionHistory)
	v1.GET("/users/:user_id/preferences", h.handlePreferences)
	v1.POST("/users/:user_id/calibrate", h.handleCalibrate)

	v1.GET("/users/:user_id/flows", h.handleFlowList)
	v1.GET("/flows/:flow_id", h.handleFlowGet)
	v1.POST("/flows/:flow_id/decision", h.handleFlowDecide)
	v1.PUT("/flows/:flow_id/config", h.handleFlowReconfigure)
	v1.POST("/flows/:flow_id/disable", h.handleFlowDisable)
	v1.POST("/flows/:flow_id/enable", h.handleFlowEnable)
	v1.POST("/flows/runs/:token/confirm", h.handleRunConfirm)
	v1.POST("/flows/runs/:token/discard", h.handleRunDiscard)

	v1.POST("/users/:user_id/reconcile", h.handleReconcile)
	v1.GET("/users/:user_id/links", h.handleLinkList)
	v1.POST("/sync/actions/:token/apply", h.handleActionApply)
	v1.POST("/sync/actions/:token/discard", h.handleActionDiscard)
	v1.GET("/users/:user_id/sync-log", h.handleSyncLog)

	v1.GET("/events/:user_id", h.handleEvents)
}

// loadUser fetches the path's user or produces the 404.
func (h *Handlers) loadUser(c echo.Context) (*model.User, error) {
	id := c.Param("user_id")
	u, err := h.store.GetUser(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("loading user", zap.String("user_id", id), zap.Error(err))
		return nil, httpError(err)
	}
	if u == nil {
		return nil, notFound("user", id)
	}
	return u, nil
}
