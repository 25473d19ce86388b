package v1

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/notify"
)

// handleEvents streams a user's notifications via Server-Sent Events.
//
// The handler subscribes to every notify channel for the user and
// relays events as they arrive. The channel name becomes the SSE event
// type, so a client can listen for "suggestions", "reminders", or
// "sync" selectively:
//
//	GET /v1/events/{user_id}
//
//	event: suggestions
//	data: {"user_id":"u1","kind":"flow_run_proposed",...}
//
// The connection stays open until the client disconnects. A comment
// heartbeat goes out every 30 seconds so proxies do not reap the
// stream as idle.
func (h *Handlers) handleEvents(c echo.Context) error {
	u, err := h.loadUser(c)
	if err != nil {
		return err
	}
	if h.nats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not enabled")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	msgChan := make(chan *nats.Msg, 10)
	sub, err := h.nats.ChanSubscribe(notify.Subject(u.ID, "*"), msgChan)
	if err != nil {
		h.logger.Error("subscribing to events", zap.String("user_id", u.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not available")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	// Heartbeat ticker to prevent proxy timeouts.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			// The channel is the final subject token.
			parts := strings.Split(msg.Subject, ".")
			if len(parts) < 3 {
				continue
			}
			channel := parts[len(parts)-1]

			fmt.Fprintf(c.Response(), "event: %s\n", channel)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
