package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	calapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// maxListResults bounds one Events.List page; a seven-day window stays
// far below it.
const maxListResults = 2500

// googleClient wraps the Calendar v3 API with throttling and retries.
type googleClient struct {
	srv     *calapi.Service
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newGoogleClient(ctx context.Context, cfg Config, logger *zap.Logger) (*googleClient, error) {
	srv, err := newGoogleService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &googleClient{
		srv:     srv,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), burst),
		logger:  logger,
	}, nil
}

// newGoogleService authenticates from the configured credentials and
// token files. The token must already exist; the daemon never drives an
// interactive authorization flow.
func newGoogleService(ctx context.Context, cfg Config) (*calapi.Service, error) {
	secrets, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(secrets, calapi.CalendarEventsScope, calapi.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}

	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load calendar token: %w", err)
	}

	srv, err := calapi.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return srv, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", path, err)
	}
	return tok, nil
}

// calendarFor resolves the calendar id for a user.
func (g *googleClient) calendarFor(userID string) string {
	if id, ok := g.cfg.UserCalendars[userID]; ok && id != "" {
		return id
	}
	return g.cfg.CalendarID
}

func (g *googleClient) List(ctx context.Context, userID string, from, to time.Time) ([]Event, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var items []*calapi.Event
	err := retryOperation(ctx, g.cfg.Retry, g.logger, "list", func() error {
		resp, err := g.srv.Events.List(g.calendarFor(userID)).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(maxListResults).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		items = resp.Items
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for _, it := range items {
		ev, ok := fromAPIEvent(it)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (g *googleClient) Create(ctx context.Context, userID string, ev Event) (Event, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Event{}, fmt.Errorf("rate limiter: %w", err)
	}

	var created *calapi.Event
	err := retryOperation(ctx, g.cfg.Retry, g.logger, "create", func() error {
		res, err := g.srv.Events.Insert(g.calendarFor(userID), toAPIEvent(ev)).Context(ctx).Do()
		if err != nil {
			return err
		}
		created = res
		return nil
	})
	if err != nil {
		return Event{}, err
	}

	out, _ := fromAPIEvent(created)
	return out, nil
}

func (g *googleClient) Update(ctx context.Context, userID string, ev Event) (Event, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Event{}, fmt.Errorf("rate limiter: %w", err)
	}

	var patched *calapi.Event
	err := retryOperation(ctx, g.cfg.Retry, g.logger, "update", func() error {
		res, err := g.srv.Events.Patch(g.calendarFor(userID), ev.ID, toAPIEvent(ev)).Context(ctx).Do()
		if err != nil {
			return err
		}
		patched = res
		return nil
	})
	if err != nil {
		return Event{}, err
	}

	out, _ := fromAPIEvent(patched)
	return out, nil
}

func (g *googleClient) Delete(ctx context.Context, userID, eventID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	return retryOperation(ctx, g.cfg.Retry, g.logger, "delete", func() error {
		return g.srv.Events.Delete(g.calendarFor(userID), eventID).Context(ctx).Do()
	})
}

// toAPIEvent converts to the wire shape, carrying the item link in a
// private extended property for reverse lookup.
func toAPIEvent(ev Event) *calapi.Event {
	out := &calapi.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &calapi.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339)},
		End:         &calapi.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339)},
	}
	if ev.ItemID != "" {
		out.ExtendedProperties = &calapi.EventExtendedProperties{
			Private: map[string]string{ItemIDProperty: ev.ItemID},
		}
	}
	return out
}

// fromAPIEvent converts a wire event; all-day events (date without
// time) are skipped because the engine schedules timed items only.
func fromAPIEvent(it *calapi.Event) (Event, bool) {
	if it == nil || it.Start == nil || it.End == nil || it.Start.DateTime == "" || it.End.DateTime == "" {
		return Event{}, false
	}
	start, err := time.Parse(time.RFC3339, it.Start.DateTime)
	if err != nil {
		return Event{}, false
	}
	end, err := time.Parse(time.RFC3339, it.End.DateTime)
	if err != nil {
		return Event{}, false
	}

	ev := Event{
		ID:          it.Id,
		Title:       it.Summary,
		Description: it.Description,
		Start:       start,
		End:         end,
	}
	if it.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, it.Updated); err == nil {
			ev.Updated = updated
		}
	}
	if it.ExtendedProperties != nil {
		ev.ItemID = it.ExtendedProperties.Private[ItemIDProperty]
	}
	return ev, true
}
