package syncrec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/calendar"
	"github.com/fyrsmithlabs/plannerd/internal/confirm"
	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/fyrsmithlabs/plannerd/internal/model"
)

const instrumentationName = "github.com/fyrsmithlabs/plannerd/internal/syncrec"

// Notification kinds emitted on the sync channel.
const (
	KindDriftDetected      = "drift_detected"
	KindReconcileCompleted = "reconcile_completed"
	KindActionApplied      = "action_applied"
)

// Service reconciles items against the external calendar.
type Service interface {
	// Reconcile diffs one user's items, links, and calendar events. It
	// updates link states (DRIFTED, ORPHANED, back to LINKED) and
	// returns a report with per-state counts, both versions of each
	// drift, and confirmation-gated corrective actions. It never
	// mutates the calendar or item times itself.
	Reconcile(ctx context.Context, userID string, now time.Time) (*Report, error)

	// EventWindow fetches the user's calendar events across the
	// reconcile horizon. Callers holding a per-user lock should fetch
	// first and hand the snapshot to ReconcileEvents, keeping the
	// remote call and its retries outside the lock.
	EventWindow(ctx context.Context, userID string, now time.Time) ([]calendar.Event, error)

	// ReconcileEvents is Reconcile against an already-fetched event
	// snapshot; it makes no calendar calls.
	ReconcileEvents(ctx context.Context, userID string, now time.Time, events []calendar.Event) (*Report, error)

	// ProposeAction validates and registers an intended mutation,
	// returning it with a single-use token. No state changes.
	ProposeAction(ctx context.Context, act Action) (Action, error)

	// Apply consumes a token and executes exactly the registered
	// action through the calendar client and the store. A stale token
	// yields StaleToken; an external failure after the calendar
	// client's retries yields ExternalUnavailable with domain state
	// unchanged.
	Apply(ctx context.Context, token string) error

	// Discard consumes a token without executing anything.
	Discard(ctx context.Context, token string) error

	// Links returns a user's sync links.
	Links(ctx context.Context, userID string) ([]Link, error)
}

// Options wires the reconciler's collaborators.
type Options struct {
	Store    Store
	Calendar calendar.Client
	Registry *confirm.Registry[Action]
	Bus      Notifier
	Logger   *zap.Logger
}

type service struct {
	store    Store
	cal      calendar.Client
	registry *confirm.Registry[Action]
	bus      Notifier
	logger   *zap.Logger
	now      func() time.Time

	tracer trace.Tracer
	meter  metric.Meter

	reconcilesTotal metric.Int64Counter
	driftsTotal     metric.Int64Counter
	appliesTotal    metric.Int64Counter
}

// NewService creates the sync reconciler. Store and Calendar are
// required.
func NewService(opts Options) (Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Calendar == nil {
		return nil, errors.New("calendar client is required")
	}
	if opts.Registry == nil {
		opts.Registry = confirm.NewRegistry[Action](0)
	}
	if opts.Bus == nil {
		opts.Bus = noopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &service{
		store:    opts.Store,
		cal:      opts.Calendar,
		registry: opts.Registry,
		bus:      opts.Bus,
		logger:   opts.Logger,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.reconcilesTotal, err = s.meter.Int64Counter(
		"plannerd.sync.reconciles_total",
		metric.WithDescription("Total number of reconcile runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create reconciles counter", zap.Error(err))
	}

	s.driftsTotal, err = s.meter.Int64Counter(
		"plannerd.sync.drifts_total",
		metric.WithDescription("Total number of drifted links detected"),
		metric.WithUnit("{link}"),
	)
	if err != nil {
		s.logger.Warn("failed to create drifts counter", zap.Error(err))
	}

	s.appliesTotal, err = s.meter.Int64Counter(
		"plannerd.sync.applies_total",
		metric.WithDescription("Total number of confirmed actions applied"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		s.logger.Warn("failed to create applies counter", zap.Error(err))
	}
}

func (s *service) Reconcile(ctx context.Context, userID string, now time.Time) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "sync.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if now.IsZero() {
		now = s.now()
	}
	events, err := s.EventWindow(ctx, userID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.reconcile(ctx, span, userID, now, events)
}

func (s *service) EventWindow(ctx context.Context, userID string, now time.Time) ([]calendar.Event, error) {
	ctx, span := s.tracer.Start(ctx, "sync.event_window")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if userID == "" {
		err := faults.Validationf("user_id", "must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if now.IsZero() {
		now = s.now()
	}
	events, err := s.cal.List(ctx, userID, now.Add(-ReconcileHorizon), now.Add(ReconcileHorizon))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing calendar events: %w", err)
	}
	return events, nil
}

func (s *service) ReconcileEvents(ctx context.Context, userID string, now time.Time, events []calendar.Event) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "sync.reconcile_events")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if now.IsZero() {
		now = s.now()
	}
	return s.reconcile(ctx, span, userID, now, events)
}

func (s *service) reconcile(ctx context.Context, span trace.Span, userID string, now time.Time, events []calendar.Event) (*Report, error) {
	if userID == "" {
		err := faults.Validationf("user_id", "must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	items, err := s.store.ListItems(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing items: %w", err)
	}
	links, err := s.store.ListLinks(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing links: %w", err)
	}

	itemsByID := make(map[string]model.Item, len(items))
	for _, it := range items {
		itemsByID[it.ID] = it
	}
	eventsByID := make(map[string]calendar.Event, len(events))
	for _, ev := range events {
		eventsByID[ev.ID] = ev
	}

	report := &Report{
		UserID:      userID,
		GeneratedAt: now,
		Counts:      make(map[LinkState]int),
	}
	linkedItems := make(map[string]bool, len(links))
	linkedEvents := make(map[string]bool, len(links))

	for _, l := range links {
		linkedItems[l.ItemID] = true
		if l.EventID != "" {
			linkedEvents[l.EventID] = true
		}
		s.reconcileLink(ctx, l, itemsByID, eventsByID, now, report)
	}

	// Scheduled items without a link get a creation proposal.
	for _, it := range items {
		if linkedItems[it.ID] {
			continue
		}
		report.Counts[LinkUnlinked]++
		if !it.Scheduled() || it.ScheduledEnd == nil {
			continue
		}
		if it.Status != model.StatusPending && it.Status != model.StatusInProgress {
			continue
		}
		report.Actions = append(report.Actions, s.propose(Action{
			UserID: userID,
			Kind:   ActionCreateEvent,
			ItemID: it.ID,
			Patch:  Patch{Title: it.Title, Start: *it.ScheduledStart, End: *it.ScheduledEnd},
			Reason: "scheduled item has no calendar event",
		}))
	}

	s.suggestRelinks(userID, items, events, linkedItems, linkedEvents, report)

	if s.reconcilesTotal != nil {
		s.reconcilesTotal.Add(ctx, 1)
	}

	if err := s.bus.Sync(userID, KindReconcileCompleted, map[string]any{
		"linked":   report.Counts[LinkLinked],
		"drifted":  report.Counts[LinkDrifted],
		"orphaned": report.Counts[LinkOrphaned],
		"unlinked": report.Counts[LinkUnlinked],
		"actions":  len(report.Actions),
	}); err != nil {
		s.logger.Warn("failed to publish reconcile summary",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	s.logger.Info("reconcile completed",
		zap.String("user_id", userID),
		zap.Int("linked", report.Counts[LinkLinked]),
		zap.Int("drifted", report.Counts[LinkDrifted]),
		zap.Int("orphaned", report.Counts[LinkOrphaned]),
		zap.Int("actions", len(report.Actions)),
	)

	span.SetAttributes(
		attribute.Int("drifted", report.Counts[LinkDrifted]),
		attribute.Int("actions", len(report.Actions)),
	)
	return report, nil
}

// reconcileLink walks one link against the live snapshot, updating its
// state and appending proposals to the report.
func (s *service) reconcileLink(ctx context.Context, l Link, itemsByID map[string]model.Item, eventsByID map[string]calendar.Event, now time.Time, report *Report) {
	item, hasItem := itemsByID[l.ItemID]
	if !hasItem {
		// Item cancelled or gone; the event should follow, pending
		// confirmation.
		report.Counts[l.State]++
		if l.EventID != "" {
			report.Actions = append(report.Actions, s.propose(Action{
				UserID:  l.UserID,
				Kind:    ActionDeleteEvent,
				ItemID:  l.ItemID,
				EventID: l.EventID,
				Reason:  "item is no longer active",
			}))
		}
		return
	}

	ev, hasEvent := eventsByID[l.EventID]

	switch l.State {
	case LinkPending:
		// A create that never completed. If the event landed anyway we
		// can offer to adopt it; a stale marker is dropped.
		if hasEvent {
			report.Counts[LinkPending]++
			report.Actions = append(report.Actions, s.propose(Action{
				UserID:  l.UserID,
				Kind:    ActionRelink,
				ItemID:  l.ItemID,
				EventID: l.EventID,
				Patch:   Patch{Title: ev.Title, Start: ev.Start, End: ev.End},
				Score:   1.0,
				Reason:  "pending creation completed externally",
			}))
			return
		}
		if l.UpdatedAt.Before(now.Add(-OrphanGrace)) {
			if err := s.store.DeleteLink(ctx, l.ItemID); err != nil {
				s.logger.Warn("failed to drop stale pending link",
					zap.String("item_id", l.ItemID),
					zap.Error(err),
				)
			}
			report.Counts[LinkUnlinked]++
			return
		}
		report.Counts[LinkPending]++

	case LinkLinked, LinkDrifted:
		if !hasEvent {
			// Recently scheduled items get a grace period before the
			// missing event counts as a deletion.
			if item.ScheduledStart != nil && item.ScheduledStart.After(now.Add(-OrphanGrace)) {
				s.logger.Warn("linked event missing but item scheduled recently, keeping link",
					zap.String("item_id", l.ItemID),
					zap.String("event_id", l.EventID),
				)
				report.Counts[l.State]++
				return
			}
			l.State = LinkOrphaned
			l.UpdatedAt = now
			s.saveLink(ctx, &l)
			report.Counts[LinkOrphaned]++
			report.Actions = append(report.Actions, s.propose(Action{
				UserID:  l.UserID,
				Kind:    ActionUnlink,
				ItemID:  l.ItemID,
				EventID: l.EventID,
				Reason:  "calendar event was deleted",
			}))
			return
		}

		if drifted(item, ev) {
			newlyDrifted := l.State != LinkDrifted
			l.State = LinkDrifted
			l.EventStart, l.EventEnd = ev.Start, ev.End
			l.UpdatedAt = now
			s.saveLink(ctx, &l)
			report.Counts[LinkDrifted]++

			drift := Drift{
				ItemID:     l.ItemID,
				EventID:    l.EventID,
				ItemStart:  deref(item.ScheduledStart),
				ItemEnd:    deref(item.ScheduledEnd),
				EventStart: ev.Start,
				EventEnd:   ev.End,
			}
			report.Drifts = append(report.Drifts, drift)

			// Both resolutions are offered; the user picks a side.
			report.Actions = append(report.Actions, s.propose(Action{
				UserID:  l.UserID,
				Kind:    ActionUpdateEvent,
				ItemID:  l.ItemID,
				EventID: l.EventID,
				Patch:   Patch{Title: item.Title, Start: deref(item.ScheduledStart), End: deref(item.ScheduledEnd)},
				Reason:  "push item times to the calendar",
			}))
			report.Actions = append(report.Actions, s.propose(Action{
				UserID:  l.UserID,
				Kind:    ActionAdoptEventTimes,
				ItemID:  l.ItemID,
				EventID: l.EventID,
				Patch:   Patch{Start: ev.Start, End: ev.End},
				Reason:  "adopt the calendar times",
			}))

			if newlyDrifted {
				if s.driftsTotal != nil {
					s.driftsTotal.Add(ctx, 1)
				}
				if err := s.bus.Sync(l.UserID, KindDriftDetected, map[string]any{
					"item_id":     drift.ItemID,
					"event_id":    drift.EventID,
					"item_start":  drift.ItemStart.Format(time.RFC3339),
					"event_start": drift.EventStart.Format(time.RFC3339),
				}); err != nil {
					s.logger.Warn("failed to publish drift notification",
						zap.String("item_id", l.ItemID),
						zap.Error(err),
					)
				}
			}
			return
		}

		// In agreement; refresh the snapshot and settle back to LINKED.
		l.State = LinkLinked
		l.EventStart, l.EventEnd = ev.Start, ev.End
		l.LastSyncedAt = now
		l.UpdatedAt = now
		s.saveLink(ctx, &l)
		report.Counts[LinkLinked]++

	case LinkOrphaned:
		report.Counts[LinkOrphaned]++
		if hasEvent {
			report.Actions = append(report.Actions, s.propose(Action{
				UserID:  l.UserID,
				Kind:    ActionRelink,
				ItemID:  l.ItemID,
				EventID: l.EventID,
				Patch:   Patch{Title: ev.Title, Start: ev.Start, End: ev.End},
				Score:   1.0,
				Reason:  "calendar event reappeared",
			}))
			return
		}
		report.Actions = append(report.Actions, s.propose(Action{
			UserID:  l.UserID,
			Kind:    ActionUnlink,
			ItemID:  l.ItemID,
			EventID: l.EventID,
			Reason:  "calendar event was deleted",
		}))

	default:
		report.Counts[l.State]++
	}
}

// suggestRelinks pairs unmatched events with unlinked items by
// similarity and proposes the strongest matches.
func (s *service) suggestRelinks(userID string, items []model.Item, events []calendar.Event, linkedItems, linkedEvents map[string]bool, report *Report) {
	type match struct {
		item    model.Item
		event   calendar.Event
		score   float64
		reasons []string
	}
	var matches []match

	for _, ev := range events {
		if linkedEvents[ev.ID] {
			continue
		}

		// An event stamped with an item id is an unambiguous claim.
		if ev.ItemID != "" {
			if it, ok := findItem(items, ev.ItemID); ok && !linkedItems[it.ID] {
				matches = append(matches, match{
					item:    it,
					event:   ev,
					score:   1.0,
					reasons: []string{"event references this item"},
				})
			}
			continue
		}

		for _, it := range items {
			if linkedItems[it.ID] {
				continue
			}
			if it.Status != model.StatusPending && it.Status != model.StatusInProgress {
				continue
			}
			score, reasons := Similarity(it, ev)
			if score > LinkScoreFloor {
				matches = append(matches, match{item: it, event: ev, score: score, reasons: reasons})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].event.ID < matches[j].event.ID
	})
	if len(matches) > MaxLinkSuggestions {
		matches = matches[:MaxLinkSuggestions]
	}

	for _, m := range matches {
		report.Actions = append(report.Actions, s.propose(Action{
			UserID:  userID,
			Kind:    ActionRelink,
			ItemID:  m.item.ID,
			EventID: m.event.ID,
			Patch:   Patch{Title: m.event.Title, Start: m.event.Start, End: m.event.End},
			Score:   m.score,
			Reason:  strings.Join(m.reasons, "; "),
		}))
	}
}

func (s *service) ProposeAction(ctx context.Context, act Action) (Action, error) {
	_, span := s.tracer.Start(ctx, "sync.propose_action")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", act.UserID),
		attribute.String("kind", string(act.Kind)),
	)

	if err := validateAction(act); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Action{}, err
	}
	return s.propose(act), nil
}

func (s *service) Apply(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "sync.apply")
	defer span.End()

	act, err := s.registry.Take(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.String("user_id", act.UserID),
		attribute.String("kind", string(act.Kind)),
	)

	if err := s.execute(ctx, act); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if s.appliesTotal != nil {
		s.appliesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(act.Kind)),
		))
	}

	if err := s.bus.Sync(act.UserID, KindActionApplied, map[string]any{
		"kind":     string(act.Kind),
		"item_id":  act.ItemID,
		"event_id": act.EventID,
	}); err != nil {
		s.logger.Warn("failed to publish apply notification",
			zap.String("user_id", act.UserID),
			zap.Error(err),
		)
	}

	s.logger.Info("applied sync action",
		zap.String("user_id", act.UserID),
		zap.String("kind", string(act.Kind)),
		zap.String("item_id", act.ItemID),
		zap.String("event_id", act.EventID),
	)
	return nil
}

func (s *service) Discard(ctx context.Context, token string) error {
	_, span := s.tracer.Start(ctx, "sync.discard")
	defer span.End()

	act, err := s.registry.Take(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.Debug("discarded sync action",
		zap.String("user_id", act.UserID),
		zap.String("kind", string(act.Kind)),
		zap.String("item_id", act.ItemID),
	)
	return nil
}

func (s *service) Links(ctx context.Context, userID string) ([]Link, error) {
	ctx, span := s.tracer.Start(ctx, "sync.links")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if userID == "" {
		return nil, faults.Validationf("user_id", "must not be empty")
	}
	return s.store.ListLinks(ctx, userID)
}

// execute performs the registered mutation. The calendar client owns
// retries; a failure here leaves domain state as it was.
func (s *service) execute(ctx context.Context, act Action) error {
	now := s.now()

	switch act.Kind {
	case ActionCreateEvent:
		pending := &Link{
			ItemID:     act.ItemID,
			UserID:     act.UserID,
			State:      LinkPending,
			EventStart: act.Patch.Start,
			EventEnd:   act.Patch.End,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.SaveLink(ctx, pending); err != nil {
			return fmt.Errorf("marking link pending: %w", err)
		}

		ev, err := s.cal.Create(ctx, act.UserID, calendar.Event{
			Title:  act.Patch.Title,
			Start:  act.Patch.Start,
			End:    act.Patch.End,
			ItemID: act.ItemID,
		})
		if err != nil {
			if derr := s.store.DeleteLink(ctx, act.ItemID); derr != nil {
				s.logger.Error("failed to roll back pending link",
					zap.String("item_id", act.ItemID),
					zap.Error(derr),
				)
			}
			return fmt.Errorf("creating event: %w", err)
		}

		pending.EventID = ev.ID
		pending.State = LinkLinked
		pending.EventStart, pending.EventEnd = ev.Start, ev.End
		pending.LastSyncedAt = now
		pending.UpdatedAt = now
		if err := s.store.SaveLink(ctx, pending); err != nil {
			return fmt.Errorf("saving link: %w", err)
		}
		return nil

	case ActionUpdateEvent:
		ev, err := s.cal.Update(ctx, act.UserID, calendar.Event{
			ID:     act.EventID,
			Title:  act.Patch.Title,
			Start:  act.Patch.Start,
			End:    act.Patch.End,
			ItemID: act.ItemID,
		})
		if err != nil {
			return fmt.Errorf("updating event: %w", err)
		}
		return s.relinkTo(ctx, act, ev.Start, ev.End, now)

	case ActionDeleteEvent:
		if err := s.cal.Delete(ctx, act.UserID, act.EventID); err != nil {
			return fmt.Errorf("deleting event: %w", err)
		}
		if err := s.store.DeleteLink(ctx, act.ItemID); err != nil {
			return fmt.Errorf("deleting link: %w", err)
		}
		return nil

	case ActionRelink:
		return s.relinkTo(ctx, act, act.Patch.Start, act.Patch.End, now)

	case ActionUnlink:
		if err := s.store.DeleteLink(ctx, act.ItemID); err != nil {
			return fmt.Errorf("deleting link: %w", err)
		}
		return nil

	case ActionAdoptEventTimes:
		if err := s.store.AdoptEventTimes(ctx, act.ItemID, act.Patch.Start, act.Patch.End); err != nil {
			return fmt.Errorf("adopting event times: %w", err)
		}
		return s.relinkTo(ctx, act, act.Patch.Start, act.Patch.End, now)

	default:
		return faults.Validationf("kind", "unknown action kind %q", act.Kind)
	}
}

// relinkTo settles the item's link to LINKED against the given event
// times.
func (s *service) relinkTo(ctx context.Context, act Action, start, end time.Time, now time.Time) error {
	existing, err := s.store.GetLink(ctx, act.ItemID)
	if err != nil {
		return fmt.Errorf("loading link: %w", err)
	}

	l := Link{
		ItemID:    act.ItemID,
		UserID:    act.UserID,
		CreatedAt: now,
	}
	if existing != nil {
		l = *existing
	}
	l.EventID = act.EventID
	l.State = LinkLinked
	l.EventStart, l.EventEnd = start, end
	l.LastSyncedAt = now
	l.UpdatedAt = now

	if err := s.store.SaveLink(ctx, &l); err != nil {
		return fmt.Errorf("saving link: %w", err)
	}
	return nil
}

func (s *service) propose(act Action) Action {
	token, expires := s.registry.Register(act)
	act.Token = token
	act.ExpiresAt = expires
	return act
}

func (s *service) saveLink(ctx context.Context, l *Link) {
	if err := s.store.SaveLink(ctx, l); err != nil {
		s.logger.Error("failed to save link",
			zap.String("item_id", l.ItemID),
			zap.String("state", string(l.State)),
			zap.Error(err),
		)
	}
}

func validateAction(act Action) error {
	if act.UserID == "" {
		return faults.Validationf("user_id", "must not be empty")
	}
	switch act.Kind {
	case ActionCreateEvent:
		if act.ItemID == "" {
			return faults.Validationf("item_id", "must not be empty")
		}
		if act.Patch.Start.IsZero() || act.Patch.End.IsZero() {
			return faults.Validationf("patch", "start and end are required")
		}
		if !act.Patch.End.After(act.Patch.Start) {
			return faults.Validationf("patch", "end must be after start")
		}
	case ActionUpdateEvent:
		if act.ItemID == "" || act.EventID == "" {
			return faults.Validationf("action", "item_id and event_id are required")
		}
		if act.Patch.Start.IsZero() || act.Patch.End.IsZero() {
			return faults.Validationf("patch", "start and end are required")
		}
	case ActionDeleteEvent:
		if act.ItemID == "" || act.EventID == "" {
			return faults.Validationf("action", "item_id and event_id are required")
		}
	case ActionRelink:
		if act.ItemID == "" || act.EventID == "" {
			return faults.Validationf("action", "item_id and event_id are required")
		}
	case ActionUnlink:
		if act.ItemID == "" {
			return faults.Validationf("item_id", "must not be empty")
		}
	case ActionAdoptEventTimes:
		if act.ItemID == "" {
			return faults.Validationf("item_id", "must not be empty")
		}
		if act.Patch.Start.IsZero() || act.Patch.End.IsZero() {
			return faults.Validationf("patch", "start and end are required")
		}
	default:
		return faults.Validationf("kind", "unknown action kind %q", act.Kind)
	}
	return nil
}

// drifted reports whether the item and event disagree on either bound
// beyond the tolerance.
func drifted(item model.Item, ev calendar.Event) bool {
	if item.ScheduledStart == nil || item.ScheduledEnd == nil {
		return false
	}
	return absDuration(item.ScheduledStart.Sub(ev.Start)) > DriftTolerance ||
		absDuration(item.ScheduledEnd.Sub(ev.End)) > DriftTolerance
}

func findItem(items []model.Item, id string) (model.Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Item{}, false
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

type noopNotifier struct{}

func (noopNotifier) Sync(string, string, map[string]any) error { return nil }
