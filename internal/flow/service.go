package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/confirm"
	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/model"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

const instrumentationName = "github.com/fyrsmithlabs/plannerd/internal/flow"

// Notification kinds emitted by the flow manager.
const (
	KindFlowSuggested   = "flow_suggested"
	KindFlowNeedsUpdate = "flow_needs_update"
	KindFlowRunProposed = "flow_run_proposed"
)

// ItemWriter persists the items that confirmed flow runs produce.
type ItemWriter interface {
	CreateItem(ctx context.Context, item *model.Item) error
}

// ThresholdSource yields the per-user calibrated suggestion threshold.
// The learning service implements it; when absent the static
// SuggestionThreshold applies.
type ThresholdSource interface {
	Threshold(ctx context.Context, userID string, kind learning.Kind) (float64, error)
}

// CorrectionSink receives the evidence confirmations produce: edits
// correct the proposal, a plain confirm is an acceptance. The learning
// service implements it; when absent confirmations teach nothing.
type CorrectionSink interface {
	Record(ctx context.Context, c learning.Correction) error
}

// RunEdit is what the user changed on a proposed run before confirming
// it. Zero-valued fields keep the proposal's values.
type RunEdit struct {
	Title           string     `json:"title,omitempty"`
	Start           *time.Time `json:"start,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

// Service manages flow lifecycles.
type Service interface {
	// Ingest folds pattern candidates into flows: new signatures become
	// DETECTED, and DETECTED flows crossing the suggestion threshold
	// move to SUGGESTED with a notification. DISABLED flows are never
	// revived here.
	Ingest(ctx context.Context, userID string, candidates []pattern.Candidate) ([]Flow, error)

	// Get returns a flow by id.
	Get(ctx context.Context, flowID string) (*Flow, error)

	// List returns a user's flows, optionally filtered by state.
	List(ctx context.Context, userID string, states ...State) ([]Flow, error)

	// Decide resolves a SUGGESTED flow (accept → ACTIVE, reject →
	// DETECTED) or a MODIFIED flow's update proposal (accept keeps it
	// running, reject counts against it). The third consecutive
	// rejection disables the flow and permanently damps its signature.
	Decide(ctx context.Context, flowID string, accepted bool) (*Flow, error)

	// RecordRun appends one execution to the flow's run window and
	// breaks any rejection streak. Three edited runs within the window
	// move an ACTIVE flow to MODIFIED; the needs-update notification
	// then carries a template recalculated from those edits.
	RecordRun(ctx context.Context, flowID string, rec RunRecord) (*Flow, error)

	// Reconfigure replaces the flow template and returns the flow to
	// ACTIVE with a fresh run window.
	Reconfigure(ctx context.Context, flowID string, cfg FlowConfig) (*Flow, error)

	// Disable stops a flow on explicit user request.
	Disable(ctx context.Context, flowID string) (*Flow, error)

	// Enable revives a DISABLED flow. Rejection counts reset; damping
	// history is kept.
	Enable(ctx context.Context, flowID string) (*Flow, error)

	// Trigger proposes runs for ACTIVE flows whose next occurrence is
	// within the reminder lead. Proposals go through the confirmation
	// registry; no items are created here. Returns the proposal count.
	Trigger(ctx context.Context, now time.Time) (int, error)

	// ConfirmRun redeems a proposal token and creates the item, applying
	// any edits first. The run lands in the flow's window; edits feed the
	// correction sink, a plain confirm feeds it an acceptance.
	ConfirmRun(ctx context.Context, token string, edit *RunEdit) (*model.Item, error)

	// DiscardRun redeems a proposal token without creating anything.
	// Discarding is rejecting the execution: it increments
	// ConsecutiveRejections and the third in a row disables the flow
	// with permanent damping, same as rejecting through Decide.
	DiscardRun(ctx context.Context, token string) error
}

// Options wires the flow service's collaborators.
type Options struct {
	Store       Store
	Items       ItemWriter
	Rejections  RejectionSink
	Bus         Notifier
	Registry    *confirm.Registry[Proposal]
	Thresholds  ThresholdSource
	Corrections CorrectionSink
	Logger      *zap.Logger

	// Threshold is the fallback suggestion threshold used when no
	// per-user calibration exists; zero means SuggestionThreshold.
	Threshold float64

	// RejectionLimit is how many consecutive rejections disable a
	// flow; zero means MaxConsecutiveRejections.
	RejectionLimit int

	// RunWindow is how many recent runs are kept per flow; zero means
	// the RunWindow default.
	RunWindow int
}

type service struct {
	store       Store
	items       ItemWriter
	rejections  RejectionSink
	bus         Notifier
	registry    *confirm.Registry[Proposal]
	thresholds  ThresholdSource
	corrections CorrectionSink
	logger      *zap.Logger
	now         func() time.Time

	threshold      float64
	rejectionLimit int
	runWindow      int

	tracer trace.Tracer
	meter  metric.Meter

	suggestionsTotal metric.Int64Counter
	decisionsTotal   metric.Int64Counter
	proposalsTotal   metric.Int64Counter
}

// NewService creates the flow manager. Store, Items, and Rejections are
// required; Bus, Registry, Thresholds, Corrections, and Logger fall
// back to inert defaults.
func NewService(opts Options) (Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Items == nil {
		return nil, errors.New("item writer is required")
	}
	if opts.Rejections == nil {
		return nil, errors.New("rejection sink is required")
	}
	if opts.Bus == nil {
		opts.Bus = noopNotifier{}
	}
	if opts.Registry == nil {
		opts.Registry = confirm.NewRegistry[Proposal](0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = SuggestionThreshold
	}
	if opts.RejectionLimit <= 0 {
		opts.RejectionLimit = MaxConsecutiveRejections
	}
	if opts.RunWindow <= 0 {
		opts.RunWindow = RunWindow
	}

	s := &service{
		store:          opts.Store,
		items:          opts.Items,
		rejections:     opts.Rejections,
		bus:            opts.Bus,
		registry:       opts.Registry,
		thresholds:     opts.Thresholds,
		corrections:    opts.Corrections,
		logger:         opts.Logger,
		now:            time.Now,
		threshold:      opts.Threshold,
		rejectionLimit: opts.RejectionLimit,
		runWindow:      opts.RunWindow,
		tracer:         otel.Tracer(instrumentationName),
		meter:          otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.suggestionsTotal, err = s.meter.Int64Counter(
		"plannerd.flow.suggestions_total",
		metric.WithDescription("Total number of flows moved to SUGGESTED"),
		metric.WithUnit("{suggestion}"),
	)
	if err != nil {
		s.logger.Warn("failed to create suggestions counter", zap.Error(err))
	}

	s.decisionsTotal, err = s.meter.Int64Counter(
		"plannerd.flow.decisions_total",
		metric.WithDescription("Total number of flow decisions recorded"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		s.logger.Warn("failed to create decisions counter", zap.Error(err))
	}

	s.proposalsTotal, err = s.meter.Int64Counter(
		"plannerd.flow.proposals_total",
		metric.WithDescription("Total number of confirmation-gated run proposals"),
		metric.WithUnit("{proposal}"),
	)
	if err != nil {
		s.logger.Warn("failed to create proposals counter", zap.Error(err))
	}
}

func (s *service) Ingest(ctx context.Context, userID string, candidates []pattern.Candidate) ([]Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("candidates", len(candidates)),
	)

	if userID == "" {
		err := faults.Validationf("user_id", "must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	threshold := s.suggestionThreshold(ctx, userID)

	var touched []Flow
	for _, c := range candidates {
		f, err := s.store.GetFlowBySignature(ctx, userID, c.Signature)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("loading flow for %s: %w", c.Signature.String(), err)
		}
		if f == nil {
			f = &Flow{
				ID:        uuid.NewString(),
				UserID:    userID,
				Signature: c.Signature,
				State:     StateDetected,
				Config:    configFromCandidate(c),
				CreatedAt: now,
			}
		}

		f.Confidence = c.Confidence
		f.UpdatedAt = now

		// A permanent rejection keeps the signature out of the
		// suggestion path even when calibration lowers the threshold
		// under the damped score.
		if f.State == StateDetected && !c.PermanentlyDamped && c.Confidence >= threshold {
			f.State = StateSuggested
			at := now
			f.SuggestedAt = &at

			if s.suggestionsTotal != nil {
				s.suggestionsTotal.Add(ctx, 1)
			}
			if err := s.bus.Suggestion(userID, KindFlowSuggested, map[string]any{
				"flow_id":    f.ID,
				"title":      f.Config.Title,
				"confidence": f.Confidence,
				"weekday":    int(f.Config.Weekday),
				"hour":       f.Config.HourBucket,
			}); err != nil {
				s.logger.Warn("failed to publish flow suggestion",
					zap.String("flow_id", f.ID),
					zap.Error(err),
				)
			}

			s.logger.Info("flow suggested",
				zap.String("flow_id", f.ID),
				zap.String("user_id", userID),
				zap.String("signature", f.Signature.String()),
				zap.Float64("confidence", f.Confidence),
			)
		}

		if err := s.store.SaveFlow(ctx, f); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("saving flow %s: %w", f.ID, err)
		}
		touched = append(touched, *f)
	}

	return touched, nil
}

func (s *service) Get(ctx context.Context, flowID string) (*Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.get")
	defer span.End()
	span.SetAttributes(attribute.String("flow_id", flowID))

	return s.load(ctx, flowID)
}

func (s *service) List(ctx context.Context, userID string, states ...State) ([]Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.list")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if userID == "" {
		return nil, faults.Validationf("user_id", "must not be empty")
	}
	return s.store.ListFlows(ctx, userID, states...)
}

func (s *service) Decide(ctx context.Context, flowID string, accepted bool) (*Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.decide")
	defer span.End()

	span.SetAttributes(
		attribute.String("flow_id", flowID),
		attribute.Bool("accepted", accepted),
	)

	f, err := s.load(ctx, flowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.State != StateSuggested && f.State != StateModified {
		err := faults.Validationf("state", "cannot decide flow in state %s", f.State)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	at := now
	f.DecidedAt = &at
	f.UpdatedAt = now

	switch {
	case accepted:
		f.State = StateActive
		f.ConsecutiveRejections = 0

	default:
		f.ConsecutiveRejections++
		if f.ConsecutiveRejections >= s.rejectionLimit {
			f.State = StateDisabled
			if err := s.rejections.RecordRejection(ctx, f.UserID, f.Signature, true); err != nil {
				s.logger.Warn("failed to record permanent rejection",
					zap.String("flow_id", f.ID),
					zap.Error(err),
				)
			}
		} else {
			// Rejecting an update proposal leaves the flow running
			// with its current template.
			if f.State == StateSuggested {
				f.State = StateDetected
				f.SuggestedAt = nil
			} else {
				f.State = StateActive
			}
			if err := s.rejections.RecordRejection(ctx, f.UserID, f.Signature, false); err != nil {
				s.logger.Warn("failed to record rejection",
					zap.String("flow_id", f.ID),
					zap.Error(err),
				)
			}
		}
	}

	if err := s.store.SaveFlow(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving flow %s: %w", f.ID, err)
	}

	if s.decisionsTotal != nil {
		s.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("accepted", accepted),
		))
	}

	s.logger.Info("flow decided",
		zap.String("flow_id", f.ID),
		zap.String("user_id", f.UserID),
		zap.Bool("accepted", accepted),
		zap.String("state", string(f.State)),
		zap.Int("consecutive_rejections", f.ConsecutiveRejections),
	)

	return f, nil
}

func (s *service) RecordRun(ctx context.Context, flowID string, rec RunRecord) (*Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.record_run")
	defer span.End()

	span.SetAttributes(
		attribute.String("flow_id", flowID),
		attribute.Bool("edited", rec.Edited),
	)

	f, err := s.load(ctx, flowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.State != StateActive && f.State != StateModified {
		err := faults.Validationf("state", "cannot record a run for flow in state %s", f.State)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	if rec.RunAt.IsZero() {
		rec.RunAt = now
	}

	f.RecentRuns = append(f.RecentRuns, rec)
	if len(f.RecentRuns) > s.runWindow {
		f.RecentRuns = f.RecentRuns[len(f.RecentRuns)-s.runWindow:]
	}
	// An execution that actually ran breaks any rejection streak.
	f.ConsecutiveRejections = 0
	f.UpdatedAt = now

	if f.State == StateActive && f.EditedRuns() >= EditedRunLimit {
		f.State = StateModified
		revised := f.RevisedConfig()

		if err := s.bus.Suggestion(f.UserID, KindFlowNeedsUpdate, map[string]any{
			"flow_id":                   f.ID,
			"title":                     f.Config.Title,
			"edited_runs":               f.EditedRuns(),
			"proposed_title":            revised.Title,
			"proposed_weekday":          int(revised.Weekday),
			"proposed_hour":             revised.HourBucket,
			"proposed_duration_minutes": revised.DurationMinutes,
		}); err != nil {
			s.logger.Warn("failed to publish needs-update notification",
				zap.String("flow_id", f.ID),
				zap.Error(err),
			)
		}

		s.logger.Info("flow marked as modified",
			zap.String("flow_id", f.ID),
			zap.String("user_id", f.UserID),
			zap.Int("edited_runs", f.EditedRuns()),
		)
	}

	if err := s.store.SaveFlow(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving flow %s: %w", f.ID, err)
	}
	return f, nil
}

func (s *service) Reconfigure(ctx context.Context, flowID string, cfg FlowConfig) (*Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.reconfigure")
	defer span.End()
	span.SetAttributes(attribute.String("flow_id", flowID))

	if err := validateConfig(cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	f, err := s.load(ctx, flowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.State != StateActive && f.State != StateModified {
		err := faults.Validationf("state", "cannot reconfigure flow in state %s", f.State)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = DefaultReminderLead
	}

	now := s.now()
	f.Config = cfg
	f.State = StateActive
	f.ConsecutiveRejections = 0
	// The run window restarts so old edits don't immediately flag the
	// fresh template.
	f.RecentRuns = nil
	f.UpdatedAt = now

	if err := s.store.SaveFlow(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving flow %s: %w", f.ID, err)
	}

	s.logger.Info("flow reconfigured",
		zap.String("flow_id", f.ID),
		zap.String("user_id", f.UserID),
		zap.String("title", cfg.Title),
	)

	return f, nil
}

func (s *service) Disable(ctx context.Context, flowID string) (*Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.disable")
	defer span.End()
	span.SetAttributes(attribute.String("flow_id", flowID))

	f, err := s.load(ctx, flowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.State == StateDisabled {
		return f, nil
	}

	f.State = StateDisabled
	f.UpdatedAt = s.now()

	// Explicit disable is the strongest rejection signal.
	if err := s.rejections.RecordRejection(ctx, f.UserID, f.Signature, true); err != nil {
		s.logger.Warn("failed to record permanent rejection",
			zap.String("flow_id", f.ID),
			zap.Error(err),
		)
	}

	if err := s.store.SaveFlow(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving flow %s: %w", f.ID, err)
	}

	s.logger.Info("flow disabled",
		zap.String("flow_id", f.ID),
		zap.String("user_id", f.UserID),
	)

	return f, nil
}

func (s *service) Enable(ctx context.Context, flowID string) (*Flow, error) {
	ctx, span := s.tracer.Start(ctx, "flow.enable")
	defer span.End()
	span.SetAttributes(attribute.String("flow_id", flowID))

	f, err := s.load(ctx, flowID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.State != StateDisabled {
		err := faults.Validationf("state", "cannot enable flow in state %s", f.State)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	f.State = StateActive
	f.ConsecutiveRejections = 0
	f.RecentRuns = nil
	f.UpdatedAt = s.now()

	if err := s.store.SaveFlow(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving flow %s: %w", f.ID, err)
	}

	s.logger.Info("flow enabled",
		zap.String("flow_id", f.ID),
		zap.String("user_id", f.UserID),
	)

	return f, nil
}

func (s *service) Trigger(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "flow.trigger")
	defer span.End()

	if now.IsZero() {
		now = s.now()
	}

	flows, err := s.store.ListActiveFlows(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("listing active flows: %w", err)
	}

	proposed := 0
	for i := range flows {
		f := &flows[i]

		lead := f.Config.ReminderLead
		if lead <= 0 {
			lead = DefaultReminderLead
		}
		next := nextOccurrence(now, f.Config.Weekday, f.Config.HourBucket)
		if next.Sub(now) > lead {
			continue
		}
		// Already proposed for this occurrence.
		if f.LastTriggered != nil && !f.LastTriggered.Before(next.Add(-lead)) {
			continue
		}

		proposal := Proposal{
			FlowID:   f.ID,
			UserID:   f.UserID,
			Title:    f.Config.Title,
			Category: f.Config.Category,
			Start:    next,
			End:      next.Add(time.Duration(f.Config.DurationMinutes) * time.Minute),
		}
		token, expires := s.registry.Register(proposal)

		if err := s.bus.Reminder(f.UserID, KindFlowRunProposed, map[string]any{
			"flow_id":    f.ID,
			"token":      token,
			"title":      f.Config.Title,
			"start":      proposal.Start.Format(time.RFC3339),
			"expires_at": expires.Format(time.RFC3339),
		}); err != nil {
			s.logger.Warn("failed to publish run proposal",
				zap.String("flow_id", f.ID),
				zap.Error(err),
			)
		}

		at := now
		f.LastTriggered = &at
		f.UpdatedAt = now
		if err := s.store.SaveFlow(ctx, f); err != nil {
			s.logger.Warn("failed to save triggered flow",
				zap.String("flow_id", f.ID),
				zap.Error(err),
			)
			continue
		}

		if s.proposalsTotal != nil {
			s.proposalsTotal.Add(ctx, 1)
		}
		proposed++

		s.logger.Info("flow run proposed",
			zap.String("flow_id", f.ID),
			zap.String("user_id", f.UserID),
			zap.Time("start", proposal.Start),
		)
	}

	span.SetAttributes(attribute.Int("proposed", proposed))
	return proposed, nil
}

func (s *service) ConfirmRun(ctx context.Context, token string, edit *RunEdit) (*model.Item, error) {
	ctx, span := s.tracer.Start(ctx, "flow.confirm_run")
	defer span.End()

	p, err := s.registry.Take(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	title, start, end := p.Title, p.Start, p.End
	edited := false
	if edit != nil {
		if edit.Title != "" && edit.Title != title {
			title = edit.Title
			edited = true
		}
		if edit.Start != nil && !edit.Start.Equal(start) {
			length := end.Sub(start)
			start = *edit.Start
			end = start.Add(length)
			edited = true
		}
		if edit.DurationMinutes > 0 && edit.DurationMinutes != int(end.Sub(start).Minutes()) {
			end = start.Add(time.Duration(edit.DurationMinutes) * time.Minute)
			edited = true
		}
	}

	now := s.now()
	item := &model.Item{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		Title:           title,
		Category:        p.Category,
		Status:          model.StatusPending,
		ScheduledStart:  &start,
		ScheduledEnd:    &end,
		DurationMinutes: int(end.Sub(start).Minutes()),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.items.CreateItem(ctx, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("creating item for flow %s: %w", p.FlowID, err)
	}

	// The run still counts when the flow moved on since the proposal;
	// a disabled flow just stops keeping a window.
	rec := RunRecord{
		RunAt:           start,
		Edited:          edited,
		Title:           title,
		DurationMinutes: item.DurationMinutes,
	}
	if _, err := s.RecordRun(ctx, p.FlowID, rec); err != nil {
		s.logger.Warn("failed to record confirmed run",
			zap.String("flow_id", p.FlowID),
			zap.Error(err),
		)
	}

	s.feedLearner(ctx, p, item, edited)

	s.logger.Info("flow run confirmed",
		zap.String("flow_id", p.FlowID),
		zap.String("user_id", p.UserID),
		zap.String("item_id", item.ID),
		zap.Bool("edited", edited),
	)

	span.SetAttributes(attribute.String("item_id", item.ID), attribute.Bool("edited", edited))
	return item, nil
}

// feedLearner translates a confirmation into correction evidence. An
// edit that moves the start hour is a reschedule, a changed length is a
// duration change, and an unedited confirm is an acceptance.
func (s *service) feedLearner(ctx context.Context, p Proposal, item *model.Item, edited bool) {
	if s.corrections == nil {
		return
	}

	proposedHour := strconv.Itoa(p.Start.Hour())
	finalHour := strconv.Itoa(item.ScheduledStart.Hour())
	proposedMinutes := int(p.End.Sub(p.Start).Minutes())

	var records []learning.Correction
	if !edited {
		records = append(records, categoryScoped(learning.Correction{
			UserID:    p.UserID,
			ItemID:    item.ID,
			Kind:      learning.KindAcceptance,
			Dimension: preference.DimTimeOfDay,
			Key:       p.Category,
			ToValue:   proposedHour,
		}, p.Category)...)
	} else {
		if finalHour != proposedHour {
			records = append(records, categoryScoped(learning.Correction{
				UserID:    p.UserID,
				ItemID:    item.ID,
				Kind:      learning.KindReschedule,
				Dimension: preference.DimTimeOfDay,
				Key:       p.Category,
				FromValue: proposedHour,
				ToValue:   finalHour,
			}, p.Category)...)
		}
		if item.DurationMinutes != proposedMinutes {
			records = append(records, learning.Correction{
				UserID:    p.UserID,
				ItemID:    item.ID,
				Kind:      learning.KindDurationChange,
				Dimension: preference.DimDuration,
				Key:       p.Category,
				FromValue: preference.DurationClass(proposedMinutes),
				ToValue:   preference.DurationClass(item.DurationMinutes),
			})
		}
	}

	for _, c := range records {
		if err := s.corrections.Record(ctx, c); err != nil {
			s.logger.Warn("failed to feed correction",
				zap.String("flow_id", p.FlowID),
				zap.String("kind", string(c.Kind)),
				zap.Error(err),
			)
		}
	}
}

// categoryScoped pairs a time-of-day correction with its category_time
// twin keyed cat@hour, so slot ranking gets category-specific evidence,
// not just the general hour weights.
func categoryScoped(c learning.Correction, category string) []learning.Correction {
	out := []learning.Correction{c}
	if category == "" {
		return out
	}
	cc := c
	cc.Dimension = preference.DimCategoryTime
	if cc.FromValue != "" {
		cc.FromValue = category + "@" + cc.FromValue
	}
	if cc.ToValue != "" {
		cc.ToValue = category + "@" + cc.ToValue
	}
	return append(out, cc)
}

func (s *service) DiscardRun(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "flow.discard_run")
	defer span.End()

	p, err := s.registry.Take(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("flow_id", p.FlowID))

	f, err := s.load(ctx, p.FlowID)
	if err != nil {
		// The flow vanished since the proposal; the token is spent and
		// there is nothing left to count against.
		s.logger.Warn("discarded proposal for missing flow",
			zap.String("flow_id", p.FlowID),
			zap.Error(err),
		)
		return nil
	}
	if f.State != StateActive && f.State != StateModified {
		s.logger.Debug("flow run proposal discarded for inactive flow",
			zap.String("flow_id", f.ID),
			zap.String("state", string(f.State)),
		)
		return nil
	}

	// Discarding a proposed execution is rejecting it; the third in a
	// row disables the flow and damps its signature for good.
	f.ConsecutiveRejections++
	f.UpdatedAt = s.now()
	disabled := f.ConsecutiveRejections >= s.rejectionLimit
	if disabled {
		f.State = StateDisabled
	}
	if err := s.rejections.RecordRejection(ctx, f.UserID, f.Signature, disabled); err != nil {
		s.logger.Warn("failed to record rejection",
			zap.String("flow_id", f.ID),
			zap.Error(err),
		)
	}
	if err := s.store.SaveFlow(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("saving flow %s: %w", f.ID, err)
	}

	if s.corrections != nil {
		for _, c := range categoryScoped(learning.Correction{
			UserID:    p.UserID,
			Kind:      learning.KindRejection,
			Dimension: preference.DimTimeOfDay,
			Key:       p.Category,
			FromValue: strconv.Itoa(p.Start.Hour()),
		}, p.Category) {
			if err := s.corrections.Record(ctx, c); err != nil {
				s.logger.Warn("failed to feed correction",
					zap.String("flow_id", p.FlowID),
					zap.String("kind", string(c.Kind)),
					zap.Error(err),
				)
			}
		}
	}

	s.logger.Info("flow run proposal rejected",
		zap.String("flow_id", f.ID),
		zap.String("user_id", p.UserID),
		zap.Int("consecutive_rejections", f.ConsecutiveRejections),
		zap.String("state", string(f.State)),
	)
	return nil
}

// load fetches a flow and maps absence to a validation error.
func (s *service) load(ctx context.Context, flowID string) (*Flow, error) {
	if flowID == "" {
		return nil, faults.Validationf("flow_id", "must not be empty")
	}
	f, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("loading flow %s: %w", flowID, err)
	}
	if f == nil {
		return nil, faults.Validationf("flow_id", "unknown flow %q", flowID)
	}
	return f, nil
}

func (s *service) suggestionThreshold(ctx context.Context, userID string) float64 {
	if s.thresholds == nil {
		return s.threshold
	}
	th, err := s.thresholds.Threshold(ctx, userID, learning.KindRejection)
	if err != nil || th <= 0 {
		return s.threshold
	}
	return th
}

func configFromCandidate(c pattern.Candidate) FlowConfig {
	duration := c.AvgDurationMinutes
	if duration <= 0 {
		duration = 30
	}
	return FlowConfig{
		Title:           c.SampleTitle,
		Category:        c.Signature.Category,
		DurationMinutes: duration,
		Weekday:         c.Signature.Weekday,
		HourBucket:      c.Signature.HourBucket,
		ReminderLead:    DefaultReminderLead,
	}
}

func validateConfig(cfg FlowConfig) error {
	if cfg.Title == "" {
		return faults.Validationf("title", "must not be empty")
	}
	if cfg.DurationMinutes <= 0 {
		return faults.Validationf("duration_minutes", "must be positive")
	}
	if cfg.Weekday < time.Sunday || cfg.Weekday > time.Saturday {
		return faults.Validationf("weekday", "must be between 0 and 6")
	}
	if cfg.HourBucket < 0 || cfg.HourBucket > 23 {
		return faults.Validationf("hour_bucket", "must be between 0 and 23")
	}
	return nil
}

// nextOccurrence returns the first wall-clock time strictly after now
// that lands on the given weekday at the top of the given hour.
func nextOccurrence(now time.Time, wd time.Weekday, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	t = t.AddDate(0, 0, days)
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

type noopNotifier struct{}

func (noopNotifier) Suggestion(string, string, map[string]any) error { return nil }
func (noopNotifier) Reminder(string, string, map[string]any) error   { return nil }
