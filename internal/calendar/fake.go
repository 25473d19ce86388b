package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
)

// Fake is an in-memory Client for tests and offline mode. FailNext
// injects one error per queued entry, consumed in order, so retry and
// failure paths are testable without a network.
type Fake struct {
	mu       sync.Mutex
	events   map[string]map[string]Event // userID -> eventID -> event
	failNext []error
	now      func() time.Time

	// Mutations counts Create+Update+Delete calls, for asserting that
	// read paths never write.
	Mutations int
}

// NewFake creates an empty fake calendar.
func NewFake() *Fake {
	return &Fake{
		events: make(map[string]map[string]Event),
		now:    time.Now,
	}
}

// FailNext queues errors returned by subsequent calls, one per call.
func (f *Fake) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = append(f.failNext, errs...)
}

// Seed inserts events directly, bypassing failure injection and the
// mutation counter.
func (f *Fake) Seed(userID string, events ...Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.Updated.IsZero() {
			ev.Updated = f.now().UTC()
		}
		f.userEvents(userID)[ev.ID] = ev
	}
}

func (f *Fake) userEvents(userID string) map[string]Event {
	if f.events[userID] == nil {
		f.events[userID] = make(map[string]Event)
	}
	return f.events[userID]
}

func (f *Fake) popFailure() error {
	if len(f.failNext) == 0 {
		return nil
	}
	err := f.failNext[0]
	f.failNext = f.failNext[1:]
	return err
}

func (f *Fake) List(_ context.Context, userID string, from, to time.Time) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.popFailure(); err != nil {
		return nil, faults.Unavailable("calendar", 1, err)
	}

	var out []Event
	for _, ev := range f.events[userID] {
		if ev.Start.Before(to) && ev.End.After(from) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *Fake) Create(_ context.Context, userID string, ev Event) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.popFailure(); err != nil {
		return Event{}, faults.Unavailable("calendar", 1, err)
	}

	f.Mutations++
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Updated = f.now().UTC()
	f.userEvents(userID)[ev.ID] = ev
	return ev, nil
}

func (f *Fake) Update(_ context.Context, userID string, ev Event) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.popFailure(); err != nil {
		return Event{}, faults.Unavailable("calendar", 1, err)
	}

	f.Mutations++
	existing, ok := f.events[userID][ev.ID]
	if !ok {
		return Event{}, faults.Unavailable("calendar", 1, fmt.Errorf("event %s not found", ev.ID))
	}
	if ev.Title != "" {
		existing.Title = ev.Title
	}
	if ev.Description != "" {
		existing.Description = ev.Description
	}
	if !ev.Start.IsZero() {
		existing.Start = ev.Start
	}
	if !ev.End.IsZero() {
		existing.End = ev.End
	}
	if ev.ItemID != "" {
		existing.ItemID = ev.ItemID
	}
	existing.Updated = f.now().UTC()
	f.events[userID][ev.ID] = existing
	return existing, nil
}

func (f *Fake) Delete(_ context.Context, userID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.popFailure(); err != nil {
		return faults.Unavailable("calendar", 1, err)
	}

	f.Mutations++
	if _, ok := f.events[userID][eventID]; !ok {
		return faults.Unavailable("calendar", 1, fmt.Errorf("event %s not found", eventID))
	}
	delete(f.events[userID], eventID)
	return nil
}

// Snapshot returns a copy of one user's events for deep-equal
// assertions.
func (f *Fake) Snapshot(userID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Event, 0, len(f.events[userID]))
	for _, ev := range f.events[userID] {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
