// Package availability finds open scheduling slots.
//
// FindSlots is a pure function: the clock, busy intervals, work window,
// and preference snapshot all arrive in the request, so the same
// request always produces the same result. Candidates are the maximal
// free runs inside the user's daily work window across a seven-day
// horizon; ranking is a documented lexicographic order, not a learned
// score.
package availability

import (
	"sort"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/fyrsmithlabs/plannerd/internal/engine/validate"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
)

const (
	// HorizonDays is how far ahead slots are searched.
	HorizonDays = 7

	// GridStep aligns the earliest candidate start after "now".
	GridStep = 30 * time.Minute

	// MaxSlots caps the returned candidates.
	MaxSlots = 5

	// DefaultStartHour and DefaultEndHour bound the default work
	// window.
	DefaultStartHour = 8
	DefaultEndHour   = 20
)

// Reason codes attached to returned slots.
const (
	ReasonBeforeDeadline = "before-deadline"
	ReasonPreferredTime  = "preferred-time-of-day"
	ReasonOnlyOption     = "only-option"
)

// Result flags for empty results that are not errors.
const (
	FlagSplitSuggested   = "split-suggested"
	FlagDeadlineConflict = "deadline-conflict"
)

// Interval is a half-open busy span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WorkWindow bounds candidate slots to daily working hours.
type WorkWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// DefaultWindow is the 8:00-20:00 working day.
func DefaultWindow() WorkWindow {
	return WorkWindow{StartHour: DefaultStartHour, EndHour: DefaultEndHour}
}

// Request carries everything FindSlots needs; it reads no clocks and
// performs no I/O.
type Request struct {
	UserID   string
	Category string
	Duration time.Duration
	Deadline *time.Time
	Now      time.Time
	Busy     []Interval
	Window   WorkWindow
	Prefs    preference.Snapshot

	// Horizon is the search span in days; zero means HorizonDays.
	Horizon int
}

// Slot is one candidate free run. End-Start is the full run length,
// which may exceed the requested duration; the caller schedules inside
// it.
type Slot struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Score   float64   `json:"score"`
	Reasons []string  `json:"reasons"`
}

// Result is the ranked candidates plus flags explaining an empty list.
type Result struct {
	Slots []Slot   `json:"slots"`
	Flags []string `json:"flags,omitempty"`
}

// run is a maximal free span inside one day's work window.
type run struct {
	start, end time.Time
	// clippedEnd is end limited by the deadline; equal to end without
	// a deadline.
	clippedEnd time.Time
	fitsBefore bool
	sandwiched bool
	bias       float64
}

// FindSlots returns up to MaxSlots ranked candidate runs within the
// request horizon of req.Now, seven days unless overridden. An empty
// result is not an error: flags explain whether the duration needs
// splitting or the deadline cannot be met.
func FindSlots(req Request) (Result, error) {
	if err := validate.Duration(req.Duration); err != nil {
		return Result{}, err
	}
	if req.Now.IsZero() {
		return Result{}, faults.Validationf("now", "must be set")
	}
	window := req.Window
	if window == (WorkWindow{}) {
		window = DefaultWindow()
	}
	if window.StartHour < 0 || window.EndHour > 24 || window.StartHour >= window.EndHour {
		return Result{}, faults.Validationf("window", "hours %d..%d out of order", window.StartHour, window.EndHour)
	}
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = HorizonDays
	}

	busy := mergeIntervals(req.Busy)
	runs := freeRuns(req.Now, horizon, window, busy)
	if len(runs) == 0 {
		return Result{Flags: []string{FlagSplitSuggested}}, nil
	}

	// Keep runs long enough for the requested duration.
	fitting := runs[:0]
	for _, r := range runs {
		if r.end.Sub(r.start) >= req.Duration {
			fitting = append(fitting, r)
		}
	}
	if len(fitting) == 0 {
		return Result{Flags: []string{FlagSplitSuggested}}, nil
	}

	// Deadline clipping: a run counts as before-deadline when its
	// clipped span still holds the duration.
	anyBefore := false
	for i := range fitting {
		fitting[i].clippedEnd = fitting[i].end
		if req.Deadline != nil && fitting[i].clippedEnd.After(*req.Deadline) {
			fitting[i].clippedEnd = *req.Deadline
		}
		if req.Deadline != nil {
			fitting[i].fitsBefore = fitting[i].clippedEnd.Sub(fitting[i].start) >= req.Duration
			anyBefore = anyBefore || fitting[i].fitsBefore
		}
	}
	if req.Deadline != nil && !anyBefore {
		return Result{Flags: []string{FlagDeadlineConflict}}, nil
	}

	for i := range fitting {
		fitting[i].bias = timeBias(req.Prefs, req.Category, fitting[i].start.Hour())
	}

	sort.SliceStable(fitting, func(i, j int) bool {
		return lessRun(fitting[i], fitting[j], req)
	})
	if len(fitting) > MaxSlots {
		fitting = fitting[:MaxSlots]
	}

	slots := make([]Slot, 0, len(fitting))
	for _, r := range fitting {
		end := r.end
		if r.fitsBefore {
			end = r.clippedEnd
		}
		s := Slot{Start: r.start, End: end, Score: scoreRun(r)}
		if r.fitsBefore {
			s.Reasons = append(s.Reasons, ReasonBeforeDeadline)
		}
		if r.bias > preference.NeutralBias {
			s.Reasons = append(s.Reasons, ReasonPreferredTime)
		}
		slots = append(slots, s)
	}
	if len(slots) == 1 {
		slots[0].Reasons = append(slots[0].Reasons, ReasonOnlyOption)
	}

	return Result{Slots: slots}, nil
}

// lessRun is the documented ranking: (1) before-deadline runs first,
// (2) stronger time-of-day preference, (3) run size closest to the
// requested duration, (4) run end closest to the deadline, (5) runs
// squeezed between busy blocks last, (6) earliest start.
func lessRun(a, b run, req Request) bool {
	if a.fitsBefore != b.fitsBefore {
		return a.fitsBefore
	}
	if a.bias != b.bias {
		return a.bias > b.bias
	}

	aSize := sizeGap(a, req.Duration)
	bSize := sizeGap(b, req.Duration)
	if aSize != bSize {
		return aSize < bSize
	}

	if req.Deadline != nil && a.fitsBefore && b.fitsBefore {
		aGap := req.Deadline.Sub(a.clippedEnd)
		bGap := req.Deadline.Sub(b.clippedEnd)
		if aGap != bGap {
			return aGap < bGap
		}
	}

	if a.sandwiched != b.sandwiched {
		return !a.sandwiched
	}
	return a.start.Before(b.start)
}

// sizeGap measures how much a run over-shoots the requested duration;
// clipped length counts for before-deadline runs.
func sizeGap(r run, d time.Duration) time.Duration {
	length := r.end.Sub(r.start)
	if r.fitsBefore {
		length = r.clippedEnd.Sub(r.start)
	}
	return length - d
}

// scoreRun is a presentational score in [0,1]; ordering authority stays
// with lessRun.
func scoreRun(r run) float64 {
	score := 0.5
	if r.fitsBefore {
		score += 0.2
	}
	score += r.bias - preference.NeutralBias
	if r.sandwiched {
		score -= 0.1
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// timeBias reads the category-specific time-of-day bias, falling back
// to the general one.
func timeBias(prefs preference.Snapshot, category string, hour int) float64 {
	hourKey := strconv.Itoa(hour)
	if category != "" {
		if p, ok := prefs.Get(preference.DimCategoryTime, category+"@"+hourKey); ok {
			return p.Bias()
		}
	}
	return prefs.Bias(preference.DimTimeOfDay, hourKey)
}

// freeRuns walks each day of the horizon and returns the maximal free
// spans between busy intervals inside the work window. Day zero starts
// at now rounded up to the grid.
func freeRuns(now time.Time, horizon int, window WorkWindow, busy []Interval) []run {
	var runs []run
	loc := now.Location()

	for day := 0; day < horizon; day++ {
		ref := now.AddDate(0, 0, day)
		dayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), window.StartHour, 0, 0, 0, loc)
		dayEnd := time.Date(ref.Year(), ref.Month(), ref.Day(), window.EndHour, 0, 0, 0, loc)

		cursor := dayStart
		if day == 0 {
			if earliest := ceilToGrid(now); earliest.After(cursor) {
				cursor = earliest
			}
		}
		if !cursor.Before(dayEnd) {
			continue
		}

		afterBusy := false
		for _, b := range busy {
			if !b.Start.Before(dayEnd) || !b.End.After(cursor) {
				continue
			}
			bStart := b.Start
			if bStart.Before(cursor) {
				bStart = cursor
			}
			if bStart.After(cursor) {
				runs = append(runs, run{
					start:      cursor,
					end:        bStart,
					sandwiched: afterBusy, // right side is busy by construction
				})
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
			afterBusy = true
		}
		if cursor.Before(dayEnd) {
			runs = append(runs, run{start: cursor, end: dayEnd})
		}
	}
	return runs
}

// mergeIntervals sorts and coalesces overlapping busy intervals.
func mergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// ceilToGrid rounds t up to the next GridStep boundary.
func ceilToGrid(t time.Time) time.Time {
	rounded := t.Truncate(GridStep)
	if rounded.Equal(t) {
		return t
	}
	return rounded.Add(GridStep)
}
