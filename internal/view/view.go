// Package view computes what each calendar presentation shows for an
// anchor date. Every variant is a pure function of (events, anchor,
// options): inputs are never mutated and nothing is cached, so a change to
// either the anchor or the event set is reflected on the next call.
package view

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"dockycal/internal/dates"
	"dockycal/internal/model"
)

// DefaultRollingDays is the window size of the rolling view when Options
// leaves it unset.
const DefaultRollingDays = 30

// GridCells is the fixed size of the month grid (6 rows of 7 days).
const GridCells = 42

var ErrUnknownKind = errors.New("unknown view kind")

// Kind selects one of the five presentations.
type Kind string

const (
	Month   Kind = "month"
	Day     Kind = "day"
	Week    Kind = "week"
	Rolling Kind = "rolling"
	List    Kind = "list"
)

// ParseKind accepts the canonical names plus the aliases used by the web
// UI ("30days", "agenda").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month":
		return Month, nil
	case "day", "24h":
		return Day, nil
	case "week", "7days":
		return Week, nil
	case "rolling", "30days":
		return Rolling, nil
	case "list", "agenda":
		return List, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Options tunes rendering.
type Options struct {
	// Now is the real current time, used for "today" flags. Zero means
	// time.Now().
	Now time.Time
	// Location is the display timezone. Nil means the anchor's location.
	Location *time.Location
	// RollingDays is N for the rolling view. Values < 1 use
	// DefaultRollingDays.
	RollingDays int
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

func (o Options) loc(anchor time.Time) *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return anchor.Location()
}

func (o Options) rollingDays() int {
	if o.RollingDays < 1 {
		return DefaultRollingDays
	}
	return o.RollingDays
}

// Window is the inclusive day range a view displays. Start and End are
// day starts; both are zero when Bounded is false.
type Window struct {
	Kind    Kind      `json:"kind"`
	Anchor  time.Time `json:"anchor"`
	Start   time.Time `json:"start,omitzero"`
	End     time.Time `json:"end,omitzero"`
	Bounded bool      `json:"bounded"`
}

// Contains reports whether t's day is inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Bounded {
		return true
	}
	return dates.InRange(t, w.Start, w.End)
}

// DayGroup holds one day's events sorted by start.
type DayGroup struct {
	Date   time.Time     `json:"date"`
	Events []model.Event `json:"events"`
}

// HourSlot holds the events of the day view that start within Hour.
type HourSlot struct {
	Hour   int           `json:"hour"`
	Label  string        `json:"label"`
	Events []model.Event `json:"events"`
}

// Cell is one square of the month grid.
type Cell struct {
	Date          time.Time     `json:"date"`
	Day           int           `json:"day"`
	CurrentMonth  bool          `json:"currentMonth"`
	PreviousMonth bool          `json:"previousMonth"`
	Today         bool          `json:"today"`
	Events        []model.Event `json:"events"`
}

// Navigation holds the anchors reached by the previous/next/today controls.
type Navigation struct {
	Prev  time.Time `json:"prev"`
	Next  time.Time `json:"next"`
	Today time.Time `json:"today"`
}

// Result is the rendered view. Exactly one of Cells (month), Hours (day)
// or Days (week, rolling, list) carries the main layout; month also fills
// Days with its non-empty days.
type Result struct {
	Kind      Kind        `json:"kind"`
	Title     string      `json:"title"`
	Navigable bool        `json:"navigable"`
	Window    Window      `json:"window"`
	Nav       *Navigation `json:"nav,omitempty"`

	Cells []Cell     `json:"cells,omitempty"`
	Hours []HourSlot `json:"hours,omitempty"`
	Days  []DayGroup `json:"days,omitempty"`
}

// Render dispatches to the variant selected by kind.
func Render(kind Kind, anchor time.Time, events []model.Event, opts Options) (Result, error) {
	var res Result
	switch kind {
	case Month:
		res = MonthGrid(events, anchor, opts)
	case Day:
		res = SingleDay(events, anchor, opts)
	case Week:
		res = WeekDays(events, anchor, opts)
	case Rolling:
		res = RollingDays(events, anchor, opts)
	case List:
		return Unranged(events, anchor, opts), nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	res.Nav = &Navigation{
		Prev:  Shift(kind, anchor, -1, opts),
		Next:  Shift(kind, anchor, 1, opts),
		Today: Today(opts),
	}
	return res, nil
}

// Shift moves anchor by steps units of the view's period: one month
// (landing on the 1st), one day, seven days or N days. The list view has
// no period and returns anchor unchanged.
func Shift(kind Kind, anchor time.Time, steps int, opts Options) time.Time {
	anchor = anchor.In(opts.loc(anchor))
	switch kind {
	case Month:
		return dates.StartOfMonth(anchor).AddDate(0, steps, 0)
	case Day:
		return dates.AddDays(anchor, steps)
	case Week:
		return dates.AddDays(anchor, 7*steps)
	case Rolling:
		return dates.AddDays(dates.StartOfDay(anchor), opts.rollingDays()*steps)
	default:
		return anchor
	}
}

// Today is the anchor the "today" control resets to.
func Today(opts Options) time.Time {
	now := opts.now()
	return dates.StartOfDay(now.In(opts.loc(now)))
}

// sortedByStart returns a start-ordered copy of events. Ties keep input
// order.
func sortedByStart(events []model.Event) []model.Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})
	return out
}

// groupByDay buckets start-ordered events by their local start day. Only
// days with at least one event appear, in ascending order.
func groupByDay(sorted []model.Event, loc *time.Location) []DayGroup {
	groups := make([]DayGroup, 0)
	for _, ev := range sorted {
		day := dates.StartOfDay(ev.Start.In(loc))
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Events = append(groups[n-1].Events, ev)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Events: []model.Event{ev}})
	}
	return groups
}

// onDay returns the start-ordered events whose local start falls on day.
func onDay(sorted []model.Event, day time.Time) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range sorted {
		if dates.IsSameDay(day, ev.Start) {
			out = append(out, ev)
		}
	}
	return out
}
