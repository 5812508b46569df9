package view

import (
	"time"

	"dockycal/internal/dates"
	"dockycal/internal/model"
)

// MonthGrid lays out anchor's month as 42 cells. Leading cells are the
// tail of the previous month up to the weekday of the 1st, counted
// Sunday-first; trailing cells come from the next month. Only current-month
// cells carry events, and Today is set only on the current-month cell for
// the real current date.
func MonthGrid(events []model.Event, anchor time.Time, opts Options) Result {
	loc := opts.loc(anchor)
	anchor = anchor.In(loc)
	now := opts.now().In(loc)

	first := dates.StartOfMonth(anchor)
	last := dates.EndOfMonth(anchor)
	lead := int(first.Weekday())

	sorted := sortedByStart(events)
	inMonth := make([]model.Event, 0)
	for _, ev := range sorted {
		if dates.InRange(ev.Start, first, last) {
			inMonth = append(inMonth, ev)
		}
	}

	cells := make([]Cell, 0, GridCells)
	for i := 0; i < GridCells; i++ {
		day := dates.AddDays(first, i-lead)
		current := day.Month() == first.Month() && day.Year() == first.Year()
		cell := Cell{
			Date:          day,
			Day:           day.Day(),
			CurrentMonth:  current,
			PreviousMonth: i < lead,
			Events:        []model.Event{},
		}
		if current {
			cell.Today = dates.IsSameDay(day, now)
			cell.Events = onDay(inMonth, day)
		}
		cells = append(cells, cell)
	}

	return Result{
		Kind:      Month,
		Title:     dates.FormatMonth(first),
		Navigable: true,
		Window:    Window{Kind: Month, Anchor: anchor, Start: first, End: last, Bounded: true},
		Cells:     cells,
		Days:      groupByDay(inMonth, loc),
	}
}

// SingleDay buckets the anchor day's events into the 24 hour slots by
// start hour. All slots are emitted, empty or not.
func SingleDay(events []model.Event, anchor time.Time, opts Options) Result {
	loc := opts.loc(anchor)
	day := dates.StartOfDay(anchor.In(loc))

	y, m, d := day.Date()
	hours := make([]HourSlot, 24)
	for h := range hours {
		hours[h] = HourSlot{
			Hour:   h,
			Label:  dates.FormatTime(time.Date(y, m, d, h, 0, 0, 0, loc)),
			Events: []model.Event{},
		}
	}
	for _, ev := range onDay(sortedByStart(events), day) {
		h := ev.Start.In(loc).Hour()
		hours[h].Events = append(hours[h].Events, ev)
	}

	return Result{
		Kind:      Day,
		Title:     dates.FormatDay(day),
		Navigable: true,
		Window:    Window{Kind: Day, Anchor: anchor.In(loc), Start: day, End: day, Bounded: true},
		Hours:     hours,
	}
}

// WeekDays emits the seven days Monday through Sunday of anchor's week,
// each with its start-ordered events. Empty days are kept.
func WeekDays(events []model.Event, anchor time.Time, opts Options) Result {
	loc := opts.loc(anchor)
	start := dates.WeekStart(anchor.In(loc))
	end := dates.AddDays(start, 6)

	sorted := sortedByStart(events)
	days := make([]DayGroup, 0, 7)
	for i := 0; i < 7; i++ {
		day := dates.AddDays(start, i)
		days = append(days, DayGroup{Date: day, Events: onDay(sorted, day)})
	}

	return Result{
		Kind:      Week,
		Title:     dates.FormatRange(start, end),
		Navigable: true,
		Window:    Window{Kind: Week, Anchor: anchor.In(loc), Start: start, End: end, Bounded: true},
		Days:      days,
	}
}

// RollingDays shows the N days starting at anchor's day, inclusive on both
// ends, grouped by day. Days without events are omitted.
func RollingDays(events []model.Event, anchor time.Time, opts Options) Result {
	loc := opts.loc(anchor)
	start := dates.StartOfDay(anchor.In(loc))
	end := dates.AddDays(start, opts.rollingDays()-1)

	in := make([]model.Event, 0)
	for _, ev := range sortedByStart(events) {
		if dates.InRange(ev.Start, start, end) {
			in = append(in, ev)
		}
	}

	return Result{
		Kind:      Rolling,
		Title:     dates.FormatRange(start, end),
		Navigable: true,
		Window:    Window{Kind: Rolling, Anchor: start, Start: start, End: end, Bounded: true},
		Days:      groupByDay(in, loc),
	}
}

// Unranged lists every event grouped by day. It has no window and no
// navigation.
func Unranged(events []model.Event, anchor time.Time, opts Options) Result {
	loc := opts.loc(anchor)
	return Result{
		Kind:   List,
		Title:  "All events",
		Window: Window{Kind: List, Anchor: anchor.In(loc)},
		Days:   groupByDay(sortedByStart(events), loc),
	}
}
