package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "dockycal/internal/log"
	"dockycal/internal/model"
	"dockycal/internal/recurrence"
)

// ExpandConfig controls how parsed events become local events.
type ExpandConfig struct {
	// DisplayLocation is the timezone all occurrences are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// MaxOccurrencesPerEvent caps each RRULE. Zero or anything above
	// recurrence.MaxOccurrences means recurrence.MaxOccurrences.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded events and the UIDs that hit the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// ToEvents materializes parsed VEVENTs into independent local events:
// single events map one to one, RRULE series are expanded from DTSTART
// (EXDATE removed, RECURRENCE-ID overrides applied) up to the cap. Results
// carry no ids; the store assigns them.
func ToEvents(events []ParsedEvent, cfg ExpandConfig) ExpandResult {
	var result ExpandResult

	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 || cfg.MaxOccurrencesPerEvent > recurrence.MaxOccurrences {
		cfg.MaxOccurrencesPerEvent = recurrence.MaxOccurrences
	}

	// Group base events and overrides by UID, keeping file order.
	var order []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Event, 0, len(events))
	for _, uid := range order {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			out = append(out, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("ics: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Events = out
	return result
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.RawRRule == "" {
		return []model.Event{makeEvent(ev, ev.Start, ev.End, cfg.DisplayLocation)}, false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// An unusable rule still leaves the first occurrence.
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return []model.Event{makeEvent(ev, ev.Start, ev.End, cfg.DisplayLocation)}, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	next := set.Iterator()
	for {
		occStart, ok := next()
		if !ok {
			return out, false
		}
		if len(out) == cfg.MaxOccurrencesPerEvent {
			return out, true
		}

		var occEnd time.Time
		if ev.AllDay {
			days := int(dur.Hours()/24 + 0.5)
			if days < 1 {
				days = 1
			}
			occEnd = occStart.AddDate(0, 0, days)
		} else {
			occEnd = occStart.Add(dur)
		}

		baseEv := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			occStart, occEnd, baseEv = o.Start, o.End, o
		}
		out = append(out, makeEvent(baseEv, occStart, occEnd, cfg.DisplayLocation))
	}
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeEvent(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Event {
	title := ev.Summary
	if title == "" {
		title = untitled
	}
	return model.Event{
		Title:       title,
		Start:       start.In(displayLoc),
		End:         end.In(displayLoc),
		Description: ev.Description,
		Color:       ev.Color,
	}
}
