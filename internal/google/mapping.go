package google

import (
	"time"

	"google.golang.org/api/calendar/v3"

	"dockycal/internal/model"
)

// IDPrefix marks local ids of imported provider events.
const IDPrefix = "google-"

// ToEvent maps a provider event onto a local one. Date-only endpoints are
// placed at midnight in loc. ok is false when either endpoint has neither
// a dateTime nor a date.
func ToEvent(src *calendar.Event, loc *time.Location) (model.Event, bool) {
	if src == nil {
		return model.Event{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	start, ok := eventTime(src.Start, loc)
	if !ok {
		return model.Event{}, false
	}
	end, ok := eventTime(src.End, loc)
	if !ok {
		return model.Event{}, false
	}

	title := src.Summary
	if title == "" {
		title = "Untitled"
	}
	return model.Event{
		ID:              IDPrefix + src.Id,
		Title:           title,
		Start:           start,
		End:             end,
		Description:     src.Description,
		Color:           model.ImportedColor,
		ExternalEventID: src.Id,
	}, true
}

// ToEvents maps a batch, dropping events without usable times.
func ToEvents(src []*calendar.Event, loc *time.Location) []model.Event {
	out := make([]model.Event, 0, len(src))
	for _, e := range src {
		if ev, ok := ToEvent(e, loc); ok {
			out = append(out, ev)
		}
	}
	return out
}

func eventTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t.In(loc), true
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
