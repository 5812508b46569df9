// Package ics converts between the event list and iCalendar documents.
package ics

import (
	"slices"
	"time"

	ical "github.com/arran4/golang-ical"

	"dockycal/internal/model"
)

const (
	productID = "-//dockycal//calendar//EN"
	uidDomain = "@dockycal"
	propColor = "COLOR"
	untitled  = "Untitled"
)

// Export renders events as a VCALENDAR with one VEVENT per event, ordered
// by start. UIDs are derived from event ids so re-exports are stable.
func Export(events []model.Event, name string, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b model.Event) int {
		return a.Start.Compare(b.Start)
	})

	for _, ev := range sorted {
		vev := cal.AddEvent(ev.ID + uidDomain)
		vev.SetDtStampTime(stamp)
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.End)
		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Color != "" {
			vev.SetProperty(ical.ComponentProperty(propColor), ev.Color)
		}
	}

	return cal.Serialize()
}
