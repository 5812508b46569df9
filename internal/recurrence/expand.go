package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"dockycal/internal/dates"
	appLog "dockycal/internal/log"
	"dockycal/internal/model"
)

// MaxOccurrences bounds a single expansion regardless of Until.
const MaxOccurrences = 366

// Frequency is the repetition period of a Rule.
type Frequency string

const (
	None    Frequency = "none"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency maps user input onto a Frequency. Unknown or empty input
// yields None.
func ParseFrequency(s string) Frequency {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case Daily:
		return Daily
	case Weekly:
		return Weekly
	case Monthly:
		return Monthly
	default:
		return None
	}
}

// Rule is a transient repetition request. It is consumed by Expand and
// never stored.
type Rule struct {
	Frequency Frequency `json:"frequency"`
	// Until is the last day (inclusive) on which an occurrence may start,
	// as "YYYY-MM-DD".
	Until string `json:"until"`
}

// UntilIn returns the end of the Until day in loc. ok is false when Until
// is missing or malformed.
func (r Rule) UntilIn(loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(r.Until)
	if s == "" {
		return time.Time{}, false
	}
	day, err := dates.ParseDate(s, loc)
	if err != nil {
		// Accept full timestamps too, keeping only their date.
		ts, tsErr := time.Parse(time.RFC3339, s)
		if tsErr != nil {
			return time.Time{}, false
		}
		day = ts.In(loc)
	}
	return dates.EndOfDay(day), true
}

func (f Frequency) rruleFreq() (rrule.Frequency, bool) {
	switch f {
	case Daily:
		return rrule.DAILY, true
	case Weekly:
		return rrule.WEEKLY, true
	case Monthly:
		return rrule.MONTHLY, true
	default:
		return 0, false
	}
}

// Expand materializes base into the occurrences described by rule, in
// increasing start order. Occurrences are independent values with the
// same title, description, color and duration as base; IDs are left for
// the caller to assign.
//
// With no frequency or an unusable Until the result is just base. An
// Until that precedes base.Start yields no occurrences.
func Expand(base model.Event, rule Rule) []model.Event {
	freq, ok := ParseFrequency(string(rule.Frequency)).rruleFreq()
	if !ok {
		return []model.Event{base}
	}
	loc := base.Start.Location()
	until, ok := rule.UntilIn(loc)
	if !ok {
		appLog.Info("recurrence: until unusable, creating single event", "until", rule.Until)
		return []model.Event{base}
	}

	if freq == rrule.MONTHLY {
		return monthly(base, until, rule)
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    freq,
		Dtstart: base.Start,
		Until:   until,
	})
	if err != nil {
		appLog.Error("recurrence: failed to build rule", err, "frequency", rule.Frequency)
		return []model.Event{base}
	}

	// rrule works at second precision.
	subSecond := time.Duration(base.Start.Nanosecond())

	out := make([]model.Event, 0)
	next := r.Iterator()
	for len(out) < MaxOccurrences {
		start, more := next()
		if !more {
			break
		}
		start = start.Add(subSecond)
		out = append(out, occurrence(base, start))
	}

	if len(out) == MaxOccurrences {
		if _, more := next(); more {
			logTruncated(base, rule)
		}
	}
	return out
}

// monthly steps one calendar month at a time from the previous
// occurrence. A day missing from the next month rolls over into the one
// after, so a series started on the 31st drifts to the 2nd or 3rd.
func monthly(base model.Event, until time.Time, rule Rule) []model.Event {
	out := make([]model.Event, 0)
	start, end := base.Start, base.End
	for !start.After(until) {
		if len(out) == MaxOccurrences {
			logTruncated(base, rule)
			break
		}
		occ := base
		occ.Start, occ.End = start, end
		out = append(out, occ)

		start = start.AddDate(0, 1, 0)
		end = end.AddDate(0, 1, 0)
	}
	return out
}

func logTruncated(base model.Event, rule Rule) {
	appLog.Info("recurrence: series truncated at cap",
		"title", base.Title,
		"cap", MaxOccurrences,
		"until", rule.Until,
	)
}

// occurrence shifts base.End by the same number of days that separates
// start from base.Start, so both ends keep their wall-clock times.
func occurrence(base model.Event, start time.Time) model.Event {
	occ := base
	occ.Start = start
	occ.End = dates.AddDays(base.End, daysBetween(base.Start, start))
	return occ
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
