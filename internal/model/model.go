package model

import "time"

// ImportedColor is the accent color given to events imported from the
// external provider.
const ImportedColor = "oklch(0.60 0.20 140)"

// Palette lists the colors offered when creating an event. The first entry
// is the default.
var Palette = []string{
	"oklch(0.55 0.22 264)",
	"oklch(0.63 0.24 25)",
	"oklch(0.70 0.17 70)",
	ImportedColor,
	"oklch(0.55 0.20 300)",
}

// Event is a single calendar entry. Recurring series are materialized into
// independent Events at creation time, so there is no series linkage.
type Event struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`

	// Start / End are interpreted in the user's display timezone.
	// Start <= End is expected but not enforced.
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Color is empty when the event has no distinguishing color.
	Color string `json:"color,omitempty" yaml:"color,omitempty"`

	// ExternalEventID links the event to a record in the provider's
	// calendar. Empty means local-only.
	ExternalEventID string `json:"externalEventId,omitempty" yaml:"external_event_id,omitempty"`
}

// Linked reports whether the event is backed by a provider record.
func (e Event) Linked() bool {
	return e.ExternalEventID != ""
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title           *string    `json:"title,omitempty"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Color           *string    `json:"color,omitempty"`
	ExternalEventID *string    `json:"externalEventId,omitempty"`
}

// Apply returns a copy of e with the patch merged in. The ID never changes.
func (p Patch) Apply(e Event) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	if p.ExternalEventID != nil {
		e.ExternalEventID = *p.ExternalEventID
	}
	return e
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Start == nil && p.End == nil &&
		p.Description == nil && p.Color == nil && p.ExternalEventID == nil
}
