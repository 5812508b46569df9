package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPatchApplyKeepsUntouchedFields(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	ev := Event{ID: "a", Title: "Standup", Start: start, End: start.Add(time.Hour), Color: "red"}

	title := "Retro"
	out := Patch{Title: &title}.Apply(ev)

	assert.Equal(t, "a", out.ID)
	assert.Equal(t, "Retro", out.Title)
	assert.Equal(t, "red", out.Color)
	assert.Equal(t, start, out.Start)
	assert.Equal(t, "Standup", ev.Title, "original must not change")
}

func TestPatchEmpty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	color := ""
	assert.False(t, Patch{Color: &color}.Empty())
}

func TestLinked(t *testing.T) {
	assert.False(t, Event{}.Linked())
	assert.True(t, Event{ExternalEventID: "abc"}.Linked())
}
