// Package layout stores named overlay layout documents as JSON files.
// Documents are versioned on save but otherwise opaque: the store never
// interprets element semantics.
package layout

import "encoding/json"

// Layout is a named overlay layout document. Element configurations and
// message styling are kept as raw JSON; only the editor assigns meaning
// to them.
type Layout struct {
	Name         string                     `json:"name"`
	Version      int                        `json:"version"`
	Elements     map[string]json.RawMessage `json:"elements"`
	MessageStyle json.RawMessage            `json:"messageStyle,omitempty"`
}

// DefaultName is the layout created on first run and preferred as the
// active layout when present.
const DefaultName = "default"

// Default returns the layout written when the store directory is empty: a
// full-height chat column and a viewer counter.
func Default() Layout {
	return Layout{
		Name:    DefaultName,
		Version: 1,
		Elements: map[string]json.RawMessage{
			"chat": json.RawMessage(`{"type":"chat","position":{"x":0,"y":0},"size":{"width":"25vw","height":"100vh"},"visible":true}`),
			"viewers": json.RawMessage(`{"type":"viewers","position":{"right":0,"bottom":0},"visible":true}`),
		},
	}
}
