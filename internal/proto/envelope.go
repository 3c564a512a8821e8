// Package proto defines the JSON frames exchanged with producer and
// viewer connections.
package proto

import (
	"encoding/json"

	"github.com/overlaykit/chathub/internal/layout"
)

// Outbound envelope tags.
const (
	TagChatMessage    = "chat_message"
	TagFeatureMessage = "feature_message"
	TagRemoveMessage  = "remove_message"
	TagViewers        = "viewers"
	TagLayoutUpdate   = "layout_update"
	TagLayoutList     = "layout_list"
)

// Envelope is the outbound frame: a tag discriminator and the payload
// pre-serialized as a JSON string, matching what overlay clients expect.
type Envelope struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// NewEnvelope serializes payload and wraps it under tag.
func NewEnvelope(tag string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Tag: tag, Message: string(data)}, nil
}

// Critical reports whether the envelope must never be silently dropped on
// a slow connection. Stale viewer counts may be; chat content may not.
func (e Envelope) Critical() bool {
	return e.Tag != TagViewers
}

// SaveLayout is the payload of the save_layout control frame.
type SaveLayout struct {
	Name   string        `json:"name"`
	Layout layout.Layout `json:"layout"`
}

// LayoutList is the payload of the layout_list envelope.
type LayoutList struct {
	Layouts []string `json:"layouts"`
	Active  string   `json:"active"`
}
