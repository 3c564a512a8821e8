package proto

import (
	"encoding/json"
	"fmt"

	"github.com/overlaykit/chathub/internal/chat"
	"github.com/overlaykit/chathub/internal/layout"
)

// FrameKind discriminates an inbound frame after decoding.
type FrameKind int

const (
	// FrameUnknown is an unparseable or unrecognized frame.
	FrameUnknown FrameKind = iota
	// FrameUpdate is a producer LivestreamUpdate.
	FrameUpdate
	// FrameFeature sets or clears the featured message.
	FrameFeature
	// FrameLayoutUpdate persists and rebroadcasts a layout document.
	FrameLayoutUpdate
	// FrameSwitchLayout switches the active layout.
	FrameSwitchLayout
	// FrameSaveLayout creates or replaces a named layout.
	FrameSaveLayout
	// FrameDeleteLayout deletes a named layout.
	FrameDeleteLayout
	// FrameRequestLayout asks for the active layout.
	FrameRequestLayout
	// FrameRequestLayouts asks for the layout name list.
	FrameRequestLayouts
	// FrameSubscribeLayout narrows the connection to one layout's updates.
	FrameSubscribeLayout
)

// Frame is one decoded inbound frame. Only the fields relevant to Kind
// are populated.
type Frame struct {
	Kind FrameKind

	Update LivestreamUpdate

	// FeatureID is nil when the frame clears the featured message.
	FeatureID *string

	Layout     layout.Layout
	LayoutName string
	Save       SaveLayout
}

// LivestreamUpdate mirrors chat.LivestreamUpdate at the wire boundary.
type LivestreamUpdate = chat.LivestreamUpdate

// DecodeFrame validates the shape of one inbound JSON frame and maps it to
// a tagged variant. Shape problems return an error; the caller rejects the
// single frame and keeps the connection open.
func DecodeFrame(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, fmt.Errorf("frame is not a JSON object: %w", err)
	}

	has := func(key string) bool {
		_, ok := fields[key]
		return ok
	}

	switch {
	case has("messages") || has("removals") || has("viewers"):
		var frame Frame
		frame.Kind = FrameUpdate
		if err := json.Unmarshal(data, &frame.Update); err != nil {
			return Frame{}, fmt.Errorf("malformed livestream update: %w", err)
		}
		if frame.Update.Empty() {
			return Frame{}, fmt.Errorf("livestream update carries no payload")
		}
		return frame, nil

	case has("feature_message"):
		var cmd struct {
			FeatureMessage *string `json:"feature_message"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil {
			return Frame{}, fmt.Errorf("malformed feature command: %w", err)
		}
		return Frame{Kind: FrameFeature, FeatureID: cmd.FeatureMessage}, nil

	case has("layout_update"):
		var l layout.Layout
		if err := json.Unmarshal(fields["layout_update"], &l); err != nil {
			return Frame{}, fmt.Errorf("malformed layout update: %w", err)
		}
		return Frame{Kind: FrameLayoutUpdate, Layout: l}, nil

	case has("switch_layout"):
		name, err := decodeName(fields["switch_layout"])
		if err != nil {
			return Frame{}, fmt.Errorf("malformed switch_layout: %w", err)
		}
		return Frame{Kind: FrameSwitchLayout, LayoutName: name}, nil

	case has("save_layout"):
		var save SaveLayout
		if err := json.Unmarshal(fields["save_layout"], &save); err != nil {
			return Frame{}, fmt.Errorf("malformed save_layout: %w", err)
		}
		if save.Name == "" {
			return Frame{}, fmt.Errorf("save_layout requires a name")
		}
		return Frame{Kind: FrameSaveLayout, Save: save}, nil

	case has("delete_layout"):
		name, err := decodeName(fields["delete_layout"])
		if err != nil {
			return Frame{}, fmt.Errorf("malformed delete_layout: %w", err)
		}
		return Frame{Kind: FrameDeleteLayout, LayoutName: name}, nil

	case has("request_layout"):
		return Frame{Kind: FrameRequestLayout}, nil

	case has("request_layouts"):
		return Frame{Kind: FrameRequestLayouts}, nil

	case has("subscribe_layout"):
		name, err := decodeName(fields["subscribe_layout"])
		if err != nil {
			return Frame{}, fmt.Errorf("malformed subscribe_layout: %w", err)
		}
		return Frame{Kind: FrameSubscribeLayout, LayoutName: name}, nil
	}

	return Frame{}, fmt.Errorf("unrecognized frame")
}

func decodeName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("empty layout name")
	}
	return name, nil
}
