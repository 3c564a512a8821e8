package proto

import (
	"testing"
)

func TestDecodeFrameKinds(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind FrameKind
	}{
		{"messages", `{"platform":"twitch","channel":"c","messages":[{"username":"a","message":"hi"}]}`, FrameUpdate},
		{"removals only", `{"removals":["id-1"]}`, FrameUpdate},
		{"viewers only", `{"viewers":42}`, FrameUpdate},
		{"numeric channel", `{"channel":12345,"viewers":1}`, FrameUpdate},
		{"feature", `{"feature_message":"some-id"}`, FrameFeature},
		{"feature clear", `{"feature_message":null}`, FrameFeature},
		{"layout update", `{"layout_update":{"name":"default"}}`, FrameLayoutUpdate},
		{"switch", `{"switch_layout":"alt"}`, FrameSwitchLayout},
		{"save", `{"save_layout":{"name":"alt","layout":{}}}`, FrameSaveLayout},
		{"delete", `{"delete_layout":"alt"}`, FrameDeleteLayout},
		{"request layout", `{"request_layout":true}`, FrameRequestLayout},
		{"request layouts", `{"request_layouts":true}`, FrameRequestLayouts},
		{"subscribe", `{"subscribe_layout":"alt"}`, FrameSubscribeLayout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tc.in))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame.Kind != tc.kind {
				t.Fatalf("kind %v, want %v", frame.Kind, tc.kind)
			}
		})
	}
}

func TestDecodeFrameFeatureID(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"feature_message":"some-id"}`))
	if err != nil {
		t.Fatal(err)
	}
	if frame.FeatureID == nil || *frame.FeatureID != "some-id" {
		t.Fatalf("feature id: %v", frame.FeatureID)
	}

	frame, err = DecodeFrame([]byte(`{"feature_message":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if frame.FeatureID != nil {
		t.Fatalf("clear must carry a nil id, got %q", *frame.FeatureID)
	}
}

func TestDecodeFrameRejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not json", `not json at all`},
		{"not an object", `[1,2,3]`},
		{"unknown keys", `{"bogus":true}`},
		{"save without name", `{"save_layout":{"layout":{}}}`},
		{"empty switch name", `{"switch_layout":""}`},
		{"malformed messages", `{"messages":"nope"}`},
		{"empty update", `{"messages":[],"removals":[]}`},
		{"null viewers only", `{"viewers":null}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeFrame([]byte(tc.in)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestEnvelopeCritical(t *testing.T) {
	for tag, critical := range map[string]bool{
		TagChatMessage:    true,
		TagFeatureMessage: true,
		TagRemoveMessage:  true,
		TagLayoutUpdate:   true,
		TagLayoutList:     true,
		TagViewers:        false,
	} {
		env := Envelope{Tag: tag}
		if env.Critical() != critical {
			t.Fatalf("tag %s critical=%v, want %v", tag, env.Critical(), critical)
		}
	}
}

func TestEnvelopePayloadIsJSONString(t *testing.T) {
	env, err := NewEnvelope(TagViewers, map[string]int{"twitch/c": 10})
	if err != nil {
		t.Fatal(err)
	}
	if env.Message != `{"twitch/c":10}` {
		t.Fatalf("payload %q", env.Message)
	}
}
