package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaykit/chathub/internal/chat"
	"github.com/overlaykit/chathub/internal/layout"
	"github.com/overlaykit/chathub/internal/proto"
	"github.com/overlaykit/chathub/internal/store"
)

func zerologNop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// staticRates is a fixed conversion table for tests.
type staticRates map[string]float64

func (r staticRates) Convert(amount float64, currency string) (float64, bool) {
	rate, ok := r[currency]
	if !ok {
		return amount, false
	}
	return amount * rate, true
}

func newTestHub(t *testing.T, st store.PaidMessageStore) *Hub {
	t.Helper()

	logger := zerolog.Nop()
	if st == nil {
		st = store.NewMemory()
	}
	layouts, err := layout.NewStore(t.TempDir(), &logger)
	if err != nil {
		t.Fatalf("layout store: %v", err)
	}

	h := New(Options{
		Store:   st,
		Layouts: layouts,
		Rates:   staticRates{"USD": 1, "EUR": 1.08},
		Logger:  &logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

// mustEnvelope drains the client's outbox and viewers slot until an
// envelope with the wanted tag arrives.
func mustEnvelope(t *testing.T, c *Client, tag string) proto.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case env := <-c.Outbox():
			if env.Tag == tag {
				return env
			}
		case env := <-c.ViewerUpdates():
			if env.Tag == tag {
				return env
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected envelope %q not received", tag)
	return proto.Envelope{}
}

func decodePayload(t *testing.T, env proto.Envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal([]byte(env.Message), dst); err != nil {
		t.Fatalf("decode %s payload: %v", env.Tag, err)
	}
}

func testMessage(username, text string) chat.Message {
	return chat.Message{Username: username, Message: text}
}
