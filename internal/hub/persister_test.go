package hub

import (
	"context"
	"testing"
	"time"

	"github.com/overlaykit/chathub/internal/chat"
	"github.com/overlaykit/chathub/internal/store"
	"github.com/overlaykit/chathub/internal/telemetry"
)

func TestDrainWritesQueuedOps(t *testing.T) {
	telemetry.Init()
	st := store.NewMemory()
	p := newPersister(st, zerologNop())

	msg := chat.NewMessage()
	msg.Username = "alice"
	msg.Message = "tip"
	msg.Amount = 5
	p.enqueue(upsertOp(msg))

	p.drain()

	_, found, err := st.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("queued write lost at shutdown")
	}
}

func TestDrainSkipsStaleOps(t *testing.T) {
	telemetry.Init()
	st := store.NewMemory()
	p := newPersister(st, zerologNop())

	stale := chat.NewMessage()
	stale.Username = "bob"
	stale.Message = "old tip"
	stale.Amount = 5
	op := upsertOp(stale)
	op.enqueuedAt = time.Now().Add(-2 * shutdownStaleAfter)
	p.queue <- op

	fresh := chat.NewMessage()
	fresh.Username = "alice"
	fresh.Message = "new tip"
	fresh.Amount = 5
	p.enqueue(upsertOp(fresh))

	p.drain()

	if _, found, _ := st.Get(context.Background(), stale.ID); found {
		t.Fatal("stale op was written instead of skipped")
	}
	if _, found, _ := st.Get(context.Background(), fresh.ID); !found {
		t.Fatal("fresh op lost at shutdown")
	}
}
