package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/overlaykit/chathub/internal/chat"
)

// Memory is an in-process PaidMessageStore. It backs tests and serves as
// the degraded fallback when the on-disk store cannot be opened, so a
// corrupt database never prevents startup.
type Memory struct {
	mu       sync.Mutex
	messages map[string]chat.Message
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string]chat.Message)}
}

func (m *Memory) Upsert(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (chat.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

func (m *Memory) LoadRecent(_ context.Context, maxAge time.Duration) ([]chat.Message, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	m.mu.Lock()
	var out []chat.Message
	for _, msg := range m.messages {
		if msg.ReceivedAt >= cutoff {
			out = append(out, msg)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt < out[j].ReceivedAt })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *Memory) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, msg := range m.messages {
		if msg.ReceivedAt < cutoff {
			delete(m.messages, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }
