package hub

import (
	"sort"

	"github.com/overlaykit/chathub/internal/chat"
)

// history is the bounded rolling message ring, one ring per channel, with
// a shared id index. Sticky entries (paid or featured messages) are exempt
// from eviction. Owned by the hub goroutine; no locking.
type history struct {
	limit    int
	messages map[string]chat.Message
	sticky   map[string]struct{}
	// order holds ids per channel key, oldest first.
	order map[string][]string
}

func newHistory(limit int) *history {
	return &history{
		limit:    limit,
		messages: make(map[string]chat.Message),
		sticky:   make(map[string]struct{}),
		order:    make(map[string][]string),
	}
}

// append inserts msg into its channel ring. Duplicate ids are a no-op
// unless the stored entry is a placeholder, which the new message
// replaces in position. Returns whether the message became visible.
func (h *history) append(msg chat.Message) bool {
	key := chat.ChannelKey(msg.Platform, msg.Channel)

	if existing, ok := h.messages[msg.ID]; ok {
		if !existing.IsPlaceholder {
			return false
		}
		h.messages[msg.ID] = msg
		if msg.IsPaid() {
			h.sticky[msg.ID] = struct{}{}
		}
		return true
	}

	h.messages[msg.ID] = msg
	h.order[key] = append(h.order[key], msg.ID)
	if msg.IsPaid() {
		h.sticky[msg.ID] = struct{}{}
	}

	h.evict(key)
	return true
}

// evict drops the oldest non-sticky entry while the channel ring is over
// its limit.
func (h *history) evict(key string) {
	ring := h.order[key]
	for len(ring) > h.limit {
		evicted := false
		for i, id := range ring {
			if _, isSticky := h.sticky[id]; isSticky {
				continue
			}
			delete(h.messages, id)
			ring = append(ring[:i], ring[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			// Everything is sticky; the ring may exceed its limit.
			break
		}
	}
	h.order[key] = ring
}

// remove retracts an entry by id.
func (h *history) remove(id string) bool {
	msg, ok := h.messages[id]
	if !ok {
		return false
	}
	delete(h.messages, id)
	delete(h.sticky, id)

	key := chat.ChannelKey(msg.Platform, msg.Channel)
	ring := h.order[key]
	for i, entry := range ring {
		if entry == id {
			h.order[key] = append(ring[:i], ring[i+1:]...)
			break
		}
	}
	return true
}

func (h *history) get(id string) (chat.Message, bool) {
	msg, ok := h.messages[id]
	return msg, ok
}

// markSticky pins an entry (e.g. the featured message) against eviction.
func (h *history) markSticky(id string) {
	if _, ok := h.messages[id]; ok {
		h.sticky[id] = struct{}{}
	}
}

// recent returns up to max messages across all channels, oldest first.
func (h *history) recent(max int) []chat.Message {
	out := make([]chat.Message, 0, len(h.messages))
	for _, msg := range h.messages {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt < out[j].ReceivedAt })
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

func (h *history) len() int {
	return len(h.messages)
}
