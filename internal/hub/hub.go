// Package hub is the broadcast core: a single serializing goroutine owns
// the rolling history, viewer counts, featured message, active layout
// pointer, and the connection registry. Connection actors talk to it only
// through its command channel, so the fan-out hot path needs no locks.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/overlaykit/chathub/internal/chat"
	"github.com/overlaykit/chathub/internal/layout"
	"github.com/overlaykit/chathub/internal/proto"
	"github.com/overlaykit/chathub/internal/store"
	"github.com/overlaykit/chathub/internal/telemetry"
)

const (
	defaultHistoryLimit = 100
	defaultReplayWindow = 24 * time.Hour
	// paidRetention is the housekeeping horizon for the durable log.
	paidRetention = 48 * time.Hour
	cmdQueueSize  = 256
)

// Options configures a Hub.
type Options struct {
	Store   store.PaidMessageStore
	Layouts *layout.Store
	Rates   chat.Converter
	Render  chat.RenderFunc
	Logger  *zerolog.Logger

	// HistoryLimit bounds each channel's rolling history ring.
	HistoryLimit int
	// ReplayWindow bounds how old a persisted paid message may be and
	// still be replayed into history at startup.
	ReplayWindow time.Duration
}

// Hub owns all shared broadcast state.
type Hub struct {
	cmds chan hubCmd
	done chan struct{}

	clients  map[*Client]struct{}
	history  *history
	viewers  map[string]int
	featured *chat.Message

	norm    *chat.Normalizer
	store   store.PaidMessageStore
	layouts *layout.Store
	active  string

	persist *persister
	log     *zerolog.Logger
}

// New builds a hub, runs durable log housekeeping, and replays paid
// messages from within the replay window into the sticky history. Call
// Run to start processing.
func New(opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = defaultReplayWindow
	}
	telemetry.Init()

	h := &Hub{
		cmds:    make(chan hubCmd, cmdQueueSize),
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		history: newHistory(opts.HistoryLimit),
		viewers: make(map[string]int),
		norm:    chat.NewNormalizer(opts.Rates, opts.Render),
		store:   opts.Store,
		layouts: opts.Layouts,
		persist: newPersister(opts.Store, opts.Logger),
		log:     opts.Logger,
	}

	ctx := context.Background()
	if removed, err := h.store.DeleteOlderThan(ctx, paidRetention); err != nil {
		h.log.Warn().Err(err).Msg("paid message cleanup failed")
	} else if removed > 0 {
		h.log.Info().Int64("removed", removed).Msg("cleaned up old paid messages")
	}

	replayed, err := h.store.LoadRecent(ctx, opts.ReplayWindow)
	if err != nil {
		h.log.Warn().Err(err).Msg("paid message replay failed, starting with empty history")
	}
	for _, msg := range replayed {
		h.history.append(msg)
	}
	h.log.Info().Int("messages", len(replayed)).Msg("replayed paid messages from durable log")

	if h.layouts != nil {
		if active, err := h.layouts.Active(); err == nil {
			h.active = active
		} else {
			h.active = layout.DefaultName
		}
	}

	return h
}

// Run processes commands until ctx is cancelled, then flushes pending
// persistence work before returning.
func (h *Hub) Run(ctx context.Context) {
	persistCtx, cancelPersist := context.WithCancel(context.Background())
	go h.persist.run(persistCtx)

	defer func() {
		cancelPersist()
		h.persist.wait()
		close(h.done)
	}()

	for {
		select {
		case cmd := <-h.cmds:
			h.dispatch(cmd)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) dispatch(cmd hubCmd) {
	switch c := cmd.(type) {
	case cmdRegister:
		h.handleRegister(c.client)
	case cmdUnregister:
		h.handleUnregister(c.client)
	case cmdIngest:
		h.handleIngest(c.client, c.update)
	case cmdFeature:
		c.reply <- h.handleFeature(c.id)
	case cmdFeatured:
		c.reply <- h.featured
	case cmdRecentMessages:
		c.reply <- h.history.recent(c.max)
	case cmdViewerCounts:
		counts := make(map[string]int, len(h.viewers))
		for k, v := range h.viewers {
			counts[k] = v
		}
		c.reply <- counts
	case cmdClientCounts:
		counts := make(map[Role]int)
		for client := range h.clients {
			counts[client.Role]++
		}
		c.reply <- counts
	case cmdLayoutUpdate:
		h.handleLayoutUpdate(c.from, c.layout)
	case cmdSwitchLayout:
		c.reply <- h.handleSwitchLayout(c.name)
	case cmdSaveLayout:
		c.reply <- h.handleSaveLayout(c.name, c.layout)
	case cmdDeleteLayout:
		c.reply <- h.handleDeleteLayout(c.name)
	case cmdRequestLayout:
		h.handleRequestLayout(c.client)
	case cmdRequestLayouts:
		h.sendLayoutList(c.client)
	case cmdSubscribeLayout:
		h.handleSubscribeLayout(c.client, c.name)
	}
}

// ---- registry ----

func (h *Hub) handleRegister(c *Client) {
	h.clients[c] = struct{}{}
	telemetry.ConnectedClients.WithLabelValues(c.Role.String()).Inc()
	h.log.Debug().Str("client_id", c.ID).Str("role", c.Role.String()).Msg("client registered")
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.Close()
	telemetry.ConnectedClients.WithLabelValues(c.Role.String()).Dec()
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

// ---- ingestion ----

func (h *Hub) handleIngest(c *Client, update chat.LivestreamUpdate) {
	if c.Role != RoleProducer {
		telemetry.ProtocolErrors.Inc()
		h.log.Warn().Str("client_id", c.ID).Msg("chat ingest frame from viewer connection ignored")
		return
	}

	channel := update.Channel.String()

	for _, raw := range update.Messages {
		msg, err := h.norm.Normalize(raw, update.Platform, channel)
		if err != nil {
			telemetry.ValidationErrors.Inc()
			h.log.Warn().Err(err).Str("platform", update.Platform).Msg("dropped invalid chat message")
			continue
		}

		if !h.history.append(msg) {
			// Duplicate delivery of a known id; history and the
			// durable log already hold it.
			continue
		}
		telemetry.MessagesIngested.Inc()
		h.log.Info().Msg(msg.ConsoleString())

		if msg.IsPaid() {
			h.persist.enqueue(upsertOp(msg))
		}
		h.broadcastPayload(proto.TagChatMessage, msg)
	}

	for _, id := range update.Removals {
		h.handleRemoval(id)
	}

	if update.Viewers != nil {
		h.handleViewers(chat.ChannelKey(update.Platform, channel), *update.Viewers)
	}
}

func (h *Hub) handleRemoval(id string) {
	if !h.history.remove(id) {
		h.log.Debug().Str("id", id).Msg("removal for unknown message")
	}
	h.persist.enqueue(deleteOp(id))

	if h.featured != nil && h.featured.ID == id {
		h.featured = nil
	}
	h.broadcastPayload(proto.TagRemoveMessage, id)
}

func (h *Hub) handleViewers(key string, viewers int) {
	if old, ok := h.viewers[key]; ok && old == viewers {
		return
	}
	h.viewers[key] = viewers

	total := 0
	for _, v := range h.viewers {
		total += v
	}
	telemetry.TotalViewers.Set(float64(total))

	h.broadcastPayload(proto.TagViewers, h.viewers)
}

// ---- featured message ----

func (h *Hub) handleFeature(id *string) *chat.Message {
	if id == nil {
		h.featured = nil
		h.broadcastPayload(proto.TagFeatureMessage, nil)
		return nil
	}

	msg, ok := h.history.get(*id)
	if !ok {
		// Fall back to the durable log for older paid messages.
		stored, found, err := h.store.Get(context.Background(), *id)
		if err != nil || !found {
			h.log.Warn().Str("id", *id).Msg("featured message not found in history or log")
			return h.featured
		}
		msg = stored
	}

	h.featured = &msg
	h.history.markSticky(msg.ID)
	h.broadcastPayload(proto.TagFeatureMessage, msg)
	return h.featured
}

// ---- layouts ----

func (h *Hub) handleLayoutUpdate(from *Client, l layout.Layout) {
	if l.Name == "" {
		l.Name = h.active
	}
	if err := h.layouts.Save(l.Name, l); err != nil {
		h.log.Warn().Err(err).Str("layout", l.Name).Msg("failed to persist layout update")
	}
	saved, err := h.layouts.Get(l.Name)
	if err != nil {
		saved = l
	}
	h.broadcastLayout(saved, from)
}

func (h *Hub) handleSwitchLayout(name string) error {
	l, err := h.layouts.Get(name)
	if err != nil {
		return err
	}
	if err := h.layouts.SetActive(name); err != nil {
		return err
	}
	h.active = name
	h.log.Info().Str("layout", name).Msg("switched active layout")
	h.broadcastLayout(l, nil)
	return nil
}

func (h *Hub) handleSaveLayout(name string, l layout.Layout) error {
	if err := h.layouts.Save(name, l); err != nil {
		return err
	}
	saved, err := h.layouts.Get(name)
	if err != nil {
		saved = l
		saved.Name = name
	}
	h.broadcastLayout(saved, nil)
	h.broadcastLayoutList()
	return nil
}

func (h *Hub) handleDeleteLayout(name string) error {
	if err := h.layouts.Delete(name); err != nil {
		return err
	}
	h.broadcastLayoutList()
	return nil
}

func (h *Hub) handleRequestLayout(c *Client) {
	l, err := h.layouts.Get(h.active)
	if err != nil {
		l = layout.Default()
	}
	h.sendPayload(c, proto.TagLayoutUpdate, l)
}

func (h *Hub) sendLayoutList(c *Client) {
	names, err := h.layouts.List()
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to list layouts")
		return
	}
	h.sendPayload(c, proto.TagLayoutList, proto.LayoutList{Layouts: names, Active: h.active})
}

func (h *Hub) broadcastLayoutList() {
	names, err := h.layouts.List()
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to list layouts")
		return
	}
	h.broadcastPayload(proto.TagLayoutList, proto.LayoutList{Layouts: names, Active: h.active})
}

func (h *Hub) handleSubscribeLayout(c *Client, name string) {
	c.subscribedLayout = name
	if l, err := h.layouts.Get(name); err == nil {
		h.sendPayload(c, proto.TagLayoutUpdate, l)
	} else {
		h.log.Warn().Str("layout", name).Msg("subscription to unknown layout")
	}
}

// ---- fan-out ----

// broadcastLayout delivers a layout_update to viewers, honoring per-
// client layout subscriptions, and skips the originating connection.
func (h *Hub) broadcastLayout(l layout.Layout, from *Client) {
	env, err := proto.NewEnvelope(proto.TagLayoutUpdate, l)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to serialize layout envelope")
		return
	}

	var evict []*Client
	for c := range h.clients {
		if c == from || c.Role != RoleViewer {
			continue
		}
		if c.subscribedLayout != "" && c.subscribedLayout != l.Name {
			continue
		}
		if !h.deliver(c, env) {
			evict = append(evict, c)
		}
	}
	h.evictAll(evict)
}

// broadcastPayload serializes payload once and fans it out to every
// viewer connection.
func (h *Hub) broadcastPayload(tag string, payload any) {
	env, err := proto.NewEnvelope(tag, payload)
	if err != nil {
		h.log.Error().Err(err).Str("tag", tag).Msg("failed to serialize envelope")
		return
	}

	var evict []*Client
	for c := range h.clients {
		if c.Role != RoleViewer {
			continue
		}
		if !h.deliver(c, env) {
			evict = append(evict, c)
		}
	}
	h.evictAll(evict)
}

func (h *Hub) sendPayload(c *Client, tag string, payload any) {
	env, err := proto.NewEnvelope(tag, payload)
	if err != nil {
		h.log.Error().Err(err).Str("tag", tag).Msg("failed to serialize envelope")
		return
	}
	if !h.deliver(c, env) {
		h.evictAll([]*Client{c})
	}
}

// deliver enqueues without blocking. Non-critical envelopes go to the
// one-slot viewers channel, replacing any stale one still queued so a
// backlogged viewer always sees the newest count. A full queue on a
// critical envelope reports the connection for eviction so one slow
// viewer never stalls the rest.
func (h *Hub) deliver(c *Client, env proto.Envelope) bool {
	if !env.Critical() {
		select {
		case <-c.viewers:
			telemetry.EnvelopesDropped.Inc()
		default:
		}
		// Cannot block: the slot was just cleared and only the hub
		// goroutine sends here.
		c.viewers <- env
		return true
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (h *Hub) evictAll(clients []*Client) {
	for _, c := range clients {
		h.log.Warn().Str("client_id", c.ID).Msg("evicting slow viewer with full outbound queue")
		telemetry.ClientsEvicted.Inc()
		h.handleUnregister(c)
	}
}

// ---- public API (called from connection actors and HTTP handlers) ----

// ErrStopped is returned when the hub is no longer running.
var ErrStopped = errors.New("hub stopped")

func (h *Hub) do(cmd hubCmd) bool {
	select {
	case h.cmds <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// Register adds a connection to the registry.
func (h *Hub) Register(c *Client) { h.do(cmdRegister{client: c}) }

// Unregister removes a connection and closes its handle.
func (h *Hub) Unregister(c *Client) { h.do(cmdUnregister{client: c}) }

// Ingest submits a producer update. Updates from one connection are
// applied in submission order.
func (h *Hub) Ingest(c *Client, update chat.LivestreamUpdate) {
	h.do(cmdIngest{client: c, update: update})
}

// Feature sets (or clears, with nil) the featured message and returns the
// new value.
func (h *Hub) Feature(id *string) (*chat.Message, error) {
	reply := make(chan *chat.Message, 1)
	if !h.do(cmdFeature{id: id, reply: reply}) {
		return nil, ErrStopped
	}
	return <-reply, nil
}

// Featured returns the currently featured message, if any.
func (h *Hub) Featured() (*chat.Message, error) {
	reply := make(chan *chat.Message, 1)
	if !h.do(cmdFeatured{reply: reply}) {
		return nil, ErrStopped
	}
	return <-reply, nil
}

// RecentMessages returns up to max merged history entries, oldest first.
func (h *Hub) RecentMessages(max int) ([]chat.Message, error) {
	reply := make(chan []chat.Message, 1)
	if !h.do(cmdRecentMessages{max: max, reply: reply}) {
		return nil, ErrStopped
	}
	return <-reply, nil
}

// PaidMessages reads the durable log directly; it does not touch hub
// state.
func (h *Hub) PaidMessages(ctx context.Context, maxAge time.Duration) ([]chat.Message, error) {
	return h.store.LoadRecent(ctx, maxAge)
}

// ViewerCounts returns a copy of the per-channel viewer counts.
func (h *Hub) ViewerCounts() (map[string]int, error) {
	reply := make(chan map[string]int, 1)
	if !h.do(cmdViewerCounts{reply: reply}) {
		return nil, ErrStopped
	}
	return <-reply, nil
}

// ClientCounts returns the number of registered connections per role.
func (h *Hub) ClientCounts() (map[Role]int, error) {
	reply := make(chan map[Role]int, 1)
	if !h.do(cmdClientCounts{reply: reply}) {
		return nil, ErrStopped
	}
	return <-reply, nil
}

// LayoutUpdate persists a live-edited layout and rebroadcasts it to every
// other viewer.
func (h *Hub) LayoutUpdate(from *Client, l layout.Layout) {
	h.do(cmdLayoutUpdate{from: from, layout: l})
}

// SwitchLayout activates a stored layout and broadcasts it.
func (h *Hub) SwitchLayout(name string) error {
	reply := make(chan error, 1)
	if !h.do(cmdSwitchLayout{name: name, reply: reply}) {
		return ErrStopped
	}
	return <-reply
}

// SaveLayout creates or replaces a layout and broadcasts the result.
func (h *Hub) SaveLayout(name string, l layout.Layout) error {
	reply := make(chan error, 1)
	if !h.do(cmdSaveLayout{name: name, layout: l, reply: reply}) {
		return ErrStopped
	}
	return <-reply
}

// DeleteLayout removes a non-active layout.
func (h *Hub) DeleteLayout(name string) error {
	reply := make(chan error, 1)
	if !h.do(cmdDeleteLayout{name: name, reply: reply}) {
		return ErrStopped
	}
	return <-reply
}

// RequestLayout queues the active layout for delivery to c.
func (h *Hub) RequestLayout(c *Client) { h.do(cmdRequestLayout{client: c}) }

// RequestLayouts queues the layout list for delivery to c.
func (h *Hub) RequestLayouts(c *Client) { h.do(cmdRequestLayouts{client: c}) }

// SubscribeLayout narrows c's layout updates to one named layout.
func (h *Hub) SubscribeLayout(c *Client, name string) {
	h.do(cmdSubscribeLayout{client: c, name: name})
}
