package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/overlaykit/chathub/internal/hub"
	"github.com/overlaykit/chathub/internal/proto"
	"github.com/overlaykit/chathub/internal/telemetry"
)

// Heartbeat cadence. Any inbound frame or answered ping counts as
// liveness; a connection silent past clientTimeout is dropped. Vars so
// tests can shorten them.
var (
	heartbeatInterval = time.Second
	clientTimeout     = 5 * time.Second
)

var errLivenessExpired = errors.New("liveness deadline expired")

// WSHandler upgrades HTTP connections and bridges them to hub.Client.
type WSHandler struct {
	hub *hub.Hub
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(h *hub.Hub, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: h, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	role := hub.RoleViewer
	if r.URL.Query().Get("role") == "producer" {
		role = hub.RoleProducer
	}

	client := hub.NewClient(role)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastActive atomic.Int64
	lastActive.Store(time.Now().UnixNano())
	touch := func() { lastActive.Store(time.Now().UnixNano()) }

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, touch)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.heartbeat(ctx, conn, client, &lastActive, touch)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case errors.Is(err, errLivenessExpired):
		status = websocket.StatusGoingAway
		reason = "liveness deadline expired"
	case err != nil && !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client, touch func()) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		touch()

		frame, err := proto.DecodeFrame(data)
		if err != nil {
			telemetry.ProtocolErrors.Inc()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("rejected inbound frame")
			continue
		}
		h.dispatch(client, frame)
	}
}

// dispatch routes one decoded frame into the hub. Role enforcement for
// chat ingestion lives in the hub itself.
func (h *WSHandler) dispatch(client *hub.Client, frame proto.Frame) {
	switch frame.Kind {
	case proto.FrameUpdate:
		h.hub.Ingest(client, frame.Update)
	case proto.FrameFeature:
		if _, err := h.hub.Feature(frame.FeatureID); err != nil {
			h.log.Warn().Err(err).Msg("feature command failed")
		}
	case proto.FrameLayoutUpdate:
		h.hub.LayoutUpdate(client, frame.Layout)
	case proto.FrameSwitchLayout:
		if err := h.hub.SwitchLayout(frame.LayoutName); err != nil {
			h.log.Warn().Err(err).Str("layout", frame.LayoutName).Msg("switch_layout failed")
		}
	case proto.FrameSaveLayout:
		if err := h.hub.SaveLayout(frame.Save.Name, frame.Save.Layout); err != nil {
			h.log.Warn().Err(err).Str("layout", frame.Save.Name).Msg("save_layout failed")
		}
	case proto.FrameDeleteLayout:
		if err := h.hub.DeleteLayout(frame.LayoutName); err != nil {
			h.log.Warn().Err(err).Str("layout", frame.LayoutName).Msg("delete_layout failed")
		}
	case proto.FrameRequestLayout:
		h.hub.RequestLayout(client)
	case proto.FrameRequestLayouts:
		h.hub.RequestLayouts(client)
	case proto.FrameSubscribeLayout:
		h.hub.SubscribeLayout(client, frame.LayoutName)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) error {
	for {
		select {
		case env := <-client.Outbox():
			if err := wsjson.Write(ctx, conn, env); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws envelope")
				return err
			}
		case env := <-client.ViewerUpdates():
			if err := wsjson.Write(ctx, conn, env); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws envelope")
				return err
			}
		case <-client.Closed():
			return fmt.Errorf("connection evicted")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// heartbeat pings on a fixed cadence and enforces the liveness deadline.
func (h *WSHandler) heartbeat(ctx context.Context, conn *websocket.Conn, client *hub.Client, lastActive *atomic.Int64, touch func()) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastActive.Load()))
			if idle > clientTimeout {
				telemetry.ClientsEvicted.Inc()
				h.log.Warn().Str("client_id", client.ID).Dur("idle", idle).Msg("dropping unresponsive connection")
				return errLivenessExpired
			}
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				touch()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
