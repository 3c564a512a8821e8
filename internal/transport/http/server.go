package http

import (
	"encoding/json"
	"fmt"
	stdhttp "net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/overlaykit/chathub/internal/config"
	"github.com/overlaykit/chathub/internal/hub"
	"github.com/overlaykit/chathub/internal/layout"
	"github.com/overlaykit/chathub/internal/proto"
)

// NewServer builds the HTTP server: the WebSocket endpoint plus a small
// ops surface.
func NewServer(h *hub.Hub, layouts *layout.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	mux := stdhttp.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/ws", NewWSHandler(h, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /layouts", layoutsHandler(layouts, logger))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	_, _ = fmt.Fprint(w, "ok")
}

func layoutsHandler(layouts *layout.Store, logger *zerolog.Logger) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		names, err := layouts.List()
		if err != nil {
			logger.Error().Err(err).Msg("list layouts")
			stdhttp.Error(w, "internal error", stdhttp.StatusInternalServerError)
			return
		}
		active, err := layouts.Active()
		if err != nil {
			active = layout.DefaultName
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(proto.LayoutList{Layouts: names, Active: active})
	}
}
