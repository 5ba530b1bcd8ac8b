package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/notify"
)

// handleNotifications handles GET /ws/notifications. Each connection
// receives every event published on the bus until it disconnects or the
// server shuts down.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeJSONError(w, r, "notifications are not configured", http.StatusServiceUnavailable)
		return
	}
	log := logging.FromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Warn("ws: upgrade failed", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopAfter := context.AfterFunc(s.streams, cancel)
	defer stopAfter()

	client := notify.NewWSClient(conn, notify.DefaultSendBuffer, log, s.cfg.NotifyMetrics)
	s.cfg.NotifyMetrics.ClientConnected(1)
	unsubscribe := s.deps.Bus.Subscribe(notify.AllEvents, client.Deliver)
	log.Info("ws: client connected", slog.String("remote", r.RemoteAddr))

	client.Run(ctx)

	unsubscribe()
	s.cfg.NotifyMetrics.ClientConnected(-1)
	log.Info("ws: client disconnected", slog.String("remote", r.RemoteAddr))
}
