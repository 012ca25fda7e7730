package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 32768,
	// The viewer is a separate origin in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	watchInterval = time.Second
	watchWriteTO  = 10 * time.Second
)

// handleWatch streams world snapshots over a websocket. Every frame also
// refreshes last_viewed, which is what keeps the world from idling out.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("world")

	row, err := s.worlds.Load(r.Context(), worldID)
	if err != nil || row == nil {
		writeError(w, http.StatusNotFound, "no such world")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are seen.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Info("viewer connected", zap.String("world", worldID), zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if err := s.worlds.TouchLastViewed(r.Context(), worldID); err != nil {
			s.log.Warn("touch last viewed", zap.String("world", worldID), zap.Error(err))
		}
		row, err := s.worlds.Load(r.Context(), worldID)
		if err != nil || row == nil {
			return
		}
		if len(row.Snapshot) == 0 {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(watchWriteTO))
		if err := conn.WriteMessage(websocket.TextMessage, row.Snapshot); err != nil {
			s.log.Debug("viewer disconnected", zap.String("world", worldID), zap.Error(err))
			return
		}
	}
}
