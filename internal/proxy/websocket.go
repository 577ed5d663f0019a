// Package proxy bridges client WebSocket connections to a session worker's
// CDP endpoint for live debugging.
package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/webpilot/webpilot/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionDirectory resolves a session id to its worker's CDP endpoint.
type SessionDirectory interface {
	ControlURL(sessionID string) (string, error)
}

// Server proxies debug WebSocket traffic between clients and workers.
type Server struct {
	sessions SessionDirectory
	log      *zap.Logger
}

// NewServer builds a debug proxy over the given session directory.
func NewServer(sessions SessionDirectory, log *zap.Logger) *Server {
	return &Server{sessions: sessions, log: log}
}

// HandleDebugConnection upgrades the request and relays CDP messages in
// both directions until either side closes.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	controlURL, err := s.sessions.ControlURL(sessionID)
	if err != nil {
		http.Error(w, "session not found", models.HTTPStatus(err))
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("debug upgrade failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	workerConn, _, err := websocket.DefaultDialer.DialContext(ctx, controlURL, nil)
	if err != nil {
		s.log.Warn("debug dial failed",
			zap.String("session", sessionID),
			zap.String("control_url", controlURL),
			zap.Error(err))
		_ = clientConn.WriteMessage(websocket.TextMessage, []byte("failed to reach browser"))
		return
	}
	defer workerConn.Close()

	s.log.Info("debug client attached", zap.String("session", sessionID))

	errChan := make(chan error, 2)
	go func() { errChan <- relay(clientConn, workerConn) }()
	go func() { errChan <- relay(workerConn, clientConn) }()

	if err := <-errChan; err != nil && err != io.EOF {
		s.log.Debug("debug proxy ended", zap.String("session", sessionID), zap.Error(err))
	}
	s.log.Info("debug client detached", zap.String("session", sessionID))
}

func relay(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
