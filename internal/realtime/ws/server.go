package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/realtime/registry"
)

const (
	DefaultSendBuffer   = 32
	DefaultPingInterval = 30 * time.Second
)

type Config struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer     int
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Server upgrades HTTP requests into registered subscriber connections.
type Server struct {
	upgrader websocket.Upgrader
	registry *registry.Registry
	cfg      Config
	logger   logger.Logger
}

func NewServer(reg *registry.Registry, cfg Config, log logger.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}

	s := &Server{
		registry: reg,
		cfg:      cfg,
		logger:   logger.Component(log, "ws"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Serve performs the handshake, registers the connection under scope and
// blocks until the subscriber disconnects. The upgrader has already written
// an HTTP error when the returned error is non-nil.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, scope registry.Scope) error {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket handshake failed", map[string]interface{}{
			"scope":  scope.String(),
			"origin": r.Header.Get("Origin"),
			"error":  err.Error(),
		})
		return err
	}

	conn := newConn(wsConn, scope, s.cfg, s.logger, func(c *Conn) {
		s.registry.Unregister(c, c.scope)
	})
	conn.open()
	s.registry.Register(conn, scope)
	s.logger.Info("subscriber connected", map[string]interface{}{
		"conn_id": conn.ID(),
		"scope":   scope.String(),
	})

	go conn.writeLoop()
	conn.readLoop()
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}
