// Package ws adapts gorilla/websocket connections to the registry.Conn
// contract. Each connection owns a bounded outbound queue drained by a single
// writer goroutine, so frames reach one subscriber in the order they were
// queued.
package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/realtime/registry"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosedGraceful
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedGraceful:
		return "closed_graceful"
	case StateClosedError:
		return "closed_error"
	default:
		return "unknown"
	}
}

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

// Conn is one subscriber channel.
type Conn struct {
	id    string
	scope registry.Scope
	ws    *websocket.Conn
	cfg   Config

	state     atomic.Int32
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Conn)

	logger logger.Logger
}

func newConn(wsConn *websocket.Conn, scope registry.Scope, cfg Config, log logger.Logger, onClose func(*Conn)) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:      id,
		scope:   scope,
		ws:      wsConn,
		cfg:     cfg,
		out:     make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		onClose: onClose,
		logger: log.WithFields(map[string]interface{}{
			"conn_id": id,
			"scope":   scope.String(),
		}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Scope() registry.Scope { return c.scope }

func (c *Conn) State() State { return State(c.state.Load()) }

// Send queues payload for the writer. It fails with ErrDeadConnection unless
// the connection is open. A queue that stays full until ctx expires closes
// the connection with the error state and returns the context error; a done
// ctx alone never closes a connection with room in its queue.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if st := c.State(); st != StateOpen {
		return apperrors.NewDeadConnectionError(c.id, st.String())
	}
	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return apperrors.NewDeadConnectionError(c.id, c.State().String())
	default:
	}

	select {
	case c.out <- payload:
		return nil
	case <-c.done:
		return apperrors.NewDeadConnectionError(c.id, c.State().String())
	case <-ctx.Done():
		c.finish(StateClosedError, websocket.CloseTryAgainLater)
		return ctx.Err()
	}
}

// Close shuts the connection down gracefully.
func (c *Conn) Close() error {
	c.finish(StateClosedGraceful, websocket.CloseNormalClosure)
	return nil
}

func (c *Conn) open() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

func (c *Conn) finish(final State, closeCode int) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(final))
		close(c.done)
		if c.onClose != nil {
			c.onClose(c)
		}

		if c.ws != nil {
			deadline := time.Now().Add(writeWait)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, ""), deadline)
			_ = c.ws.Close()
		}

		c.logger.Debug("subscriber closed", map[string]interface{}{"state": final.String()})
	})
}

// writeLoop is the only goroutine that writes data frames.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", map[string]interface{}{"error": err.Error()})
				c.finish(StateClosedError, websocket.CloseInternalServerErr)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.finish(StateClosedError, websocket.CloseInternalServerErr)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop treats inbound frames as keep-alive traffic and answers each with
// a short acknowledgement. It returns when the peer goes away.
func (c *Conn) readLoop() {
	pongWait := c.cfg.PingInterval * 2
	c.ws.SetReadLimit(maxInboundSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ack := []byte(acknowledgement(c.scope))
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.finish(StateClosedGraceful, websocket.CloseNormalClosure)
			} else {
				c.finish(StateClosedError, websocket.CloseGoingAway)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		// Acks are dropped rather than queued behind a full buffer.
		select {
		case c.out <- ack:
		default:
		}
	}
}

func acknowledgement(scope registry.Scope) string {
	if scope.IsAdmin() {
		return "Admin connected"
	}
	return "Connected to item " + scope.ItemID()
}
