package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var (
	ErrChannelClosed = errors.New("live channel closed")
	ErrChannelFull   = errors.New("live channel queue full")
)

// WSChannel is a Channel backed by a WebSocket connection. Payloads are
// queued by Send and written by Run, so senders never wait on the network.
type WSChannel struct {
	conn         *websocket.Conn
	queue        chan Payload
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWSChannel wraps conn with an outbound queue of the given size.
func NewWSChannel(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *WSChannel {
	if buffer < 1 {
		buffer = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSChannel{
		conn:         conn,
		queue:        make(chan Payload, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send enqueues p. It fails immediately when the channel is closed or its
// queue is full.
func (c *WSChannel) Send(_ context.Context, p Payload) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.queue <- p:
		return nil
	default:
		return ErrChannelFull
	}
}

// Run writes queued payloads until ctx is done, the channel is closed or a
// write fails.
func (c *WSChannel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case p := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := wsjson.Write(wctx, c.conn, p)
			cancel()
			if err != nil {
				return fmt.Errorf("writing payload %s: %w", p.ID, err)
			}
		}
	}
}

// Close stops the channel. Later sends fail with ErrChannelClosed.
func (c *WSChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// WSOptions tunes the live endpoint.
type WSOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// ServeWS upgrades the request to a WebSocket, registers it as the live
// channel of userID and blocks until the client goes away. Incoming
// messages are discarded; the socket is push-only.
func ServeWS(w http.ResponseWriter, r *http.Request, reg *Registry, userID string, opts WSOptions) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ch := NewWSChannel(conn, opts.SendBuffer, opts.WriteTimeout)
	reg.Register(userID, ch)
	slog.Info("live client connected", "user_id", userID, "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	err = ch.Run(ctx)

	ch.Close()
	reg.Unregister(userID, ch)

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("live client writer stopped", "user_id", userID, "error", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("live client disconnected", "user_id", userID)
}
