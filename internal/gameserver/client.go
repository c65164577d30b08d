package gameserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/udisondev/warband/internal/protocol"
)

// Default write queue / timeout constants. Overridden by config values.
const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
	defaultPingInterval  = 15 * time.Second
)

// Client is one authenticated websocket connection. Reads happen on the
// accept goroutine; all writes go through sendCh and a single writer
// goroutine, so the connection never sees interleaved frames.
type Client struct {
	log    *slog.Logger
	conn   *websocket.Conn
	userID string
	ip     string

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewClient wraps an accepted, authenticated connection.
func NewClient(log *slog.Logger, conn *websocket.Conn, userID, ip string, queueSize int, writeTimeout, pingInterval time.Duration) *Client {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Client{
		log:          log.With("user", userID),
		conn:         conn,
		userID:       userID,
		ip:           ip,
		sendCh:       make(chan []byte, queueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// UserID returns the authenticated subject of this connection.
func (c *Client) UserID() string { return c.userID }

// IP returns the client's remote address.
func (c *Client) IP() string { return c.ip }

// Send enqueues an encoded frame. A full queue means the client cannot keep
// up; the connection is closed with a backpressure reason rather than
// blocking the session goroutine behind it.
func (c *Client) Send(data []byte) {
	select {
	case <-c.closeCh:
	case c.sendCh <- data:
	default:
		c.log.Warn("send queue full, dropping client")
		c.Close(websocket.StatusPolicyViolation, protocol.CloseBackpressure)
	}
}

// SendPush encodes and enqueues a push message.
func (c *Client) SendPush(p protocol.Push) {
	data, err := json.Marshal(p)
	if err != nil {
		c.log.Error("encoding push", "type", p.Type, "error", err)
		return
	}
	c.Send(data)
}

// SendResponse encodes and enqueues a request response.
func (c *Client) SendResponse(r protocol.Response) {
	data, err := json.Marshal(r)
	if err != nil {
		c.log.Error("encoding response", "type", r.Type, "error", err)
		return
	}
	c.Send(data)
}

// Close shuts the connection down once. Safe from any goroutine.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.conn.Close(code, reason)
	})
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// writeLoop drains sendCh onto the wire and keeps the connection alive with
// pings. A pong must come back within the write timeout or the client is
// closed as dead; this is the liveness check, so idle clients need not send
// anything. Exits when the client closes; the deferred Close covers write
// failures.
func (c *Client) writeLoop(ctx context.Context) {
	defer c.Close(websocket.StatusNormalClosure, "")

	ping := time.NewTicker(c.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case data := <-c.sendCh:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case <-ping.C:
			wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.conn.Ping(wctx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", "error", err)
				c.Close(websocket.StatusPolicyViolation, protocol.CloseTimeout)
				return
			}
		}
	}
}
