// Package wshub is the websocket layer: per-connection state with a
// bounded egress queue, a hub that tracks every live connection, and the
// protocol handler that routes client messages into the match registry.
package wshub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-match-server/internal/metrics"
	"github.com/park285/cheese-match-server/pkg/matchdto"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
	pingInterval  = 30 * time.Second
	pingTimeout   = 3 * time.Second
)

// Conn wraps one accepted websocket. Writes go through a bounded queue
// drained by writeLoop; a slow reader loses frames instead of blocking
// the match it is in.
type Conn struct {
	id   string
	ip   string
	sock *websocket.Conn

	sendCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	matchID string
	token   string

	log  *zap.Logger
	mets *metrics.Registry
}

func newConn(sock *websocket.Conn, ip string, log *zap.Logger, mets *metrics.Registry) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		id:     uuid.NewString(),
		ip:     ip,
		sock:   sock,
		sendCh: make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
		log:    log,
		mets:   mets,
	}
}

func (c *Conn) ID() string { return c.id }
func (c *Conn) IP() string { return c.ip }

// Bind attaches the match identity this connection acts for.
func (c *Conn) Bind(matchID, token string) {
	c.mu.Lock()
	c.matchID = matchID
	c.token = token
	c.mu.Unlock()
}

// Binding returns the bound match id and player token, empty until the
// connection has created, joined, or reconnected to a match.
func (c *Conn) Binding() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID, c.token
}

// Send queues a frame without blocking. A full queue drops the frame.
func (c *Conn) Send(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.sendCh <- payload:
		return true
	default:
		c.mets.Inc(metrics.EgressDropped)
		c.log.Warn("egress_dropped",
			zap.String("conn_id", c.id),
			zap.Int("queue", sendQueueSize),
		)
		return false
	}
}

// SendEvent frames and queues a typed event.
func (c *Conn) SendEvent(eventType string, payload any) bool {
	raw, err := matchdto.Encode(eventType, payload)
	if err != nil {
		c.log.Error("egress_encode_failed",
			zap.String("conn_id", c.id),
			zap.String("type", eventType),
			zap.Error(err),
		)
		return false
	}
	return c.Send(raw)
}

// ReadEnvelope blocks for the next inbound frame.
func (c *Conn) ReadEnvelope(ctx context.Context) (*matchdto.Envelope, error) {
	var env matchdto.Envelope
	if err := wsjson.Read(ctx, c.sock, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// writeLoop drains the send queue onto the socket. Exits on close or the
// first failed write; the read side notices the dead socket on its own.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.sock.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.log.Debug("ws_write_failed",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
				return
			}
		}
	}
}

// pingLoop probes liveness. Two consecutive failures close the socket,
// which unblocks the read loop.
func (c *Conn) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := c.sock.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					c.log.Debug("ws_ping_failed", zap.String("conn_id", c.id))
					c.Close(websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// Close shuts the socket down exactly once.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.sock != nil {
			_ = c.sock.Close(code, reason)
		}
	})
}
