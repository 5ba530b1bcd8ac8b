package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Connection timings.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096

	// DefaultSendBuffer is how many events a slow client may lag behind.
	DefaultSendBuffer = 64
)

// WSClient is a live websocket subscriber. Deliver never blocks: events go
// through a bounded buffer drained by a writer goroutine, and a full buffer
// drops the event.
type WSClient struct {
	conn    *websocket.Conn
	send    chan Event
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
	metrics *Metrics
	warn    rate.Sometimes
}

// NewWSClient wraps an upgraded connection. buffer <= 0 uses
// DefaultSendBuffer.
func NewWSClient(conn *websocket.Conn, buffer int, log *slog.Logger, metrics *Metrics) *WSClient {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSClient{
		conn:    conn,
		send:    make(chan Event, buffer),
		done:    make(chan struct{}),
		log:     log,
		metrics: metrics,
		warn:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Deliver queues ev for the writer. It is a Handler.
func (c *WSClient) Deliver(_ context.Context, ev Event) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.send <- ev:
	default:
		c.metrics.dropped()
		c.warn.Do(func() {
			c.log.Warn("notify: client buffer full, dropping event",
				slog.String("event", ev.Name),
				slog.String("remote", c.conn.RemoteAddr().String()),
			)
		})
	}
	return nil
}

// Run pumps the connection until the peer goes away or ctx ends.
func (c *WSClient) Run(ctx context.Context) {
	go c.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	c.readLoop()
	c.Close()
}

// Done is closed when the connection is finished.
func (c *WSClient) Done() <-chan struct{} { return c.done }

// Close tears the connection down. It is safe to call more than once.
func (c *WSClient) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

// readLoop discards client frames; it exists to process pongs and notice
// the peer closing.
func (c *WSClient) readLoop() {
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("notify: client read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug("notify: client write failed", slog.String("error", err.Error()))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
