// Package binance talks to the exchange: REST depth snapshots and the
// websocket diff stream.
package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// DefaultWSBase is the public spot stream endpoint.
	DefaultWSBase = "wss://stream.binance.com:9443"

	// writeWait is the time allowed to write a control frame.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between two frames from the server. The
	// exchange pings every few minutes and pushes diffs every 100ms.
	pongWait = 5 * time.Minute

	// pingPeriod sends pings to the server at this interval.
	pingPeriod = 3 * time.Minute

	handshakeTimeout = 15 * time.Second
)

// DepthStreamURL builds the raw diff stream URL for symbol.
func DepthStreamURL(base, symbol string, speed time.Duration) string {
	if base == "" {
		base = DefaultWSBase
	}
	stream := strings.ToLower(symbol) + "@depth"
	if speed > 0 && speed < time.Second {
		stream += "@100ms"
	}
	return strings.TrimRight(base, "/") + "/ws/" + stream
}

// Dialer opens depth stream connections.
type Dialer struct {
	url    string
	dialer websocket.Dialer
}

// NewDialer returns a Dialer for the given stream URL.
func NewDialer(url string) *Dialer {
	return &Dialer{
		url: url,
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// URL returns the stream URL the dialer connects to.
func (d *Dialer) URL() string { return d.url }

// Conn is one live stream connection.
type Conn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the stream and starts the keep-alive loop.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance/ws: connect: %w", err)
	}

	c := &Conn{conn: conn, done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// The server pings; answer and extend the deadline.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go c.pingLoop()
	return c, nil
}

// ReadMessage blocks until the next data frame arrives.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.done:
			return nil, fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
		default:
		}
		return nil, fmt.Errorf("binance/ws: read: %w", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return msg, nil
}

// Close sends a close frame and tears the connection down. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// pingLoop sends periodic pings to keep intermediaries from idling the
// connection out.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
