package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	beepit "github.com/julianarecha/beepit-server"
)

// closeWriteTimeout bounds the close handshake frame.
const closeWriteTimeout = time.Second

var errClientClosed = errors.New(beepit.ErrConnectionClosed)

// Client is the transport of one upgraded connection. It implements
// actor.Transport: the actor's writer goroutine is the only caller of Write,
// while Ping and Close may be called from any goroutine.
type Client struct {
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *Client {
	return &Client{
		conn:         conn,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// RemoteAddr returns the client's remote network address.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Closed is closed once Close was called.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Write sends one text frame. The write deadline is the earlier of ctx's
// deadline and the configured write timeout. Cancelling ctx does not
// interrupt a write in progress; Close does.
func (c *Client) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a keepalive ping.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame with code and reason, then closes the
// underlying connection. Only the first call has an effect.
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = c.conn.Close()
	})
	return err
}

// keepalive pings the peer every interval until the client is closed.
func (c *Client) keepalive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				return
			}
		}
	}
}
