package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/desertthunder/ridex/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next frame or pong from the server.
	pongWait = 60 * time.Second

	// Send pings to the server with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from the server. initial_state carries the whole ride.
	maxMessageSize = 1 << 16
)

// WSDialer dials with gorilla/websocket and keeps the connection alive with pings.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial opens the websocket. A handshake refused with 403 or 404 is reported as [ErrRejected].
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrChannel, err)
	}
	return newWSConn(ws), nil
}

// wsConn applies deadlines to every write and pings until closed.
type wsConn struct {
	ws   *websocket.Conn
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws, done: make(chan struct{})}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go c.ping()
	return c
}

func (c *wsConn) ping() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err == nil {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
	return mt, data, err
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ws.Close()
}
