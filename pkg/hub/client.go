package hub

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds what clients may send us.
	maxMessageSize = 64 * 1024

	// sendBuffer is the per-client queue length.
	sendBuffer = 64
)

// ErrStopped is returned when joining a hub that has stopped.
var ErrStopped = errors.New("hub: stopped")

// Client is one WebSocket connection fed by a hub.
type Client struct {
	id   string
	addr string
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers a connection with h.
func NewClient(h *Hub, conn *websocket.Conn) (*Client, error) {
	c := &Client{
		id:   uuid.NewString(),
		addr: conn.RemoteAddr().String(),
		hub:  h,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	if !h.join(c) {
		return nil, ErrStopped
	}
	return c, nil
}

// ID identifies the client in logs.
func (c *Client) ID() string { return c.id }

// Run pumps messages until the connection or the hub closes. It must be
// called from the WebSocket handler and returns once both pumps are done.
func (c *Client) Run() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done
}

// readPump discards client input. Reading detects disconnects and
// processes pongs.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			wsType := websocket.TextMessage
			if msg.Type == BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
