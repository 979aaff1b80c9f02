package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antirek/chatapp-sub000/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundSize = 4096
)

// Client is a websocket connection bound to an authenticated owner. Events
// flow through a buffered send channel so one slow reader never blocks the
// hub; when the buffer overflows the event is dropped for this connection.
type Client struct {
	id      string
	ownerID string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	log     logger.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, ownerID string, sendBuffer int, log logger.Logger) *Client {
	return &Client{
		id:      uuid.NewString(),
		ownerID: ownerID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		log:     log,
	}
}

func (c *Client) ID() string      { return c.id }
func (c *Client) OwnerID() string { return c.ownerID }

func (c *Client) Send(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		c.log.Errorw("Failed to encode event", "event", evt.Event, "error", err)
		return
	}
	select {
	case c.send <- body:
	default:
		c.log.Warnw("Send buffer full, dropping event",
			"owner_id", c.ownerID, "conn_id", c.id, "event", evt.Event)
	}
}

// Run starts the read and write pumps and blocks until the connection is
// gone. The read pump exists only to surface close frames and keep the pong
// deadline fresh; inbound payloads are ignored.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnw("Connection closed unexpectedly",
					"owner_id", c.ownerID, "conn_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
