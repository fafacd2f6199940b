package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one signaling connection. Only the write pump touches conn for
// writing; only the read pump reads from it.
type Client struct {
	id            string
	conn          *websocket.Conn
	router        *Router
	log           *slog.Logger
	participantId int64
	send          chan []byte
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewClient(participantId int64, conn *websocket.Conn, router *Router, logger *slog.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = "unknown"
	}

	return &Client{
		id:            id,
		conn:          conn,
		router:        router,
		log:           logger.With("conn_id", id, "participant_id", participantId),
		participantId: participantId,
		send:          make(chan []byte, sendBufferSize),
		stop:          make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) ParticipantId() int64 {
	return c.participantId
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read processes inbound frames in arrival order until the connection fails,
// then runs the disconnect path.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.router.Disconnected(c)
		c.stopClient()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", "error", err)
			}
			break
		}

		c.router.HandleMessage(c, raw)
	}
}

func (c *Client) queueMessage(msg []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to queue message, send buffer is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("ws write", "error", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
