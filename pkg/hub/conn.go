package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 32
)

// ErrSendQueueFull is returned when a connection's outbound queue is full.
var ErrSendQueueFull = errors.New("send queue full")

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// wsConn wraps a websocket connection with a buffered outbound queue.
// Writes happen on a single pump goroutine; Send only enqueues and drops
// the frame when the queue is full.
type wsConn struct {
	conn *websocket.Conn
	send chan *signaling.Message
	done chan struct{}
	once sync.Once
	log  *logger.Logger
}

func newWSConn(conn *websocket.Conn, log *logger.Logger) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan *signaling.Message, sendQueueSize),
		done: make(chan struct{}),
		log:  log,
	}
}

func (c *wsConn) Send(msg *signaling.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with periodic pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("write failed: %v", err)
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

// readPump feeds inbound frames to the hub until the socket drops.
func (c *wsConn) readPump(h *Hub, connID string) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("connection %s read error: %v", connID, err)
			}
			return
		}
		h.HandleFrame(connID, data)
	}
}
