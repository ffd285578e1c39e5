package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

const (
	pingInterval   = 25 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 10
)

// Conn wraps one websocket with a buffered outbound queue and the
// heartbeat discipline: ping every 25 s, drop the socket when no read
// lands within 60 s.
type Conn struct {
	ws   *websocket.Conn
	log  *logger.Logger
	send chan Frame

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConn(ws *websocket.Conn, baseLog *logger.Logger) *Conn {
	return &Conn{
		ws:     ws,
		log:    baseLog.With("component", "WSConn"),
		send:   make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

// Send queues a frame without blocking. A full queue drops the frame;
// the reconnect flush recovers anything that mattered.
func (c *Conn) Send(frame Frame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("Outbound queue full, dropping frame", "frame_type", frame.Type)
		return false
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// WritePump owns all writes to the socket. Run as a goroutine per
// connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop dispatches inbound frames until the socket dies. Runs on
// the handler goroutine.
func (c *Conn) ReadLoop(handle func(Frame)) {
	defer c.Close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Socket closed unexpectedly", "error", err.Error())
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.Send(ErrorFrame("bad_frame", "invalid JSON frame"))
			continue
		}
		if frame.Type == FramePing {
			continue
		}
		handle(frame)
	}
}
