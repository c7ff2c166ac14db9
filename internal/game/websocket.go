package game

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scythe504/dejavu-backend/internal"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 16 << 10
	sendBuffer   = 32

	rateLimit  = 10
	rateWindow = time.Second
	rateBan    = 30 * time.Second
)

var (
	errClientClosed = errors.New("client closed")
	errSlowClient   = errors.New("client send buffer full")
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// =============================================================================
// WEBSOCKET CLIENT
// =============================================================================

// Client is one websocket connection. It is the Peer a room sends to.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame. A client that cannot keep up is disconnected rather
// than allowed to stall its room.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.Close()
		return errSlowClient
	}
}

// Close asks the write pump to flush what is queued and hang up.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// ServeWS upgrades the request and pumps frames between the socket and room
// until either side closes.
func ServeWS(room *Room, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ServeWS] Room %s: upgrade failed: %v", room.Code(), err)
		return
	}
	c := newClient(conn)
	go c.writePump()
	c.readPump(room)
}

func (c *Client) readPump(room *Room) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := room.HandleClose(ctx, c); err != nil && !errors.Is(err, ErrRoomClosed) {
			log.Printf("[readPump] Room %s: close not delivered: %v", room.Code(), err)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limit := newRateLimiter(rateLimit, rateWindow, rateBan)
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[readPump] Room %s: read error: %v", room.Code(), err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}

		allowed, tripped := limit.allow(time.Now())
		if tripped {
			c.sendRateLimited()
		}
		if !allowed {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), alarmTimeout)
		err = room.HandleMessage(ctx, c, data)
		cancel()
		if errors.Is(err, ErrRoomClosed) {
			return
		}
		if err != nil {
			log.Printf("[readPump] Room %s: message not handled: %v", room.Code(), err)
		}
	}
}

func (c *Client) sendRateLimited() {
	gerr := internal.Errorf(internal.ErrRateLimited, "Too many messages, slow down")
	data, err := json.Marshal(internal.NewMessage(internal.MsgError, gerr.Payload()))
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, so a final frame like room_closed
// reaches the client before the close.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// rateLimiter counts frames in fixed windows. Going over the limit bans the
// connection for a while; frames during the ban are dropped.
type rateLimiter struct {
	limit  int
	window time.Duration
	ban    time.Duration

	windowStart time.Time
	count       int
	bannedUntil time.Time
}

func newRateLimiter(limit int, window, ban time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, ban: ban}
}

// allow reports whether a frame arriving at now may be processed, and
// whether this frame is the one that started a ban.
func (l *rateLimiter) allow(now time.Time) (allowed, tripped bool) {
	if now.Before(l.bannedUntil) {
		return false, false
	}
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	l.count++
	if l.count > l.limit {
		l.bannedUntil = now.Add(l.ban)
		l.count = 0
		return false, true
	}
	return true, false
}
