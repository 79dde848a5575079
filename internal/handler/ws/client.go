package ws

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mlevan/parley/internal/broker"
	"github.com/mlevan/parley/internal/config"
	"github.com/mlevan/parley/internal/model/chat"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	writeWait      = 10 * time.Second
)

// client is one websocket connection. The read pump feeds inbound events to
// the broker; the write pump drains the buffered send channel. The broker
// never touches the socket directly.
type client struct {
	id      string
	conn    *websocket.Conn
	broker  *broker.Broker
	send    chan chat.Event
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(conn *websocket.Conn, b *broker.Broker, cfg config.RelayConfig) *client {
	conn.SetReadLimit(cfg.MaxMessageSize)
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:      uuid.NewString(),
		conn:    conn,
		broker:  b,
		send:    make(chan chat.Event, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID implements broker.Conn.
func (c *client) ID() string { return c.id }

// Deliver implements broker.Conn. It never blocks; events beyond the buffer
// capacity are dropped and reported to the caller.
func (c *client) Deliver(ev chat.Event) bool {
	select {
	case c.send <- ev:
		return true
	case <-c.ctx.Done():
		return false
	default:
		return false
	}
}

func (c *client) readPump() {
	defer func() {
		c.cancel()
		c.broker.Disconnect(c.id)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev chat.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error on %s: %v", c.id, err)
			}
			return
		}

		if !c.limiter.Allow() {
			log.Printf("[ws] rate limit exceeded on %s; discarding %s event", c.id, ev.Type)
			continue
		}

		c.broker.Handle(c.ctx, c.id, ev)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Printf("[ws] write error on %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
