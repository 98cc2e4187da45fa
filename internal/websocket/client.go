package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client is one subscriber connection, pinned to the space it authenticated
// into. The hub owns the send channel's lifecycle.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	spaceID int64
	send    chan []byte
}

// NewClient wraps an accepted connection for the given hub and space.
func NewClient(hub *Hub, conn *ws.Conn, spaceID int64) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		spaceID: spaceID,
		send:    make(chan []byte, sendBufferSize),
	}
}

// Run serves the connection until it drops: broadcasts flow out of the send
// channel while inbound frames are drained, and idle links are probed with
// pings. It blocks, then unregisters on the way out.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		c.writeLoop(ctx)
	}()

	// Clients send nothing today; reading until error is what detects the
	// peer going away.
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				// hub dropped us
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-pings.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}
