// Package ws provides WebSocket connection handling and frame routing.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
	authed bool
}

// NewClient creates a new WebSocket client.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// ClientID returns the identifier assigned to this connection.
func (c *Client) ClientID() string {
	return c.id
}

// Enqueue serialises a frame and queues it for delivery. It reports
// whether the frame was accepted; a client whose buffer has filled is
// closed and drops the frame.
func (c *Client) Enqueue(frame interface{}) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	return c.Send(data)
}

// Send queues raw bytes to be sent to the client.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		// Buffer full, close the client
		c.closeLocked()
		return false
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Authed reports whether the connection has completed authentication.
func (c *Client) Authed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *Client) setAuthed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authed = true
}
