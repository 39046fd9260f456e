package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Socket is the minimal write side of a live connection.
type Socket interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client wraps one accepted socket. Writes are serialized because websocket
// connections support a single concurrent writer.
type Client struct {
	id      string
	socket  Socket
	writeMu sync.Mutex

	// userID is guarded by Hub.mu and only changed through Hub transitions.
	userID string
}

// NewClient wraps the socket with a fresh client identifier.
func NewClient(socket Socket) *Client {
	return &Client{
		id:     uuid.NewString(),
		socket: socket,
	}
}

// ID returns the client identifier used in logs.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) send(message interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteJSON(message)
}

func (c *Client) close() {
	_ = c.socket.Close()
}
