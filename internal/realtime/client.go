package realtime

import (
	"time"

	"github.com/mcoot/islandgame/internal/model"
)

// Buffer size for outgoing messages
const sendBufferSize = 256

// Client is one live connection owned by an authenticated user
type Client struct {
	id          model.ConnID
	userID      model.UserID
	send        chan []byte
	connectedAt time.Time
}

// NewClient creates a new client
func NewClient(id model.ConnID, userID model.UserID) *Client {
	return &Client{
		id:          id,
		userID:      userID,
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
	}
}

// ID returns the connection ID
func (c *Client) ID() model.ConnID {
	return c.id
}

// UserID returns the authenticated user behind the connection
func (c *Client) UserID() model.UserID {
	return c.userID
}

// Messages returns encoded events waiting to be written. The channel is
// closed when the client is unregistered or the hub stops.
func (c *Client) Messages() <-chan []byte {
	return c.send
}
