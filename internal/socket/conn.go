// Package socket defines the connection handle shared by the presence
// registry, the room manager and the fan-out pipeline. Keeping it an
// interface means none of those packages touch the websocket library.
package socket

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"chat-core/internal/models"
)

// Conn is a live client connection. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Identity() models.Identity
	Send(ev models.Event) error
	Close() error
}

type wsConn struct {
	id    string
	ident models.Identity
	conn  *websocket.Conn
	// The fiber websocket connection does not tolerate concurrent writes.
	writeMu sync.Mutex
}

// Wrap ties an upgraded websocket connection to its authenticated identity.
func Wrap(c *websocket.Conn, ident models.Identity) Conn {
	return &wsConn{
		id:    uuid.New().String(),
		ident: ident,
		conn:  c,
	}
}

func (c *wsConn) ID() string                { return c.id }
func (c *wsConn) Identity() models.Identity { return c.ident }

func (c *wsConn) Send(ev models.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
