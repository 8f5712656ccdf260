// Package sockettest provides an in-memory socket.Conn for unit tests.
package sockettest

import (
	"errors"
	"sync"

	"chat-core/internal/models"
)

type Conn struct {
	id    string
	ident models.Identity

	mu     sync.Mutex
	events []models.Event
	closed bool
	failed bool
}

func New(id string, ident models.Identity) *Conn {
	return &Conn{id: id, ident: ident}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Identity() models.Identity { return c.ident }

func (c *Conn) Send(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failed {
		return errors.New("connection closed")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Fail makes every subsequent Send return an error, simulating an
// unreachable recipient.
func (c *Conn) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
}

// Events returns a copy of everything delivered so far.
func (c *Conn) Events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

// EventsNamed filters delivered events by name.
func (c *Conn) EventsNamed(name string) []models.Event {
	var out []models.Event
	for _, ev := range c.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
