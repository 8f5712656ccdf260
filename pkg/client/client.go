// Package client is the connection-side counterpart of the chat server: a
// websocket client that authenticates once per connection, tracks which
// rooms it has joined, and re-establishes dropped connections with
// exponential backoff. Room membership lives in the server-side session,
// so every successful reconnect re-authenticates and re-joins.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"

	"chat-core/internal/models"
)

type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	// StateOffline is terminal for one outage: the attempt budget is spent
	// and the UI should show a persistent offline indicator.
	StateOffline State = "offline"
)

type Config struct {
	// URL of the websocket endpoint, e.g. ws://host:3001/ws.
	URL   string
	Token string

	// MaxAttempts bounds one reconnect cycle. Zero means 10.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnState is called on every connection state transition.
	OnState func(State)
	// OnEvent receives every decoded server event.
	OnEvent func(models.Envelope)
}

type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   map[string]struct{}
	closed  bool
	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		rooms: make(map[string]struct{}),
	}
}

// Connect performs the initial dial. Reconnects after that are automatic
// until Close is called or the attempt budget runs out.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("access_token", c.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if c.isClosed() {
				return
			}
			c.setState(StateDisconnected)
			c.reconnect()
			return
		}
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env)
		}
	}
}

// reconnect runs one backoff cycle. Each successful dial re-authenticates
// (the token rides on the handshake) and re-joins every tracked room.
func (c *Client) reconnect() {
	c.setState(StateReconnecting)
	policy := newBackoffPolicy(c.cfg)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		time.Sleep(policy.NextBackOff())
		if c.isClosed() {
			return
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		tracked := make([]string, 0, len(c.rooms))
		for chatID := range c.rooms {
			tracked = append(tracked, chatID)
		}
		c.mu.Unlock()

		c.setState(StateConnected)
		go c.readLoop(conn)
		for _, chatID := range tracked {
			if err := c.send(models.ReqJoinChat, chatID, nil); err != nil {
				log.Debug().Err(err).Str("chat_id", chatID).Msg("room re-join failed")
			}
		}
		return
	}
	c.setState(StateOffline)
}

// newBackoffPolicy builds the exponential policy for one reconnect cycle:
// delays double from the initial interval and are capped, never elapsing
// on their own (the attempt count is the budget).
func newBackoffPolicy(cfg Config) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialBackoff
	policy.MaxInterval = cfg.MaxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// JoinChat subscribes to a room and remembers it for re-join after a
// reconnect.
func (c *Client) JoinChat(chatID string) error {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()
	return c.send(models.ReqJoinChat, chatID, nil)
}

func (c *Client) LeaveChat(chatID string) error {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
	return c.send(models.ReqLeaveChat, chatID, nil)
}

func (c *Client) SendMessage(chatID string, req models.SendMessageRequest) error {
	return c.send(models.ReqSendMessage, chatID, req)
}

func (c *Client) TypingStart(chatID string) error {
	return c.send(models.ReqTypingStart, chatID, nil)
}

func (c *Client) TypingStop(chatID string) error {
	return c.send(models.ReqTypingStop, chatID, nil)
}

func (c *Client) MarkRead(chatID, messageID string) error {
	return c.send(models.ReqMessageRead, chatID, models.MessageRefRequest{MessageID: messageID})
}

func (c *Client) AddReaction(chatID, messageID, emoji string) error {
	return c.send(models.ReqAddReaction, chatID, models.ReactionRequest{MessageID: messageID, Emoji: emoji})
}

func (c *Client) UpdateStatus(status models.PresenceStatus) error {
	return c.send(models.ReqUpdateStatus, "", models.StatusUpdateRequest{Status: status})
}

func (c *Client) send(name, chatID string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return errors.New("client is not connected")
	}

	ev := models.NewEvent(name, chatID, payload)
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close is an explicit logout: the connection is torn down and no
// reconnect is attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}
