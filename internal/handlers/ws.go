package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog/log"

	"chat-core/internal/auth"
	"chat-core/internal/chat"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/rooms"
	"chat-core/internal/socket"
)

const identityLocal = "identity"

// Deps carries the injected core components the handlers operate on.
type Deps struct {
	Auth     *auth.Authenticator
	Presence *presence.Registry
	Rooms    *rooms.Manager
	Chat     *chat.Service
}

// WSUpgradeMiddleware rejects plain HTTP requests on the websocket route.
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthMiddleware authenticates the bearer credential before the upgrade
// (or before a REST handler runs). The websocket handshake cannot carry
// normal request headers from browsers, so the token is also accepted as
// the access_token query parameter.
func AuthMiddleware(a *auth.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("access_token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				token = authHeader[7:]
			}
		}

		ident, err := a.Authenticate(c.Context(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		c.Locals(identityLocal, ident)
		return c.Next()
	}
}

// WebSocketHandler runs one connection: register presence, loop over
// inbound frames, and tear everything down on exit. Authentication
// happened before the upgrade; the resolved identity rides on locals for
// the lifetime of the connection.
func WebSocketHandler(deps Deps) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		ident := c.Locals(identityLocal).(models.Identity)
		sc := socket.Wrap(c, ident)

		deps.Presence.RegisterConnection(sc)
		defer func() {
			deps.Rooms.LeaveAll(sc)
			deps.Presence.DeregisterConnection(ident.ID, sc.ID())
			sc.Close()
		}()

		if err := sc.Send(models.NewEvent(models.EventConnected, "", models.ConnectedPayload{
			UserID:   ident.ID,
			Username: ident.Username,
		})); err != nil {
			return
		}

		log.Info().Str("user_id", ident.ID).Str("conn", sc.ID()).Msg("connection established")

		for {
			msgType, data, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn().Err(err).Str("user_id", ident.ID).Msg("connection read failed")
				}
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}
			// Frames from one connection are handled in order; a slow
			// persist delays only this connection's later frames, never
			// another client's.
			dispatch(context.Background(), deps, sc, data)
		}

		log.Info().Str("user_id", ident.ID).Str("conn", sc.ID()).Msg("connection closed")
	})
}
