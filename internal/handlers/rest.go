package handlers

import (
	"github.com/gofiber/fiber/v2"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

func fiberError(c *fiber.Ctx, err error) error {
	return c.Status(errs.HTTPStatus(err)).JSON(fiber.Map{
		"code":  string(errs.CodeOf(err)),
		"error": errs.MessageOf(err),
	})
}

// DirectChatHandler gets or creates the unique 1:1 chat with a peer.
func DirectChatHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ident := c.Locals(identityLocal).(models.Identity)

		var req struct {
			RecipientID string `json:"recipient_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiberError(c, errs.Validation("invalid request body"))
		}

		chat, created, err := deps.Chat.DirectChat(c.Context(), ident.ID, req.RecipientID)
		if err != nil {
			return fiberError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{
			"chat_id": chat.ID,
			"is_new":  created,
		})
	}
}

// ChatListHandler renders the conversation list with last-message
// summaries and the live presence of the other side.
func ChatListHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ident := c.Locals(identityLocal).(models.Identity)
		items, err := deps.Chat.ChatList(c.Context(), ident.ID)
		if err != nil {
			return fiberError(c, err)
		}
		return c.JSON(items)
	}
}

// HistoryHandler returns the recent message window of a chat the caller
// participates in. This is also the catch-up path after a reconnect.
func HistoryHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ident := c.Locals(identityLocal).(models.Identity)
		chatID := c.Params("chat_id")

		messages, typing, err := deps.Chat.HistoryFor(c.Context(), ident.ID, chatID)
		if err != nil {
			return fiberError(c, err)
		}
		return c.JSON(models.HistoryPayload{Messages: messages, Typing: typing})
	}
}

// PresenceHandler lists the presence of every known user, matching the
// broadcast-everything presence model.
func PresenceHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Presence.Snapshot())
	}
}
