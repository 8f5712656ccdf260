package handlers

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"chat-core/internal/errs"
	"chat-core/internal/models"
	"chat-core/internal/socket"
)

// dispatch decodes one inbound frame and routes it to the matching
// operation. Requests are fire-and-forget: the only reply path, besides
// the events the operation itself fans out, is an error event back on the
// same connection.
func dispatch(ctx context.Context, deps Deps, sc socket.Conn, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		sendError(sc, "", errs.Validation("malformed frame"))
		return
	}

	var err error
	switch env.Name {
	case models.ReqJoinChat:
		err = handleJoin(ctx, deps, sc, env)
	case models.ReqLeaveChat:
		deps.Chat.LeaveChat(sc, env.ChatID)
	case models.ReqSendMessage:
		err = handleSend(ctx, deps, sc, env)
	case models.ReqEditMessage:
		err = handleEdit(ctx, deps, sc, env)
	case models.ReqDeleteMessage:
		err = handleDelete(ctx, deps, sc, env)
	case models.ReqTypingStart:
		err = deps.Chat.TypingStart(ctx, sc, env.ChatID)
	case models.ReqTypingStop:
		err = deps.Chat.TypingStop(ctx, sc, env.ChatID)
	case models.ReqMessageRead:
		err = handleRead(ctx, deps, sc, env)
	case models.ReqAddReaction:
		err = handleReaction(ctx, deps, sc, env)
	case models.ReqRemoveReaction:
		err = handleRemoveReaction(ctx, deps, sc, env)
	case models.ReqUpdateStatus:
		err = handleStatus(deps, sc, env)
	case models.ReqCallOffer:
		err = errs.NotSupported("call signaling is not available")
	default:
		log.Warn().Str("event", env.Name).Msg("unknown event")
		err = errs.Validation("unknown event")
	}

	if err != nil {
		sendError(sc, env.ChatID, err)
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errs.Validation("missing payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errs.Validation("malformed payload")
	}
	return v, nil
}

func requireChat(env models.Envelope) error {
	if env.ChatID == "" {
		return errs.Validation("chat_id required")
	}
	return nil
}

func handleJoin(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	return deps.Chat.JoinChat(ctx, sc, env.ChatID)
}

func handleSend(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	req, err := decode[models.SendMessageRequest](env.Payload)
	if err != nil {
		return err
	}
	_, err = deps.Chat.SendMessage(ctx, sc, env.ChatID, req)
	return err
}

func handleEdit(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	req, err := decode[models.EditMessageRequest](env.Payload)
	if err != nil {
		return err
	}
	_, err = deps.Chat.EditMessage(ctx, sc, env.ChatID, req)
	return err
}

func handleDelete(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	req, err := decode[models.MessageRefRequest](env.Payload)
	if err != nil {
		return err
	}
	return deps.Chat.DeleteMessage(ctx, sc, env.ChatID, req.MessageID)
}

func handleRead(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	req, err := decode[models.MessageRefRequest](env.Payload)
	if err != nil {
		return err
	}
	return deps.Chat.MarkRead(ctx, sc, env.ChatID, req.MessageID)
}

func handleReaction(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	req, err := decode[models.ReactionRequest](env.Payload)
	if err != nil {
		return err
	}
	return deps.Chat.React(ctx, sc, env.ChatID, req)
}

func handleRemoveReaction(ctx context.Context, deps Deps, sc socket.Conn, env models.Envelope) error {
	if err := requireChat(env); err != nil {
		return err
	}
	req, err := decode[models.ReactionRequest](env.Payload)
	if err != nil {
		return err
	}
	return deps.Chat.RemoveReaction(ctx, sc, env.ChatID, req.MessageID)
}

func handleStatus(deps Deps, sc socket.Conn, env models.Envelope) error {
	req, err := decode[models.StatusUpdateRequest](env.Payload)
	if err != nil {
		return err
	}
	if !req.Status.Valid() {
		return errs.Validation("unknown status")
	}
	deps.Presence.UpdateStatus(sc.Identity().ID, req.Status)
	return nil
}

// sendError reports a failed request to the originating connection only.
// Errors are never broadcast to the room.
func sendError(sc socket.Conn, chatID string, err error) {
	payload := models.ErrorPayload{
		Code:    string(errs.CodeOf(err)),
		Message: errs.MessageOf(err),
	}
	if sendErr := sc.Send(models.NewEvent(models.EventError, chatID, payload)); sendErr != nil {
		log.Debug().Err(sendErr).Msg("error event delivery failed")
	}
}
