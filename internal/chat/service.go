// Package chat implements the message lifecycle: validate, persist through
// the chat store, refresh the last-message summary, then fan out to the
// room and to each participant's personal notification channel.
package chat

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"chat-core/internal/auth"
	"chat-core/internal/errs"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/rooms"
	"chat-core/internal/socket"
	"chat-core/internal/store"
)

type Config struct {
	MaxContentLength int
	HistoryLimit     int
	TypingTTL        time.Duration
}

type Service struct {
	store    store.ChatStore
	typing   store.TypingStore
	rooms    *rooms.Manager
	presence *presence.Registry
	dir      auth.UserDirectory
	cfg      Config
}

func NewService(chatStore store.ChatStore, typing store.TypingStore, roomMgr *rooms.Manager, reg *presence.Registry, dir auth.UserDirectory, cfg Config) *Service {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 1000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 5 * time.Minute
	}
	return &Service{
		store:    chatStore,
		typing:   typing,
		rooms:    roomMgr,
		presence: reg,
		dir:      dir,
		cfg:      cfg,
	}
}

// JoinChat places the connection in the room (after the participant check)
// and replays recent history plus current typing state to the joiner.
func (s *Service) JoinChat(ctx context.Context, c socket.Conn, chatID string) error {
	if err := s.rooms.Join(ctx, c, chatID); err != nil {
		return err
	}

	ident := c.Identity()
	if err := c.Send(models.NewEvent(models.EventJoinedChat, chatID, models.RoomEventPayload{
		UserID:   ident.ID,
		Username: ident.Username,
	})); err != nil {
		log.Debug().Err(err).Str("chat_id", chatID).Msg("join confirmation failed")
	}

	messages, typing, err := s.History(ctx, chatID)
	if err != nil {
		// Membership stands; the client can re-fetch over REST.
		log.Warn().Err(err).Str("chat_id", chatID).Msg("history replay failed")
		return nil
	}
	if err := c.Send(models.NewEvent(models.EventChatHistory, chatID, models.HistoryPayload{
		Messages: messages,
		Typing:   typing,
	})); err != nil {
		log.Debug().Err(err).Str("chat_id", chatID).Msg("history delivery failed")
	}
	return nil
}

// LeaveChat removes the membership and notifies the room.
func (s *Service) LeaveChat(c socket.Conn, chatID string) {
	s.rooms.Leave(c, chatID)
}

// History returns the recent window of the timeline (deleted messages
// masked) together with the users whose typing state has not expired. The
// TTL is applied here, on read, regardless of sweeper cadence.
func (s *Service) History(ctx context.Context, chatID string) ([]models.Message, []string, error) {
	raw, err := s.store.ListRecentMessages(ctx, chatID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, nil, err
	}
	messages := make([]models.Message, len(raw))
	for i := range raw {
		messages[i] = raw[i].Masked()
	}

	typing, err := s.typing.ListTyping(ctx, chatID, s.cfg.TypingTTL)
	if err != nil {
		log.Debug().Err(err).Str("chat_id", chatID).Msg("typing lookup failed")
		typing = nil
	}
	return messages, typing, nil
}

// HistoryFor is the REST-facing history fetch: same window as the join
// replay, but only for callers who participate in the chat.
func (s *Service) HistoryFor(ctx context.Context, userID, chatID string) ([]models.Message, []string, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, nil, err
	}
	return s.History(ctx, chatID)
}

// SendMessage runs the full pipeline for one message. A persistence
// failure is terminal for the message and reported only to the sender; a
// fan-out failure is logged and ignored.
func (s *Service) SendMessage(ctx context.Context, c socket.Conn, chatID string, req models.SendMessageRequest) (*models.Message, error) {
	ident := c.Identity()

	chat, err := s.store.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(ident.ID) {
		return nil, errs.Forbidden("not a participant of this chat")
	}

	msg, err := s.buildMessage(ctx, chatID, ident, req)
	if err != nil {
		return nil, err
	}

	persisted, err := s.store.AppendMessage(ctx, chatID, msg)
	if err != nil {
		return nil, err
	}

	// Derived cache only: the message is already durable, so a summary
	// failure must not fail the send. The store rejects the write when a
	// concurrent sender already cached a newer message.
	if err := s.store.UpdateLastMessageSummary(ctx, chatID, persisted.Summary(), persisted.Seq); err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("last-message summary update failed")
	}

	// Sending a message implies the sender stopped typing.
	s.stopTyping(ctx, c, chatID, false)

	ev := models.NewEvent(models.EventNewMessage, chatID, models.MessagePayload{Message: *persisted})
	s.rooms.Broadcast(chatID, ev, c.ID())
	s.notifyOutOfRoom(chat.Participants, ident.ID, chatID, ev)

	return persisted, nil
}

func (s *Service) buildMessage(ctx context.Context, chatID string, ident models.Identity, req models.SendMessageRequest) (*models.Message, error) {
	msg := &models.Message{
		SenderID:   ident.ID,
		SenderName: ident.Username,
		Type:       req.Type,
	}
	if req.Content != "" {
		content := req.Content
		msg.Content = &content
	}
	if req.Media != "" {
		media := req.Media
		msg.Media = &media
	}
	if req.Voice != "" {
		voice := req.Voice
		msg.Voice = &voice
	}
	if msg.Content == nil && msg.Media == nil && msg.Voice == nil {
		return nil, errs.Validation("message must have content, media or voice")
	}
	if msg.Content != nil && utf8.RuneCountInString(*msg.Content) > s.cfg.MaxContentLength {
		return nil, errs.Validation("message content too long")
	}
	if msg.Type == "" {
		switch {
		case msg.Voice != nil:
			msg.Type = models.MessageVoice
		case msg.Media != nil:
			msg.Type = models.MessageImage
		default:
			msg.Type = models.MessageText
		}
	}
	if req.ReplyToID != "" {
		// A dangling reply reference is dropped rather than failing the send.
		if _, err := s.store.GetMessage(ctx, chatID, req.ReplyToID); err == nil {
			replyTo := req.ReplyToID
			msg.ReplyToID = &replyTo
		} else {
			log.Debug().Str("reply_to", req.ReplyToID).Str("chat_id", chatID).
				Msg("reply target not found, sending without reference")
		}
	}
	return msg, nil
}

// EditMessage rewrites the content of the caller's own message. Edits to
// the most recent message also refresh the last-message summary.
func (s *Service) EditMessage(ctx context.Context, c socket.Conn, chatID string, req models.EditMessageRequest) (*models.Message, error) {
	if req.Content == "" {
		return nil, errs.Validation("edited content must not be empty")
	}
	if utf8.RuneCountInString(req.Content) > s.cfg.MaxContentLength {
		return nil, errs.Validation("message content too long")
	}

	edited, err := s.store.EditMessage(ctx, chatID, req.MessageID, c.Identity().ID, req.Content)
	if err != nil {
		return nil, err
	}

	// Applies only when the edited message is the one the summary mirrors;
	// edits to older messages are rejected by the seq guard.
	if err := s.store.UpdateLastMessageSummary(ctx, chatID, edited.Summary(), edited.Seq); err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("last-message summary update failed")
	}
	s.rooms.Broadcast(chatID, models.NewEvent(models.EventMessageEdited, chatID,
		models.MessagePayload{Message: *edited}), c.ID())
	return edited, nil
}

// DeleteMessage soft-deletes the caller's own message and recomputes the
// last-message summary from whatever non-deleted message is now newest.
func (s *Service) DeleteMessage(ctx context.Context, c socket.Conn, chatID string, messageID string) error {
	deleted, err := s.store.DeleteMessage(ctx, chatID, messageID, c.Identity().ID)
	if err != nil {
		return err
	}

	latest, err := s.store.LatestMessage(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("latest-message lookup failed")
	} else {
		var summary *models.LastMessageSummary
		if latest != nil {
			summary = latest.Summary()
		}
		// Guarded on the deleted message's seq: when the summary already
		// mirrors something newer, the recompute is a no-op.
		if err := s.store.UpdateLastMessageSummary(ctx, chatID, summary, deleted.Seq); err != nil {
			log.Error().Err(err).Str("chat_id", chatID).Msg("last-message summary update failed")
		}
	}

	s.rooms.Broadcast(chatID, models.NewEvent(models.EventMessageDelete, chatID,
		models.MessagePayload{Message: deleted.Masked()}), c.ID())
	return nil
}

// React adds or replaces the caller's reaction on a message.
func (s *Service) React(ctx context.Context, c socket.Conn, chatID string, req models.ReactionRequest) error {
	if req.Emoji == "" {
		return errs.Validation("reaction emoji required")
	}
	userID := c.Identity().ID
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.store.UpsertReaction(ctx, chatID, req.MessageID, userID, req.Emoji); err != nil {
		return err
	}
	s.rooms.Broadcast(chatID, models.NewEvent(models.EventReaction, chatID, models.ReactionPayload{
		MessageID: req.MessageID,
		UserID:    userID,
		Emoji:     req.Emoji,
	}), c.ID())
	return nil
}

// RemoveReaction drops the caller's reaction, if any.
func (s *Service) RemoveReaction(ctx context.Context, c socket.Conn, chatID string, messageID string) error {
	userID := c.Identity().ID
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.store.RemoveReaction(ctx, chatID, messageID, userID); err != nil {
		return err
	}
	s.rooms.Broadcast(chatID, models.NewEvent(models.EventReaction, chatID, models.ReactionPayload{
		MessageID: messageID,
		UserID:    userID,
		Removed:   true,
	}), c.ID())
	return nil
}

// MarkRead records a read mark. Marking an already-read message is a
// no-op: nothing is stored and no receipt goes out.
func (s *Service) MarkRead(ctx context.Context, c socket.Conn, chatID string, messageID string) error {
	userID := c.Identity().ID
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	mark, fresh, err := s.store.UpsertReadMark(ctx, chatID, messageID, userID)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	s.rooms.Broadcast(chatID, models.NewEvent(models.EventReadReceipt, chatID, models.ReadReceiptPayload{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    mark.ReadAt,
	}), c.ID())
	return nil
}

// TypingStart upserts the caller's typing state and tells the room. The
// transition is idempotent: repeated starts just refresh the timestamp.
func (s *Service) TypingStart(ctx context.Context, c socket.Conn, chatID string) error {
	if !s.rooms.InRoom(c.ID(), chatID) {
		return errs.Forbidden("join the chat before typing")
	}
	if err := s.typing.UpsertTypingState(ctx, chatID, c.Identity().ID, time.Now()); err != nil {
		log.Debug().Err(err).Str("chat_id", chatID).Msg("typing upsert failed")
	}
	ident := c.Identity()
	s.rooms.Broadcast(chatID, models.NewEvent(models.EventUserTyping, chatID, models.TypingPayload{
		UserID:   ident.ID,
		Username: ident.Username,
		IsTyping: true,
	}), c.ID())
	return nil
}

// TypingStop clears the caller's typing state. Stopping when not typing is
// fine: both transitions tolerate out-of-order delivery.
func (s *Service) TypingStop(ctx context.Context, c socket.Conn, chatID string) error {
	if !s.rooms.InRoom(c.ID(), chatID) {
		return errs.Forbidden("join the chat before typing")
	}
	s.stopTyping(ctx, c, chatID, true)
	return nil
}

func (s *Service) stopTyping(ctx context.Context, c socket.Conn, chatID string, announce bool) {
	if err := s.typing.ClearTypingState(ctx, chatID, c.Identity().ID); err != nil {
		log.Debug().Err(err).Str("chat_id", chatID).Msg("typing clear failed")
	}
	if !announce {
		return
	}
	ident := c.Identity()
	s.rooms.Broadcast(chatID, models.NewEvent(models.EventUserTyping, chatID, models.TypingPayload{
		UserID:   ident.ID,
		Username: ident.Username,
		IsTyping: false,
	}), c.ID())
}

// DirectChat returns the unique 1:1 chat between the caller and the peer.
// The peer must resolve to a live user; a chat is never created against an
// unknown or deactivated id.
func (s *Service) DirectChat(ctx context.Context, userID, peerID string) (*models.Chat, bool, error) {
	if peerID == "" || peerID == userID {
		return nil, false, errs.Validation("recipient required")
	}
	if _, err := s.dir.Resolve(ctx, peerID); err != nil {
		if errs.CodeOf(err) == errs.CodeAuth {
			return nil, false, errs.NotFound("recipient not found")
		}
		return nil, false, err
	}
	return s.store.GetOrCreateDirectChat(ctx, userID, peerID)
}

// ChatList builds the conversation-list view for a user: summaries from
// the store, live presence of the other side for direct chats.
func (s *Service) ChatList(ctx context.Context, userID string) ([]models.ChatListItem, error) {
	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]models.ChatListItem, 0, len(chats))
	for _, chat := range chats {
		item := models.ChatListItem{
			ID:          chat.ID,
			Type:        chat.Type,
			LastMessage: chat.LastMessage,
		}
		if chat.Type == models.ChatDirect {
			for _, p := range chat.Participants {
				if p != userID {
					info := s.presence.Info(p)
					item.OtherUser = &info
					break
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID string) error {
	participants, err := s.store.ListParticipants(ctx, chatID)
	if err != nil {
		return err
	}
	for _, id := range participants {
		if id == userID {
			return nil
		}
	}
	return errs.Forbidden("not a participant of this chat")
}

// notifyOutOfRoom pushes the event to participants who are online but not
// currently inside the room, so a conversation list elsewhere still lights
// up. Offline participants are skipped; they catch up from the store.
func (s *Service) notifyOutOfRoom(participants []string, senderID, chatID string, ev models.Event) {
	for _, p := range participants {
		if p == senderID {
			continue
		}
		if !s.presence.IsOnline(p) {
			continue
		}
		if s.rooms.IsUserInRoom(p, chatID) {
			continue
		}
		s.presence.SendToUser(p, ev)
	}
}
