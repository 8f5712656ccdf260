package models

import (
	"encoding/json"
	"time"
)

// Server → client event names.
const (
	EventConnected     = "connected"
	EventNewMessage    = "new_message"
	EventMessageEdited = "message_edited"
	EventMessageDelete = "message_deleted"
	EventReadReceipt   = "message_read_receipt"
	EventReaction      = "message_reaction"
	EventUserTyping    = "user_typing"
	EventUserOnline    = "user_online"
	EventUserOffline   = "user_offline"
	EventStatusUpdate  = "user_status_update"
	EventUserJoined    = "user_joined_chat"
	EventUserLeft      = "user_left_chat"
	EventJoinedChat    = "joined_chat"
	EventChatHistory   = "chat_history"
	EventError         = "error"
)

// Client → server request names.
const (
	ReqJoinChat       = "join_chat"
	ReqLeaveChat      = "leave_chat"
	ReqSendMessage    = "send_message"
	ReqEditMessage    = "edit_message"
	ReqDeleteMessage  = "delete_message"
	ReqTypingStart    = "typing_start"
	ReqTypingStop     = "typing_stop"
	ReqMessageRead    = "message_read"
	ReqAddReaction    = "add_reaction"
	ReqRemoveReaction = "remove_reaction"
	ReqUpdateStatus   = "update_status"
	ReqCallOffer      = "call_offer"
)

// Event is the outbound wire envelope. Every event name maps to a fixed
// payload type below.
type Event struct {
	Name      string `json:"event"`
	ChatID    string `json:"chat_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(name, chatID string, payload any) Event {
	return Event{
		Name:      name,
		ChatID:    chatID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Envelope is the inbound wire frame: the payload stays raw until the
// dispatcher knows which request struct to decode it into.
type Envelope struct {
	Name      string          `json:"event"`
	ChatID    string          `json:"chat_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Outbound payloads.

type ConnectedPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type MessagePayload struct {
	Message Message `json:"message"`
}

type TypingPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ReadReceiptPayload struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type ReactionPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

type RoomEventPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type HistoryPayload struct {
	Messages []Message `json:"messages"`
	Typing   []string  `json:"typing,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Inbound request payloads.

type SendMessageRequest struct {
	Type      MessageType `json:"type,omitempty"`
	Content   string      `json:"content,omitempty"`
	Media     string      `json:"media,omitempty"`
	Voice     string      `json:"voice,omitempty"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
}

type EditMessageRequest struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type MessageRefRequest struct {
	MessageID string `json:"message_id"`
}

type ReactionRequest struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji,omitempty"`
}

type StatusUpdateRequest struct {
	Status PresenceStatus `json:"status"`
}
