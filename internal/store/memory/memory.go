// Package memory holds in-process store implementations. They back the
// unit tests and double as a reference for the semantics the durable
// backends must provide.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

type chatDoc struct {
	chat     models.Chat
	messages []*models.Message
	// summarySeq is the seq of the message the cached summary mirrors, 0
	// when the cache is empty. Stale summary writes are rejected against it.
	summarySeq int64
}

type ChatStore struct {
	mu      sync.Mutex
	chats   map[string]*chatDoc
	direct  map[string]string // pair key -> chat id
	nextSeq int64
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		chats:  make(map[string]*chatDoc),
		direct: make(map[string]string),
	}
}

// Seed inserts a chat directly, for tests.
func (s *ChatStore) Seed(chat models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	s.chats[chat.ID] = &chatDoc{chat: chat}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *ChatStore) FindChatByID(_ context.Context, chatID string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat not found")
	}
	chat := doc.chat
	return &chat, nil
}

func (s *ChatStore) GetOrCreateDirectChat(_ context.Context, userA, userB string) (*models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userA, userB)
	if id, ok := s.direct[key]; ok {
		chat := s.chats[id].chat
		return &chat, false, nil
	}
	chat := models.Chat{
		ID:           uuid.New().String(),
		Type:         models.ChatDirect,
		Participants: []string{userA, userB},
		CreatedAt:    time.Now(),
	}
	s.chats[chat.ID] = &chatDoc{chat: chat}
	s.direct[key] = chat.ID
	return &chat, true, nil
}

func (s *ChatStore) ListChatsForUser(_ context.Context, userID string) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chats []models.Chat
	for _, doc := range s.chats {
		if doc.chat.IsParticipant(userID) {
			chats = append(chats, doc.chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if chats[i].LastMessage != nil {
			ti = chats[i].LastMessage.SentAt
		}
		if chats[j].LastMessage != nil {
			tj = chats[j].LastMessage.SentAt
		}
		return ti.After(tj)
	})
	return chats, nil
}

func (s *ChatStore) ListParticipants(_ context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat not found")
	}
	return append([]string(nil), doc.chat.Participants...), nil
}

func (s *ChatStore) AppendMessage(_ context.Context, chatID string, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat not found")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	s.nextSeq++
	msg.ChatID = chatID
	msg.Seq = s.nextSeq
	msg.CreatedAt = time.Now()
	doc.messages = append(doc.messages, msg)
	stored := *msg
	return &stored, nil
}

func (s *ChatStore) findMessage(chatID, messageID string) (*models.Message, error) {
	doc, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat not found")
	}
	for _, m := range doc.messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, errs.NotFound("message not found")
}

func (s *ChatStore) GetMessage(_ context.Context, chatID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findMessage(chatID, messageID)
	if err != nil {
		return nil, err
	}
	cp := *m
	return &cp, nil
}

func (s *ChatStore) ListRecentMessages(_ context.Context, chatID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat not found")
	}
	msgs := doc.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out, nil
}

func (s *ChatStore) LatestMessage(_ context.Context, chatID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat not found")
	}
	for i := len(doc.messages) - 1; i >= 0; i-- {
		if !doc.messages[i].Deleted {
			cp := *doc.messages[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *ChatStore) UpdateLastMessageSummary(_ context.Context, chatID string, summary *models.LastMessageSummary, basedOnSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return errs.NotFound("chat not found")
	}
	if doc.summarySeq > basedOnSeq {
		// The cache already mirrors a newer message; drop the stale write.
		return nil
	}
	doc.chat.LastMessage = summary
	if summary == nil {
		doc.summarySeq = 0
	} else {
		doc.summarySeq = summary.Seq
	}
	return nil
}

func (s *ChatStore) EditMessage(_ context.Context, chatID, messageID, userID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findMessage(chatID, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, errs.Forbidden("only the sender can edit a message")
	}
	if m.Deleted {
		return nil, errs.Validation("message is deleted")
	}
	now := time.Now()
	m.Content = &content
	m.Edited = true
	m.EditedAt = &now
	cp := *m
	return &cp, nil
}

func (s *ChatStore) DeleteMessage(_ context.Context, chatID, messageID, userID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findMessage(chatID, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, errs.Forbidden("only the sender can delete a message")
	}
	if !m.Deleted {
		now := time.Now()
		m.Deleted = true
		m.DeletedAt = &now
	}
	cp := *m
	return &cp, nil
}

func (s *ChatStore) UpsertReaction(_ context.Context, chatID, messageID, userID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findMessage(chatID, messageID)
	if err != nil {
		return err
	}
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions[i].Emoji = emoji
			m.Reactions[i].CreatedAt = time.Now()
			return nil
		}
	}
	m.Reactions = append(m.Reactions, models.Reaction{
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *ChatStore) RemoveReaction(_ context.Context, chatID, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findMessage(chatID, messageID)
	if err != nil {
		return err
	}
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *ChatStore) UpsertReadMark(_ context.Context, chatID, messageID, userID string) (models.ReadMark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findMessage(chatID, messageID)
	if err != nil {
		return models.ReadMark{}, false, err
	}
	for _, rm := range m.Reads {
		if rm.UserID == userID {
			return rm, false, nil
		}
	}
	mark := models.ReadMark{UserID: userID, ReadAt: time.Now()}
	m.Reads = append(m.Reads, mark)
	return mark, true, nil
}
