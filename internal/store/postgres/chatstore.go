// Package postgres implements store.ChatStore on a pgx connection pool.
// Message appends are plain INSERTs into an append-only messages table with
// a database-assigned sequence, so concurrent senders can never lose each
// other's writes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// wrapErr folds driver failures into the client-facing taxonomy. Anything
// that is not a missing row is treated as a transient store outage: the
// caller reports it and may resubmit.
func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.CodeNotFound, "not found", err)
	}
	return errs.Wrap(errs.CodeStoreUnavailable, fmt.Sprintf("chat store: %s failed", op), err)
}

// directKey builds the canonical unordered-pair key enforcing the
// one-direct-chat-per-pair invariant via a unique index.
func directKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

func (s *Store) FindChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	query := `
		SELECT c.id, c.type, c.created_at,
			c.last_msg_id, c.last_msg_seq, c.last_msg_sender_id, c.last_msg_sender_name,
			c.last_msg_preview, c.last_msg_type, c.last_msg_at,
			ARRAY(SELECT p.user_id FROM chat_participants p WHERE p.chat_id = c.id)
		FROM chats c
		WHERE c.id = $1
	`
	chat, err := scanChat(s.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("chat not found")
		}
		return nil, wrapErr("find chat", err)
	}
	return chat, nil
}

func (s *Store) GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*models.Chat, bool, error) {
	key := directKey(userA, userB)

	if chat, err := s.findChatByDirectKey(ctx, key); err == nil {
		return chat, false, nil
	} else if errs.CodeOf(err) != errs.CodeNotFound {
		return nil, false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, wrapErr("begin", err)
	}
	defer tx.Rollback(ctx)

	newID := uuid.New().String()
	tag, err := tx.Exec(ctx,
		`INSERT INTO chats (id, type, direct_key) VALUES ($1, $2, $3)
		 ON CONFLICT (direct_key) DO NOTHING`,
		newID, models.ChatDirect, key)
	if err != nil {
		return nil, false, wrapErr("create direct chat", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race to a concurrent creator; use theirs.
		chat, err := s.findChatByDirectKey(ctx, key)
		return chat, false, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
		newID, userA, userB)
	if err != nil {
		return nil, false, wrapErr("add participants", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, wrapErr("commit", err)
	}

	return &models.Chat{
		ID:           newID,
		Type:         models.ChatDirect,
		Participants: []string{userA, userB},
		CreatedAt:    time.Now(),
	}, true, nil
}

func (s *Store) findChatByDirectKey(ctx context.Context, key string) (*models.Chat, error) {
	query := `
		SELECT c.id, c.type, c.created_at,
			c.last_msg_id, c.last_msg_seq, c.last_msg_sender_id, c.last_msg_sender_name,
			c.last_msg_preview, c.last_msg_type, c.last_msg_at,
			ARRAY(SELECT p.user_id FROM chat_participants p WHERE p.chat_id = c.id)
		FROM chats c
		WHERE c.direct_key = $1
	`
	chat, err := scanChat(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("chat not found")
		}
		return nil, wrapErr("find direct chat", err)
	}
	return chat, nil
}

func (s *Store) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	query := `
		SELECT c.id, c.type, c.created_at,
			c.last_msg_id, c.last_msg_seq, c.last_msg_sender_id, c.last_msg_sender_name,
			c.last_msg_preview, c.last_msg_type, c.last_msg_at,
			ARRAY(SELECT p.user_id FROM chat_participants p WHERE p.chat_id = c.id)
		FROM chats c
		JOIN chat_participants me ON me.chat_id = c.id AND me.user_id = $1
		ORDER BY c.last_msg_at DESC NULLS LAST
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, wrapErr("list chats", err)
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, wrapErr("scan chat", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (s *Store) ListParticipants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, wrapErr("list participants", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan participant", err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errs.NotFound("chat not found")
	}
	return ids, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, chatID string, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.ChatID = chatID

	query := `
		INSERT INTO messages (id, chat_id, sender_id, sender_name, type, content, media, voice, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq, created_at
	`
	err := s.pool.QueryRow(ctx, query,
		msg.ID, chatID, msg.SenderID, msg.SenderName, msg.Type,
		msg.Content, msg.Media, msg.Voice, msg.ReplyToID,
	).Scan(&msg.Seq, &msg.CreatedAt)
	if err != nil {
		return nil, wrapErr("append message", err)
	}
	return msg, nil
}

const messageColumns = `id, chat_id, seq, sender_id, sender_name, type,
	content, media, voice, reply_to_id,
	edited, edited_at, deleted, deleted_at, created_at`

func (s *Store) GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND chat_id = $2`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("message not found")
		}
		return nil, wrapErr("get message", err)
	}
	if err := s.loadMarks(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE chat_id = $1 ORDER BY seq DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr("scan message", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list messages", err)
	}

	// Oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	refs := make([]*models.Message, len(messages))
	for i := range messages {
		refs[i] = &messages[i]
	}
	if err := s.loadMarks(ctx, refs); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) LatestMessage(ctx context.Context, chatID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE chat_id = $1 AND deleted = FALSE ORDER BY seq DESC LIMIT 1`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("latest message", err)
	}
	return msg, nil
}

// UpdateLastMessageSummary writes the summary unless the cache already
// mirrors a message newer than basedOnSeq. Two racing senders may apply
// their updates in either order; the stale one becomes a no-op.
func (s *Store) UpdateLastMessageSummary(ctx context.Context, chatID string, summary *models.LastMessageSummary, basedOnSeq int64) error {
	var err error
	if summary == nil {
		_, err = s.pool.Exec(ctx, `
			UPDATE chats SET last_msg_id = NULL, last_msg_seq = NULL,
				last_msg_sender_id = NULL, last_msg_sender_name = NULL,
				last_msg_preview = NULL, last_msg_type = NULL, last_msg_at = NULL
			WHERE id = $1 AND (last_msg_seq IS NULL OR last_msg_seq <= $2)`,
			chatID, basedOnSeq)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE chats SET last_msg_id = $2, last_msg_seq = $3,
				last_msg_sender_id = $4, last_msg_sender_name = $5,
				last_msg_preview = $6, last_msg_type = $7, last_msg_at = $8
			WHERE id = $1 AND (last_msg_seq IS NULL OR last_msg_seq <= $9)`,
			chatID, summary.MessageID, summary.Seq, summary.SenderID,
			summary.SenderName, summary.Preview, summary.Type, summary.SentAt,
			basedOnSeq)
	}
	if err != nil {
		return wrapErr("update summary", err)
	}
	return nil
}

func (s *Store) EditMessage(ctx context.Context, chatID, messageID, userID, content string) (*models.Message, error) {
	existing, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if existing.SenderID != userID {
		return nil, errs.Forbidden("only the sender can edit a message")
	}
	if existing.Deleted {
		return nil, errs.Validation("message is deleted")
	}

	query := `UPDATE messages SET content = $3, edited = TRUE, edited_at = now()
		WHERE id = $1 AND chat_id = $2
		RETURNING edited_at`
	if err := s.pool.QueryRow(ctx, query, messageID, chatID, content).Scan(&existing.EditedAt); err != nil {
		return nil, wrapErr("edit message", err)
	}
	existing.Content = &content
	existing.Edited = true
	return existing, nil
}

func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID, userID string) (*models.Message, error) {
	existing, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if existing.SenderID != userID {
		return nil, errs.Forbidden("only the sender can delete a message")
	}
	if existing.Deleted {
		return existing, nil
	}

	query := `UPDATE messages SET deleted = TRUE, deleted_at = now()
		WHERE id = $1 AND chat_id = $2
		RETURNING deleted_at`
	if err := s.pool.QueryRow(ctx, query, messageID, chatID).Scan(&existing.DeletedAt); err != nil {
		return nil, wrapErr("delete message", err)
	}
	existing.Deleted = true
	return existing, nil
}

func (s *Store) UpsertReaction(ctx context.Context, chatID, messageID, userID, emoji string) error {
	if err := s.assertMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = $3, created_at = now()`,
		messageID, userID, emoji)
	if err != nil {
		return wrapErr("upsert reaction", err)
	}
	return nil
}

func (s *Store) RemoveReaction(ctx context.Context, chatID, messageID, userID string) error {
	if err := s.assertMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2`,
		messageID, userID)
	if err != nil {
		return wrapErr("remove reaction", err)
	}
	return nil
}

func (s *Store) UpsertReadMark(ctx context.Context, chatID, messageID, userID string) (models.ReadMark, bool, error) {
	mark := models.ReadMark{UserID: userID}
	if err := s.assertMessage(ctx, chatID, messageID); err != nil {
		return mark, false, err
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
		RETURNING read_at`, messageID, userID).Scan(&mark.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already read; fetch the original mark and report the no-op.
		err = s.pool.QueryRow(ctx,
			`SELECT read_at FROM message_reads WHERE message_id = $1 AND user_id = $2`,
			messageID, userID).Scan(&mark.ReadAt)
		if err != nil {
			return mark, false, wrapErr("read mark", err)
		}
		return mark, false, nil
	}
	if err != nil {
		return mark, false, wrapErr("read mark", err)
	}
	return mark, true, nil
}

func (s *Store) assertMessage(ctx context.Context, chatID, messageID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND chat_id = $2)`,
		messageID, chatID).Scan(&exists)
	if err != nil {
		return wrapErr("check message", err)
	}
	if !exists {
		return errs.NotFound("message not found")
	}
	return nil
}

// loadMarks attaches reactions and read marks to the given messages.
func (s *Store) loadMarks(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*models.Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id = ANY($1)
		ORDER BY created_at`, ids)
	if err != nil {
		return wrapErr("load reactions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID string
		var r models.Reaction
		if err := rows.Scan(&msgID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return wrapErr("scan reaction", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Reactions = append(m.Reactions, r)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapErr("load reactions", err)
	}

	readRows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id, read_at
		FROM message_reads WHERE message_id = ANY($1)
		ORDER BY read_at`, ids)
	if err != nil {
		return wrapErr("load read marks", err)
	}
	defer readRows.Close()
	for readRows.Next() {
		var msgID string
		var rm models.ReadMark
		if err := readRows.Scan(&msgID, &rm.UserID, &rm.ReadAt); err != nil {
			return wrapErr("scan read mark", err)
		}
		if m, ok := byID[msgID]; ok {
			m.Reads = append(m.Reads, rm)
		}
	}
	return readRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var chat models.Chat
	var lastID, lastSender, lastSenderName, lastPreview, lastType *string
	var lastSeq *int64
	var lastAt *time.Time
	err := row.Scan(&chat.ID, &chat.Type, &chat.CreatedAt,
		&lastID, &lastSeq, &lastSender, &lastSenderName, &lastPreview, &lastType, &lastAt,
		&chat.Participants)
	if err != nil {
		return nil, err
	}
	if lastID != nil {
		chat.LastMessage = &models.LastMessageSummary{
			MessageID:  *lastID,
			Seq:        derefSeq(lastSeq),
			SenderID:   deref(lastSender),
			SenderName: deref(lastSenderName),
			Preview:    deref(lastPreview),
			Type:       models.MessageType(deref(lastType)),
			SentAt:     derefTime(lastAt),
		}
	}
	return &chat, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.Seq, &msg.SenderID, &msg.SenderName,
		&msg.Type, &msg.Content, &msg.Media, &msg.Voice, &msg.ReplyToID,
		&msg.Edited, &msg.EditedAt, &msg.Deleted, &msg.DeletedAt, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if msg.Content != nil && strings.TrimSpace(*msg.Content) == "" {
		msg.Content = nil
	}
	return &msg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefSeq(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
