package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
)

// messageRecord is the JSON form of a chat message inside conversations.messages.
type messageRecord struct {
	Time          time.Time `json:"time"`
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	ImageMIMEType string    `json:"image_mime_type,omitempty"`
	Image         []byte    `json:"image,omitempty"`
}

func encodeMessages(messages []model.ChatMessage) (string, error) {
	records := make([]messageRecord, 0, len(messages))
	for _, m := range messages {
		records = append(records, messageRecord{
			ID:            m.ID,
			Role:          string(m.Role),
			Text:          m.Text,
			Time:          m.Time,
			ImageMIMEType: m.ImageMIMEType,
			Image:         m.Image,
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}
	return string(data), nil
}

func decodeMessages(data string) ([]model.ChatMessage, error) {
	var records []messageRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(records))
	for _, r := range records {
		messages = append(messages, model.ChatMessage{
			ID:            r.ID,
			Role:          model.MessageRole(r.Role),
			Text:          r.Text,
			Time:          r.Time,
			ImageMIMEType: r.ImageMIMEType,
			Image:         r.Image,
		})
	}
	return messages, nil
}

// LoadConversation returns the thread for a decision, or nil if none exists.
func (s *SQLiteStorage) LoadConversation(ctx context.Context, userID, decisionID string) (*model.Conversation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(decisionID, "decisionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, decision_id, messages, is_active, last_updated
		FROM conversations
		WHERE user_id = ? AND decision_id = ?
	`, userID, decisionID)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Transient("load conversation", err)
	}
	return &c, nil
}

// SaveConversation stores a thread. There is one thread per user and decision;
// saving again replaces its messages.
func (s *SQLiteStorage) SaveConversation(ctx context.Context, conversation *model.Conversation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateConversation(conversation); err != nil {
		return err
	}

	messages, err := encodeMessages(conversation.Messages)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, decision_id, messages, is_active, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, decision_id) DO UPDATE SET
			messages = excluded.messages,
			is_active = excluded.is_active,
			last_updated = excluded.last_updated
	`, conversation.ID, conversation.UserID, conversation.DecisionID, messages,
		conversation.IsActive, utc(conversation.LastUpdated))
	if err != nil {
		return common.Transient("save conversation", err)
	}
	return nil
}

// ListConversations returns a user's threads, most recently updated first.
func (s *SQLiteStorage) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, decision_id, messages, is_active, last_updated
		FROM conversations
		WHERE user_id = ?
		ORDER BY last_updated DESC
	`, userID)
	if err != nil {
		return nil, common.Transient("list conversations", err)
	}
	defer func() { _ = rows.Close() }()

	conversations := []model.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func scanConversation(row scanner) (model.Conversation, error) {
	var (
		c        model.Conversation
		messages string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.DecisionID, &messages, &c.IsActive, &c.LastUpdated); err != nil {
		return model.Conversation{}, err
	}
	decoded, err := decodeMessages(messages)
	if err != nil {
		return model.Conversation{}, err
	}
	c.Messages = decoded
	return c, nil
}

// SaveEmbedding appends an embedding record. Older records for the same
// decision stay in place and are shadowed by newer ones on load.
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, embedding *model.ConversationEmbedding) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEmbedding(embedding); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_embeddings (id, user_id, decision_id, text, summary, vector, dimension, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, embedding.ID, embedding.UserID, embedding.DecisionID, embedding.Text, embedding.Summary,
		packEmbedding(embedding.Vector), len(embedding.Vector), utc(embedding.CreatedAt))
	if err != nil {
		return common.Transient("save embedding", err)
	}
	return nil
}

// LoadEmbeddings returns the newest embedding per decision, newest first, at
// most limit records. A limit of zero or less loads everything.
func (s *SQLiteStorage) LoadEmbeddings(ctx context.Context, userID string, limit int) ([]model.ConversationEmbedding, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, decision_id, text, summary, vector, created_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY decision_id ORDER BY created_at DESC, rowid DESC
			) AS rn
			FROM conversation_embeddings
			WHERE user_id = ?
		)
		WHERE rn = 1
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, common.Transient("load embeddings", err)
	}
	defer func() { _ = rows.Close() }()

	embeddings := []model.ConversationEmbedding{}
	for rows.Next() {
		var (
			e    model.ConversationEmbedding
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.DecisionID, &e.Text, &e.Summary, &blob, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vector, err := unpackEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", e.ID, err)
		}
		e.Vector = vector
		embeddings = append(embeddings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Transient("load embeddings", err)
	}
	return embeddings, nil
}

// packEmbedding stores a vector as little-endian float32s.
func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
