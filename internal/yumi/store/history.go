package store

import (
	"context"
	"fmt"

	"github.com/yumisugoi/yumi/internal/yumi/memory"
)

// SaveConversation replaces the stored messages of key with msgs.
func (s *Store) SaveConversation(ctx context.Context, key memory.Key, msgs []memory.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin conversation save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_messages
		WHERE user_id = ? AND guild_id = ? AND channel_id = ?
	`, key.UserID, key.GuildID, key.ChannelID); err != nil {
		return fmt.Errorf("failed to clear conversation %s: %w", key, err)
	}

	for i, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = s.now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (user_id, guild_id, channel_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, key.UserID, key.GuildID, key.ChannelID, i, string(m.Role), m.Content, ts); err != nil {
			return fmt.Errorf("failed to store message %d of %s: %w", i, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation %s: %w", key, err)
	}
	return nil
}

// LoadConversations returns every stored conversation, messages oldest
// first.
func (s *Store) LoadConversations(ctx context.Context) (map[memory.Key][]memory.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, guild_id, channel_id, role, content, created_at
		FROM conversation_messages
		ORDER BY user_id, guild_id, channel_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	defer rows.Close()

	out := make(map[memory.Key][]memory.Message)
	for rows.Next() {
		var (
			key  memory.Key
			role string
			m    memory.Message
		)
		if err := rows.Scan(&key.UserID, &key.GuildID, &key.ChannelID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = memory.Role(role)
		out[key] = append(out[key], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}

// DeleteUserConversations removes every conversation of userID and
// returns the number of messages deleted.
func (s *Store) DeleteUserConversations(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations of %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// ConversationStats summarises stored history.
type ConversationStats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Users         int `json:"users"`
}

// ConversationStats counts stored conversations, messages and users.
func (s *Store) ConversationStats(ctx context.Context) (ConversationStats, error) {
	var st ConversationStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM (SELECT DISTINCT user_id, guild_id, channel_id FROM conversation_messages)),
			(SELECT COUNT(*) FROM conversation_messages),
			(SELECT COUNT(DISTINCT user_id) FROM conversation_messages)
	`).Scan(&st.Conversations, &st.Messages, &st.Users)
	if err != nil {
		return ConversationStats{}, fmt.Errorf("failed to count conversations: %w", err)
	}
	return st, nil
}
