package store

import (
	"context"
	"fmt"

	"github.com/yumisugoi/yumi/internal/yumi/facts"
)

// UserSummary is what the dashboard shows per user.
type UserSummary struct {
	UserID   string      `json:"user_id"`
	Facts    facts.Facts `json:"facts"`
	XP       int         `json:"xp"`
	Level    int         `json:"level"`
	Messages int         `json:"messages"`
}

// ListUsers returns a summary of every user the bot has stored anything
// about, ordered by user id.
func (s *Store) ListUsers(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id,
		       COALESCE(x.xp, 0),
		       COALESCE(x.level, 1),
		       (SELECT COUNT(*) FROM conversation_messages m WHERE m.user_id = u.user_id)
		FROM (
			SELECT user_id FROM user_facts
			UNION SELECT user_id FROM user_xp
			UNION SELECT user_id FROM conversation_messages
		) u
		LEFT JOIN user_xp x ON x.user_id = u.user_id
		ORDER BY u.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var out []UserSummary
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.UserID, &u.XP, &u.Level, &u.Messages); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	all, err := s.LoadAllFacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Facts = all[out[i].UserID]
		if out[i].Facts == nil {
			out[i].Facts = facts.Facts{}
		}
	}
	return out, nil
}

// DeleteUser erases everything stored about userID.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin user deletion: %w", err)
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM conversation_messages WHERE user_id = ?`,
		`DELETE FROM user_facts WHERE user_id = ?`,
		`DELETE FROM user_xp WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, userID); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", userID, err)
		}
	}
	return tx.Commit()
}
