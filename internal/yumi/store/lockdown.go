package store

import (
	"context"
	"fmt"
)

// LockChannel adds channelID to the locked set of guildID.
func (s *Store) LockChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locked_channels (guild_id, channel_id, locked_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, channel_id) DO NOTHING
	`, guildID, channelID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to lock channel %s: %w", channelID, err)
	}
	return nil
}

// UnlockChannel removes channelID from the locked set of guildID.
func (s *Store) UnlockChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locked_channels WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
	if err != nil {
		return fmt.Errorf("failed to unlock channel %s: %w", channelID, err)
	}
	return nil
}

// LockedChannels returns the locked channels of every guild.
func (s *Store) LockedChannels(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, channel_id FROM locked_channels ORDER BY guild_id, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked channels: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var g, c string
		if err := rows.Scan(&g, &c); err != nil {
			return nil, fmt.Errorf("failed to scan locked channel: %w", err)
		}
		out[g] = append(out[g], c)
	}
	return out, rows.Err()
}
