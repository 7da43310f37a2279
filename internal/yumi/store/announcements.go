package store

import (
	"context"
	"fmt"
	"time"
)

// Announcement is a message queued for a channel.
type Announcement struct {
	ID        int64     `json:"id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	Message   string    `json:"message"`
	DueAt     time.Time `json:"due_at"`
}

// ScheduleAnnouncement queues message for channelID at due.
func (s *Store) ScheduleAnnouncement(ctx context.Context, channelID, authorID, message string, due time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements (channel_id, author_id, message, due_at, created_at) VALUES (?, ?, ?, ?, ?)
	`, channelID, authorID, message, due.Unix(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to schedule announcement: %w", err)
	}
	return nil
}

// DueAnnouncements returns the announcements due at or before now, oldest
// first.
func (s *Store) DueAnnouncements(ctx context.Context, now time.Time) ([]Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_id, message, due_at FROM announcements
		WHERE due_at <= ? ORDER BY due_at, id
	`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list due announcements: %w", err)
	}
	defer rows.Close()

	var out []Announcement
	for rows.Next() {
		var a Announcement
		var due int64
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.AuthorID, &a.Message, &due); err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		a.DueAt = time.Unix(due, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnnouncement removes a posted or dropped announcement.
func (s *Store) DeleteAnnouncement(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete announcement %d: %w", id, err)
	}
	return nil
}
