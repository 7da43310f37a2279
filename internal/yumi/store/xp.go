package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Progress is a user's experience state.
type Progress struct {
	UserID string `json:"user_id"`
	XP     int    `json:"xp"`
	Level  int    `json:"level"`
}

// ApplyXP adds gained to p and levels up while the pool covers the cost of
// the current level (level*100). It reports whether at least one level was
// gained.
func ApplyXP(p Progress, gained int) (Progress, bool) {
	if p.Level < 1 {
		p.Level = 1
	}
	p.XP += gained
	up := false
	for p.XP >= p.Level*100 {
		p.XP -= p.Level * 100
		p.Level++
		up = true
	}
	return p, up
}

// GetProgress returns the experience state of userID. Unknown users start
// at level 1 with no XP.
func (s *Store) GetProgress(ctx context.Context, userID string) (Progress, error) {
	p := Progress{UserID: userID, Level: 1}
	err := s.db.QueryRowContext(ctx, `SELECT xp, level FROM user_xp WHERE user_id = ?`, userID).Scan(&p.XP, &p.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("failed to get xp of %s: %w", userID, err)
	}
	return p, nil
}

// AddXP grants gained XP to userID and returns the new state.
func (s *Store) AddXP(ctx context.Context, userID string, gained int) (Progress, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Progress{}, false, fmt.Errorf("failed to begin xp update: %w", err)
	}
	defer tx.Rollback()

	p := Progress{UserID: userID, Level: 1}
	err = tx.QueryRowContext(ctx, `SELECT xp, level FROM user_xp WHERE user_id = ?`, userID).Scan(&p.XP, &p.Level)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Progress{}, false, fmt.Errorf("failed to read xp of %s: %w", userID, err)
	}

	p, up := ApplyXP(p, gained)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_xp (user_id, xp, level, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET xp = excluded.xp, level = excluded.level, updated_at = excluded.updated_at
	`, userID, p.XP, p.Level, s.now().UTC()); err != nil {
		return Progress{}, false, fmt.Errorf("failed to write xp of %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return Progress{}, false, fmt.Errorf("failed to commit xp of %s: %w", userID, err)
	}
	return p, up, nil
}

// DeleteProgress resets userID's experience.
func (s *Store) DeleteProgress(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_xp WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete xp of %s: %w", userID, err)
	}
	return nil
}

// Leaderboard returns the top users by level then XP.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Progress, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, xp, level FROM user_xp ORDER BY level DESC, xp DESC, user_id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		var p Progress
		if err := rows.Scan(&p.UserID, &p.XP, &p.Level); err != nil {
			return nil, fmt.Errorf("failed to scan xp: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
