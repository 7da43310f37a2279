package store

import (
	"context"
	"fmt"

	"github.com/yumisugoi/yumi/internal/yumi/facts"
)

// LoadFacts returns the fact record of userID; an unknown user has an
// empty record.
func (s *Store) LoadFacts(ctx context.Context, userID string) (facts.Facts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM user_facts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts of %s: %w", userID, err)
	}
	defer rows.Close()

	out := facts.Facts{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// LoadAllFacts returns the fact records of every user.
func (s *Store) LoadAllFacts(ctx context.Context) (map[string]facts.Facts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, key, value FROM user_facts`)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]facts.Facts)
	for rows.Next() {
		var u, k, v string
		if err := rows.Scan(&u, &k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		if out[u] == nil {
			out[u] = facts.Facts{}
		}
		out[u][k] = v
	}
	return out, rows.Err()
}

// UpsertFacts writes each entry of f for userID, leaving other keys alone.
func (s *Store) UpsertFacts(ctx context.Context, userID string, f facts.Facts) error {
	if len(f) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin facts update: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for _, k := range f.Keys() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_facts (user_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, userID, k, f[k], now); err != nil {
			return fmt.Errorf("failed to store fact %q of %s: %w", k, userID, err)
		}
	}
	return tx.Commit()
}

// DeleteFacts removes the whole fact record of userID.
func (s *Store) DeleteFacts(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_facts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete facts of %s: %w", userID, err)
	}
	return nil
}
