package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yumisugoi/yumi/internal/yumi/persona"
)

var (
	_ persona.Repository = (*Store)(nil)
	_ persona.ModeStore  = (*Store)(nil)
)

// GetPersona fetches a custom persona by its lowercase name.
func (s *Store) GetPersona(ctx context.Context, name string) (persona.Custom, bool, error) {
	var c persona.Custom
	err := s.db.QueryRowContext(ctx, `
		SELECT name, creator, description, system_prompt, created_at, updated_at
		FROM custom_personas WHERE name = ?
	`, name).Scan(&c.Name, &c.Creator, &c.Description, &c.SystemPrompt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persona.Custom{}, false, nil
	}
	if err != nil {
		return persona.Custom{}, false, fmt.Errorf("failed to get persona %q: %w", name, err)
	}
	return c, true, nil
}

// PutPersona inserts or replaces a custom persona.
func (s *Store) PutPersona(ctx context.Context, c persona.Custom) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_personas (name, creator, description, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			system_prompt = excluded.system_prompt,
			updated_at = excluded.updated_at
	`, c.Name, c.Creator, c.Description, c.SystemPrompt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store persona %q: %w", c.Name, err)
	}
	return nil
}

// ListPersonas returns all custom personas ordered by name.
func (s *Store) ListPersonas(ctx context.Context) ([]persona.Custom, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, creator, description, system_prompt, created_at, updated_at
		FROM custom_personas ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer rows.Close()

	var out []persona.Custom
	for rows.Next() {
		var c persona.Custom
		if err := rows.Scan(&c.Name, &c.Creator, &c.Description, &c.SystemPrompt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan persona: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeletePersona removes a custom persona. Missing names yield ErrNotFound.
func (s *Store) DeletePersona(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM custom_personas WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete persona %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadModes returns the persona assigned to each scope.
func (s *Store) LoadModes(ctx context.Context) (map[string]string, error) {
	return s.loadPairs(ctx, `SELECT scope, persona FROM persona_modes`)
}

// SaveMode assigns name to scope; an empty name removes the assignment.
func (s *Store) SaveMode(ctx context.Context, scope, name string) error {
	if name == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM persona_modes WHERE scope = ?`, scope)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persona_modes (scope, persona, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET persona = excluded.persona, updated_at = excluded.updated_at
	`, scope, name, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save mode of %s: %w", scope, err)
	}
	return nil
}

// LoadChannelPersonas returns every channel override.
func (s *Store) LoadChannelPersonas(ctx context.Context) (map[string]string, error) {
	return s.loadPairs(ctx, `SELECT channel_id, persona FROM channel_personas`)
}

// SaveChannelPersona sets a channel override; an empty name removes it.
func (s *Store) SaveChannelPersona(ctx context.Context, channelID, name string) error {
	if name == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM channel_personas WHERE channel_id = ?`, channelID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_personas (channel_id, persona, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET persona = excluded.persona, updated_at = excluded.updated_at
	`, channelID, name, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save channel persona of %s: %w", channelID, err)
	}
	return nil
}

func (s *Store) loadPairs(ctx context.Context, query string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
