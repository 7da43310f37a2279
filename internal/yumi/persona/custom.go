package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const customSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "creator", "description"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9_-]{1,31}$"},
    "creator": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1, "maxLength": 2000, "pattern": "\\S"},
    "system_prompt": {"type": "string", "maxLength": 4000}
  }
}`

var customRecordSchema = jsonschema.MustCompileString("yumi://custom-persona.schema.json", customSchema)

// Validate checks c against the custom persona schema.
func Validate(c Custom) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("persona: encode: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("persona: decode: %w", err)
	}
	if err := customRecordSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Catalog manages custom personas on top of a Composer's built-in table.
type Catalog struct {
	table *Table
	repo  Repository
	now   func() time.Time
}

// NewCatalog creates a Catalog over repo.
func NewCatalog(table *Table, repo Repository) *Catalog {
	if table == nil {
		table = DefaultTable()
	}
	return &Catalog{table: table, repo: repo, now: time.Now}
}

// Create stores a new custom persona. The name is lowercased and must not
// match a built-in or an existing custom persona.
func (c *Catalog) Create(ctx context.Context, p Custom) (Custom, error) {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	p.Description = strings.TrimSpace(p.Description)
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if err := Validate(p); err != nil {
		return Custom{}, err
	}
	if _, ok := c.table.Get(p.Name); ok {
		return Custom{}, ErrNameTaken
	}
	if _, found, err := c.repo.GetPersona(ctx, p.Name); err != nil {
		return Custom{}, fmt.Errorf("persona: create: %w", err)
	} else if found {
		return Custom{}, ErrNameTaken
	}

	p.CreatedAt = c.now().UTC()
	p.UpdatedAt = p.CreatedAt
	if err := c.repo.PutPersona(ctx, p); err != nil {
		return Custom{}, fmt.Errorf("persona: create: %w", err)
	}
	return p, nil
}

// Update changes the description and system prompt of an existing custom
// persona. Only its creator or an admin may do so. An empty systemPrompt
// leaves the current one in place.
func (c *Catalog) Update(ctx context.Context, name, actor string, admin bool, description, systemPrompt string) (Custom, error) {
	p, err := c.owned(ctx, name, actor, admin)
	if err != nil {
		return Custom{}, err
	}
	if d := strings.TrimSpace(description); d != "" {
		p.Description = d
	}
	if s := strings.TrimSpace(systemPrompt); s != "" {
		p.SystemPrompt = s
	}
	if err := Validate(p); err != nil {
		return Custom{}, err
	}
	p.UpdatedAt = c.now().UTC()
	if err := c.repo.PutPersona(ctx, p); err != nil {
		return Custom{}, fmt.Errorf("persona: update: %w", err)
	}
	return p, nil
}

// Delete removes a custom persona. Only its creator or an admin may do so.
func (c *Catalog) Delete(ctx context.Context, name, actor string, admin bool) error {
	p, err := c.owned(ctx, name, actor, admin)
	if err != nil {
		return err
	}
	if err := c.repo.DeletePersona(ctx, p.Name); err != nil {
		return fmt.Errorf("persona: delete: %w", err)
	}
	return nil
}

// Get returns a custom persona or ErrUnknownPersona.
func (c *Catalog) Get(ctx context.Context, name string) (Custom, error) {
	p, found, err := c.repo.GetPersona(ctx, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return Custom{}, fmt.Errorf("persona: get: %w", err)
	}
	if !found {
		return Custom{}, ErrUnknownPersona
	}
	return p, nil
}

// List returns every custom persona.
func (c *Catalog) List(ctx context.Context) ([]Custom, error) {
	ps, err := c.repo.ListPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("persona: list: %w", err)
	}
	return ps, nil
}

func (c *Catalog) owned(ctx context.Context, name, actor string, admin bool) (Custom, error) {
	if _, ok := c.table.Get(name); ok {
		return Custom{}, ErrForbidden
	}
	p, err := c.Get(ctx, name)
	if err != nil {
		return Custom{}, err
	}
	if !admin && p.Creator != actor {
		return Custom{}, ErrForbidden
	}
	return p, nil
}
