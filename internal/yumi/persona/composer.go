package persona

import (
	"context"
	"log/slog"
	"strings"
)

// Composer maps persona names to complete system prompts. Custom personas
// are read from the repository on every call so dashboard edits apply to
// the next turn.
type Composer struct {
	table  *Table
	repo   Repository
	logger *slog.Logger
}

// NewComposer creates a Composer. A nil table uses DefaultTable; a nil repo
// limits resolution to built-ins.
func NewComposer(table *Table, repo Repository, logger *slog.Logger) *Composer {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{table: table, repo: repo, logger: logger}
}

// Table returns the built-in persona table.
func (c *Composer) Table() *Table { return c.table }

// Prompt returns the shared contract followed by the directive for name.
// It never fails: anything that cannot be resolved uses "normal".
func (c *Composer) Prompt(ctx context.Context, name string) string {
	return c.table.Contract + "\n\n" + c.Directive(ctx, name)
}

// Directive resolves name to its persona block: a built-in first, then a
// custom persona, then the "normal" built-in.
func (c *Composer) Directive(ctx context.Context, name string) string {
	if p, ok := c.table.Get(name); ok {
		return p.Directive
	}
	if cp, ok := c.custom(ctx, name); ok {
		if d := cp.Directive(); d != "" {
			return d
		}
	}
	p, _ := c.table.Get(Normal)
	return p.Directive
}

// Exists reports whether name resolves to a built-in or custom persona.
func (c *Composer) Exists(ctx context.Context, name string) bool {
	if _, ok := c.table.Get(name); ok {
		return true
	}
	_, ok := c.custom(ctx, name)
	return ok
}

// Opener returns a greeting for name, or "" for custom personas.
func (c *Composer) Opener(name string) string {
	p, ok := c.table.Get(name)
	if !ok {
		return ""
	}
	return p.Opener()
}

func (c *Composer) custom(ctx context.Context, name string) (Custom, bool) {
	if c.repo == nil {
		return Custom{}, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Custom{}, false
	}
	cp, found, err := c.repo.GetPersona(ctx, name)
	if err != nil {
		c.logger.Warn("custom persona lookup failed", "name", name, "err", err)
		return Custom{}, false
	}
	return cp, found
}
