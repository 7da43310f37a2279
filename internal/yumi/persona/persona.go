// Package persona resolves persona names to system prompts. It owns the
// built-in persona table, validation of user-created personas and the
// per-scope mode state that decides which persona answers where.
package persona

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Normal is the persona every unresolvable name falls back to.
const Normal = "normal"

var (
	// ErrUnknownPersona is returned for a name that is neither built in nor
	// stored as a custom persona.
	ErrUnknownPersona = errors.New("persona: unknown persona")
	// ErrNameTaken is returned when creating a persona whose name is already
	// in use.
	ErrNameTaken = errors.New("persona: name already taken")
	// ErrForbidden is returned when someone other than the creator or an
	// admin tries to change a custom persona.
	ErrForbidden = errors.New("persona: not allowed")
	// ErrInvalid wraps schema violations of a custom persona record.
	ErrInvalid = errors.New("persona: invalid record")
)

// Persona is a built-in behavioural profile.
type Persona struct {
	Name      string
	Directive string
	Openers   []string
}

// Opener picks one of the persona's greeting lines.
func (p Persona) Opener() string {
	if len(p.Openers) == 0 {
		return ""
	}
	return p.Openers[rand.Intn(len(p.Openers))]
}

// Custom is a user-defined persona.
type Custom struct {
	Name         string    `json:"name"`
	Creator      string    `json:"creator"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Directive is the text used as the persona block: the system prompt
// override when set, otherwise the description.
func (c Custom) Directive() string {
	if s := strings.TrimSpace(c.SystemPrompt); s != "" {
		return s
	}
	return strings.TrimSpace(c.Description)
}

// Repository stores custom personas. Get reports found=false for a missing
// name; an error means the store itself failed.
type Repository interface {
	GetPersona(ctx context.Context, name string) (c Custom, found bool, err error)
	PutPersona(ctx context.Context, c Custom) error
	ListPersonas(ctx context.Context) ([]Custom, error)
	DeletePersona(ctx context.Context, name string) error
}

//go:embed builtin.yaml
var builtinYAML []byte

// Table is the parsed built-in persona file.
type Table struct {
	Version  int
	Contract string
	order    []string
	byName   map[string]Persona
}

type tableFile struct {
	Version  int    `yaml:"version"`
	Contract string `yaml:"contract"`
	Personas []struct {
		Name      string   `yaml:"name"`
		Directive string   `yaml:"directive"`
		Openers   []string `yaml:"openers"`
	} `yaml:"personas"`
}

// DefaultTable returns the embedded built-in personas. It panics if the
// embedded file is invalid.
func DefaultTable() *Table {
	t, err := ParseTable(builtinYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTable reads a built-in persona file. The file must define the
// contract and a "normal" persona.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("persona: parse table: %w", err)
	}
	if strings.TrimSpace(f.Contract) == "" {
		return nil, fmt.Errorf("persona: table has no contract")
	}
	t := &Table{Version: f.Version, Contract: strings.TrimSpace(f.Contract), byName: make(map[string]Persona, len(f.Personas))}
	for _, p := range f.Personas {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" || strings.TrimSpace(p.Directive) == "" {
			return nil, fmt.Errorf("persona: table entry %q needs a name and a directive", p.Name)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("persona: duplicate built-in %q", name)
		}
		t.byName[name] = Persona{Name: name, Directive: strings.TrimSpace(p.Directive), Openers: p.Openers}
		t.order = append(t.order, name)
	}
	if _, ok := t.byName[Normal]; !ok {
		return nil, fmt.Errorf("persona: table lacks %q", Normal)
	}
	return t, nil
}

// Get looks up a built-in persona by case-insensitive name.
func (t *Table) Get(name string) (Persona, bool) {
	p, ok := t.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names lists the built-in names in file order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}
