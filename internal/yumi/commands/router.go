// Package commands parses and routes "!yumi" chat commands.
//
// Both spellings are accepted: "!yumi persona create foo ..." and
// "!yumi_persona_create foo ...". Command names are registered with spaces,
// dots or underscores between words and matched in any of those forms.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/yumisugoi/yumi/internal/yumi/chat"
)

// DefaultPrefix starts every command.
const DefaultPrefix = "!yumi"

var (
	// ErrNotACommand is returned by Parse when the text does not start with
	// the prefix. Callers treat it as an ordinary conversation turn.
	ErrNotACommand = errors.New("commands: not a command")
	// ErrUnknownCommand is returned by Route when no handler matches.
	ErrUnknownCommand = errors.New("commands: unknown command")
)

// Command is a parsed command.
type Command struct {
	// Name is the canonical dotted name, e.g. "persona.create". Before
	// routing it holds only the first word.
	Name string
	Args []string
	// Rest is the raw text after the command words, spacing preserved.
	Rest    string
	RawText string
}

// Arg returns the argument at index.
func (c *Command) Arg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// Handler runs one command and returns the reply text.
type Handler func(ctx context.Context, cmd *Command, msg chat.Message) (string, error)

// Router routes commands to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for prefix. An empty prefix uses DefaultPrefix.
func NewRouter(prefix string) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Router{handlers: make(map[string]Handler), prefix: prefix}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Register registers a handler under command, e.g. "persona create".
func (r *Router) Register(command string, handler Handler) {
	r.handlers[canonical(command)] = handler
}

// IsCommand reports whether text starts with the prefix.
func (r *Router) IsCommand(text string) bool {
	_, err := r.Parse(text)
	return err == nil
}

// Parse splits text into a command word and arguments. A bare prefix parses
// as "help".
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if len(text) < len(r.prefix) || !strings.EqualFold(text[:len(r.prefix)], r.prefix) {
		return nil, ErrNotACommand
	}
	rest := text[len(r.prefix):]
	switch {
	case rest == "":
		return &Command{Name: "help", Args: []string{}}, nil
	case rest[0] == '_':
		rest = rest[1:]
	case !unicode.IsSpace(rune(rest[0])):
		// "!yumisan" is a word, not a command.
		return nil, ErrNotACommand
	}
	rest = strings.TrimSpace(rest)
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return &Command{Name: "help", Args: []string{}}, nil
	}
	return &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    parts[1:],
		RawText: rest,
	}, nil
}

// Route parses text and runs the matching handler. A two-word handler
// ("persona create") is preferred over a one-word one ("persona").
func (r *Router) Route(ctx context.Context, text string, msg chat.Message) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	words := 1
	var handler Handler
	if len(cmd.Args) > 0 {
		key := canonical(cmd.Name + "." + cmd.Args[0])
		if h, ok := r.handlers[key]; ok {
			handler, cmd.Name, cmd.Args = h, key, cmd.Args[1:]
			words = 2
		}
	}
	if handler == nil {
		key := canonical(cmd.Name)
		h, ok := r.handlers[key]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
		}
		handler, cmd.Name = h, key
	}
	cmd.Rest = skipWords(cmd.RawText, words)
	return handler(ctx, cmd, msg)
}

func canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		if r == '_' || r == ' ' {
			return '.'
		}
		return r
	}, name)
}

func skipWords(s string, n int) string {
	for j := 0; j < n; j++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		s = s[i:]
	}
	return strings.TrimSpace(s)
}
