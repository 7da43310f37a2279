package persona

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// GlobalScope is the dashboard-wide default scope.
const GlobalScope = "global"

// ScopeFor returns the mode scope of a conversation: the guild for server
// messages, the user for direct messages.
func ScopeFor(guildID, userID string) string {
	if guildID != "" {
		return "guild_" + guildID
	}
	return "user_" + userID
}

// ModeStore persists mode assignments. An empty name removes the entry.
type ModeStore interface {
	LoadModes(ctx context.Context) (map[string]string, error)
	SaveMode(ctx context.Context, scope, name string) error
	LoadChannelPersonas(ctx context.Context) (map[string]string, error)
	SaveChannelPersona(ctx context.Context, channelID, name string) error
}

// Modes holds the active persona per scope and per channel override.
type Modes struct {
	mu       sync.RWMutex
	scopes   map[string]string
	channels map[string]string

	composer *Composer
	store    ModeStore
	logger   *slog.Logger
}

// NewModes creates an empty mode state. store may be nil for an in-memory
// state.
func NewModes(composer *Composer, store ModeStore, logger *slog.Logger) *Modes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Modes{
		scopes:   make(map[string]string),
		channels: make(map[string]string),
		composer: composer,
		store:    store,
		logger:   logger,
	}
}

// Load replaces the in-memory state with the stored one. On error the
// current state is kept.
func (m *Modes) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	scopes, err := m.store.LoadModes(ctx)
	if err != nil {
		return err
	}
	channels, err := m.store.LoadChannelPersonas(ctx)
	if err != nil {
		return err
	}
	if scopes == nil {
		scopes = make(map[string]string)
	}
	if channels == nil {
		channels = make(map[string]string)
	}
	m.mu.Lock()
	m.scopes = scopes
	m.channels = channels
	m.mu.Unlock()
	return nil
}

// Set makes name the active persona of scope. Unknown names are rejected
// and leave the state untouched.
func (m *Modes) Set(ctx context.Context, scope, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if !m.composer.Exists(ctx, name) {
		return false
	}
	m.mu.Lock()
	m.scopes[scope] = name
	m.mu.Unlock()
	m.persist(func() error { return m.store.SaveMode(ctx, scope, name) })
	return true
}

// SetChannel installs a channel override. Unknown names are rejected.
func (m *Modes) SetChannel(ctx context.Context, channelID, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if channelID == "" || !m.composer.Exists(ctx, name) {
		return false
	}
	m.mu.Lock()
	m.channels[channelID] = name
	m.mu.Unlock()
	m.persist(func() error { return m.store.SaveChannelPersona(ctx, channelID, name) })
	return true
}

// ClearChannel removes a channel override and reports whether one existed.
func (m *Modes) ClearChannel(ctx context.Context, channelID string) bool {
	m.mu.Lock()
	_, ok := m.channels[channelID]
	delete(m.channels, channelID)
	m.mu.Unlock()
	if ok {
		m.persist(func() error { return m.store.SaveChannelPersona(ctx, channelID, "") })
	}
	return ok
}

// Forget drops every assignment of name, used after a custom persona is
// deleted.
func (m *Modes) Forget(ctx context.Context, name string) {
	var scopes, channels []string
	m.mu.Lock()
	for s, n := range m.scopes {
		if n == name {
			delete(m.scopes, s)
			scopes = append(scopes, s)
		}
	}
	for c, n := range m.channels {
		if n == name {
			delete(m.channels, c)
			channels = append(channels, c)
		}
	}
	m.mu.Unlock()
	for _, s := range scopes {
		m.persist(func() error { return m.store.SaveMode(ctx, s, "") })
	}
	for _, c := range channels {
		m.persist(func() error { return m.store.SaveChannelPersona(ctx, c, "") })
	}
}

// Scope returns the persona assigned to scope, if any.
func (m *Modes) Scope(scope string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.scopes[scope]
	return name, ok
}

// Resolve returns the persona for a message: channel override, then the
// guild or DM scope, then the global scope, then "normal".
func (m *Modes) Resolve(channelID, guildID, userID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name, ok := m.channels[channelID]; ok && channelID != "" {
		return name
	}
	if name, ok := m.scopes[ScopeFor(guildID, userID)]; ok {
		return name
	}
	if name, ok := m.scopes[GlobalScope]; ok {
		return name
	}
	return Normal
}

// Snapshot copies the current assignments.
func (m *Modes) Snapshot() (scopes, channels map[string]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scopes = make(map[string]string, len(m.scopes))
	for k, v := range m.scopes {
		scopes[k] = v
	}
	channels = make(map[string]string, len(m.channels))
	for k, v := range m.channels {
		channels[k] = v
	}
	return scopes, channels
}

func (m *Modes) persist(save func() error) {
	if m.store == nil {
		return
	}
	if err := save(); err != nil {
		m.logger.Warn("persona mode not persisted", "err", err)
	}
}
