package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LockStore persists locked channels.
type LockStore interface {
	LockChannel(ctx context.Context, guildID, channelID string) error
	UnlockChannel(ctx context.Context, guildID, channelID string) error
	LockedChannels(ctx context.Context) (map[string][]string, error)
}

// Lockdown tracks locked channels per guild. While a guild has at least one
// locked channel, conversation outside those channels is ignored.
type Lockdown struct {
	mu     sync.RWMutex
	store  LockStore
	locked map[string]map[string]bool
	logger *slog.Logger
}

// NewLockdown creates an empty Lockdown backed by store.
func NewLockdown(store LockStore, logger *slog.Logger) *Lockdown {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lockdown{store: store, locked: make(map[string]map[string]bool), logger: logger}
}

// Load replaces the in-memory state with the stored one.
func (l *Lockdown) Load(ctx context.Context) error {
	all, err := l.store.LockedChannels(ctx)
	if err != nil {
		return fmt.Errorf("lockdown: load: %w", err)
	}
	locked := make(map[string]map[string]bool, len(all))
	for guild, channels := range all {
		set := make(map[string]bool, len(channels))
		for _, c := range channels {
			set[c] = true
		}
		locked[guild] = set
	}
	l.mu.Lock()
	l.locked = locked
	l.mu.Unlock()
	return nil
}

// Lock persists and applies a lock.
func (l *Lockdown) Lock(ctx context.Context, guildID, channelID string) error {
	if err := l.store.LockChannel(ctx, guildID, channelID); err != nil {
		return err
	}
	l.Apply(guildID, channelID, true)
	return nil
}

// Unlock persists and applies an unlock, reporting whether the channel was
// locked.
func (l *Lockdown) Unlock(ctx context.Context, guildID, channelID string) (bool, error) {
	l.mu.RLock()
	was := l.locked[guildID][channelID]
	l.mu.RUnlock()
	if err := l.store.UnlockChannel(ctx, guildID, channelID); err != nil {
		return false, err
	}
	l.Apply(guildID, channelID, false)
	return was, nil
}

// Apply changes the in-memory state only, for changes already persisted
// elsewhere.
func (l *Lockdown) Apply(guildID, channelID string, locked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.locked[guildID]
	if locked {
		if set == nil {
			set = make(map[string]bool)
			l.locked[guildID] = set
		}
		set[channelID] = true
		return
	}
	delete(set, channelID)
	if len(set) == 0 {
		delete(l.locked, guildID)
	}
}

// Allows reports whether conversation is allowed in the channel. Direct
// messages are never locked.
func (l *Lockdown) Allows(guildID, channelID string) bool {
	if guildID == "" {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := l.locked[guildID]
	return len(set) == 0 || set[channelID]
}
