package memory

import (
	"sort"
	"sync"
)

// CuratorConfig configures a Curator.
type CuratorConfig struct {
	// Capacity is the per-conversation message limit. Default: TotalHistoryLength.
	Capacity int
	// Window is the number of recent messages always kept. Default: ContextWindowSize.
	Window int
	// Policy selects older messages worth keeping. Default: DefaultPolicy().
	Policy *Policy
}

// Curator owns the in-memory history of every conversation. It is safe for
// concurrent use; distinct keys never share state.
type Curator struct {
	mu        sync.Mutex
	capacity  int
	window    int
	policy    *Policy
	histories map[Key]*History
}

// NewCurator creates a Curator, filling unset config fields with defaults.
func NewCurator(cfg CuratorConfig) *Curator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = TotalHistoryLength
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	} else if cfg.Window == 0 {
		cfg.Window = ContextWindowSize
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	return &Curator{
		capacity:  cfg.Capacity,
		window:    cfg.Window,
		policy:    cfg.Policy,
		histories: make(map[Key]*History),
	}
}

// Append adds m to the conversation, creating it on first use and evicting
// the oldest message at capacity. A user message identical to the user
// message directly before it is ignored; Append reports whether m was stored.
func (c *Curator) Append(key Key, m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.histories[key]
	if h == nil {
		h = NewHistory(c.capacity)
		c.histories[key] = h
	}
	if m.Role == RoleUser {
		if last, ok := h.Last(); ok && last.Role == RoleUser && last.Content == m.Content {
			return false
		}
	}
	h.Push(m)
	return true
}

// RelevantContext returns the curated prompt context for the conversation.
func (c *Curator) RelevantContext(key Key) []Message {
	msgs := c.Messages(key)
	return c.policy.Select(msgs, c.window)
}

// Messages returns a copy of the full stored history, oldest first.
func (c *Curator) Messages(key Key) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h := c.histories[key]; h != nil {
		return h.Messages()
	}
	return nil
}

// Replace normalizes msgs and installs them as the conversation's history.
func (c *Curator) Replace(key Key, msgs []Message) {
	msgs = ProcessMessageQueue(msgs)
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.histories[key]
	if h == nil {
		h = NewHistory(c.capacity)
		c.histories[key] = h
	}
	h.Reset(msgs)
}

// Normalized returns the conversation's history in normalized form, ready
// to be persisted.
func (c *Curator) Normalized(key Key) []Message {
	return ProcessMessageQueue(c.Messages(key))
}

// Clear drops one conversation and reports whether it existed.
func (c *Curator) Clear(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.histories[key]
	delete(c.histories, key)
	return ok
}

// ClearUser drops every conversation of userID and returns how many.
func (c *Curator) ClearUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.histories {
		if k.UserID == userID {
			delete(c.histories, k)
			n++
		}
	}
	return n
}

// Keys lists the known conversations ordered by their string form.
func (c *Curator) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.histories))
	for k := range c.histories {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
