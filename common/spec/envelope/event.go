// Package envelope defines the JSON message exchanged between the bot and the
// dashboard over the pub/sub channels (bot_commands, bot_events,
// server_events, user_events).
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sources.
const (
	SourceBot       = "bot"
	SourceDashboard = "dashboard"
)

// Event is one pub/sub message. Type selects the handler on the receiving
// side; the scope fields are set when the event concerns a guild, channel or
// user, and Data carries the type-specific remainder.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	TS        time.Time      `json:"timestamp"`
	GuildID   string         `json:"guild_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New stamps a fresh event with an id and the current UTC time.
func New(source, typ string) *Event {
	return &Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Source: source,
		TS:     time.Now().UTC(),
	}
}

// With sets a Data entry and returns e for chaining.
func (e *Event) With(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns Data[key] when it holds a string.
func (e *Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Bool returns Data[key] when it holds a bool.
func (e *Event) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Validate reports the first structural problem with e.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("event must not be nil")
	}
	if e.Type == "" {
		return fmt.Errorf("type must not be empty")
	}
	if e.Source == "" {
		return fmt.Errorf("source must not be empty")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("timestamp must not be zero")
	}
	return nil
}

// Marshal validates and encodes e.
func (e *Event) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("envelope validate: %w", err)
	}
	return json.Marshal(e)
}

// Parse decodes and validates a JSON event.
func Parse(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("envelope parse: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("envelope validate: %w", err)
	}
	return &evt, nil
}
