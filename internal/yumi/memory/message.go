// Package memory keeps the bounded per-conversation message log and selects
// the relevance-weighted subset of it that is sent to the language model.
//
// Each conversation is identified by a Key (user, guild or DM, channel) and
// holds at most TotalHistoryLength messages. The most recent
// ContextWindowSize messages are always part of the prompt context; older
// messages survive only when the relevance Policy retains them.
package memory

import "time"

const (
	// TotalHistoryLength is the per-conversation capacity.
	TotalHistoryLength = 100
	// ContextWindowSize is the number of recent messages exempt from
	// relevance filtering.
	ContextWindowSize = 30
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// DMGuild is the guild component of keys for direct messages.
const DMGuild = "dm"

// Key identifies one conversation.
type Key struct {
	UserID    string
	GuildID   string // empty for direct messages
	ChannelID string
}

// String renders the key as "<user>_<guild|dm>_<channel>".
func (k Key) String() string {
	guild := k.GuildID
	if guild == "" {
		guild = DMGuild
	}
	return k.UserID + "_" + guild + "_" + k.ChannelID
}

// IsDM reports whether the conversation happens outside a guild.
func (k Key) IsDM() bool {
	return k.GuildID == "" || k.GuildID == DMGuild
}
