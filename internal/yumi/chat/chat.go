// Package chat defines the contract between the bot and the chat network it
// runs on. Adapters live in the discord and matrix subpackages.
package chat

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Message is one inbound chat message, already stripped of transport detail.
type Message struct {
	ID         string
	ChannelID  string
	GuildID    string // empty for direct messages
	AuthorID   string
	AuthorName string
	Content    string
	IsAdmin    bool
	IsBot      bool
}

// IsDM reports whether the message arrived outside a guild.
func (m Message) IsDM() bool { return m.GuildID == "" }

// Handler is called once per inbound message. Transports may call it from
// several goroutines at once.
type Handler func(ctx context.Context, msg Message)

// Sender delivers a reply to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// Transport is a running connection to a chat network.
type Transport interface {
	Sender
	// Run connects, delivers messages to h and blocks until ctx is done.
	Run(ctx context.Context, h Handler) error
	// Typing shows a typing indicator in channelID.
	Typing(ctx context.Context, channelID string) error
	// GuildCount is the number of guilds (or rooms) the bot is in.
	GuildCount() int
}

// Split breaks text into chunks of at most limit runes, preferring to cut at
// a newline, then at a space.
func Split(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	rest := []rune(text)
	for len(rest) > limit {
		window := string(rest[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		var head string
		if cut <= 0 {
			head = window
		} else {
			head = window[:cut]
		}
		chunks = append(chunks, strings.TrimRight(head, " \n"))
		rest = []rune(strings.TrimLeft(string(rest[utf8.RuneCountInString(head):]), " \n"))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}
