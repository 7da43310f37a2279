// Package discord connects the bot to Discord through discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/yumisugoi/yumi/internal/yumi/chat"
)

// MessageLimit is the longest message Discord accepts, in characters.
const MessageLimit = 2000

// Config holds Discord connection settings.
type Config struct {
	Token string
	// AdminIDs are user ids treated as admins everywhere, in addition to
	// members holding the Administrator permission in a guild.
	AdminIDs []string
	Logger   *slog.Logger
}

// session is the part of *discordgo.Session used for outbound calls.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

var _ session = (*discordgo.Session)(nil)

// Transport is a chat.Transport backed by a Discord bot session.
type Transport struct {
	dg     *discordgo.Session
	api    session
	admins []string
	logger *slog.Logger
}

var _ chat.Transport = (*Transport)(nil)

// New creates a session. Nothing is opened until Run.
func New(cfg Config) (*Transport, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{dg: dg, api: dg, admins: cfg.AdminIDs, logger: logger}, nil
}

// Run opens the gateway connection and delivers messages to h until ctx is
// done. discordgo runs each handler call on its own goroutine.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	remove := t.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		self := ""
		if s.State != nil && s.State.User != nil {
			self = s.State.User.ID
		}
		msg, ok := convert(m.Message, self)
		if !ok {
			return
		}
		msg.IsAdmin = t.isAdmin(msg)
		h(ctx, msg)
	})
	defer remove()
	ready := t.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		t.logger.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	defer ready()

	if err := t.dg.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	<-ctx.Done()
	if err := t.dg.Close(); err != nil {
		t.logger.Warn("discord close failed", "err", err)
	}
	return nil
}

// Send posts text to channelID, split into messages Discord accepts.
func (t *Transport) Send(ctx context.Context, channelID, text string) error {
	for _, chunk := range chat.Split(text, MessageLimit) {
		if chunk == "" {
			continue
		}
		if _, err := t.api.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// Typing triggers the typing indicator in channelID.
func (t *Transport) Typing(ctx context.Context, channelID string) error {
	if err := t.api.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: typing: %w", err)
	}
	return nil
}

// GuildCount reports the guilds in the session state.
func (t *Transport) GuildCount() int {
	if t.dg == nil || t.dg.State == nil {
		return 0
	}
	t.dg.State.RLock()
	defer t.dg.State.RUnlock()
	return len(t.dg.State.Guilds)
}

func (t *Transport) isAdmin(msg chat.Message) bool {
	if slices.Contains(t.admins, msg.AuthorID) {
		return true
	}
	if msg.IsDM() {
		return false
	}
	perms, err := t.api.UserChannelPermissions(msg.AuthorID, msg.ChannelID)
	if err != nil {
		t.logger.Debug("permission lookup failed", "user", msg.AuthorID, "err", err)
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// convert maps a gateway message to a chat.Message. Messages from the bot
// itself and messages without an author are dropped.
func convert(m *discordgo.Message, selfID string) (chat.Message, bool) {
	if m == nil || m.Author == nil {
		return chat.Message{}, false
	}
	if selfID != "" && m.Author.ID == selfID {
		return chat.Message{}, false
	}
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	return chat.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorID:   m.Author.ID,
		AuthorName: name,
		Content:    m.Content,
		IsBot:      m.Author.Bot,
	}, true
}
