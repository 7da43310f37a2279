package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yumisugoi/yumi/common/spec/envelope"
	"github.com/yumisugoi/yumi/internal/yumi/chat"
	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/facts"
	"github.com/yumisugoi/yumi/internal/yumi/llm"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
	"github.com/yumisugoi/yumi/internal/yumi/store"
)

// Lockdown restricts a guild to its locked channels.
type Lockdown interface {
	Lock(ctx context.Context, guildID, channelID string) error
	// Unlock reports whether the channel was locked.
	Unlock(ctx context.Context, guildID, channelID string) (bool, error)
}

// Progress reads XP and levels.
type Progress interface {
	GetProgress(ctx context.Context, userID string) (store.Progress, error)
}

// Memory is the per-user memory the fact and forget commands act on.
type Memory interface {
	Facts(userID string) facts.Facts
	// MergeFacts overlays update on the user's facts and returns the result.
	MergeFacts(ctx context.Context, userID string, update facts.Facts) (facts.Facts, error)
	ForgetFacts(ctx context.Context, userID string) error
	ForgetHistory(ctx context.Context, userID string) (int, error)
}

// Announcements queues messages to be posted later.
type Announcements interface {
	ScheduleAnnouncement(ctx context.Context, channelID, authorID, message string, due time.Time) error
}

// AnnounceLayout is the UTC time format the announce command accepts.
const AnnounceLayout = "2006-01-02 15:04"

// Config holds the handler dependencies. Notifier, Logger and Now may be nil.
type Config struct {
	Modes    *persona.Modes
	Composer *persona.Composer
	Catalog  *persona.Catalog
	Memory   Memory
	Lockdown Lockdown
	Progress Progress
	Notifier events.Notifier
	Logger   *slog.Logger

	Announcements Announcements
	Now           func() time.Time
}

// Handlers holds all command handlers and their dependencies.
type Handlers struct {
	cfg    Config
	prefix string
	logger *slog.Logger
}

// NewHandlers creates the handlers and registers them on r.
func NewHandlers(r *Router, cfg Config) *Handlers {
	if cfg.Notifier == nil {
		cfg.Notifier = events.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Handlers{cfg: cfg, prefix: r.Prefix(), logger: cfg.Logger}

	r.Register("help", h.HandleHelp)
	r.Register("mode", h.HandleMode)
	r.Register("modes", h.HandleModes)
	r.Register("persona", h.HandlePersonaUsage)
	r.Register("persona create", h.HandlePersonaCreate)
	r.Register("persona edit", h.HandlePersonaEdit)
	r.Register("persona list", h.HandlePersonaList)
	r.Register("persona activate", h.HandlePersonaActivate)
	r.Register("persona delete", h.HandlePersonaDelete)
	r.Register("channel_persona", h.HandleChannelPersona)
	r.Register("channel_persona_clear", h.HandleChannelPersonaClear)
	r.Register("lockdown", h.HandleLockdown)
	r.Register("unlock", h.HandleUnlock)
	r.Register("fact", h.HandleFact)
	r.Register("facts", h.HandleFacts)
	r.Register("forget", h.HandleForget)
	r.Register("level", h.HandleLevel)
	r.Register("announce", h.HandleAnnounce)
	return h
}

const helpText = `**Yumi Sugoi**

**Chatting:**
• Just talk to me! I remember our conversations and the things you tell me.
• %[1]s fact - What I remember about you
• %[1]s fact <key> <value> - Teach me something, e.g. %[1]s fact pet a cat named Miso
• %[1]s forget - Make me forget everything about you
• %[1]s level - Your XP and level

**Personas:**
• %[1]s mode [name] - Show or change my mode here
• %[1]s modes - List the available modes
• %[1]s persona create <name> <description> - Create your own persona
• %[1]s persona edit <name> <description> - Change a persona you created
• %[1]s persona list - List custom personas
• %[1]s persona activate <name> - Switch to a persona here
• %[1]s persona delete <name> - Delete a persona you created

**Admin only:**
• %[1]s channel_persona <name> - Use a persona in this channel only
• %[1]s channel_persona_clear - Remove the channel persona
• %[1]s lockdown - Only answer in this channel
• %[1]s unlock - Answer everywhere again
• %[1]s announce <YYYY-MM-DD> <HH:MM> <message> - Post a message here later (UTC)

Commands also work as %[1]s_<command>, e.g. %[1]s_mode shy.`

// HandleHelp shows available commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	return fmt.Sprintf(helpText, h.prefix), nil
}

// HandleMode shows the active persona or switches the guild (or DM) scope to
// a new one.
func (h *Handlers) HandleMode(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	name, ok := cmd.Arg(0)
	if !ok {
		current := h.cfg.Modes.Resolve(msg.ChannelID, msg.GuildID, msg.AuthorID)
		return fmt.Sprintf("I'm in **%s** mode right now. Change it with `%s mode <name>`.", current, h.prefix), nil
	}
	return h.activate(ctx, msg, name)
}

// HandlePersonaActivate is HandleMode with a required name.
func (h *Handlers) HandlePersonaActivate(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	name, ok := cmd.Arg(0)
	if !ok {
		return fmt.Sprintf("Usage: `%s persona activate <name>`", h.prefix), nil
	}
	return h.activate(ctx, msg, name)
}

func (h *Handlers) activate(ctx context.Context, msg chat.Message, name string) (string, error) {
	name = strings.ToLower(name)
	scope := persona.ScopeFor(msg.GuildID, msg.AuthorID)
	if !h.cfg.Modes.Set(ctx, scope, name) {
		return fmt.Sprintf("I don't know the mode `%s`. Try `%s modes`.", name, h.prefix), nil
	}

	evt := envelope.New(envelope.SourceBot, events.EvtPersonaChanged).
		With("persona", name).
		With("scope", scope)
	evt.GuildID, evt.ChannelID, evt.UserID = msg.GuildID, msg.ChannelID, msg.AuthorID
	h.cfg.Notifier.Notify(ctx, events.ChannelServer, evt)

	reply := fmt.Sprintf("✨ **Yumi's mode has changed!** Now in **%s** mode.", name)
	if opener := h.cfg.Composer.Opener(name); opener != "" {
		reply += "\n" + opener
	}
	return reply, nil
}

// HandleModes lists built-in and custom personas.
func (h *Handlers) HandleModes(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("**Modes:** ")
	sb.WriteString(strings.Join(h.cfg.Composer.Table().Names(), ", "))
	customs, err := h.cfg.Catalog.List(ctx)
	if err != nil {
		return "", err
	}
	if len(customs) > 0 {
		names := make([]string, 0, len(customs))
		for _, c := range customs {
			names = append(names, c.Name)
		}
		sb.WriteString("\n**Custom:** ")
		sb.WriteString(strings.Join(names, ", "))
	}
	return sb.String(), nil
}

// HandlePersonaUsage answers a bare "persona".
func (h *Handlers) HandlePersonaUsage(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	return fmt.Sprintf("Usage: `%s persona create|edit|list|activate|delete ...`", h.prefix), nil
}

// HandlePersonaCreate creates a custom persona owned by the author.
func (h *Handlers) HandlePersonaCreate(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	name, description, ok := nameAndText(cmd)
	if !ok {
		return fmt.Sprintf("Usage: `%s persona create <name> <description>`", h.prefix), nil
	}
	p, err := h.cfg.Catalog.Create(ctx, persona.Custom{
		Name:        name,
		Creator:     msg.AuthorID,
		Description: description,
	})
	if reply, handled := personaError(err, name); handled {
		return reply, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Persona **%s** created! Switch to it with `%s persona activate %s`.", p.Name, h.prefix, p.Name), nil
}

// HandlePersonaEdit replaces the description of a custom persona.
func (h *Handlers) HandlePersonaEdit(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	name, description, ok := nameAndText(cmd)
	if !ok {
		return fmt.Sprintf("Usage: `%s persona edit <name> <description>`", h.prefix), nil
	}
	p, err := h.cfg.Catalog.Update(ctx, name, msg.AuthorID, msg.IsAdmin, description, "")
	if reply, handled := personaError(err, name); handled {
		return reply, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Persona **%s** updated.", p.Name), nil
}

// HandlePersonaList lists custom personas.
func (h *Handlers) HandlePersonaList(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	customs, err := h.cfg.Catalog.List(ctx)
	if err != nil {
		return "", err
	}
	if len(customs) == 0 {
		return fmt.Sprintf("No custom personas yet. Create one with `%s persona create <name> <description>`.", h.prefix), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Custom personas (%d)**\n", len(customs))
	for _, c := range customs {
		fmt.Fprintf(&sb, "• **%s**: %s\n", c.Name, truncate(c.Description, 80))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandlePersonaDelete deletes a custom persona and every mode pointing at
// it.
func (h *Handlers) HandlePersonaDelete(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	name, ok := cmd.Arg(0)
	if !ok {
		return fmt.Sprintf("Usage: `%s persona delete <name>`", h.prefix), nil
	}
	name = strings.ToLower(name)
	err := h.cfg.Catalog.Delete(ctx, name, msg.AuthorID, msg.IsAdmin)
	if reply, handled := personaError(err, name); handled {
		return reply, nil
	}
	if err != nil {
		return "", err
	}
	h.cfg.Modes.Forget(ctx, name)
	return fmt.Sprintf("Persona **%s** deleted.", name), nil
}

// HandleChannelPersona pins a persona to the current channel.
func (h *Handlers) HandleChannelPersona(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if reply, ok := h.requireAdmin(msg); !ok {
		return reply, nil
	}
	name, ok := cmd.Arg(0)
	if !ok {
		return fmt.Sprintf("Usage: `%s channel_persona <name>`", h.prefix), nil
	}
	name = strings.ToLower(name)
	if !h.cfg.Modes.SetChannel(ctx, msg.ChannelID, name) {
		return fmt.Sprintf("I don't know the mode `%s`. Try `%s modes`.", name, h.prefix), nil
	}
	evt := envelope.New(envelope.SourceBot, events.EvtPersonaChanged).
		With("persona", name).
		With("scope", "channel")
	evt.GuildID, evt.ChannelID = msg.GuildID, msg.ChannelID
	h.cfg.Notifier.Notify(ctx, events.ChannelServer, evt)
	return fmt.Sprintf("This channel now uses the **%s** persona.", name), nil
}

// HandleChannelPersonaClear removes the channel override.
func (h *Handlers) HandleChannelPersonaClear(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if reply, ok := h.requireAdmin(msg); !ok {
		return reply, nil
	}
	if !h.cfg.Modes.ClearChannel(ctx, msg.ChannelID) {
		return "This channel has no persona of its own.", nil
	}
	return "Channel persona cleared.", nil
}

// HandleLockdown restricts the bot to the current channel of the guild.
func (h *Handlers) HandleLockdown(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if reply, ok := h.requireAdmin(msg); !ok {
		return reply, nil
	}
	if msg.IsDM() {
		return "Lockdown only works in a server.", nil
	}
	if err := h.cfg.Lockdown.Lock(ctx, msg.GuildID, msg.ChannelID); err != nil {
		return "", fmt.Errorf("lockdown: %w", err)
	}
	h.notifyLock(ctx, msg, true)
	return "🔒 Lockdown on. I'll only talk in this channel.", nil
}

// HandleUnlock lifts the lockdown for the current channel.
func (h *Handlers) HandleUnlock(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if reply, ok := h.requireAdmin(msg); !ok {
		return reply, nil
	}
	if msg.IsDM() {
		return "Lockdown only works in a server.", nil
	}
	was, err := h.cfg.Lockdown.Unlock(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		return "", fmt.Errorf("unlock: %w", err)
	}
	if !was {
		return "This channel wasn't locked.", nil
	}
	h.notifyLock(ctx, msg, false)
	return "🔓 Unlocked.", nil
}

func (h *Handlers) notifyLock(ctx context.Context, msg chat.Message, locked bool) {
	evt := envelope.New(envelope.SourceBot, events.EvtChannelLockChanged).With("locked", locked)
	evt.GuildID, evt.ChannelID, evt.UserID = msg.GuildID, msg.ChannelID, msg.AuthorID
	h.cfg.Notifier.Notify(ctx, events.ChannelServer, evt)
}

// HandleFacts shows what the bot remembers about the author.
func (h *Handlers) HandleFacts(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	known := h.cfg.Memory.Facts(msg.AuthorID)
	if len(known) == 0 {
		return "I don't know anything about you yet. Tell me about yourself!", nil
	}
	var sb strings.Builder
	sb.WriteString("Here's what I remember about you:\n")
	for _, k := range known.Keys() {
		fmt.Fprintf(&sb, "• %s: %s\n", llm.FactLabel(k), known[k])
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandleFact shows the author's facts, or stores one with
// "fact <key> <value>".
func (h *Handlers) HandleFact(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if len(cmd.Args) == 0 {
		return h.HandleFacts(ctx, cmd, msg)
	}
	key, value, ok := nameAndText(cmd)
	key = facts.NormalizeKey(key)
	if !ok || key == "" {
		return fmt.Sprintf("Usage: `%s fact <key> <value>`, e.g. `%s fact pet a cat named Miso`", h.prefix, h.prefix), nil
	}
	before := h.cfg.Memory.Facts(msg.AuthorID)
	update := facts.Facts{key: value}
	changed := facts.Changed(before, update)
	if _, err := h.cfg.Memory.MergeFacts(ctx, msg.AuthorID, update); err != nil {
		return "", fmt.Errorf("fact: %w", err)
	}
	if len(changed) > 0 {
		evt := envelope.New(envelope.SourceBot, events.EvtFactsUpdated).With("keys", changed.Keys())
		evt.UserID = msg.AuthorID
		h.cfg.Notifier.Notify(ctx, events.ChannelUser, evt)
	}
	return fmt.Sprintf("Got it! I'll remember your %s: %s", strings.ToLower(llm.FactLabel(key)), strings.TrimSpace(value)), nil
}

// HandleForget clears the author's facts and conversation history.
func (h *Handlers) HandleForget(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if err := h.cfg.Memory.ForgetFacts(ctx, msg.AuthorID); err != nil {
		return "", fmt.Errorf("forget facts: %w", err)
	}
	n, err := h.cfg.Memory.ForgetHistory(ctx, msg.AuthorID)
	if err != nil {
		return "", fmt.Errorf("forget history: %w", err)
	}
	evt := envelope.New(envelope.SourceBot, events.EvtMemoryCleared).With("conversations", n)
	evt.UserID = msg.AuthorID
	h.cfg.Notifier.Notify(ctx, events.ChannelUser, evt)
	return "Done. I've forgotten everything about you. Nice to meet you! 👋", nil
}

// HandleLevel reports the author's XP and level.
func (h *Handlers) HandleLevel(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	p, err := h.cfg.Progress.GetProgress(ctx, msg.AuthorID)
	if err != nil {
		return "", fmt.Errorf("level: %w", err)
	}
	return fmt.Sprintf("You're level **%d** with %d/%d XP.", p.Level, p.XP, p.Level*100), nil
}

// HandleAnnounce schedules a message for the current channel at a UTC time.
func (h *Handlers) HandleAnnounce(ctx context.Context, cmd *Command, msg chat.Message) (string, error) {
	if reply, ok := h.requireAdmin(msg); !ok {
		return reply, nil
	}
	usage := fmt.Sprintf("Usage: `%s announce YYYY-MM-DD HH:MM <message>` (UTC)", h.prefix)
	if h.cfg.Announcements == nil || len(cmd.Args) < 3 {
		return usage, nil
	}
	due, err := time.Parse(AnnounceLayout, cmd.Args[0]+" "+cmd.Args[1])
	if err != nil {
		return "Invalid date. " + usage, nil
	}
	text := skipWords(cmd.Rest, 2)
	if text == "" {
		return usage, nil
	}
	if !due.After(h.cfg.Now()) {
		return "That time has already passed.", nil
	}
	if err := h.cfg.Announcements.ScheduleAnnouncement(ctx, msg.ChannelID, msg.AuthorID, text, due); err != nil {
		return "", fmt.Errorf("announce: %w", err)
	}
	return fmt.Sprintf("📢 Announcement scheduled for %s UTC.", due.Format(AnnounceLayout)), nil
}

func (h *Handlers) requireAdmin(msg chat.Message) (string, bool) {
	if msg.IsAdmin {
		return "", true
	}
	return "Only admins can do that.", false
}

// personaError maps catalog errors to replies.
func personaError(err error, name string) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, persona.ErrNameTaken):
		return fmt.Sprintf("The name `%s` is already taken.", name), true
	case errors.Is(err, persona.ErrForbidden):
		return fmt.Sprintf("You can't change `%s`. Only its creator or an admin can.", name), true
	case errors.Is(err, persona.ErrUnknownPersona):
		return fmt.Sprintf("There's no custom persona called `%s`.", name), true
	case errors.Is(err, persona.ErrInvalid):
		return "That persona isn't valid: names are 2-32 lowercase letters, digits, - or _, and the description can't be empty.", true
	}
	return "", false
}

func nameAndText(cmd *Command) (name, text string, ok bool) {
	name, ok = cmd.Arg(0)
	if !ok {
		return "", "", false
	}
	text = skipWords(cmd.Rest, 1)
	return name, text, text != ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
