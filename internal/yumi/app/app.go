// Package app wires the chat transport, the conversation pipeline, chat
// commands and the dashboard bus into the running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yumisugoi/yumi/common/spec/envelope"
	"github.com/yumisugoi/yumi/internal/yumi/chat"
	"github.com/yumisugoi/yumi/internal/yumi/chat/discord"
	"github.com/yumisugoi/yumi/internal/yumi/chat/matrix"
	"github.com/yumisugoi/yumi/internal/yumi/commands"
	"github.com/yumisugoi/yumi/internal/yumi/conversation"
	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/facts"
	"github.com/yumisugoi/yumi/internal/yumi/llm"
	"github.com/yumisugoi/yumi/internal/yumi/memory"
	"github.com/yumisugoi/yumi/internal/yumi/metrics"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
	"github.com/yumisugoi/yumi/internal/yumi/store"
)

// MaintenanceMessage answers conversation while maintenance mode is on.
const MaintenanceMessage = "🛠️ I'm getting a little tune-up right now. Please try again soon!"

// App is the running bot.
type App struct {
	cfg    Config
	logger *slog.Logger

	store        *store.Store
	state        *conversation.State
	composer     *persona.Composer
	catalog      *persona.Catalog
	modes        *persona.Modes
	lockdown     *Lockdown
	orchestrator *conversation.Orchestrator
	router       *commands.Router
	transport    chat.Transport

	bus        events.Notifier
	redis      *events.Redis
	dispatcher *events.Dispatcher

	maintenance atomic.Bool
	started     time.Time
}

// New opens the store, restores persisted state and wires every component.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, store: st, started: time.Now()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	a.state = conversation.NewState(memory.NewCurator(memory.CuratorConfig{}), a.store, logger)
	if err := a.state.Load(ctx); err != nil {
		logger.Warn("starting with empty memory", "err", err)
	}

	table := persona.DefaultTable()
	a.composer = persona.NewComposer(table, a.store, logger)
	a.catalog = persona.NewCatalog(table, a.store)
	a.modes = persona.NewModes(a.composer, a.store, logger)
	if err := a.modes.Load(ctx); err != nil {
		logger.Warn("persona modes not restored", "err", err)
	}
	a.lockdown = NewLockdown(a.store, logger)
	if err := a.lockdown.Load(ctx); err != nil {
		logger.Warn("channel locks not restored", "err", err)
	}

	completer := cfg.Completer
	if completer == nil {
		completer = newCompleter(cfg.LLM)
	}
	extractor := facts.NewExtractor(completer, facts.Config{
		CommandPrefix: cfg.CommandPrefix,
		Temperature:   &cfg.LLM.FactTemperature,
		Timeout:       cfg.LLM.Timeout,
	}, logger)
	generator := llm.NewGenerator(completer, llm.GeneratorConfig{
		PersonaName:    cfg.PersonaName,
		Temperature:    &cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		RetryDelay:     cfg.LLM.RetryDelay,
		AttemptTimeout: cfg.LLM.Timeout,
		HistoryLines:   cfg.HistoryLines,
	}, logger)

	if cfg.RedisURL != "" {
		r, err := events.Dial(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis, a.bus = r, r
		if on, err := r.Maintenance(ctx); err != nil {
			logger.Warn("maintenance flag not read", "err", err)
		} else {
			a.maintenance.Store(on)
		}
	} else {
		a.bus = events.Noop{}
	}

	a.orchestrator = conversation.New(conversation.Config{
		State:          a.state,
		Modes:          a.modes,
		Composer:       a.composer,
		Extractor:      extractor,
		Generator:      generator,
		QA:             qaSource{a.store},
		PersonaName:    cfg.PersonaName,
		OnFactsLearned: a.factsLearned,
		Logger:         logger,
	})

	a.router = commands.NewRouter(cfg.CommandPrefix)
	commands.NewHandlers(a.router, commands.Config{
		Modes:    a.modes,
		Composer: a.composer,
		Catalog:  a.catalog,
		Memory:   a.state,
		Lockdown: a.lockdown,
		Progress: a.store,
		Notifier: a.bus,
		Logger:   logger,

		Announcements: a.store,
	})

	a.transport = cfg.ChatTransport
	if a.transport == nil {
		t, err := a.newTransport()
		if err != nil {
			return err
		}
		a.transport = t
	}

	a.dispatcher = events.NewDispatcher()
	a.registerCommands()
	return nil
}

func newCompleter(cfg LLMConfig) llm.Completer {
	if cfg.Backend == BackendOpenAI {
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	}
	return llm.NewGenerateClient(llm.GenerateConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
		Stream:  cfg.Stream,
	})
}

func (a *App) newTransport() (chat.Transport, error) {
	switch a.cfg.Transport {
	case TransportMatrix:
		t, err := matrix.New(matrix.Config{
			Homeserver:  a.cfg.Matrix.Homeserver,
			UserID:      a.cfg.Matrix.UserID,
			AccessToken: a.cfg.Matrix.AccessToken,
			Rooms:       a.cfg.Matrix.Rooms,
			AdminIDs:    a.cfg.AdminIDs,
			DB:          a.store.DB(),
			Logger:      a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create matrix transport: %w", err)
		}
		return t, nil
	default:
		t, err := discord.New(discord.Config{
			Token:    a.cfg.DiscordToken,
			AdminIDs: a.cfg.AdminIDs,
			Logger:   a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create discord transport: %w", err)
		}
		return t, nil
	}
}

// Store exposes the database so the dashboard can share it in one process.
func (a *App) Store() *store.Store { return a.store }

// Composer returns the persona composer.
func (a *App) Composer() *persona.Composer { return a.composer }

// Catalog returns the custom persona catalog.
func (a *App) Catalog() *persona.Catalog { return a.catalog }

// Commands returns the notifier an in-process dashboard sends commands
// through: redis when configured, otherwise straight to the bot's
// dispatcher.
func (a *App) Commands() events.Notifier {
	if a.redis != nil {
		return a.redis
	}
	return events.Local{Dispatcher: a.dispatcher, Logger: a.logger}
}

// StatusSource returns the redis status reader, or nil without redis.
func (a *App) StatusSource() *events.Redis { return a.redis }

// Run connects the transport and, with redis configured, listens for
// dashboard commands and publishes heartbeats. It returns when ctx is done
// or the transport fails, after flushing conversation history.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.transport.Run(gctx, a.handleMessage)
	})
	if a.cfg.AnnounceInterval > 0 {
		g.Go(func() error {
			a.runAnnouncements(gctx, a.cfg.AnnounceInterval)
			return nil
		})
	}
	if a.redis != nil {
		g.Go(func() error {
			return a.redis.Subscribe(gctx, a.dispatcher)
		})
		g.Go(func() error {
			a.redis.Heartbeat(gctx, a.cfg.StatusInterval, a.status)
			return nil
		})
	}
	a.logger.Info("yumi is running", "transport", a.cfg.Transport, "prefix", a.router.Prefix())

	err := g.Wait()
	flush, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := a.state.SaveAll(flush); serr != nil {
		a.logger.Error("history not flushed", "err", serr)
	}
	if a.redis != nil {
		if perr := a.redis.PublishStatus(flush, a.offline()); perr != nil {
			a.logger.Warn("offline status not published", "err", perr)
		}
	}
	return err
}

// Close releases the store and the redis connection.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func (a *App) status() events.Status {
	st := events.NewStatus(true, a.started, time.Now(), a.transport.GuildCount())
	st.Maintenance = a.maintenance.Load()
	return st
}

func (a *App) offline() events.Status {
	st := a.status()
	st.Connected = false
	return st
}

// handleMessage runs one incoming chat message: lockdown filter, XP,
// commands, then a conversation turn.
func (a *App) handleMessage(ctx context.Context, msg chat.Message) {
	if msg.IsBot {
		metrics.MessagesIgnored.WithLabelValues("own").Inc()
		return
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		metrics.MessagesIgnored.WithLabelValues("empty").Inc()
		return
	}
	log := a.logger.With("user", msg.AuthorID, "guild", msg.GuildID, "channel", msg.ChannelID)

	isCommand := a.router.IsCommand(text)
	if !isCommand && !a.lockdown.Allows(msg.GuildID, msg.ChannelID) {
		metrics.MessagesIgnored.WithLabelValues("lockdown").Inc()
		return
	}

	a.awardXP(ctx, log, msg)

	if isCommand {
		a.handleCommand(ctx, log, msg, text)
		return
	}

	if a.maintenance.Load() {
		metrics.MessagesIgnored.WithLabelValues("maintenance").Inc()
		a.send(ctx, log, msg.ChannelID, MaintenanceMessage)
		return
	}

	if err := a.transport.Typing(ctx, msg.ChannelID); err != nil {
		log.Debug("typing indicator failed", "err", err)
	}
	reply, err := a.orchestrator.HandleTurn(ctx, conversation.Turn{
		Key:     memory.Key{UserID: msg.AuthorID, GuildID: msg.GuildID, ChannelID: msg.ChannelID},
		Content: text,
	})
	if err != nil {
		log.Error("turn failed", "err", err)
		return
	}
	a.send(ctx, log, msg.ChannelID, reply.Text)
}

func (a *App) handleCommand(ctx context.Context, log *slog.Logger, msg chat.Message, text string) {
	reply, err := a.router.Route(ctx, text, msg)
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		reply = fmt.Sprintf("I don't know that command. Try `%s help`.", a.router.Prefix())
	case err != nil:
		log.Error("command failed", "text", text, "err", err)
		reply = "❌ Something went wrong running that command."
	default:
		name := "help"
		if cmd, perr := a.router.Parse(text); perr == nil {
			name = cmd.Name
		}
		evt := envelope.New(envelope.SourceBot, events.EvtCommandUsed)
		evt.GuildID, evt.ChannelID, evt.UserID = msg.GuildID, msg.ChannelID, msg.AuthorID
		a.bus.Notify(ctx, events.ChannelBot, evt.With("command", name))
	}
	a.send(ctx, log, msg.ChannelID, reply)
}

func (a *App) awardXP(ctx context.Context, log *slog.Logger, msg chat.Message) {
	if a.cfg.XPPerMessage <= 0 {
		return
	}
	p, levelled, err := a.store.AddXP(ctx, msg.AuthorID, a.cfg.XPPerMessage)
	if err != nil {
		log.Warn("xp not recorded", "err", err)
		return
	}
	if levelled {
		name := msg.AuthorName
		if name == "" {
			name = msg.AuthorID
		}
		a.send(ctx, log, msg.ChannelID, fmt.Sprintf("🎉 **%s** reached level **%d**!", name, p.Level))
	}
}

func (a *App) send(ctx context.Context, log *slog.Logger, channelID, text string) {
	if text == "" {
		return
	}
	if err := a.transport.Send(ctx, channelID, text); err != nil {
		log.Error("reply not sent", "err", err)
	}
}

func (a *App) factsLearned(ctx context.Context, userID string, learned facts.Facts) {
	evt := envelope.New(envelope.SourceBot, events.EvtFactsUpdated)
	evt.UserID = userID
	a.bus.Notify(ctx, events.ChannelUser, evt.With("keys", learned.Keys()))
}

// qaSource adapts stored Q&A pairs to the generator's reference pairs.
type qaSource struct {
	store *store.Store
}

func (q qaSource) QAPairs(ctx context.Context) ([]llm.QAPair, error) {
	rows, err := q.store.ListQAPairs(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make([]llm.QAPair, len(rows))
	for i, r := range rows {
		pairs[i] = llm.QAPair{Question: r.Question, Answer: r.Answer}
	}
	return pairs, nil
}
