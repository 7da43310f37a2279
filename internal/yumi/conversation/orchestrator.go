// Package conversation runs one chat turn end to end: persona resolution,
// history curation, fact extraction, reply generation and persistence.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yumisugoi/yumi/common/trace"
	"github.com/yumisugoi/yumi/internal/yumi/facts"
	"github.com/yumisugoi/yumi/internal/yumi/llm"
	"github.com/yumisugoi/yumi/internal/yumi/memory"
	"github.com/yumisugoi/yumi/internal/yumi/metrics"
	"github.com/yumisugoi/yumi/internal/yumi/observability"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
)

// ErrEmptyMessage is returned for a turn without content.
var ErrEmptyMessage = errors.New("conversation: empty message")

// QASource supplies reference question/answer pairs.
type QASource interface {
	QAPairs(ctx context.Context) ([]llm.QAPair, error)
}

// Turn is one incoming user message.
type Turn struct {
	Key     memory.Key
	Content string
}

// Reply is the outcome of a successful turn.
type Reply struct {
	Text     string
	Persona  string
	Fallback llm.FallbackKind
	// Learned holds facts that were new in this turn.
	Learned facts.Facts
	TraceID string
}

// Config wires an Orchestrator.
type Config struct {
	State     *State
	Modes     *persona.Modes
	Composer  *persona.Composer
	Extractor *facts.Extractor
	Generator *llm.Generator
	// QA is optional.
	QA QASource
	// PersonaName labels assistant lines in the history block.
	PersonaName string
	MaxQAPairs  int
	// OnFactsLearned is called after new facts were merged, if set.
	OnFactsLearned func(ctx context.Context, userID string, learned facts.Facts)
	Logger         *slog.Logger
}

// Orchestrator sequences the components for each turn. Turns on the same
// conversation key run one at a time; different keys never contend.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PersonaName == "" {
		cfg.PersonaName = "Yumi"
	}
	if cfg.MaxQAPairs <= 0 {
		cfg.MaxQAPairs = 5
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger, now: time.Now}
}

// HandleTurn processes one user message and returns the reply to send. An
// error (including a recovered panic) means the turn was dropped and
// nothing should be sent; other conversations are unaffected.
func (o *Orchestrator) HandleTurn(ctx context.Context, t Turn) (reply Reply, err error) {
	t.Content = strings.TrimSpace(t.Content)
	if t.Content == "" {
		return Reply{}, ErrEmptyMessage
	}

	ctx = trace.Ensure(ctx)
	log := observability.WithTrace(ctx, o.logger).With("conversation", t.Key.String())
	start := o.now()

	unlock := o.cfg.State.locks.lock(t.Key)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversation: turn panicked: %v", r)
		}
		metrics.TurnDuration.Observe(o.now().Sub(start).Seconds())
		switch {
		case err != nil:
			metrics.TurnsTotal.WithLabelValues("aborted").Inc()
			log.Error("turn aborted", "err", err)
		case reply.Fallback != llm.FallbackNone:
			metrics.TurnsTotal.WithLabelValues("fallback").Inc()
		default:
			metrics.TurnsTotal.WithLabelValues("replied").Inc()
		}
	}()

	// 1. persona
	name := o.cfg.Modes.Resolve(t.Key.ChannelID, t.Key.GuildID, t.Key.UserID)

	// 2. history
	curator := o.cfg.State.Curator()
	curator.Append(t.Key, memory.Message{Role: memory.RoleUser, Content: t.Content, Timestamp: o.now().UTC()})

	// 3. facts
	known := o.cfg.State.Facts(t.Key.UserID)
	extraction := o.cfg.Extractor.Extract(ctx, t.Content, known)
	if len(extraction.Facts) > 0 {
		merged, ferr := o.cfg.State.MergeFacts(ctx, t.Key.UserID, extraction.Facts)
		if ferr != nil {
			log.Warn("facts not persisted", "err", ferr)
		}
		known = merged
		log.Info("learned facts", "keys", extraction.Facts.Keys(), "source", extraction.Source)
		if o.cfg.OnFactsLearned != nil {
			o.cfg.OnFactsLearned(ctx, t.Key.UserID, extraction.Facts.Clone())
		}
	}

	// 4. context
	history := FormatHistory(withoutCurrent(curator.RelevantContext(t.Key), t.Content), o.cfg.PersonaName)

	// 5. prompt
	system := o.cfg.Composer.Prompt(ctx, name)

	// 6. generate
	res := o.cfg.Generator.Generate(ctx, llm.Input{
		UserMessage:  t.Content,
		SystemPrompt: system,
		QAPairs:      o.qaPairs(ctx, log, t.Content),
		Facts:        known,
		History:      history,
	})

	// 7. reply into history
	curator.Append(t.Key, memory.Message{Role: memory.RoleAssistant, Content: res.Text, Timestamp: o.now().UTC()})

	// 8. persist
	if serr := o.cfg.State.Save(ctx, t.Key); serr != nil {
		log.Warn("history not persisted", "err", serr)
	}

	log.Debug("turn complete", "persona", name, "attempts", res.Attempts, "fallback", string(res.Fallback))
	return Reply{
		Text:     res.Text,
		Persona:  name,
		Fallback: res.Fallback,
		Learned:  extraction.Facts,
		TraceID:  trace.FromContext(ctx),
	}, nil
}

func (o *Orchestrator) qaPairs(ctx context.Context, log *slog.Logger, message string) []llm.QAPair {
	if o.cfg.QA == nil {
		return nil
	}
	pairs, err := o.cfg.QA.QAPairs(ctx)
	if err != nil {
		log.Warn("qa pairs unavailable", "err", err)
		return nil
	}
	return SelectQAPairs(message, pairs, o.cfg.MaxQAPairs)
}

// withoutCurrent drops the trailing user message matching content; the
// prompt ends with it already.
func withoutCurrent(msgs []memory.Message, content string) []memory.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == memory.RoleUser && msgs[n-1].Content == content {
		return msgs[:n-1]
	}
	return msgs
}

// FormatHistory renders messages as "User: ..." and "<name>: ..." lines.
func FormatHistory(msgs []memory.Message, name string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := "User"
		if m.Role == memory.RoleAssistant {
			speaker = name
		}
		out = append(out, speaker+": "+m.Content)
	}
	return out
}
