package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/yumisugoi/yumi/common/retry"
	"github.com/yumisugoi/yumi/internal/yumi/metrics"
)

// Fallback replies, returned verbatim when no valid model output is obtained.
const (
	ConnectionFallbackMessage = "Ugh, my connection is being weird right now... can you try again in a little bit?"
	TimeoutFallbackMessage    = "Sorry, I spaced out for a second there! Could you say that again?"
	ValidationFallbackMessage = "Hmm, I lost my train of thought... what were we talking about?"
	DefaultFallbackMessage    = "Sorry, I couldn't come up with a reply just now. Try me again?"

	// FillerReply replaces a reply that cleaning left empty.
	FillerReply = "Hehe, tell me more?"
)

// FallbackKind classifies why a fallback was returned.
type FallbackKind string

const (
	FallbackNone       FallbackKind = ""
	FallbackConnection FallbackKind = "connection"
	FallbackTimeout    FallbackKind = "timeout"
	FallbackValidation FallbackKind = "validation"
	FallbackDefault    FallbackKind = "default"
)

// Message returns the reply text for k.
func (k FallbackKind) Message() string {
	switch k {
	case FallbackConnection:
		return ConnectionFallbackMessage
	case FallbackTimeout:
		return TimeoutFallbackMessage
	case FallbackValidation:
		return ValidationFallbackMessage
	case FallbackNone:
		return ""
	default:
		return DefaultFallbackMessage
	}
}

// QAPair is a reference question and answer offered to the model.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Input is everything the Generator needs for one reply.
type Input struct {
	UserMessage  string
	SystemPrompt string
	QAPairs      []QAPair
	Facts        map[string]string
	// History holds pre-formatted conversation lines, oldest first.
	History []string
	// Temperature overrides the configured temperature when non-nil.
	Temperature *float64
	// MaxTokens overrides the configured reply length when positive.
	MaxTokens int
}

// Result is the Generator's outcome. Text is never empty.
type Result struct {
	Text     string
	Fallback FallbackKind
	Attempts int
}

// GeneratorConfig tunes a Generator. Zero fields take the defaults below.
type GeneratorConfig struct {
	PersonaName    string        // "Yumi"
	Temperature    *float64      // 0.8; nil takes the default, 0 is honoured
	MaxTokens      int           // 256
	MaxAttempts    int           // 3
	RetryDelay     time.Duration // 1s, multiplied by the attempt number
	AttemptTimeout time.Duration // 30s
	HistoryLines   int           // 5
	MaxQAPairs     int           // 5
}

func (c *GeneratorConfig) applyDefaults() {
	if c.PersonaName == "" {
		c.PersonaName = "Yumi"
	}
	if c.Temperature == nil {
		t := 0.8
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultTimeout
	}
	if c.HistoryLines <= 0 {
		c.HistoryLines = 5
	}
	if c.MaxQAPairs <= 0 {
		c.MaxQAPairs = 5
	}
}

// Generator produces persona replies. It never returns an error: every
// failure ends in one of the fallback messages.
type Generator struct {
	llm      Completer
	cfg      GeneratorConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	speaker  *regexp.Regexp
	antiFabr string
}

// NewGenerator wires a Generator to a backend.
func NewGenerator(c Completer, cfg GeneratorConfig, logger *slog.Logger) *Generator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	name := regexp.QuoteMeta(cfg.PersonaName)
	return &Generator{
		llm:      c,
		cfg:      cfg,
		logger:   logger,
		sleep:    retry.Sleep,
		speaker:  regexp.MustCompile(`(?i)^\s*(?:user|human|assistant|` + name + `(?:\s+sugoi)?)\s*[:：]\s*`),
		antiFabr: antiFabricationDirectives(cfg.PersonaName),
	}
}

func antiFabricationDirectives(name string) string {
	return "Rules for this reply:\n" +
		"- Answer only as " + name + ". Never write lines that start with a speaker label such as \"User:\" or \"" + name + ":\".\n" +
		"- Never make up earlier conversation. Only mention past messages that appear in the context above.\n" +
		"- Never speak for the user or invent what they said or feel."
}

// BuildRequest assembles the system prompt (persona plus the anti-fabrication
// rules) and the prompt: facts as "Key: Value" lines, up to MaxQAPairs
// reference pairs, the last HistoryLines history lines, then the user message.
func (g *Generator) BuildRequest(in Input) Request {
	system := strings.TrimSpace(in.SystemPrompt)
	if system != "" {
		system += "\n\n"
	}
	system += g.antiFabr

	var b strings.Builder
	if len(in.Facts) > 0 {
		b.WriteString("What you know about the user:\n")
		keys := make([]string, 0, len(in.Facts))
		for k := range in.Facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", FactLabel(k), in.Facts[k])
		}
		b.WriteString("\n")
	}
	if len(in.QAPairs) > 0 {
		b.WriteString("Reference answers:\n")
		for i, qa := range in.QAPairs {
			if i == g.cfg.MaxQAPairs {
				break
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", qa.Question, qa.Answer)
		}
		b.WriteString("\n")
	}
	if len(in.History) > 0 {
		b.WriteString("Recent conversation:\n")
		history := in.History
		if len(history) > g.cfg.HistoryLines {
			history = history[len(history)-g.cfg.HistoryLines:]
		}
		for _, line := range history {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(in.UserMessage)

	req := Request{
		System:      system,
		Prompt:      b.String(),
		Temperature: *g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}
	if in.Temperature != nil {
		req.Temperature = *in.Temperature
	}
	if in.MaxTokens > 0 {
		req.MaxTokens = in.MaxTokens
	}
	return req
}

// FactLabel renders a fact key for the prompt: "relationship_status"
// becomes "Relationship status".
func FactLabel(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "_", " "))
	if key == "" {
		return key
	}
	r, size := utf8.DecodeRuneInString(key)
	return string(unicode.ToUpper(r)) + key[size:]
}

type attemptOutcome int

const (
	outcomeError attemptOutcome = iota
	outcomeTimeout
	outcomeInvalid
)

// Generate asks the model for a reply, retrying failed or rejected attempts
// with a linearly growing delay.
func (g *Generator) Generate(ctx context.Context, in Input) Result {
	req := g.BuildRequest(in)

	var (
		text     string
		outcomes []attemptOutcome
	)
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: g.cfg.MaxAttempts,
		Delay:       g.cfg.RetryDelay,
		Backoff:     retry.Linear,
		Sleep:       g.sleep,
	}, func(attempt int) error {
		actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()

		raw, err := g.llm.Complete(actx, req)
		if errors.Is(err, ErrEmptyResponse) {
			outcomes = append(outcomes, outcomeInvalid)
			metrics.LLMRequestsTotal.WithLabelValues("invalid").Inc()
			g.logger.Warn("llm: reply rejected", "attempt", attempt, "err", err)
			return err
		}
		if err != nil {
			if IsTimeout(err) {
				outcomes = append(outcomes, outcomeTimeout)
				metrics.LLMRequestsTotal.WithLabelValues("timeout").Inc()
			} else {
				outcomes = append(outcomes, outcomeError)
				metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
			}
			g.logger.Warn("llm: attempt failed", "attempt", attempt, "err", err)
			return err
		}
		if err := validateReply(raw, in.UserMessage); err != nil {
			outcomes = append(outcomes, outcomeInvalid)
			metrics.LLMRequestsTotal.WithLabelValues("invalid").Inc()
			g.logger.Warn("llm: reply rejected", "attempt", attempt, "err", err)
			return err
		}
		metrics.LLMRequestsTotal.WithLabelValues("ok").Inc()
		text = raw
		return nil
	})

	if err == nil {
		return Result{Text: g.CleanReply(text), Attempts: len(outcomes) + 1}
	}

	kind := classifyFailure(ctx, outcomes)
	metrics.FallbacksTotal.WithLabelValues(string(kind)).Inc()
	g.logger.Error("llm: returning fallback", "kind", kind, "attempts", len(outcomes), "err", err)
	return Result{Text: kind.Message(), Fallback: kind, Attempts: len(outcomes)}
}

// classifyFailure picks the fallback: timeout when the final attempt timed
// out, validation when every attempt produced rejected output, connection
// when the final attempt failed at the transport, default otherwise.
func classifyFailure(ctx context.Context, outcomes []attemptOutcome) FallbackKind {
	if ctx.Err() != nil || len(outcomes) == 0 {
		return FallbackDefault
	}
	switch outcomes[len(outcomes)-1] {
	case outcomeTimeout:
		return FallbackTimeout
	case outcomeError:
		return FallbackConnection
	}
	for _, o := range outcomes {
		if o != outcomeInvalid {
			return FallbackDefault
		}
	}
	return FallbackValidation
}

func validateReply(reply, input string) error {
	t := strings.TrimSpace(reply)
	switch {
	case t == "":
		return fmt.Errorf("%w: empty", ErrValidation)
	case len(strings.Fields(t)) < 3:
		return fmt.Errorf("%w: fewer than 3 words", ErrValidation)
	case t == strings.TrimSpace(input):
		return fmt.Errorf("%w: echoes the user message", ErrValidation)
	}
	return nil
}

// CleanReply removes a leading speaker label and cuts the reply at the first
// later line that starts with one, since everything from there on is
// invented dialogue. An empty result becomes FillerReply.
func (g *Generator) CleanReply(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for i, line := range lines {
		if g.speaker.MatchString(line) {
			if i > 0 {
				break
			}
			line = g.speaker.ReplaceAllString(line, "")
		}
		kept = append(kept, line)
	}
	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if out == "" {
		return FillerReply
	}
	return out
}
