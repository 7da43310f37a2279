package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yumisugoi/yumi/internal/yumi/llm"
	"github.com/yumisugoi/yumi/internal/yumi/metrics"
)

// ErrNoJSON is returned when the model's answer holds no JSON object.
var ErrNoJSON = errors.New("facts: no JSON object in response")

// Source says where an Extraction's facts came from.
type Source string

const (
	SourceModel   Source = "model"
	SourcePattern Source = "pattern"
	SourceSkipped Source = "skipped"
)

// Extraction is the result of one Extract call. Facts holds only entries
// that are new or differ from the known record.
type Extraction struct {
	Facts  Facts
	Source Source
}

// Config tunes an Extractor.
type Config struct {
	// CommandPrefix marks messages that are commands and never mined.
	CommandPrefix string
	// MinLength is the shortest message, in characters, worth a model call.
	MinLength int
	// Temperature for the extraction prompt; low keeps the JSON stable.
	// Nil means 0.3.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.MinLength <= 0 {
		c.MinLength = 10
	}
	if c.Temperature == nil {
		t := 0.3
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 200
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Suggested keys offered to the model. Others are accepted as well.
var Categories = []string{
	"name", "location", "age", "occupation", "interests",
	"relationship_status", "pets", "family",
}

const extractSystem = "You pull personal facts out of chat messages. Reply with a single JSON object and nothing else."

const factsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "propertyNames": {"pattern": "^[A-Za-z][A-Za-z0-9_ ]{0,39}$"},
  "additionalProperties": {
    "anyOf": [
      {"type": "string", "maxLength": 200},
      {"type": "number"},
      {"type": "boolean"},
      {"type": "null"},
      {"type": "array", "maxItems": 20, "items": {"type": ["string", "number"]}}
    ]
  }
}`

var responseSchema = jsonschema.MustCompileString("yumi://facts.schema.json", factsSchema)

// Extractor finds new user facts in a message. A nil Completer restricts it
// to phrase matching.
type Extractor struct {
	llm    llm.Completer
	cfg    Config
	logger *slog.Logger
}

// NewExtractor creates an Extractor. logger may be nil.
func NewExtractor(c llm.Completer, cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: c, cfg: cfg.withDefaults(), logger: logger}
}

// ShouldExtract reports whether message is worth mining: long enough and
// not a bot command.
func (e *Extractor) ShouldExtract(message string) bool {
	message = strings.TrimSpace(message)
	if strings.HasPrefix(message, e.cfg.CommandPrefix) {
		return false
	}
	return utf8.RuneCountInString(message) >= e.cfg.MinLength
}

// Extract returns the facts in message that are new relative to known. It
// never fails: a model error or unusable answer falls back to phrase
// matching, and a failure there yields an empty result.
func (e *Extractor) Extract(ctx context.Context, message string, known Facts) Extraction {
	if !e.ShouldExtract(message) {
		metrics.FactExtractionsTotal.WithLabelValues(string(SourceSkipped)).Inc()
		return Extraction{Facts: Facts{}, Source: SourceSkipped}
	}

	source := SourceModel
	found, err := e.fromModel(ctx, message, known)
	if err != nil {
		e.logger.Debug("fact extraction fell back to patterns", "err", err)
		source = SourcePattern
		found = PatternFacts(message)
	}

	changed := Changed(known, found)
	label := string(source)
	if len(changed) == 0 {
		label = "none"
	}
	metrics.FactExtractionsTotal.WithLabelValues(label).Inc()
	return Extraction{Facts: changed, Source: source}
}

func (e *Extractor) fromModel(ctx context.Context, message string, known Facts) (Facts, error) {
	if e.llm == nil {
		return nil, errors.New("facts: no model configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	raw, err := e.llm.Complete(ctx, llm.Request{
		System:      extractSystem,
		Prompt:      BuildPrompt(message, known),
		Temperature: *e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("facts: model: %w", err)
	}
	return ParseResponse(raw)
}

// BuildPrompt renders the extraction instruction for message.
func BuildPrompt(message string, known Facts) string {
	knownJSON := "{}"
	if len(known) > 0 {
		if b, err := json.Marshal(known); err == nil {
			knownJSON = string(b)
		}
	}
	var b strings.Builder
	b.WriteString("Find facts the user states about themselves in the message below.\n")
	b.WriteString("Already known: " + knownJSON + "\n")
	b.WriteString("Message: " + strconv.Quote(message) + "\n\n")
	b.WriteString("Reply with a JSON object holding only newly stated facts, for example {\"name\": \"Alex\", \"location\": \"Tokyo\"}.\n")
	b.WriteString("Prefer these keys: " + strings.Join(Categories, ", ") + ". ")
	b.WriteString("Use another short snake_case key for any other clear statement about the user. ")
	b.WriteString("Reply {} when there is nothing new.")
	return b.String()
}

// ParseResponse reads the JSON object spanning the first '{' to the last
// '}' of raw, checks it against the response schema and flattens every
// value to a string. Arrays are joined with ", " and nulls are dropped.
func ParseResponse(raw string) (Facts, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	var doc any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("facts: decode: %w", err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("facts: schema: %w", err)
	}

	obj := doc.(map[string]any)
	out := make(Facts, len(obj))
	for k, v := range obj {
		s := stringify(v)
		if s == "" {
			continue
		}
		out[NormalizeKey(k)] = s
	}
	return out, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
