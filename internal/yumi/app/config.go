package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/yumisugoi/yumi/common/environment"
	"github.com/yumisugoi/yumi/internal/yumi/chat"
	"github.com/yumisugoi/yumi/internal/yumi/commands"
	"github.com/yumisugoi/yumi/internal/yumi/llm"
)

// Transports.
const (
	TransportDiscord = "discord"
	TransportMatrix  = "matrix"
)

// LLM backends.
const (
	BackendGenerate = "generate"
	BackendOpenAI   = "openai"
)

// MatrixConfig holds the Matrix account used when Transport is "matrix".
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string
}

// LLMConfig selects and tunes the language model backend.
type LLMConfig struct {
	Backend         string
	BaseURL         string
	Model           string
	APIKey          string
	Timeout         time.Duration
	Temperature     float64
	FactTemperature float64
	MaxTokens       int
	RetryDelay      time.Duration
	// Stream makes the generate backend read streamed replies.
	Stream bool
}

// Config holds application configuration.
type Config struct {
	Transport     string
	DiscordToken  string
	Matrix        MatrixConfig
	DatabasePath  string
	CommandPrefix string
	// AdminIDs are chat user ids allowed to run admin commands everywhere.
	AdminIDs     []string
	PersonaName  string
	LLM          LLMConfig
	HistoryLines int
	XPPerMessage int
	// RedisURL enables dashboard synchronisation. Empty disables it.
	RedisURL       string
	StatusInterval time.Duration
	// AnnounceInterval is how often scheduled announcements are checked.
	AnnounceInterval time.Duration

	// ChatTransport and Completer are used directly when non-nil instead of
	// being built from the fields above.
	ChatTransport chat.Transport
	Completer     llm.Completer
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() Config {
	return Config{
		Transport:    environment.StringOr("YUMI_TRANSPORT", TransportDiscord),
		DiscordToken: environment.StringOr("DISCORD_TOKEN", ""),
		Matrix: MatrixConfig{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       environment.StringSliceOr("MATRIX_ROOMS", nil),
		},
		DatabasePath:  environment.StringOr("YUMI_DB_PATH", "yumi.db"),
		CommandPrefix: environment.StringOr("YUMI_COMMAND_PREFIX", commands.DefaultPrefix),
		AdminIDs:      environment.StringSliceOr("YUMI_ADMIN_IDS", nil),
		PersonaName:   environment.StringOr("YUMI_PERSONA_NAME", "Yumi"),
		LLM: LLMConfig{
			Backend:         environment.StringOr("LLM_BACKEND", BackendGenerate),
			BaseURL:         environment.StringOr("LLM_BASE_URL", ""),
			Model:           environment.StringOr("LLM_MODEL", ""),
			APIKey:          environment.StringOr("LLM_API_KEY", ""),
			Timeout:         environment.DurationOr("LLM_TIMEOUT", 30*time.Second),
			Temperature:     environment.Float64Or("LLM_TEMPERATURE", 0.8),
			FactTemperature: environment.Float64Or("LLM_FACT_TEMPERATURE", 0.3),
			MaxTokens:       environment.IntOr("LLM_MAX_TOKENS", 256),
			RetryDelay:      environment.DurationOr("LLM_RETRY_DELAY", time.Second),
			Stream:          environment.BoolOr("LLM_STREAM", false),
		},
		HistoryLines:     environment.IntOr("YUMI_HISTORY_LINES", 5),
		XPPerMessage:     environment.IntOr("YUMI_XP_PER_MESSAGE", 5),
		RedisURL:         environment.StringOr("REDIS_URL", ""),
		StatusInterval:   environment.DurationOr("YUMI_STATUS_INTERVAL", 30*time.Second),
		AnnounceInterval: environment.DurationOr("YUMI_ANNOUNCE_INTERVAL", 30*time.Second),
	}
}

// Validate reports the first missing or invalid value.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("YUMI_DB_PATH is required")
	}
	if c.ChatTransport == nil {
		switch c.Transport {
		case TransportDiscord:
			if c.DiscordToken == "" {
				return errors.New("DISCORD_TOKEN is required for the discord transport")
			}
		case TransportMatrix:
			if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
				return errors.New("MATRIX_HOMESERVER, MATRIX_USER_ID and MATRIX_ACCESS_TOKEN are required for the matrix transport")
			}
		default:
			return fmt.Errorf("YUMI_TRANSPORT must be %q or %q, got %q", TransportDiscord, TransportMatrix, c.Transport)
		}
	}
	if c.Completer == nil {
		switch c.LLM.Backend {
		case BackendGenerate:
		case BackendOpenAI:
			if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
				return errors.New("LLM_API_KEY is required for the openai backend")
			}
		default:
			return fmt.Errorf("LLM_BACKEND must be %q or %q, got %q", BackendGenerate, BackendOpenAI, c.LLM.Backend)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	if c.HistoryLines < 0 {
		return errors.New("YUMI_HISTORY_LINES must not be negative")
	}
	return nil
}
