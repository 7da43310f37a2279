package app

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"YUMI_TRANSPORT", "YUMI_COMMAND_PREFIX", "LLM_BACKEND", "LLM_TIMEOUT", "YUMI_HISTORY_LINES", "REDIS_URL"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	if cfg.Transport != TransportDiscord {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.CommandPrefix != "!yumi" {
		t.Errorf("CommandPrefix = %q", cfg.CommandPrefix)
	}
	if cfg.LLM.Backend != BackendGenerate || cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.HistoryLines != 5 || cfg.XPPerMessage != 5 {
		t.Errorf("HistoryLines = %d, XPPerMessage = %d", cfg.HistoryLines, cfg.XPPerMessage)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("YUMI_TRANSPORT", "matrix")
	t.Setenv("MATRIX_ROOMS", "!a:example.org, !b:example.org")
	t.Setenv("LLM_BACKEND", "openai")
	t.Setenv("LLM_TEMPERATURE", "0.5")
	t.Setenv("LLM_TIMEOUT", "5s")
	cfg := LoadConfig()
	if cfg.Transport != TransportMatrix {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if len(cfg.Matrix.Rooms) != 2 || cfg.Matrix.Rooms[1] != "!b:example.org" {
		t.Errorf("Rooms = %q", cfg.Matrix.Rooms)
	}
	if cfg.LLM.Backend != BackendOpenAI || cfg.LLM.Temperature != 0.5 || cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Transport:    TransportDiscord,
		DiscordToken: "token",
		DatabasePath: "yumi.db",
		LLM:          LLMConfig{Backend: BackendGenerate, Temperature: 0.8},
		HistoryLines: 5,
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no database", func(c *Config) { c.DatabasePath = "" }, "YUMI_DB_PATH"},
		{"no discord token", func(c *Config) { c.DiscordToken = "" }, "DISCORD_TOKEN"},
		{"matrix incomplete", func(c *Config) { c.Transport = TransportMatrix }, "MATRIX_HOMESERVER"},
		{"unknown transport", func(c *Config) { c.Transport = "irc" }, "YUMI_TRANSPORT"},
		{"openai without key", func(c *Config) { c.LLM.Backend = BackendOpenAI }, "LLM_API_KEY"},
		{"unknown backend", func(c *Config) { c.LLM.Backend = "magic" }, "LLM_BACKEND"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "LLM_TEMPERATURE"},
		{"prebuilt transport", func(c *Config) {
			c.Transport, c.DiscordToken = "", ""
			c.ChatTransport = &fakeTransport{}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("Validate() = %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
