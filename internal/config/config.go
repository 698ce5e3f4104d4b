package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string
	// PublicBaseURL is where the provider reaches our webhook and stream endpoints.
	PublicBaseURL string
	DatabaseURL   string
	RedisURL      string

	RecallAPIKey     string
	RecallAPIBaseURL string
	BotName          string
	BotJoinMessage   string

	GeminiAPIKey          string
	GeminiModel           string
	AssistantTimeout      time.Duration
	AssistantContextTurns int

	StuckThreshold     time.Duration
	StuckSweepInterval time.Duration
	StuckAutoComplete  bool
	// MaxMeetingDuration force-completes any bot created this long ago. Zero disables.
	MaxMeetingDuration time.Duration

	WebhookDedupeTTL time.Duration
	WebhookDedupeMax int
	WorkerQueueSize  int
	// StreamCloseGrace completes a bot whose transcript stream stays closed this long. Zero disables.
	StreamCloseGrace time.Duration
	AdminToken       string

	DiscordToken          string
	DiscordAlertChannelID string

	TranscriptWebhookURL string
	TranscriptTimezone   string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute url, got %q", c.PublicBaseURL)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{name: "ASSISTANT_TIMEOUT", value: c.AssistantTimeout},
		{name: "STUCK_THRESHOLD", value: c.StuckThreshold},
		{name: "STUCK_SWEEP_INTERVAL", value: c.StuckSweepInterval},
		{name: "WEBHOOK_DEDUPE_TTL", value: c.WebhookDedupeTTL},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.MaxMeetingDuration < 0 {
		return fmt.Errorf("MAX_MEETING_DURATION must not be negative, got %s", c.MaxMeetingDuration)
	}
	if c.StreamCloseGrace < 0 {
		return fmt.Errorf("STREAM_CLOSE_GRACE must not be negative, got %s", c.StreamCloseGrace)
	}
	if c.AssistantContextTurns <= 0 {
		return fmt.Errorf("ASSISTANT_CONTEXT_TURNS must be positive, got %d", c.AssistantContextTurns)
	}
	if c.WorkerQueueSize <= 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be positive, got %d", c.WorkerQueueSize)
	}
	if c.WebhookDedupeMax <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_MAX must be positive, got %d", c.WebhookDedupeMax)
	}
	if (c.DiscordToken == "") != (c.DiscordAlertChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_ALERT_CHANNEL_ID must be set together")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "PUBLIC_BASE_URL", value: c.PublicBaseURL},
		{name: "RECALL_API_KEY", value: c.RecallAPIKey},
		{name: "RECALL_API_BASE_URL", value: c.RecallAPIBaseURL},
		{name: "GEMINI_API_KEY", value: c.GeminiAPIKey},
		{name: "GEMINI_MODEL", value: c.GeminiModel},
		{name: "BOT_NAME", value: strings.TrimSpace(c.BotName)},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SlogLevel is debug in development regardless of LOG_LEVEL.
func (c *Config) SlogLevel() slog.Level {
	if c.IsDevelopment() {
		return slog.LevelDebug
	}
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL is invalid: %q", s)
}

// StreamURL is the websocket endpoint the provider streams transcripts to.
func (c *Config) StreamURL() string {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/transcript"
}

func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/webhook/recall"
}
