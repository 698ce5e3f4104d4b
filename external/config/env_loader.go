package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/kentyler/cogito-sub006/internal/config"
)

type envConfig struct {
	Env                   string        `env:"ENV" envDefault:"production"`
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr              string        `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL         string        `env:"PUBLIC_BASE_URL,required"`
	DatabaseURL           string        `env:"DATABASE_URL,required"`
	RedisURL              string        `env:"REDIS_URL"`
	RecallAPIKey          string        `env:"RECALL_API_KEY,required"`
	RecallAPIBaseURL      string        `env:"RECALL_API_BASE_URL" envDefault:"https://us-west-2.recall.ai/api/v1"`
	BotName               string        `env:"BOT_NAME" envDefault:"Cogito"`
	BotJoinMessage        string        `env:"BOT_JOIN_MESSAGE" envDefault:"Hi, I'm Cogito. Mention @cogito or send ? for a summary."`
	GeminiAPIKey          string        `env:"GEMINI_API_KEY,required"`
	GeminiModel           string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	AssistantTimeout      time.Duration `env:"ASSISTANT_TIMEOUT" envDefault:"30s"`
	AssistantContextTurns int           `env:"ASSISTANT_CONTEXT_TURNS" envDefault:"50"`
	StuckThreshold        time.Duration `env:"STUCK_THRESHOLD" envDefault:"10m"`
	StuckSweepInterval    time.Duration `env:"STUCK_SWEEP_INTERVAL" envDefault:"1m"`
	StuckAutoComplete     bool          `env:"STUCK_AUTO_COMPLETE" envDefault:"false"`
	MaxMeetingDuration    time.Duration `env:"MAX_MEETING_DURATION" envDefault:"4h"`
	WebhookDedupeTTL      time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"10m"`
	WebhookDedupeMax      int           `env:"WEBHOOK_DEDUPE_MAX" envDefault:"10000"`
	WorkerQueueSize       int           `env:"WORKER_QUEUE_SIZE" envDefault:"256"`
	StreamCloseGrace      time.Duration `env:"STREAM_CLOSE_GRACE" envDefault:"30s"`
	AdminToken            string        `env:"ADMIN_TOKEN"`
	DiscordToken          string        `env:"DISCORD_TOKEN"`
	DiscordAlertChannelID string        `env:"DISCORD_ALERT_CHANNEL_ID"`
	TranscriptWebhookURL  string        `env:"TRANSCRIPT_WEBHOOK_URL"`
	TranscriptTimezone    string        `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                   raw.Env,
		LogLevel:              raw.LogLevel,
		HTTPAddr:              raw.HTTPAddr,
		PublicBaseURL:         raw.PublicBaseURL,
		DatabaseURL:           raw.DatabaseURL,
		RedisURL:              raw.RedisURL,
		RecallAPIKey:          raw.RecallAPIKey,
		RecallAPIBaseURL:      raw.RecallAPIBaseURL,
		BotName:               raw.BotName,
		BotJoinMessage:        raw.BotJoinMessage,
		GeminiAPIKey:          raw.GeminiAPIKey,
		GeminiModel:           raw.GeminiModel,
		AssistantTimeout:      raw.AssistantTimeout,
		AssistantContextTurns: raw.AssistantContextTurns,
		StuckThreshold:        raw.StuckThreshold,
		StuckSweepInterval:    raw.StuckSweepInterval,
		StuckAutoComplete:     raw.StuckAutoComplete,
		MaxMeetingDuration:    raw.MaxMeetingDuration,
		WebhookDedupeTTL:      raw.WebhookDedupeTTL,
		WebhookDedupeMax:      raw.WebhookDedupeMax,
		WorkerQueueSize:       raw.WorkerQueueSize,
		StreamCloseGrace:      raw.StreamCloseGrace,
		AdminToken:            raw.AdminToken,
		DiscordToken:          raw.DiscordToken,
		DiscordAlertChannelID: raw.DiscordAlertChannelID,
		TranscriptWebhookURL:  raw.TranscriptWebhookURL,
		TranscriptTimezone:    raw.TranscriptTimezone,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
