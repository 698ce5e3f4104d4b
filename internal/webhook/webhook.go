package webhook

import "context"

const TranscriptWebhookSchemaVersion = 1

type TranscriptWebhookTurn struct {
	Sequence   int    `json:"sequence"`
	SourceType string `json:"source_type"`
	Speaker    string `json:"speaker"`
	At         string `json:"at"`
	Content    string `json:"content"`
}

// TranscriptWebhookPayload is posted once per bot when it becomes inactive.
type TranscriptWebhookPayload struct {
	SchemaVersion   int                     `json:"schema_version"`
	BotID           string                  `json:"bot_id"`
	ProviderBotID   string                  `json:"provider_bot_id"`
	MeetingURL      string                  `json:"meeting_url"`
	MeetingName     string                  `json:"meeting_name"`
	ClientID        string                  `json:"client_id"`
	StartAt         string                  `json:"start_at"`
	EndAt           string                  `json:"end_at"`
	Timezone        string                  `json:"timezone"`
	DurationSeconds int64                   `json:"duration_seconds"`
	Speakers        []string                `json:"speakers"`
	TurnCount       int                     `json:"turn_count"`
	Turns           []TranscriptWebhookTurn `json:"turns"`
	Transcript      string                  `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
