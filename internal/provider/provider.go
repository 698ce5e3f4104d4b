// Package provider is the port to the meeting-bot hosting service.
package provider

import (
	"context"
	"errors"
)

// ErrProviderUnavailable marks failures the caller may retry with backoff.
var ErrProviderUnavailable = errors.New("meeting provider unavailable")

type CreateBotRequest struct {
	MeetingURL  string
	BotName     string
	JoinMessage string
	// StreamURL receives realtime transcript frames over a websocket.
	StreamURL string
	// WebhookURL receives chat and status events.
	WebhookURL string
}

type CreatedBot struct {
	ID string
}

type Client interface {
	CreateBot(ctx context.Context, req CreateBotRequest) (*CreatedBot, error)
	SendChatMessage(ctx context.Context, providerBotID, text string) error
	LeaveCall(ctx context.Context, providerBotID string) error
}
