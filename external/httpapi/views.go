package httpapi

import (
	"encoding/json"
	"time"

	"github.com/kentyler/cogito-sub006/internal/lifecycle"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

type BotView struct {
	ID               string     `json:"id"`
	ProviderBotID    string     `json:"provider_bot_id,omitempty"`
	MeetingURL       string     `json:"meeting_url"`
	MeetingName      string     `json:"meeting_name,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	State            string     `json:"state"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastTransitionAt time.Time  `json:"last_transition_at"`
	TurnCount        *int       `json:"turn_count,omitempty"`
	LastTurnAt       *time.Time `json:"last_turn_at,omitempty"`
	IdleSeconds      *int64     `json:"idle_seconds,omitempty"`
}

func newBotView(b repository.Bot) BotView {
	return BotView{
		ID:               b.ID,
		ProviderBotID:    b.ProviderBotID,
		MeetingURL:       b.MeetingURL,
		MeetingName:      b.MeetingName,
		ClientID:         b.ClientID,
		State:            string(b.State),
		FailureReason:    b.FailureReason,
		CreatedAt:        b.CreatedAt,
		LastTransitionAt: b.LastTransitionAt,
	}
}

func newStuckView(b repository.Bot, now time.Time) BotView {
	v := newBotView(b)
	idle := int64(lifecycle.IdleFor(b, now).Seconds())
	v.IdleSeconds = &idle
	return v
}

type TurnView struct {
	Sequence     int             `json:"sequence"`
	SourceType   string          `json:"source_type"`
	SpeakerLabel string          `json:"speaker_label,omitempty"`
	Content      string          `json:"content"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

func newTurnView(t repository.Turn) TurnView {
	v := TurnView{
		Sequence:     t.Sequence,
		SourceType:   string(t.SourceType),
		SpeakerLabel: t.SpeakerLabel,
		Content:      t.Content,
		Timestamp:    t.Timestamp,
	}
	if len(t.Metadata) > 0 && json.Valid(t.Metadata) {
		v.Metadata = json.RawMessage(t.Metadata)
	}
	return v
}

type CreateBotRequest struct {
	MeetingURL  string `json:"meeting_url"`
	MeetingName string `json:"meeting_name,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
