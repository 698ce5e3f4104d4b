package repository

import "time"

type BotState string

const (
	BotStateRequested BotState = "requested"
	BotStateJoining   BotState = "joining"
	BotStateActive    BotState = "active"
	BotStateLeaving   BotState = "leaving"
	BotStateInactive  BotState = "inactive"
	BotStateStuck     BotState = "stuck"
	BotStateFailed    BotState = "failed"
)

// IsTerminal reports whether no automatic transition can leave the state.
func (s BotState) IsTerminal() bool {
	return s == BotStateInactive || s == BotStateFailed
}

type SourceType string

const (
	SourceTranscript SourceType = "transcript"
	SourceChat       SourceType = "chat"
	SourceAssistant  SourceType = "assistant"
	SourceSystem     SourceType = "system"
)

// Bot is one join attempt. ProviderBotID stays empty until the provider accepts it.
type Bot struct {
	ID               string
	ProviderBotID    string
	MeetingURL       string
	MeetingName      string
	ClientID         string
	State            BotState
	FailureReason    string
	CreatedAt        time.Time
	LastTransitionAt time.Time
}

type Block struct {
	ID           string
	BotID        string
	LastSequence int
	CreatedAt    time.Time
}

type Turn struct {
	ID           string
	BlockID      string
	Sequence     int
	Content      string
	SourceType   SourceType
	SpeakerLabel string
	Metadata     []byte
	Timestamp    time.Time
}

type TurnStats struct {
	Count      int
	LastTurnAt *time.Time
}
