package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a provider bot id is already bound to another bot.
	ErrConflict = errors.New("conflict")
)

type CreateBotInput struct {
	MeetingURL  string
	MeetingName string
	ClientID    string
	CreatedAt   time.Time
}

// TransitionInput is applied only while the bot is still in one of From.
// Empty ProviderBotID and FailureReason leave the stored values untouched.
type TransitionInput struct {
	ID            string
	From          []BotState
	To            BotState
	At            time.Time
	ProviderBotID string
	FailureReason string
}

type AppendTurnInput struct {
	BlockID      string
	Content      string
	SourceType   SourceType
	SpeakerLabel string
	Metadata     []byte
	Timestamp    time.Time
}

type BotRepository interface {
	CreateBot(ctx context.Context, input CreateBotInput) (*Bot, error)
	GetBot(ctx context.Context, id string) (*Bot, error)
	GetBotByProviderID(ctx context.Context, providerBotID string) (*Bot, error)
	// TransitionBot returns the stored bot and whether this call changed it.
	TransitionBot(ctx context.Context, input TransitionInput) (*Bot, bool, error)
	ListBotsByState(ctx context.Context, states []BotState) ([]Bot, error)
}

type TurnRepository interface {
	GetOrCreateBlock(ctx context.Context, botID string) (*Block, error)
	GetBlockByBot(ctx context.Context, botID string) (*Block, error)
	AppendTurn(ctx context.Context, input AppendTurnInput) (*Turn, error)
	GetRecentTurns(ctx context.Context, blockID string, limit int) ([]Turn, error)
	ListTurns(ctx context.Context, blockID string) ([]Turn, error)
	TurnStatsByBot(ctx context.Context, botID string) (TurnStats, error)
}

type Repository interface {
	BotRepository
	TurnRepository
}
