package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/provider"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

// ErrInvalidTransition is never returned to event sources; rejected moves are
// logged and the current bot is returned instead.
var ErrInvalidTransition = errors.New("invalid bot state transition")

var ErrInvalidInput = errors.New("invalid input")

// allowedFrom lists, per target state, the states it may be entered from.
var allowedFrom = map[repository.BotState][]repository.BotState{
	repository.BotStateJoining:  {repository.BotStateRequested},
	repository.BotStateActive:   {repository.BotStateJoining, repository.BotStateStuck},
	repository.BotStateLeaving:  {repository.BotStateJoining, repository.BotStateActive, repository.BotStateStuck},
	repository.BotStateInactive: {repository.BotStateJoining, repository.BotStateActive, repository.BotStateLeaving, repository.BotStateStuck},
	repository.BotStateStuck:    {repository.BotStateJoining, repository.BotStateActive},
	repository.BotStateFailed: {
		repository.BotStateRequested, repository.BotStateJoining, repository.BotStateActive,
		repository.BotStateLeaving, repository.BotStateStuck,
	},
}

var forceCompleteFrom = []repository.BotState{
	repository.BotStateRequested, repository.BotStateJoining, repository.BotStateActive,
	repository.BotStateLeaving, repository.BotStateStuck, repository.BotStateFailed,
}

// CanTransition reports whether the state machine accepts from -> to.
func CanTransition(from, to repository.BotState) bool {
	return slices.Contains(allowedFrom[to], from)
}

// Listener observes applied transitions. It runs on the caller's goroutine and must not block.
type Listener func(ctx context.Context, bot repository.Bot, from repository.BotState)

type Options struct {
	BotName     string
	JoinMessage string
	StreamURL   string
	WebhookURL  string
	Now         func() time.Time
}

type CreateBotInput struct {
	MeetingURL  string
	MeetingName string
	ClientID    string
}

type Manager struct {
	repo     repository.Repository
	provider provider.Client
	metrics  *metrics.Metrics
	opts     Options

	mu        sync.RWMutex
	listeners []Listener
}

func NewManager(repo repository.Repository, pc provider.Client, m *metrics.Metrics, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{repo: repo, provider: pc, metrics: m, opts: opts}
}

func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) Now() time.Time {
	return m.opts.Now()
}

func (m *Manager) GetBot(ctx context.Context, id string) (*repository.Bot, error) {
	return m.repo.GetBot(ctx, id)
}

// CreateBot records the attempt, asks the provider to join, and moves the bot to joining.
// A provider failure leaves the bot failed and returns ErrProviderUnavailable.
func (m *Manager) CreateBot(ctx context.Context, input CreateBotInput) (*repository.Bot, error) {
	meetingURL := strings.TrimSpace(input.MeetingURL)
	if meetingURL == "" {
		return nil, fmt.Errorf("%w: meeting url is required", ErrInvalidInput)
	}
	bot, err := m.repo.CreateBot(ctx, repository.CreateBotInput{
		MeetingURL:  meetingURL,
		MeetingName: strings.TrimSpace(input.MeetingName),
		ClientID:    input.ClientID,
		CreatedAt:   m.opts.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create bot record: %w", err)
	}
	slog.Info("bot requested", "bot_id", bot.ID, "meeting_url", meetingURL, "client_id", input.ClientID)

	created, err := m.provider.CreateBot(ctx, provider.CreateBotRequest{
		MeetingURL:  meetingURL,
		BotName:     m.opts.BotName,
		JoinMessage: m.opts.JoinMessage,
		StreamURL:   m.opts.StreamURL,
		WebhookURL:  m.opts.WebhookURL,
	})
	if err != nil {
		slog.Error("provider bot creation failed", "error", err, "bot_id", bot.ID)
		if _, ferr := m.transition(ctx, bot.ID, repository.BotStateFailed, allowedFrom[repository.BotStateFailed], "", err.Error()); ferr != nil {
			slog.Error("failed to mark bot failed", "error", ferr, "bot_id", bot.ID)
		}
		if errors.Is(err, provider.ErrProviderUnavailable) {
			return nil, fmt.Errorf("create provider bot: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}

	return m.transition(ctx, bot.ID, repository.BotStateJoining, allowedFrom[repository.BotStateJoining], created.ID, "")
}

func (m *Manager) MarkActive(ctx context.Context, id string) (*repository.Bot, error) {
	return m.Transition(ctx, id, repository.BotStateActive)
}

func (m *Manager) MarkInactive(ctx context.Context, id string) (*repository.Bot, error) {
	return m.Transition(ctx, id, repository.BotStateInactive)
}

func (m *Manager) MarkStuck(ctx context.Context, id string) (*repository.Bot, error) {
	return m.Transition(ctx, id, repository.BotStateStuck)
}

func (m *Manager) MarkFailed(ctx context.Context, id, reason string) (*repository.Bot, error) {
	return m.transition(ctx, id, repository.BotStateFailed, allowedFrom[repository.BotStateFailed], "", reason)
}

// RequestLeave moves the bot to leaving and asks the provider to leave the call.
// The bot stays leaving when the provider cannot be reached.
func (m *Manager) RequestLeave(ctx context.Context, id string) (*repository.Bot, error) {
	before, err := m.repo.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	bot, err := m.Transition(ctx, id, repository.BotStateLeaving)
	if err != nil {
		return nil, err
	}
	if before.State == repository.BotStateLeaving || bot.State != repository.BotStateLeaving || bot.ProviderBotID == "" {
		return bot, nil
	}
	if err := m.provider.LeaveCall(ctx, bot.ProviderBotID); err != nil {
		slog.Error("provider leave call failed", "error", err, "bot_id", id, "provider_bot_id", bot.ProviderBotID)
		if errors.Is(err, provider.ErrProviderUnavailable) {
			return bot, fmt.Errorf("leave call: %w", err)
		}
		return bot, fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
	return bot, nil
}

// ForceComplete moves any bot to inactive. Calling it on an inactive bot is a no-op.
func (m *Manager) ForceComplete(ctx context.Context, id string) (*repository.Bot, error) {
	return m.transition(ctx, id, repository.BotStateInactive, forceCompleteFrom, "", "")
}

// Transition applies a move permitted by the state machine.
func (m *Manager) Transition(ctx context.Context, id string, to repository.BotState) (*repository.Bot, error) {
	allowed, ok := allowedFrom[to]
	if !ok {
		return nil, fmt.Errorf("%w: unknown target state %q", ErrInvalidTransition, to)
	}
	return m.transition(ctx, id, to, allowed, "", "")
}

const maxTransitionAttempts = 3

func (m *Manager) transition(ctx context.Context, id string, to repository.BotState, allowed []repository.BotState, providerBotID, reason string) (*repository.Bot, error) {
	for range maxTransitionAttempts {
		current, err := m.repo.GetBot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load bot %s: %w", id, err)
		}
		if current.State == to {
			m.metrics.Transitions.WithLabelValues(string(to), "noop").Inc()
			return current, nil
		}
		if !slices.Contains(allowed, current.State) {
			m.metrics.Transitions.WithLabelValues(string(to), "rejected").Inc()
			slog.Warn("rejected bot transition", "error", ErrInvalidTransition, "bot_id", id, "from", current.State, "to", to)
			return current, nil
		}

		// Compare-and-set on the state we just read, so the listener sees an exact from.
		updated, applied, err := m.repo.TransitionBot(ctx, repository.TransitionInput{
			ID:            id,
			From:          []repository.BotState{current.State},
			To:            to,
			At:            m.opts.Now(),
			ProviderBotID: providerBotID,
			FailureReason: reason,
		})
		if err != nil {
			return nil, fmt.Errorf("transition bot %s to %s: %w", id, to, err)
		}
		if !applied {
			continue
		}
		m.metrics.Transitions.WithLabelValues(string(to), "applied").Inc()
		slog.Info("bot transitioned", "bot_id", id, "provider_bot_id", updated.ProviderBotID, "from", current.State, "to", to)
		m.notify(ctx, *updated, current.State)
		return updated, nil
	}
	current, err := m.repo.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	slog.Warn("bot transition lost repeated races", "bot_id", id, "state", current.State, "to", to)
	return current, nil
}

func (m *Manager) notify(ctx context.Context, bot repository.Bot, from repository.BotState) {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, bot, from)
	}
}

// ListStuck reports bots that made no progress within threshold: bots already
// marked stuck, joining bots with no turns, and active bots whose last turn is older.
func (m *Manager) ListStuck(ctx context.Context, threshold time.Duration) ([]repository.Bot, error) {
	bots, err := m.repo.ListBotsByState(ctx, []repository.BotState{
		repository.BotStateJoining, repository.BotStateActive, repository.BotStateStuck,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate bots: %w", err)
	}
	now := m.opts.Now()
	var stuck []repository.Bot
	for _, b := range bots {
		if b.State == repository.BotStateStuck {
			stuck = append(stuck, b)
			continue
		}
		if now.Sub(b.LastTransitionAt) <= threshold {
			continue
		}
		stats, err := m.repo.TurnStatsByBot(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("turn stats for bot %s: %w", b.ID, err)
		}
		switch b.State {
		case repository.BotStateJoining:
			if stats.Count == 0 {
				stuck = append(stuck, b)
			}
		case repository.BotStateActive:
			if stats.LastTurnAt == nil || now.Sub(*stats.LastTurnAt) > threshold {
				stuck = append(stuck, b)
			}
		}
	}
	return stuck, nil
}

// ListOverdue reports live bots created longer than maxAge ago, whatever their progress.
func (m *Manager) ListOverdue(ctx context.Context, maxAge time.Duration) ([]repository.Bot, error) {
	bots, err := m.repo.ListBotsByState(ctx, []repository.BotState{
		repository.BotStateJoining, repository.BotStateActive, repository.BotStateStuck,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate bots: %w", err)
	}
	now := m.opts.Now()
	var overdue []repository.Bot
	for _, b := range bots {
		if now.Sub(b.CreatedAt) > maxAge {
			overdue = append(overdue, b)
		}
	}
	return overdue, nil
}

// IdleFor is how long the bot has been without a transition.
func IdleFor(b repository.Bot, now time.Time) time.Duration {
	return now.Sub(b.LastTransitionAt)
}
