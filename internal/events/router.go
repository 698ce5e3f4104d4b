// Package events routes provider webhook deliveries and transcript stream
// events to the lifecycle manager and the per-bot session workers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kentyler/cogito-sub006/internal/addressing"
	"github.com/kentyler/cogito-sub006/internal/assistant"
	"github.com/kentyler/cogito-sub006/internal/ingest"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/session"
)

var (
	ErrDuplicateDelivery = errors.New("duplicate delivery")
	ErrMalformedDelivery = errors.New("malformed delivery")
)

const (
	KindStatusChange    = "bot.status_change"
	KindChatMessage     = "chat.message"
	KindParticipantChat = "participant_events.chat_message"
	KindTranscript      = "transcript.data"
	KindPartial         = "transcript.partial_data"
)

type Chat struct {
	SenderID   string
	SenderName string
	Text       string
}

// Delivery is one decoded provider webhook.
type Delivery struct {
	ID            string
	Kind          string
	ProviderBotID string
	StatusCode    string
	SubCode       string
	Chat          *Chat
	ReceivedAt    time.Time
}

// TranscriptEvent is one decoded message from the transcript stream.
type TranscriptEvent struct {
	ProviderBotID string
	Fragment      ingest.Fragment
}

type lifecycleManager interface {
	MarkActive(ctx context.Context, id string) (*repository.Bot, error)
	MarkInactive(ctx context.Context, id string) (*repository.Bot, error)
	MarkFailed(ctx context.Context, id, reason string) (*repository.Bot, error)
}

type sessions interface {
	HandleFragment(ctx context.Context, bot repository.Bot, f ingest.Fragment) error
	HandleChat(ctx context.Context, bot repository.Bot, msg session.ChatMessage) (*repository.Turn, error)
}

type Options struct {
	BotName string
	// StreamCloseGrace is how long a closed transcript stream may stay silent
	// before the bot is considered finished. Zero disables the check.
	StreamCloseGrace time.Duration
}

type Router struct {
	bots      repository.BotRepository
	lifecycle lifecycleManager
	sessions  sessions
	dedupe    Deduper
	metrics   *metrics.Metrics
	opts      Options

	mu          sync.Mutex
	closeTimers map[string]*time.Timer
}

func NewRouter(bots repository.BotRepository, lc lifecycleManager, s sessions, d Deduper, m *metrics.Metrics, opts Options) *Router {
	return &Router{
		bots:        bots,
		lifecycle:   lc,
		sessions:    s,
		dedupe:      d,
		metrics:     m,
		opts:        opts,
		closeTimers: make(map[string]*time.Timer),
	}
}

// HandleDelivery processes a webhook at most once per delivery id. A failed
// dispatch releases the id so the provider's retry is processed.
func (r *Router) HandleDelivery(ctx context.Context, d Delivery) error {
	if d.ID != "" {
		claimed, err := r.dedupe.Claim(ctx, d.ID)
		if err != nil {
			r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "error").Inc()
			return fmt.Errorf("claim delivery %s: %w", d.ID, err)
		}
		if !claimed {
			r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "duplicate").Inc()
			slog.Debug("duplicate delivery skipped", "delivery_id", d.ID, "kind", d.Kind)
			return ErrDuplicateDelivery
		}
	}

	if err := r.dispatch(ctx, d); err != nil {
		r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "error").Inc()
		if d.ID != "" {
			if relErr := r.dedupe.Release(context.WithoutCancel(ctx), d.ID); relErr != nil {
				slog.Warn("failed to release delivery id", "error", relErr, "delivery_id", d.ID)
			}
		}
		return err
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, d Delivery) error {
	switch d.Kind {
	case KindStatusChange:
	case KindChatMessage, KindParticipantChat:
		if d.Chat == nil {
			return fmt.Errorf("%w: chat delivery without message", ErrMalformedDelivery)
		}
	default:
		r.drop(d, "unknown_kind")
		return nil
	}

	bot, ok, err := r.resolve(ctx, d.ProviderBotID)
	if err != nil {
		return err
	}
	if !ok {
		r.drop(d, "unknown_bot")
		return nil
	}

	if d.Kind == KindStatusChange {
		return r.handleStatus(ctx, *bot, d)
	}
	return r.handleChat(ctx, *bot, d)
}

func (r *Router) resolve(ctx context.Context, providerBotID string) (*repository.Bot, bool, error) {
	if providerBotID == "" {
		return nil, false, nil
	}
	bot, err := r.bots.GetBotByProviderID(ctx, providerBotID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve provider bot %s: %w", providerBotID, err)
	}
	return bot, true, nil
}

func (r *Router) drop(d Delivery, reason string) {
	r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "dropped").Inc()
	r.metrics.DroppedEvents.WithLabelValues(reason).Inc()
	slog.Info("delivery dropped", "reason", reason, "kind", d.Kind, "delivery_id", d.ID, "provider_bot_id", d.ProviderBotID)
}

type statusAction int

const (
	statusIgnore statusAction = iota
	statusActive
	statusInactive
	statusFailed
)

func statusActionFor(code string) statusAction {
	switch code {
	case "in_call_not_recording", "in_call_recording", "recording_permission_allowed":
		return statusActive
	case "call_ended", "done", "recording_done":
		return statusInactive
	case "fatal":
		return statusFailed
	}
	return statusIgnore
}

func (r *Router) handleStatus(ctx context.Context, bot repository.Bot, d Delivery) error {
	var err error
	switch statusActionFor(d.StatusCode) {
	case statusActive:
		_, err = r.lifecycle.MarkActive(ctx, bot.ID)
	case statusInactive:
		_, err = r.lifecycle.MarkInactive(ctx, bot.ID)
	case statusFailed:
		reason := d.StatusCode
		if d.SubCode != "" {
			reason = d.StatusCode + ": " + d.SubCode
		}
		_, err = r.lifecycle.MarkFailed(ctx, bot.ID, reason)
	default:
		r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "ignored").Inc()
		slog.Debug("status change ignored", "bot_id", bot.ID, "status_code", d.StatusCode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply status %s to bot %s: %w", d.StatusCode, bot.ID, err)
	}
	r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "ok").Inc()
	return nil
}

func (r *Router) handleChat(ctx context.Context, bot repository.Bot, d Delivery) error {
	text := strings.TrimSpace(d.Chat.Text)
	if text == "" {
		r.drop(d, "empty_chat")
		return nil
	}
	if r.isSelf(d.Chat.SenderName) {
		r.drop(d, "self_message")
		return nil
	}

	result := addressing.Parse(text)
	invoke, question := r.invocation(text, result)
	msg := session.ChatMessage{
		DeliveryID: d.ID,
		SenderID:   d.Chat.SenderID,
		SenderName: d.Chat.SenderName,
		Text:       text,
		Addressing: result,
		Invoke:     invoke,
		Question:   question,
		ReceivedAt: d.ReceivedAt,
	}
	if _, err := r.sessions.HandleChat(ctx, bot, msg); err != nil {
		if errors.Is(err, session.ErrNotAccepting) {
			r.drop(d, "bot_not_accepting")
			return nil
		}
		return fmt.Errorf("handle chat for bot %s: %w", bot.ID, err)
	}
	r.metrics.WebhookDeliveries.WithLabelValues(d.Kind, "ok").Inc()
	return nil
}

func (r *Router) isSelf(sender string) bool {
	name := strings.TrimSpace(r.opts.BotName)
	return name != "" && strings.EqualFold(strings.TrimSpace(sender), name)
}

var greetings = []string{"hi ", "hey ", "hello "}

// invocation decides whether a chat message asks the assistant. A lone "?"
// asks for a summary.
func (r *Router) invocation(text string, result addressing.Result) (bool, string) {
	if text == assistant.SummaryQuestion {
		return true, assistant.SummaryQuestion
	}
	if result.ShouldInvokeAssistant {
		return true, text
	}
	name := strings.ToLower(strings.TrimSpace(r.opts.BotName))
	if name == "" {
		return false, ""
	}
	for _, m := range result.Mentions {
		if strings.EqualFold(m, name) {
			return true, text
		}
	}
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, name) {
		return true, text
	}
	for _, g := range greetings {
		if strings.HasPrefix(lower, g+name) {
			return true, text
		}
	}
	return false, ""
}

// HandleTranscript forwards one stream event to the bot's worker.
func (r *Router) HandleTranscript(ctx context.Context, ev TranscriptEvent) error {
	bot, ok, err := r.resolve(ctx, ev.ProviderBotID)
	if err != nil {
		return err
	}
	if !ok {
		r.metrics.DroppedEvents.WithLabelValues("unknown_bot").Inc()
		slog.Debug("transcript for unknown bot dropped", "provider_bot_id", ev.ProviderBotID)
		return nil
	}
	r.cancelCloseTimer(ev.ProviderBotID)
	if err := r.sessions.HandleFragment(ctx, *bot, ev.Fragment); err != nil {
		if errors.Is(err, session.ErrNotAccepting) {
			return nil
		}
		return err
	}
	return nil
}

// HandleStreamClosed finishes the bot if its stream stays silent for the grace period.
func (r *Router) HandleStreamClosed(providerBotID string) {
	if r.opts.StreamCloseGrace <= 0 || providerBotID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.closeTimers[providerBotID]; ok {
		t.Stop()
	}
	r.closeTimers[providerBotID] = time.AfterFunc(r.opts.StreamCloseGrace, func() {
		r.mu.Lock()
		delete(r.closeTimers, providerBotID)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		bot, ok, err := r.resolve(ctx, providerBotID)
		if err != nil || !ok {
			return
		}
		slog.Info("transcript stream stayed closed, completing bot", "bot_id", bot.ID, "grace", r.opts.StreamCloseGrace.String())
		if _, err := r.lifecycle.MarkInactive(ctx, bot.ID); err != nil {
			slog.Error("failed to complete bot after stream close", "error", err, "bot_id", bot.ID)
		}
	})
}

func (r *Router) cancelCloseTimer(providerBotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.closeTimers[providerBotID]; ok {
		t.Stop()
		delete(r.closeTimers, providerBotID)
	}
}

func (r *Router) PendingCloseTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closeTimers)
}
