// Package command answers chat messages that address the assistant.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kentyler/cogito-sub006/internal/assistant"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/provider"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

const deliveryTimeout = 15 * time.Second

type Options struct {
	BotName      string
	Timeout      time.Duration
	ContextTurns int
}

type Invocation struct {
	BotID         string
	ProviderBotID string
	BlockID       string
	Question      string
	// ReplyTo is the sequence of the chat turn that asked.
	ReplyTo int
}

// Result carries the stored assistant turn. SendErr is set when the reply
// could not be posted to the meeting chat.
type Result struct {
	Turn    *repository.Turn
	SendErr error
}

type Processor struct {
	turns     repository.TurnRepository
	assistant assistant.Assistant
	provider  provider.Client
	metrics   *metrics.Metrics
	opts      Options
}

func NewProcessor(turns repository.TurnRepository, a assistant.Assistant, pc provider.Client, m *metrics.Metrics, opts Options) *Processor {
	return &Processor{turns: turns, assistant: a, provider: pc, metrics: m, opts: opts}
}

type replyMetadata struct {
	InReplyTo     int  `json:"in_reply_to"`
	ChatDelivered bool `json:"chat_delivered"`
}

// Process asks the assistant and records its answer. On assistant failure
// nothing is sent and nothing is written.
func (p *Processor) Process(ctx context.Context, inv Invocation) (*Result, error) {
	contextTurns, err := p.turns.GetRecentTurns(ctx, inv.BlockID, p.opts.ContextTurns)
	if err != nil {
		return nil, fmt.Errorf("load context turns: %w", err)
	}

	answer, err := p.ask(ctx, inv, contextTurns)
	if err != nil {
		return nil, err
	}

	// The answer is already paid for; deliver and store it even if the worker is stopping.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	sendErr := p.provider.SendChatMessage(dctx, inv.ProviderBotID, answer)
	if sendErr != nil {
		p.metrics.ChatSendFailures.Inc()
		slog.Error("failed to send assistant reply to meeting chat", "error", sendErr, "bot_id", inv.BotID, "provider_bot_id", inv.ProviderBotID)
	}

	meta, err := json.Marshal(replyMetadata{InReplyTo: inv.ReplyTo, ChatDelivered: sendErr == nil})
	if err != nil {
		return nil, err
	}
	turn, err := p.turns.AppendTurn(dctx, repository.AppendTurnInput{
		BlockID:      inv.BlockID,
		Content:      answer,
		SourceType:   repository.SourceAssistant,
		SpeakerLabel: p.opts.BotName,
		Metadata:     meta,
	})
	if err != nil {
		p.metrics.AppendFailures.Inc()
		return nil, errors.Join(fmt.Errorf("append assistant turn: %w", err), sendErr)
	}
	p.metrics.TurnsAppended.WithLabelValues(string(repository.SourceAssistant)).Inc()
	slog.Info("assistant replied", "bot_id", inv.BotID, "block_id", inv.BlockID, "sequence", turn.Sequence, "chat_delivered", sendErr == nil)
	return &Result{Turn: turn, SendErr: sendErr}, nil
}

func (p *Processor) ask(ctx context.Context, inv Invocation, contextTurns []repository.Turn) (string, error) {
	askCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	started := time.Now()
	answer, err := p.assistant.Ask(askCtx, inv.Question, contextTurns)
	p.metrics.AssistantLatency.Observe(time.Since(started).Seconds())

	switch {
	case err == nil && strings.TrimSpace(answer) == "":
		err = fmt.Errorf("%w: empty answer", assistant.ErrAssistant)
	case err == nil:
		p.metrics.AssistantCalls.WithLabelValues("ok").Inc()
		return strings.TrimSpace(answer), nil
	case ctx.Err() != nil:
		p.metrics.AssistantCalls.WithLabelValues("cancelled").Inc()
		slog.Info("assistant call cancelled", "bot_id", inv.BotID, "error", err)
		return "", fmt.Errorf("assistant call cancelled: %w", ctx.Err())
	case errors.Is(err, assistant.ErrAssistantTimeout) || errors.Is(askCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s: %w", assistant.ErrAssistantTimeout, p.opts.Timeout, err)
		p.metrics.AssistantCalls.WithLabelValues("timeout").Inc()
		slog.Warn("assistant call timed out", "bot_id", inv.BotID, "timeout", p.opts.Timeout.String())
		return "", err
	case !errors.Is(err, assistant.ErrAssistant):
		err = fmt.Errorf("%w: %w", assistant.ErrAssistant, err)
	}
	p.metrics.AssistantCalls.WithLabelValues("error").Inc()
	slog.Error("assistant call failed", "error", err, "bot_id", inv.BotID)
	return "", err
}
