// Package ingest turns a per-bot stream of transcript fragments into ordered turns.
//
// A Pipeline is owned by exactly one goroutine, the bot's worker, and is not
// safe for concurrent use.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/sethvargo/go-retry"
)

type FragmentKind string

const (
	FragmentPartial FragmentKind = "partial"
	FragmentFinal   FragmentKind = "final"
)

type Fragment struct {
	Kind           FragmentKind
	SpeakerChannel string
	SpeakerLabel   string
	Content        string
	ReceivedAt     time.Time
}

type Options struct {
	AppendRetries uint64
	RetryBase     time.Duration
}

func DefaultOptions() Options {
	return Options{AppendRetries: 3, RetryBase: 100 * time.Millisecond}
}

type pendingFragment struct {
	label   string
	content string
}

type Pipeline struct {
	botID   string
	store   repository.TurnRepository
	metrics *metrics.Metrics
	opts    Options

	blockID string
	pending map[string]pendingFragment
}

// NewPipeline uses DefaultOptions when opts is the zero value.
func NewPipeline(botID string, store repository.TurnRepository, m *metrics.Metrics, opts Options) *Pipeline {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultOptions().RetryBase
	}
	return &Pipeline{
		botID:   botID,
		store:   store,
		metrics: m,
		opts:    opts,
		pending: make(map[string]pendingFragment),
	}
}

// Handle returns the written turn, or nil when the fragment produced none.
func (p *Pipeline) Handle(ctx context.Context, f Fragment) (*repository.Turn, error) {
	switch f.Kind {
	case FragmentPartial:
		p.pending[f.SpeakerChannel] = pendingFragment{label: f.SpeakerLabel, content: f.Content}
		return nil, nil
	case FragmentFinal:
		return p.flush(ctx, f)
	default:
		return nil, fmt.Errorf("unknown fragment kind %q", f.Kind)
	}
}

func (p *Pipeline) flush(ctx context.Context, f Fragment) (*repository.Turn, error) {
	slot, hadPending := p.pending[f.SpeakerChannel]
	delete(p.pending, f.SpeakerChannel)

	content := strings.TrimSpace(f.Content)
	if content == "" {
		p.metrics.FragmentsDiscarded.WithLabelValues("empty_final").Inc()
		slog.Debug("discarded empty final fragment", "bot_id", p.botID, "speaker_channel", f.SpeakerChannel, "had_pending", hadPending)
		return nil, nil
	}

	label := f.SpeakerLabel
	if label == "" {
		label = slot.label
	}
	if label == "" {
		label = f.SpeakerChannel
	}
	return p.Append(ctx, repository.AppendTurnInput{
		Content:      content,
		SourceType:   repository.SourceTranscript,
		SpeakerLabel: label,
		Timestamp:    f.ReceivedAt,
	})
}

// Append writes any turn for this bot's block, creating the block on first use.
func (p *Pipeline) Append(ctx context.Context, input repository.AppendTurnInput) (*repository.Turn, error) {
	blockID, err := p.ensureBlock(ctx)
	if err != nil {
		return nil, err
	}
	input.BlockID = blockID

	var turn *repository.Turn
	backoff := retry.WithMaxRetries(p.opts.AppendRetries, retry.NewExponential(p.opts.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, err := p.store.AppendTurn(ctx, input)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return err
			}
			slog.Warn("turn append failed; retrying", "error", err, "bot_id", p.botID, "block_id", blockID)
			return retry.RetryableError(err)
		}
		turn = t
		return nil
	})
	if err != nil {
		p.metrics.AppendFailures.Inc()
		return nil, fmt.Errorf("append %s turn: %w", input.SourceType, err)
	}
	p.metrics.TurnsAppended.WithLabelValues(string(turn.SourceType)).Inc()
	return turn, nil
}

// BlockID is empty until the first turn is written.
func (p *Pipeline) BlockID() string {
	return p.blockID
}

func (p *Pipeline) ensureBlock(ctx context.Context) (string, error) {
	if p.blockID != "" {
		return p.blockID, nil
	}
	b, err := p.store.GetOrCreateBlock(ctx, p.botID)
	if err != nil {
		return "", fmt.Errorf("get or create block: %w", err)
	}
	p.blockID = b.ID
	return p.blockID, nil
}

// PendingChannels lists channels holding an unflushed partial.
func (p *Pipeline) PendingChannels() []string {
	out := make([]string, 0, len(p.pending))
	for ch := range p.pending {
		out = append(out, ch)
	}
	return out
}

// Discard drops every pending partial and reports how many there were.
func (p *Pipeline) Discard() int {
	n := len(p.pending)
	if n > 0 {
		p.metrics.FragmentsDiscarded.WithLabelValues("pending_partial").Add(float64(n))
		slog.Info("discarded pending partial fragments", "bot_id", p.botID, "count", n)
	}
	clear(p.pending)
	return n
}
