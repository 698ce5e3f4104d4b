package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kentyler/cogito-sub006/internal/addressing"
	"github.com/kentyler/cogito-sub006/internal/command"
	"github.com/kentyler/cogito-sub006/internal/ingest"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/webhook"
)

var (
	ErrNotAccepting = errors.New("bot is not accepting events")
	ErrShuttingDown = errors.New("session manager is shutting down")
	// ErrWorkerAborted means the worker died before handling the event; the caller may retry it.
	ErrWorkerAborted = errors.New("bot worker aborted")
)

const (
	finalizeTimeout = 30 * time.Second
	// retiredTTL only has to outlive events routed with a bot state read before retirement.
	retiredTTL = 10 * time.Minute
)

type activator interface {
	MarkActive(ctx context.Context, id string) (*repository.Bot, error)
}

type invoker interface {
	Process(ctx context.Context, inv command.Invocation) (*command.Result, error)
}

type ChatMessage struct {
	DeliveryID string
	SenderID   string
	SenderName string
	Text       string
	Addressing addressing.Result
	// Invoke asks the assistant with Question once the chat turn is stored.
	Invoke     bool
	Question   string
	ReceivedAt time.Time
}

type Options struct {
	QueueSize    int
	Timezone     string
	Location     *time.Location
	IngestConfig ingest.Options
}

type Manager struct {
	repo      repository.Repository
	lifecycle activator
	commands  invoker
	webhook   webhook.Sender
	metrics   *metrics.Metrics
	opts      Options

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	retired map[string]time.Time
	closed  bool
	bg      sync.WaitGroup
	now     func() time.Time
}

func NewManager(repo repository.Repository, lc activator, commands invoker, wh webhook.Sender, m *metrics.Metrics, opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:       repo,
		lifecycle:  lc,
		commands:   commands,
		webhook:    wh,
		metrics:    m,
		opts:       opts,
		baseCtx:    ctx,
		cancelBase: cancel,
		workers:    make(map[string]*worker),
		retired:    make(map[string]time.Time),
		now:        time.Now,
	}
}

type event struct {
	fragment *ingest.Fragment
	chat     *ChatMessage
	reply    chan chatReply
}

type chatReply struct {
	turn *repository.Turn
	err  error
}

type worker struct {
	bot      repository.Bot
	inbox    chan event
	stopping chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	pipeline *ingest.Pipeline

	needsActive atomic.Bool
	aborted     atomic.Bool
	inflight    sync.WaitGroup

	// mu orders stop against enqueue: once stopped is set no sender can join
	// senders, so the drain can wait for every accepted event.
	mu      sync.Mutex
	stopped bool
	senders sync.WaitGroup
}

func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopping)
	}
}

// enqueue blocks while the inbox is full so a flooding stream slows its own sender.
// An event it accepts is always handled unless the worker panics.
func (w *worker) enqueue(ctx context.Context, ev event) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		if w.aborted.Load() {
			return ErrWorkerAborted
		}
		return ErrNotAccepting
	}
	w.senders.Add(1)
	w.mu.Unlock()
	defer w.senders.Done()

	select {
	case w.inbox <- ev:
		return nil
	case <-w.done:
		return ErrWorkerAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func acceptsEvents(s repository.BotState) bool {
	return s == repository.BotStateJoining || s == repository.BotStateActive || s == repository.BotStateStuck
}

func (m *Manager) workerFor(bot repository.Bot) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	if w, ok := m.workers[bot.ID]; ok {
		return w, nil
	}
	if _, gone := m.retired[bot.ID]; gone || !acceptsEvents(bot.State) {
		return nil, ErrNotAccepting
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	w := &worker{
		bot:      bot,
		inbox:    make(chan event, m.opts.QueueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		pipeline: ingest.NewPipeline(bot.ID, m.repo, m.metrics, m.opts.IngestConfig),
	}
	w.needsActive.Store(bot.State != repository.BotStateActive)
	m.workers[bot.ID] = w
	m.metrics.ActiveWorkers.Inc()
	slog.Info("bot worker started", "bot_id", bot.ID, "provider_bot_id", bot.ProviderBotID, "state", bot.State)
	go m.run(w)
	return w, nil
}

// HandleFragment queues a transcript fragment without waiting for it to be written.
func (m *Manager) HandleFragment(ctx context.Context, bot repository.Bot, f ingest.Fragment) error {
	w, err := m.workerFor(bot)
	if err != nil {
		m.metrics.DroppedEvents.WithLabelValues("fragment_not_accepting").Inc()
		return err
	}
	if err := w.enqueue(ctx, event{fragment: &f}); err != nil {
		m.metrics.DroppedEvents.WithLabelValues("fragment_not_accepting").Inc()
		return err
	}
	return nil
}

// HandleChat returns once the chat turn is stored. The assistant, when
// invoked, answers later on its own goroutine. After the message is queued
// the call waits for the worker even if ctx ends, since the turn will be
// written either way.
func (m *Manager) HandleChat(ctx context.Context, bot repository.Bot, msg ChatMessage) (*repository.Turn, error) {
	w, err := m.workerFor(bot)
	if err != nil {
		m.metrics.DroppedEvents.WithLabelValues("chat_not_accepting").Inc()
		return nil, err
	}
	ev := event{chat: &msg, reply: make(chan chatReply, 1)}
	if err := w.enqueue(ctx, ev); err != nil {
		m.metrics.DroppedEvents.WithLabelValues("chat_not_accepting").Inc()
		return nil, err
	}
	select {
	case r := <-ev.reply:
		return r.turn, r.err
	case <-w.done:
		select {
		case r := <-ev.reply:
			return r.turn, r.err
		default:
			return nil, ErrWorkerAborted
		}
	}
}

func (m *Manager) run(w *worker) {
	defer m.finishWorker(w)
	defer func() {
		if r := recover(); r != nil {
			w.aborted.Store(true)
			m.metrics.WorkerPanics.Inc()
			slog.Error("bot worker panicked", "bot_id", w.bot.ID, "panic", fmt.Sprint(r))
		}
	}()

	for {
		select {
		case ev := <-w.inbox:
			m.handle(w, ev)
		case <-w.stopping:
			m.drain(w)
			return
		}
	}
}

// drain handles queued events until every sender admitted before stop has finished.
func (m *Manager) drain(w *worker) {
	sendersDone := make(chan struct{})
	go func() {
		w.senders.Wait()
		close(sendersDone)
	}()
	for {
		select {
		case ev := <-w.inbox:
			m.handle(w, ev)
		case <-sendersDone:
			for {
				select {
				case ev := <-w.inbox:
					m.handle(w, ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) finishWorker(w *worker) {
	w.stop()
	w.pipeline.Discard()
	w.cancel()
	w.inflight.Wait()

	m.mu.Lock()
	if m.workers[w.bot.ID] == w {
		delete(m.workers, w.bot.ID)
	}
	m.mu.Unlock()
	m.metrics.ActiveWorkers.Dec()
	close(w.done)
	slog.Info("bot worker stopped", "bot_id", w.bot.ID)
}

func (m *Manager) handle(w *worker, ev event) {
	switch {
	case ev.fragment != nil:
		m.handleFragment(w, *ev.fragment)
	case ev.chat != nil:
		turn, err := m.handleChat(w, *ev.chat)
		ev.reply <- chatReply{turn: turn, err: err}
	}
}

func (m *Manager) handleFragment(w *worker, f ingest.Fragment) {
	if w.needsActive.Load() {
		if _, err := m.lifecycle.MarkActive(w.ctx, w.bot.ID); err != nil {
			slog.Error("failed to mark bot active", "error", err, "bot_id", w.bot.ID)
		} else {
			w.needsActive.Store(false)
		}
	}
	if _, err := w.pipeline.Handle(w.ctx, f); err != nil {
		slog.Error("failed to ingest transcript fragment", "error", err, "bot_id", w.bot.ID, "speaker_channel", f.SpeakerChannel, "kind", f.Kind)
	}
}

func (m *Manager) handleChat(w *worker, msg ChatMessage) (*repository.Turn, error) {
	meta, err := json.Marshal(msg.Addressing)
	if err != nil {
		return nil, err
	}
	turn, err := w.pipeline.Append(w.ctx, repository.AppendTurnInput{
		Content:      msg.Text,
		SourceType:   repository.SourceChat,
		SpeakerLabel: msg.SenderName,
		Metadata:     meta,
		Timestamp:    msg.ReceivedAt,
	})
	if err != nil {
		slog.Error("failed to store chat turn", "error", err, "bot_id", w.bot.ID, "delivery_id", msg.DeliveryID)
		return nil, err
	}
	if msg.Invoke {
		m.dispatchAssistant(w, turn, msg)
	}
	return turn, nil
}

// dispatchAssistant keeps the slow model call off the worker so ingestion is never delayed.
func (m *Manager) dispatchAssistant(w *worker, turn *repository.Turn, msg ChatMessage) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				m.metrics.WorkerPanics.Inc()
				slog.Error("assistant dispatch panicked", "bot_id", w.bot.ID, "panic", fmt.Sprint(r))
			}
		}()
		res, err := m.commands.Process(w.ctx, command.Invocation{
			BotID:         w.bot.ID,
			ProviderBotID: w.bot.ProviderBotID,
			BlockID:       turn.BlockID,
			Question:      msg.Question,
			ReplyTo:       turn.Sequence,
		})
		if err != nil {
			slog.Warn("assistant invocation produced no reply", "error", err, "bot_id", w.bot.ID, "delivery_id", msg.DeliveryID)
			return
		}
		if res.SendErr != nil {
			slog.Warn("assistant reply stored but not delivered", "error", res.SendErr, "bot_id", w.bot.ID, "sequence", res.Turn.Sequence)
		}
	}()
}

// OnTransition is registered as a lifecycle listener.
func (m *Manager) OnTransition(_ context.Context, bot repository.Bot, from repository.BotState) {
	switch bot.State {
	case repository.BotStateStuck:
		m.mu.Lock()
		if w, ok := m.workers[bot.ID]; ok {
			w.needsActive.Store(true)
		}
		m.mu.Unlock()
	case repository.BotStateLeaving, repository.BotStateInactive, repository.BotStateFailed:
		m.mu.Lock()
		m.retire(bot.ID)
		w := m.workers[bot.ID]
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.bg.Add(1)
		m.mu.Unlock()

		go func() {
			defer m.bg.Done()
			if w != nil {
				slog.Info("stopping bot worker", "bot_id", bot.ID, "from", from, "to", bot.State)
				w.stop()
				<-w.done
			}
			if bot.State == repository.BotStateInactive {
				m.finalize(bot)
			}
		}()
	}
}

// retire must be called with m.mu held. It also forgets bots retired longer than retiredTTL.
func (m *Manager) retire(botID string) {
	now := m.now()
	for id, at := range m.retired {
		if now.Sub(at) > retiredTTL {
			delete(m.retired, id)
		}
	}
	m.retired[botID] = now
}

func (m *Manager) finalize(bot repository.Bot) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	var turns []repository.Turn
	block, err := m.repo.GetBlockByBot(ctx, bot.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		slog.Error("failed to load block for transcript", "error", err, "bot_id", bot.ID)
		return
	default:
		turns, err = m.repo.ListTurns(ctx, block.ID)
		if err != nil {
			slog.Error("failed to list turns for transcript", "error", err, "bot_id", bot.ID, "block_id", block.ID)
			return
		}
	}

	payload := buildTranscriptWebhookPayload(bot, turns, bot.LastTransitionAt, m.opts.Timezone, m.opts.Location)
	if err := m.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send transcript webhook", "error", err, "bot_id", bot.ID)
		return
	}
	slog.Info("transcript finalized", "bot_id", bot.ID, "turns", len(turns))
}

func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Shutdown stops every worker after draining its queue and waits for
// pending finalization, or until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			<-w.done
		}
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancelBase()
		return nil
	case <-ctx.Done():
		m.cancelBase()
		return ctx.Err()
	}
}
