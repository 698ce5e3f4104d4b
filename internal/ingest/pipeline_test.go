package ingest

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/repository"
	"github.com/kentyler/cogito-sub006/internal/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestPipeline(store *testutil.MockStore, botID string) (*Pipeline, *metrics.Metrics) {
	m := metrics.NewNop()
	return NewPipeline(botID, store, m, Options{AppendRetries: 2, RetryBase: time.Millisecond}), m
}

func partial(ch, content string) Fragment {
	return Fragment{Kind: FragmentPartial, SpeakerChannel: ch, Content: content}
}

func final(ch, content string) Fragment {
	return Fragment{Kind: FragmentFinal, SpeakerChannel: ch, Content: content}
}

func TestHandle_PartialsCoalesceIntoOneTurn(t *testing.T) {
	store := testutil.NewMockStore()
	p, _ := newTestPipeline(store, "bot-1")
	ctx := context.Background()

	for _, f := range []Fragment{partial("S1", "Hel"), partial("S1", "Hello wor")} {
		turn, err := p.Handle(ctx, f)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if turn != nil {
			t.Fatalf("partial produced a turn: %+v", turn)
		}
	}
	if store.AppendCalls != 0 {
		t.Fatalf("partials must not be persisted, got %d appends", store.AppendCalls)
	}

	turn, err := p.Handle(ctx, final("S1", "Hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn == nil {
		t.Fatal("expected a turn for the final fragment")
	}
	if turn.Content != "Hello world" || turn.SourceType != repository.SourceTranscript || turn.Sequence != 1 {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if got := store.TurnsForBot("bot-1"); len(got) != 1 {
		t.Fatalf("expected exactly one turn, got %d", len(got))
	}
	if len(p.PendingChannels()) != 0 {
		t.Fatalf("expected slot cleared, got %v", p.PendingChannels())
	}
}

func TestHandle_EmptyFinalIsDiscarded(t *testing.T) {
	store := testutil.NewMockStore()
	p, m := newTestPipeline(store, "bot-1")
	ctx := context.Background()

	if _, err := p.Handle(ctx, final("S1", "first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, content := range []string{"", "   \n\t"} {
		if _, err := p.Handle(ctx, partial("S2", "um")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		turn, err := p.Handle(ctx, final("S2", content))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if turn != nil {
			t.Fatalf("empty final produced a turn: %+v", turn)
		}
	}
	turn, err := p.Handle(ctx, final("S1", "second"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.Sequence != 2 {
		t.Fatalf("expected sequence counter unchanged by empty finals, got %d", turn.Sequence)
	}
	if got := promtestutil.ToFloat64(m.FragmentsDiscarded.WithLabelValues("empty_final")); got != 2 {
		t.Fatalf("expected 2 discarded finals, got %v", got)
	}
	if len(p.PendingChannels()) != 0 {
		t.Fatalf("expected empty final to clear slot, got %v", p.PendingChannels())
	}
}

func TestHandle_SelfContainedFinal(t *testing.T) {
	store := testutil.NewMockStore()
	p, _ := newTestPipeline(store, "bot-1")

	turn, err := p.Handle(context.Background(), Fragment{Kind: FragmentFinal, SpeakerChannel: "p-7", SpeakerLabel: "Ada", Content: "  no partial first  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.Content != "no partial first" || turn.SpeakerLabel != "Ada" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
}

func TestHandle_LabelFallsBackToPartialThenChannel(t *testing.T) {
	store := testutil.NewMockStore()
	p, _ := newTestPipeline(store, "bot-1")
	ctx := context.Background()

	_, _ = p.Handle(ctx, Fragment{Kind: FragmentPartial, SpeakerChannel: "p-1", SpeakerLabel: "Grace", Content: "hi"})
	turn, err := p.Handle(ctx, final("p-1", "hi there"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.SpeakerLabel != "Grace" {
		t.Fatalf("expected label from partial, got %q", turn.SpeakerLabel)
	}
	turn, err = p.Handle(ctx, final("p-2", "hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.SpeakerLabel != "p-2" {
		t.Fatalf("expected channel as label, got %q", turn.SpeakerLabel)
	}
}

func TestHandle_InterleavedChannelsAreGapFree(t *testing.T) {
	store := testutil.NewMockStore()
	p, _ := newTestPipeline(store, "bot-1")
	ctx := context.Background()

	channels := []string{"S1", "S2", "S3", "S4"}
	rng := rand.New(rand.NewSource(42))
	var finals int
	var order []string
	for range 200 {
		ch := channels[rng.Intn(len(channels))]
		if rng.Intn(3) == 0 {
			content := "utterance from " + ch
			if rng.Intn(5) == 0 {
				content = " "
			} else {
				finals++
				order = append(order, content)
			}
			if _, err := p.Handle(ctx, final(ch, content)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			continue
		}
		if _, err := p.Handle(ctx, partial(ch, "partial")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	turns := store.TurnsForBot("bot-1")
	if len(turns) != finals {
		t.Fatalf("expected %d turns, got %d", finals, len(turns))
	}
	for i, turn := range turns {
		if turn.Sequence != i+1 {
			t.Fatalf("expected sequence %d at index %d, got %d", i+1, i, turn.Sequence)
		}
		if turn.Content != order[i] {
			t.Fatalf("turn %d reordered: expected %q, got %q", i, order[i], turn.Content)
		}
	}
}

func TestAppend_RetriesTransientFailures(t *testing.T) {
	store := testutil.NewMockStore()
	store.FailAppends = 2
	p, _ := newTestPipeline(store, "bot-1")

	turn, err := p.Handle(context.Background(), final("S1", "eventually"))
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if turn.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", turn.Sequence)
	}
	if store.AppendCalls != 3 {
		t.Fatalf("expected 3 append attempts, got %d", store.AppendCalls)
	}
}

func TestNewPipeline_ZeroOptionsUseDefaults(t *testing.T) {
	store := testutil.NewMockStore()
	store.FailAppends = 1
	p := NewPipeline("bot-1", store, metrics.NewNop(), Options{})

	turn, err := p.Handle(context.Background(), final("S1", "still retried"))
	if err != nil {
		t.Fatalf("expected default retry to succeed, got %v", err)
	}
	if turn.Sequence != 1 || store.AppendCalls != 2 {
		t.Fatalf("unexpected result: sequence=%d appends=%d", turn.Sequence, store.AppendCalls)
	}
}

func TestAppend_SurfacesPersistentFailure(t *testing.T) {
	store := testutil.NewMockStore()
	store.AppendErr = errors.New("db down")
	p, m := newTestPipeline(store, "bot-1")

	if _, err := p.Handle(context.Background(), final("S1", "lost")); err == nil {
		t.Fatal("expected error when every append fails")
	}
	if got := promtestutil.ToFloat64(m.AppendFailures); got != 1 {
		t.Fatalf("expected one append failure, got %v", got)
	}
}

func TestDiscard_DropsPendingPartials(t *testing.T) {
	store := testutil.NewMockStore()
	p, _ := newTestPipeline(store, "bot-1")
	ctx := context.Background()
	_, _ = p.Handle(ctx, partial("S1", "a"))
	_, _ = p.Handle(ctx, partial("S2", "b"))
	_, _ = p.Handle(ctx, partial("S1", "a2"))

	if n := p.Discard(); n != 2 {
		t.Fatalf("expected 2 pending slots, got %d", n)
	}
	if store.AppendCalls != 0 {
		t.Fatalf("discard must not persist partials, got %d appends", store.AppendCalls)
	}
	if p.BlockID() != "" {
		t.Fatalf("expected no block for a bot without turns, got %s", p.BlockID())
	}
}
