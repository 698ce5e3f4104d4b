package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kentyler/cogito-sub006/internal/repository"
)

func TestAdminClient_AgainstServer(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()
	c := NewAdminClient(ts.URL+"/", testAdminToken)
	ctx := context.Background()

	bot, err := c.CreateBot(ctx, CreateBotRequest{MeetingURL: "https://zoom.example/j/9"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if bot.State != string(repository.BotStateJoining) {
		t.Fatalf("expected joining, got %s", bot.State)
	}

	got, err := c.GetBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.TurnCount == nil || *got.TurnCount != 0 {
		t.Fatalf("expected zero turns, got %+v", got.TurnCount)
	}

	turns, err := c.ListTurns(ctx, bot.ID)
	if err != nil || len(turns) != 0 {
		t.Fatalf("unexpected turns %v: %v", turns, err)
	}

	stuck, err := c.ListStuck(ctx, time.Hour)
	if err != nil || len(stuck) != 0 {
		t.Fatalf("unexpected stuck %v: %v", stuck, err)
	}

	left, err := c.Leave(ctx, bot.ID)
	if err != nil || left.State != string(repository.BotStateLeaving) {
		t.Fatalf("leave: %+v %v", left, err)
	}
	done, err := c.ForceComplete(ctx, bot.ID)
	if err != nil || done.State != string(repository.BotStateInactive) {
		t.Fatalf("force complete: %+v %v", done, err)
	}
}

func TestAdminClient_APIError(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	_, err := NewAdminClient(ts.URL, testAdminToken).GetBot(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "bot not found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	_, err = NewAdminClient(ts.URL, "wrong").ListStuck(context.Background(), 0)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
