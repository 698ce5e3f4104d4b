package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kentyler/cogito-sub006/internal/notify"
	"github.com/kentyler/cogito-sub006/internal/repository"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestNotifier(t *testing.T, rt roundTripFunc) *Notifier {
	t.Helper()
	n, err := NewNotifier("test-token", "alerts-1")
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	n.session.Client = &http.Client{Transport: rt}
	n.session.MaxRestRetries = 0
	return n
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testAlert() notify.StuckAlert {
	return notify.StuckAlert{
		Bot: repository.Bot{
			ID:               "bot-1",
			ProviderBotID:    "recall-1",
			MeetingURL:       "https://meet.example/abc",
			State:            repository.BotStateStuck,
			LastTransitionAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
		Threshold: 10 * time.Minute,
		Idle:      12 * time.Minute,
	}
}

func TestNotifyStuck_PostsEmbedToChannel(t *testing.T) {
	var sent discordgo.MessageSend
	n := newTestNotifier(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/channels/alerts-1/messages") {
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &sent); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"id":"m-1","channel_id":"alerts-1"}`), nil
	})

	if err := n.NotifyStuck(context.Background(), testAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sent.Content, "https://meet.example/abc") {
		t.Fatalf("expected meeting url in content, got %q", sent.Content)
	}
	if len(sent.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(sent.Embeds))
	}
	fields := map[string]string{}
	for _, f := range sent.Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	if fields["Bot ID"] != "bot-1" || fields["State"] != "stuck" || fields["Idle for"] != "12m0s" {
		t.Fatalf("unexpected embed fields: %+v", fields)
	}
}

func TestNotifyStuck_ForbiddenChannel(t *testing.T) {
	n := newTestNotifier(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"message":"Missing Access","code":50001}`), nil
	})

	err := n.NotifyStuck(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "not writable") {
		t.Fatalf("expected not writable error, got %v", err)
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		t.Fatalf("expected wrapped REST error, got %T", err)
	}
}
