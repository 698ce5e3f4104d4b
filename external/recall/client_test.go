package recall

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kentyler/cogito-sub006/internal/provider"
)

func TestCreateBot_SendsRealtimeConfig(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/bot/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token key-1" {
			t.Errorf("unexpected authorization: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"recall-bot-1"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "key-1")
	created, err := c.CreateBot(context.Background(), provider.CreateBotRequest{
		MeetingURL:  "https://zoom.example/j/1",
		BotName:     "Cogito",
		JoinMessage: "hello",
		StreamURL:   "wss://cogito.example/transcript",
		WebhookURL:  "https://cogito.example/webhook/recall",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "recall-bot-1" {
		t.Fatalf("unexpected id: %s", created.ID)
	}
	if body["meeting_url"] != "https://zoom.example/j/1" || body["bot_name"] != "Cogito" {
		t.Fatalf("unexpected body: %v", body)
	}
	rc := body["recording_config"].(map[string]any)
	endpoints := rc["realtime_endpoints"].([]any)
	if len(endpoints) != 2 {
		t.Fatalf("expected websocket and webhook endpoints, got %v", endpoints)
	}
	ws := endpoints[0].(map[string]any)
	if ws["type"] != "websocket" || ws["url"] != "wss://cogito.example/transcript" {
		t.Fatalf("unexpected websocket endpoint: %v", ws)
	}
	chat := body["chat"].(map[string]any)["on_bot_join"].(map[string]any)
	if chat["message"] != "hello" || chat["send_to"] != "everyone" {
		t.Fatalf("unexpected join message: %v", chat)
	}
}

func TestSendChatMessage(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot/recall-1/send_chat_message/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewClient(server.URL, "k").SendChatMessage(context.Background(), "recall-1", "answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["message"] != "answer" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		wantUnavailable bool
	}{
		{name: "server error", status: http.StatusBadGateway, wantUnavailable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantUnavailable: true},
		{name: "bad request", status: http.StatusBadRequest, wantUnavailable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer server.Close()

			err := NewClient(server.URL, "k").LeaveCall(context.Background(), "recall-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, provider.ErrProviderUnavailable); got != tt.wantUnavailable {
				t.Fatalf("expected unavailable=%v, got %v (%v)", tt.wantUnavailable, got, err)
			}
			var apiErr *APIError
			if !tt.wantUnavailable && (!errors.As(err, &apiErr) || apiErr.StatusCode != tt.status) {
				t.Fatalf("expected APIError with status %d, got %v", tt.status, err)
			}
		})
	}
}

func TestNetworkErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewClient(url, "k").SendChatMessage(context.Background(), "recall-1", "x")
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
