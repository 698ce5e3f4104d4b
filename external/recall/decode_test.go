package recall

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kentyler/cogito-sub006/internal/events"
	"github.com/kentyler/cogito-sub006/internal/ingest"
)

var received = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestDecodeTranscript_Final(t *testing.T) {
	msg := []byte(`{"event":"transcript.data","data":{"bot":{"id":"recall-1"},"data":{"words":[{"text":"hello"},{"text":" world "}],"participant":{"id":100,"name":"Alice"}}}}`)

	ev, ok, err := DecodeTranscript(msg, received)
	if err != nil || !ok {
		t.Fatalf("expected transcript event, got ok=%v err=%v", ok, err)
	}
	if ev.ProviderBotID != "recall-1" {
		t.Fatalf("unexpected bot id: %s", ev.ProviderBotID)
	}
	f := ev.Fragment
	if f.Kind != ingest.FragmentFinal || f.Content != "hello world" || f.SpeakerChannel != "100" || f.SpeakerLabel != "Alice" {
		t.Fatalf("unexpected fragment: %+v", f)
	}
}

func TestDecodeTranscript_PartialAndSkipped(t *testing.T) {
	ev, ok, err := DecodeTranscript([]byte(`{"event":"transcript.partial_data","data":{"bot":{"id":"recall-1"},"data":{"words":[{"text":"hel"}],"participant":{"name":"Bob"}}}}`), received)
	if err != nil || !ok || ev.Fragment.Kind != ingest.FragmentPartial || ev.Fragment.SpeakerChannel != "Bob" {
		t.Fatalf("unexpected partial decode: %+v ok=%v err=%v", ev, ok, err)
	}

	_, ok, err = DecodeTranscript([]byte(`{"event":"participant_events.join","data":{}}`), received)
	if err != nil || ok {
		t.Fatalf("expected non-transcript event skipped, got ok=%v err=%v", ok, err)
	}
}

func TestDecodeTranscript_Malformed(t *testing.T) {
	for _, msg := range []string{`not json`, `{"event":"transcript.data","data":{"data":{"words":[]}}}`} {
		if _, _, err := DecodeTranscript([]byte(msg), received); !errors.Is(err, events.ErrMalformedDelivery) {
			t.Fatalf("expected ErrMalformedDelivery for %q, got %v", msg, err)
		}
	}
}

func TestDecodeWebhook_Chat(t *testing.T) {
	header := http.Header{}
	header.Set("Svix-Id", "msg_1")
	body := []byte(`{"event":"participant_events.chat_message","data":{"bot":{"id":"recall-1"},"data":{"data":{"text":"@cogito hi"},"participant":{"id":7,"name":"Alice"}}}}`)

	d, err := DecodeWebhook(header, body, received)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID != "msg_1" || d.Kind != events.KindParticipantChat || d.ProviderBotID != "recall-1" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if d.Chat == nil || d.Chat.Text != "@cogito hi" || d.Chat.SenderName != "Alice" || d.Chat.SenderID != "7" {
		t.Fatalf("unexpected chat: %+v", d.Chat)
	}
}

func TestDecodeWebhook_StatusFormats(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantSub  string
	}{
		{name: "status change with status object", body: `{"event":"bot.status_change","delivery_id":"d-1","data":{"bot_id":"recall-1","status":{"code":"in_call_recording"}}}`, wantCode: "in_call_recording"},
		{name: "per status event", body: `{"event":"bot.fatal","data":{"bot":{"id":"recall-1"},"data":{"code":"fatal","sub_code":"meeting_not_found"}}}`, wantCode: "fatal", wantSub: "meeting_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DecodeWebhook(http.Header{}, []byte(tt.body), received)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Kind != events.KindStatusChange || d.ProviderBotID != "recall-1" || d.StatusCode != tt.wantCode || d.SubCode != tt.wantSub {
				t.Fatalf("unexpected delivery: %+v", d)
			}
		})
	}
}

func TestDecodeWebhook_BodyDeliveryID(t *testing.T) {
	d, err := DecodeWebhook(http.Header{}, []byte(`{"event":"bot.status_change","delivery_id":"d-9","data":{"bot_id":"recall-1","status":{"code":"done"}}}`), received)
	if err != nil || d.ID != "d-9" {
		t.Fatalf("expected body delivery id, got %+v err=%v", d, err)
	}
}

func TestDecodeWebhook_Malformed(t *testing.T) {
	for _, body := range []string{`{`, `{"data":{}}`} {
		if _, err := DecodeWebhook(http.Header{}, []byte(body), received); !errors.Is(err, events.ErrMalformedDelivery) {
			t.Fatalf("expected ErrMalformedDelivery for %q, got %v", body, err)
		}
	}
}
