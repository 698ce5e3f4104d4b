package recall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kentyler/cogito-sub006/internal/events"
	"github.com/kentyler/cogito-sub006/internal/ingest"
)

// flexibleID accepts both numeric and string identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type botRef struct {
	ID flexibleID `json:"id"`
}

type participant struct {
	ID   flexibleID `json:"id"`
	Name string     `json:"name"`
}

type word struct {
	Text string `json:"text"`
}

type envelope struct {
	Event      string          `json:"event"`
	DeliveryID string          `json:"delivery_id"`
	Data       json.RawMessage `json:"data"`
}

type transcriptData struct {
	Bot  botRef `json:"bot"`
	Data struct {
		Words       []word      `json:"words"`
		Participant participant `json:"participant"`
	} `json:"data"`
}

// DecodeTranscript parses one stream message. ok is false for events that
// carry no transcript.
func DecodeTranscript(msg []byte, receivedAt time.Time) (ev events.TranscriptEvent, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return ev, false, fmt.Errorf("%w: %w", events.ErrMalformedDelivery, err)
	}
	var kind ingest.FragmentKind
	switch env.Event {
	case events.KindTranscript:
		kind = ingest.FragmentFinal
	case events.KindPartial:
		kind = ingest.FragmentPartial
	default:
		return ev, false, nil
	}

	var data transcriptData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return ev, false, fmt.Errorf("%w: %w", events.ErrMalformedDelivery, err)
	}
	if data.Bot.ID == "" {
		return ev, false, fmt.Errorf("%w: transcript without bot id", events.ErrMalformedDelivery)
	}

	texts := make([]string, 0, len(data.Data.Words))
	for _, w := range data.Data.Words {
		if t := strings.TrimSpace(w.Text); t != "" {
			texts = append(texts, t)
		}
	}
	p := data.Data.Participant
	channel := string(p.ID)
	if channel == "" {
		channel = p.Name
	}
	return events.TranscriptEvent{
		ProviderBotID: string(data.Bot.ID),
		Fragment: ingest.Fragment{
			Kind:           kind,
			SpeakerChannel: channel,
			SpeakerLabel:   p.Name,
			Content:        strings.Join(texts, " "),
			ReceivedAt:     receivedAt,
		},
	}, true, nil
}

type webhookData struct {
	Bot    botRef     `json:"bot"`
	BotID  flexibleID `json:"bot_id"`
	Status *struct {
		Code    string `json:"code"`
		SubCode string `json:"sub_code"`
	} `json:"status"`
	Data struct {
		Code        string      `json:"code"`
		SubCode     string      `json:"sub_code"`
		Participant participant `json:"participant"`
		Data        struct {
			Text string `json:"text"`
		} `json:"data"`
	} `json:"data"`
}

func (d webhookData) providerBotID() string {
	if d.Bot.ID != "" {
		return string(d.Bot.ID)
	}
	return string(d.BotID)
}

// DecodeWebhook normalizes both bot.status_change and the per-status
// bot.<code> events into a status delivery.
func DecodeWebhook(header http.Header, body []byte, receivedAt time.Time) (events.Delivery, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return events.Delivery{}, fmt.Errorf("%w: %w", events.ErrMalformedDelivery, err)
	}
	if env.Event == "" {
		return events.Delivery{}, fmt.Errorf("%w: missing event", events.ErrMalformedDelivery)
	}

	d := events.Delivery{
		ID:         deliveryID(header, env.DeliveryID),
		Kind:       env.Event,
		ReceivedAt: receivedAt,
	}
	var data webhookData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return events.Delivery{}, fmt.Errorf("%w: %w", events.ErrMalformedDelivery, err)
		}
	}
	d.ProviderBotID = data.providerBotID()

	switch {
	case env.Event == events.KindStatusChange:
		if data.Status != nil {
			d.StatusCode, d.SubCode = data.Status.Code, data.Status.SubCode
		} else {
			d.StatusCode, d.SubCode = data.Data.Code, data.Data.SubCode
		}
	case env.Event == events.KindChatMessage || env.Event == events.KindParticipantChat:
		d.Chat = &events.Chat{
			SenderID:   string(data.Data.Participant.ID),
			SenderName: data.Data.Participant.Name,
			Text:       data.Data.Data.Text,
		}
	case strings.HasPrefix(env.Event, "bot."):
		d.Kind = events.KindStatusChange
		d.StatusCode = strings.TrimPrefix(env.Event, "bot.")
		d.SubCode = data.Data.SubCode
	}
	return d, nil
}

func deliveryID(header http.Header, bodyID string) string {
	for _, h := range []string{"Webhook-Id", "Svix-Id"} {
		if v := strings.TrimSpace(header.Get(h)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(bodyID)
}
