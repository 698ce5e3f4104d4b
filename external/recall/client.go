// Package recall talks to the Recall.ai bot API and decodes its realtime events.
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kentyler/cogito-sub006/internal/provider"
)

const (
	DefaultBaseURL = "https://us-west-2.recall.ai/api/v1"
	requestTimeout = 20 * time.Second
	maxErrorBody   = 2048
)

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

type realtimeEndpoint struct {
	Type   string   `json:"type"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type createBotBody struct {
	MeetingURL      string          `json:"meeting_url"`
	BotName         string          `json:"bot_name"`
	RecordingConfig recordingConfig `json:"recording_config"`
	Chat            *chatConfig     `json:"chat,omitempty"`
	WebhookURL      string          `json:"webhook_url,omitempty"`
}

type recordingConfig struct {
	Transcript        transcriptConfig   `json:"transcript"`
	RealtimeEndpoints []realtimeEndpoint `json:"realtime_endpoints"`
}

type transcriptConfig struct {
	Provider map[string]struct{} `json:"provider"`
}

type chatConfig struct {
	OnBotJoin chatJoin `json:"on_bot_join"`
}

type chatJoin struct {
	SendTo  string `json:"send_to"`
	Message string `json:"message"`
}

type createBotResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateBot(ctx context.Context, req provider.CreateBotRequest) (*provider.CreatedBot, error) {
	body := createBotBody{
		MeetingURL: req.MeetingURL,
		BotName:    req.BotName,
		RecordingConfig: recordingConfig{
			Transcript: transcriptConfig{Provider: map[string]struct{}{"meeting_captions": {}}},
			RealtimeEndpoints: []realtimeEndpoint{
				{Type: "websocket", URL: req.StreamURL, Events: []string{"transcript.data", "transcript.partial_data"}},
				{Type: "webhook", URL: req.WebhookURL, Events: []string{"participant_events.chat_message"}},
			},
		},
		WebhookURL: req.WebhookURL,
	}
	if req.JoinMessage != "" {
		body.Chat = &chatConfig{OnBotJoin: chatJoin{SendTo: "everyone", Message: req.JoinMessage}}
	}

	var out createBotResponse
	if err := c.do(ctx, http.MethodPost, "/bot/", body, &out); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create bot: %w: response without bot id", provider.ErrProviderUnavailable)
	}
	return &provider.CreatedBot{ID: out.ID}, nil
}

func (c *Client) SendChatMessage(ctx context.Context, providerBotID, text string) error {
	path := "/bot/" + url.PathEscape(providerBotID) + "/send_chat_message/"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"message": text}, nil); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

func (c *Client) LeaveCall(ctx context.Context, providerBotID string) error {
	path := "/bot/" + url.PathEscape(providerBotID) + "/leave_call/"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("leave call: %w", err)
	}
	return nil
}

// APIError is a non-retryable rejection from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recall api returned status %d: %s", e.StatusCode, e.Body)
}

// do maps transport failures, 5xx and 429 to provider.ErrProviderUnavailable.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", provider.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
