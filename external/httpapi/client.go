package httpapi

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
)

// APIError is a non-2xx admin response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api returned %d: %s", e.StatusCode, e.Message)
}

// AdminClient calls the /admin routes of a running backend.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *AdminClient) CreateBot(ctx context.Context, req CreateBotRequest) (*BotView, error) {
	var bot BotView
	if err := c.do(ctx, http.MethodPost, "/admin/bots", req, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (c *AdminClient) GetBot(ctx context.Context, id string) (*BotView, error) {
	var bot BotView
	if err := c.do(ctx, http.MethodGet, "/admin/bots/"+url.PathEscape(id), nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListStuck uses the server default when threshold is zero.
func (c *AdminClient) ListStuck(ctx context.Context, threshold time.Duration) ([]BotView, error) {
	path := "/admin/bots/stuck"
	if threshold > 0 {
		path += "?threshold=" + url.QueryEscape(threshold.String())
	}
	var bots []BotView
	if err := c.do(ctx, http.MethodGet, path, nil, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

func (c *AdminClient) ListTurns(ctx context.Context, id string) ([]TurnView, error) {
	var turns []TurnView
	if err := c.do(ctx, http.MethodGet, "/admin/bots/"+url.PathEscape(id)+"/turns", nil, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (c *AdminClient) Leave(ctx context.Context, id string) (*BotView, error) {
	var bot BotView
	if err := c.do(ctx, http.MethodPost, "/admin/bots/"+url.PathEscape(id)+"/leave", nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (c *AdminClient) ForceComplete(ctx context.Context, id string) (*BotView, error) {
	var bot BotView
	if err := c.do(ctx, http.MethodPost, "/admin/bots/"+url.PathEscape(id)+"/force-complete", nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
