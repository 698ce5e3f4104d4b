package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kentyler/cogito-sub006/internal/webhook"
	"github.com/sethvargo/go-retry"
)

const (
	sendTimeout    = 10 * time.Second
	sendRetries    = 3
	sendRetryDelay = 500 * time.Millisecond
)

type HTTPSender struct {
	webhookURL string
	client     *http.Client
	retryBase  time.Duration
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
		retryBase:  sendRetryDelay,
	}
}

// SendTranscript is a no-op when no webhook url is configured. Server errors
// are retried; client errors are not.
func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptWebhookPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	backoff := retry.WithMaxRetries(sendRetries, retry.NewExponential(s.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := s.post(ctx, payload.BotID, b)
		if err != nil {
			slog.Warn("transcript webhook attempt failed", "error", err, "bot_id", payload.BotID)
			return retry.RetryableError(err)
		}
		if !isHTTPSuccessStatus(status) {
			err := fmt.Errorf("webhook returned status %d", status)
			if status >= 500 || status == http.StatusTooManyRequests {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (s *HTTPSender) post(ctx context.Context, botID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cogito-Bot-Id", botID)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
