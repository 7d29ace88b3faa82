// Package slack provides Slack notification sending via Incoming Webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/notify"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Incident Commander"
)

// Config holds Slack sender configuration. The webhook URL is the
// recipient address, so global configuration is minimal.
type Config struct {
	Username string
	IconURL  string
	Timeout  time.Duration
}

// Sender implements Slack notification sending via Incoming Webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Slack sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSlack
}

type webhookPayload struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Send posts the notification to each webhook URL in notification.To.
// The first delivery error aborts the remaining webhooks and is returned.
func (s *Sender) Send(ctx context.Context, notification notify.Notification) error {
	text := notification.Body
	if notification.Subject != "" {
		text = fmt.Sprintf("*%s*\n\n%s", notification.Subject, notification.Body)
	}

	for _, webhookURL := range notification.To {
		if err := s.post(ctx, webhookURL, text); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) post(ctx context.Context, webhookURL, text string) error {
	if webhookURL == "" {
		return &notify.PermanentError{Message: "webhook URL is empty"}
	}

	payload := webhookPayload{
		Text:     text,
		Username: s.config.Username,
		IconURL:  s.config.IconURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &notify.RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, webhookURL)
}

func (s *Sender) handleResponse(resp *http.Response, webhookURL string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		slog.Debug("slack message sent", "webhook", maskWebhookURL(webhookURL))
		return nil

	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("webhook rejected: %s", string(body)),
		}

	case http.StatusTooManyRequests:
		return &notify.RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return &notify.RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", string(body)),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskWebhookURL hides the secret path of the URL for logging.
func maskWebhookURL(url string) string {
	idx := strings.LastIndex(url, "/")
	if idx <= 0 {
		return "***"
	}
	return url[:idx] + "/***"
}
