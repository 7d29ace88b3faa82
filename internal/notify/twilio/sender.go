// Package twilio provides SMS and voice call notification sending via the
// Twilio REST API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/notify"
)

const (
	apiBaseURL     = "https://api.twilio.com/2010-04-01"
	defaultTimeout = 15 * time.Second
)

// Config holds Twilio client configuration.
type Config struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	FromNumber string
	RateLimit  float64 // requests per second across both channels
}

// Client is a shared Twilio API client backing the SMS and voice senders.
// Requests are rate limited across both channels because they share one
// account-level quota.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Twilio client.
// Returns error if enabled but required config is missing.
func NewClient(config Config) (*Client, error) {
	if config.Enabled {
		if config.AccountSID == "" || config.AuthToken == "" {
			return nil, errors.New("twilio client: account SID and auth token are required when enabled")
		}
		if config.FromNumber == "" {
			return nil, errors.New("twilio client: from number is required when enabled")
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = 1.0
	}

	slog.Info("twilio client configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// SMS returns the sender for the sms channel.
func (c *Client) SMS() *SMSSender {
	return &SMSSender{client: c}
}

// Voice returns the sender for the call channel.
func (c *Client) Voice() *CallSender {
	return &CallSender{client: c}
}

// SMSSender delivers notifications as text messages.
type SMSSender struct {
	client *Client
}

// Type returns the channel type.
func (s *SMSSender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

// Send sends the notification body as an SMS to each recipient number.
func (s *SMSSender) Send(ctx context.Context, notification notify.Notification) error {
	if !s.client.config.Enabled {
		slog.Debug("twilio sms sender disabled, skipping", "recipients", len(notification.To))
		return nil
	}

	body := notification.Subject
	if notification.Body != "" {
		body = notification.Subject + "\n" + notification.Body
	}

	for _, to := range notification.To {
		form := url.Values{
			"To":   {to},
			"From": {s.client.config.FromNumber},
			"Body": {truncate(body, 1600)},
		}
		if err := s.client.post(ctx, "Messages.json", form); err != nil {
			return err
		}
	}
	return nil
}

// CallSender delivers notifications as voice calls reading the subject out
// loud.
type CallSender struct {
	client *Client
}

// Type returns the channel type.
func (s *CallSender) Type() domain.ChannelType {
	return domain.ChannelTypeCall
}

// Send places a call to each recipient number.
func (s *CallSender) Send(ctx context.Context, notification notify.Notification) error {
	if !s.client.config.Enabled {
		slog.Debug("twilio call sender disabled, skipping", "recipients", len(notification.To))
		return nil
	}

	twiml := fmt.Sprintf("<Response><Say>%s</Say></Response>", escapeXML(notification.Subject))

	for _, to := range notification.To {
		form := url.Values{
			"To":    {to},
			"From":  {s.client.config.FromNumber},
			"Twiml": {twiml},
		}
		if err := s.client.post(ctx, "Calls.json", form); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, resource string, form url.Values) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", apiBaseURL, c.config.AccountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &notify.RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &notify.RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("twilio %s: %s", resource, string(body)),
		}
	default:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("twilio %s: %s", resource, string(body)),
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}
