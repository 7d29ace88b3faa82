// Package email provides email notification sending via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/notify"
)

// Config holds email sender configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	Timeout      time.Duration
}

// Sender implements email notification sending via SMTP.
type Sender struct {
	config Config
	auth   smtp.Auth
}

// NewSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Sender{config: config, auth: auth}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Send sends the notification to all recipients in one SMTP transaction.
// The whole transaction runs under a connection deadline so a hung server
// cannot wedge the dispatch goroutine.
func (s *Sender) Send(ctx context.Context, notification notify.Notification) error {
	if !s.config.Enabled {
		slog.Debug("email sender disabled, skipping",
			"recipients", len(notification.To),
			"subject", notification.Subject,
		)
		return nil
	}

	deadline := time.Now().Add(s.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := net.JoinHostPort(s.config.SMTPHost, strconv.Itoa(s.config.SMTPPort))
	conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
	if err != nil {
		return &notify.RetryableError{Message: fmt.Sprintf("smtp dial: %v", err)}
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return &notify.RetryableError{Message: fmt.Sprintf("smtp deadline: %v", err)}
	}

	msg := buildMessage(s.config.FromAddress, notification)
	if err := s.transact(conn, notification.To, msg); err != nil {
		return &notify.RetryableError{Message: fmt.Sprintf("smtp send: %v", err)}
	}

	slog.Debug("email sent", "recipients", len(notification.To))
	return nil
}

// transact drives the SMTP conversation over an already-dialed connection.
func (s *Sender) transact(conn net.Conn, to []string, msg []byte) error {
	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(s.config.FromAddress); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from string, notification notify.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(notification.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", notification.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(notification.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
