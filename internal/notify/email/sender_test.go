package email

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/incident-commander/internal/notify"
)

func TestSend_DisabledSkips(t *testing.T) {
	s, err := NewSender(Config{Enabled: false})
	require.NoError(t, err)

	err = s.Send(context.Background(), notify.Notification{
		To:      []string{"oncall@example.com"},
		Subject: "test",
	})
	assert.NoError(t, err)
}

func TestSend_HungServerHitsDeadline(t *testing.T) {
	// A listener that accepts and then says nothing, like a wedged MTA.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    "127.0.0.1",
		SMTPPort:    addr.Port,
		FromAddress: "incidents@example.com",
		Timeout:     100 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	err = s.Send(context.Background(), notify.Notification{
		To:      []string{"oncall@example.com"},
		Subject: "test",
		Body:    "body",
	})

	require.Error(t, err)
	var retryable *notify.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.Less(t, time.Since(start), 5*time.Second, "send must give up at the deadline")
}

func TestSend_ContextDeadlineTightensTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    "127.0.0.1",
		SMTPPort:    addr.Port,
		FromAddress: "incidents@example.com",
		Timeout:     time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, notify.Notification{
		To:      []string{"oncall@example.com"},
		Subject: "test",
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "context deadline wins over the configured timeout")
}
