package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsdeck/incident-commander/internal/domain"
)

// Dispatcher routes notifications to the registered sender for each
// channel type.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a dispatcher over the given senders.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Send delivers a notification over one channel. A missing sender for the
// channel is a warn-and-skip, not an error; delivery errors are returned to
// the caller for logging but carry no retry obligation.
func (d *Dispatcher) Send(ctx context.Context, channel domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channel]
	if !ok {
		slog.Warn("no sender registered for channel", "channel", channel)
		recordSent(string(channel), "skipped")
		return nil
	}

	start := time.Now()
	err := sender.Send(ctx, notification)
	recordDuration(string(channel), time.Since(start))

	if err != nil {
		recordSent(string(channel), "failed")
		return err
	}

	recordSent(string(channel), "success")
	return nil
}
