package changefeed

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel the outbox trigger in
// migrations/001_search_sync.sql signals on.
const Channel = "listing_changes"

const (
	minReconnect = 500 * time.Millisecond
	maxReconnect = 30 * time.Second
)

// Listener subscribes to the outbox NOTIFY channel on a dedicated connection.
type Listener struct {
	l *pq.Listener
}

// Listen opens a listener on dsn and subscribes to Channel.
func Listen(dsn string, logger *zap.Logger) (*Listener, error) {
	channel := Channel
	if logger == nil {
		logger = zap.NewNop()
	}
	l := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("Change listener disconnected", zap.String("channel", channel), zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("Change listener reconnected", zap.String("channel", channel))
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	logger.Info("Listening for listing changes", zap.String("channel", channel))
	return &Listener{l: l}, nil
}

// Notifications returns the wake-up channel for Feed.
func (l *Listener) Notifications() <-chan *pq.Notification { return l.l.Notify }

// Close stops listening.
func (l *Listener) Close() error { return l.l.Close() }
