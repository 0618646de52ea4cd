// Package bridge receives messages published to a NATS subject by external
// collectors. Payloads are JSON-encoded RawMessages.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/backoff"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

type Options struct {
	URL       string
	Subject   string
	Reconnect backoff.Policy
	Buffer    int
}

type Subscriber struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu   sync.Mutex
	conn *nats.Conn
}

var _ gateway.Subscriber = (*Subscriber)(nil)

func New(opts Options, logger *slog.Logger) *Subscriber {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Reconnect.Attempts == 0 {
		opts.Reconnect = backoff.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{opts: opts, log: logger.With("component", "bridge"), now: time.Now}
}

// Subscribe connects, retrying with the reconnect policy, and forwards
// every valid message whose source is in sources. An empty sources list
// accepts every source.
func (s *Subscriber) Subscribe(ctx context.Context, sources []string) (<-chan models.RawMessage, error) {
	nc, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	inbox := make(chan *nats.Msg, s.opts.Buffer)
	sub, err := nc.ChanSubscribe(s.opts.Subject, inbox)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", s.opts.Subject, err)
	}
	s.log.Info("subscribed to bridge subject", "subject", s.opts.Subject, "url", nc.ConnectedUrl())

	watch := make(map[string]bool, len(sources))
	for _, src := range sources {
		watch[database.NormalizeSource(src)] = true
	}

	out := make(chan models.RawMessage)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
				s.log.Warn("unsubscribe failed", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-inbox:
				msg, err := decode(m.Data, watch, s.now())
				if err != nil {
					s.log.Warn("dropping bridge message", "subject", m.Subject, "error", err)
					continue
				}
				if msg == nil {
					continue
				}
				select {
				case out <- *msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Subscriber) connect(ctx context.Context) (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}

	var nc *nats.Conn
	err := s.opts.Reconnect.Retry(ctx, func(context.Context) error {
		var err error
		nc, err = nats.Connect(s.opts.URL,
			nats.Name("autonews"),
			nats.MaxReconnects(s.opts.Reconnect.Attempts),
			nats.ReconnectWait(s.opts.Reconnect.Base),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					s.log.Warn("bridge disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				s.log.Info("bridge reconnected", "url", c.ConnectedUrl())
			}),
		)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		s.log.Warn("bridge connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", s.opts.URL, err)
	}
	s.conn = nc
	return nc, nil
}

// Close drops the NATS connection.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// decode parses one payload. It returns nil without error for sources not
// being watched. A sender-supplied received_at is replaced with now.
func decode(data []byte, watch map[string]bool, now time.Time) (*models.RawMessage, error) {
	var msg models.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	msg.Source = database.NormalizeSource(msg.Source)
	if len(watch) > 0 && !watch[msg.Source] {
		return nil, nil
	}
	msg.ReceivedAt = now
	return &msg, nil
}
