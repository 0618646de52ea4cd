package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/backoff"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/logging"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

func TestDecodeAcceptsWatchedSource(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	data := []byte(`{"source":"@BBCPersian","permalink":"https://t.me/bbcpersian/5","text":"hello","date":"2026-10-14T08:59:00Z","received_at":"2020-01-01T00:00:00Z"}`)

	msg, err := decode(data, map[string]bool{"bbcpersian": true}, now)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected message")
	}
	if msg.Source != "bbcpersian" {
		t.Errorf("expected normalized source, got %q", msg.Source)
	}
	if !msg.ReceivedAt.Equal(now) {
		t.Errorf("expected received_at stamped locally, got %v", msg.ReceivedAt)
	}
}

func TestDecodeSkipsUnwatchedSource(t *testing.T) {
	data := []byte(`{"source":"other","permalink":"p","text":"t","date":"2026-10-14T08:59:00Z"}`)
	msg, err := decode(data, map[string]bool{"bbcpersian": true}, time.Now())
	if err != nil || msg != nil {
		t.Errorf("expected silent skip, got %v, %v", msg, err)
	}
	msg, err = decode(data, nil, time.Now())
	if err != nil || msg == nil {
		t.Errorf("expected empty watch list to accept, got %v, %v", msg, err)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	if _, err := decode([]byte(`not json`), nil, time.Now()); err == nil {
		t.Error("expected decode error")
	}
	_, err := decode([]byte(`{"source":"a","permalink":"p","text":"","date":"2026-10-14T08:59:00Z"}`), nil, time.Now())
	if !errors.Is(err, models.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestSubscribeFailsWhenServerUnreachable(t *testing.T) {
	s := New(Options{
		URL:       "nats://127.0.0.1:1",
		Subject:   "autonews.inbound",
		Reconnect: backoff.Policy{Attempts: 2, Base: time.Millisecond, Multiplier: 1},
	}, logging.Discard())
	defer s.Close()

	if _, err := s.Subscribe(context.Background(), nil); err == nil {
		t.Error("expected connect error")
	}
}
