package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

type update struct {
	UpdateID    int64    `json:"update_id"`
	ChannelPost *message `json:"channel_post"`
}

// Subscribe long-polls getUpdates for channel posts from the given channel
// usernames. Feed URLs are ignored. A failing poll is retried with the
// reconnect policy; the channel closes when ctx ends or retries run out.
func (c *Client) Subscribe(ctx context.Context, sources []string) (<-chan models.RawMessage, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	watch := make(map[string]bool)
	for _, s := range sources {
		if !gateway.IsFeedURL(s) {
			watch[database.NormalizeSource(s)] = true
		}
	}

	out := make(chan models.RawMessage)
	go c.poll(ctx, watch, out)
	c.log.Info("subscribed to channel posts", "channels", len(watch))
	return out, nil
}

func (c *Client) poll(ctx context.Context, watch map[string]bool, out chan<- models.RawMessage) {
	defer close(out)
	var offset int64
	for ctx.Err() == nil {
		var updates []update
		err := c.opts.Reconnect.Retry(ctx, func(ctx context.Context) error {
			var err error
			updates, err = c.getUpdates(ctx, offset)
			return err
		}, func(attempt int, delay time.Duration, err error) {
			c.log.Warn("getUpdates failed, reconnecting", "attempt", attempt, "delay", delay, "error", err)
		})
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error("channel subscription stopped", "error", err)
			}
			return
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			msg, ok := c.toRaw(u.ChannelPost, watch)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	var updates []update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(c.opts.PollTimeout / time.Second),
		"allowed_updates": []string{"channel_post"},
	}, &updates)
	return updates, err
}

func (c *Client) toRaw(m *message, watch map[string]bool) (models.RawMessage, bool) {
	if m == nil || m.Chat.Username == "" {
		return models.RawMessage{}, false
	}
	username := strings.ToLower(m.Chat.Username)
	if !watch[username] {
		return models.RawMessage{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return models.RawMessage{}, false
	}
	return models.RawMessage{
		Source:      username,
		SourceTitle: m.Chat.Title,
		Permalink:   models.Permalink(username, m.MessageID),
		MessageID:   m.MessageID,
		Text:        text,
		Date:        time.Unix(m.Date, 0).UTC(),
		ReceivedAt:  c.now(),
	}, true
}
