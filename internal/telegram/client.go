// Package telegram talks to the Bot API for publishing and channel_post
// updates, and reads public channel history from the t.me web preview.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/backoff"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
)

// ErrNotConfigured is returned when no bot token is available.
var ErrNotConfigured = errors.New("telegram bot token not configured")

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: %d %s (retry after %ds)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type Options struct {
	APIURL      string
	PreviewURL  string
	Token       string
	Target      string
	PollTimeout time.Duration
	Reconnect   backoff.Policy
	HTTPClient  *http.Client
}

// Client implements the publishing, subscription and history contracts.
type Client struct {
	opts   Options
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

var (
	_ gateway.Publisher  = (*Client)(nil)
	_ gateway.Subscriber = (*Client)(nil)
	_ gateway.History    = (*Client)(nil)
)

func New(opts Options, logger *slog.Logger) *Client {
	if opts.APIURL == "" {
		opts.APIURL = "https://api.telegram.org"
	}
	if opts.PreviewURL == "" {
		opts.PreviewURL = "https://t.me/s"
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.Reconnect.Attempts == 0 {
		opts.Reconnect = backoff.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.PollTimeout + 15*time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, client: client, log: logger.With("component", "telegram"), now: time.Now}
}

// IsConfigured reports whether a bot token is set.
func (c *Client) IsConfigured() bool {
	return c.opts.Token != ""
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(c.opts.APIURL, "/"), c.opts.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: reading response: %w", method, err)
	}
	var r apiResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("telegram %s: HTTP %d: %w", method, resp.StatusCode, err)
	}
	if !r.OK {
		return &APIError{Method: method, Code: r.ErrorCode, Description: r.Description, RetryAfter: r.Parameters.RetryAfter}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}

type message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	Chat      chat   `json:"chat"`
}

type chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

func (c *Client) chatID() string {
	t := strings.TrimSpace(c.opts.Target)
	if t == "" || strings.HasPrefix(t, "@") || strings.HasPrefix(t, "-") {
		return t
	}
	return "@" + t
}

// Publish sends text, rendered from markdown to Telegram HTML, to the target channel.
func (c *Client) Publish(ctx context.Context, text string) (int64, error) {
	var m message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  c.chatID(),
		"text":                     Format(text),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, &m)
	if err != nil {
		return 0, err
	}
	c.log.Info("message published", "message_id", m.MessageID)
	return m.MessageID, nil
}

// Edit replaces the text of a published message.
func (c *Client) Edit(ctx context.Context, ref int64, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":                  c.chatID(),
		"message_id":               ref,
		"text":                     Format(text),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, nil)
	if err != nil {
		return err
	}
	c.log.Info("message edited", "message_id", ref)
	return nil
}

func (c *Client) Delete(ctx context.Context, ref int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    c.chatID(),
		"message_id": ref,
	}, nil)
}

// ChatInfo describes a public channel.
type ChatInfo struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Title       string `json:"title"`
	MemberCount int    `json:"member_count"`
}

// LookupChat resolves a channel username to its title and member count.
func (c *Client) LookupChat(ctx context.Context, username string) (*ChatInfo, error) {
	id := "@" + strings.TrimPrefix(strings.TrimSpace(username), "@")
	var ch chat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": id}, &ch); err != nil {
		return nil, err
	}
	info := &ChatInfo{ID: ch.ID, Username: ch.Username, Title: ch.Title}
	var count int
	if err := c.call(ctx, "getChatMemberCount", map[string]any{"chat_id": id}, &count); err != nil {
		c.log.Warn("member count unavailable", "chat", id, "error", err)
	} else {
		info.MemberCount = count
	}
	return info, nil
}
