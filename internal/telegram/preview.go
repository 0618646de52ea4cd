package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// FetchRecent reads up to limit of the newest messages of a public channel
// from its web preview, paging backwards. Messages come back oldest first.
func (c *Client) FetchRecent(ctx context.Context, source string, limit int) ([]models.RawMessage, error) {
	username := database.NormalizeSource(source)
	if username == "" {
		return nil, fmt.Errorf("empty channel username")
	}
	if limit <= 0 {
		limit = 100
	}

	seen := make(map[int64]bool)
	var msgs []models.RawMessage
	var before int64
	for len(msgs) < limit {
		page, err := c.fetchPreview(ctx, username, before)
		if err != nil {
			if len(msgs) > 0 {
				c.log.Warn("preview paging stopped early", "channel", username, "error", err)
				break
			}
			return nil, err
		}

		added := 0
		for _, m := range page {
			if seen[m.MessageID] {
				continue
			}
			seen[m.MessageID] = true
			msgs = append(msgs, m)
			added++
			if before == 0 || m.MessageID < before {
				before = m.MessageID
			}
		}
		if added == 0 || before <= 1 {
			break
		}
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].MessageID > msgs[j].MessageID })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })
	return msgs, nil
}

func (c *Client) fetchPreview(ctx context.Context, username string, before int64) ([]models.RawMessage, error) {
	pageURL := fmt.Sprintf("%s/%s", strings.TrimRight(c.opts.PreviewURL, "/"), username)
	if before > 0 {
		pageURL += "?before=" + strconv.FormatInt(before, 10)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "autonews/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request preview: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview of %s returned %s", username, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse preview: %w", err)
	}
	return c.extractMessages(doc, username), nil
}

func (c *Client) extractMessages(doc *goquery.Document, username string) []models.RawMessage {
	title := strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text())

	var msgs []models.RawMessage
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, s *goquery.Selection) {
		post, _ := s.Attr("data-post")
		id, ok := postID(post)
		if !ok {
			return
		}

		body := s.Find(".tgme_widget_message_text").First()
		body.Find("br").ReplaceWithHtml("\n")
		text := strings.TrimSpace(body.Text())
		if text == "" {
			return
		}

		stamp, _ := s.Find(".tgme_widget_message_date time").First().Attr("datetime")
		date, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return
		}

		msgs = append(msgs, models.RawMessage{
			Source:      username,
			SourceTitle: title,
			Permalink:   models.Permalink(username, id),
			MessageID:   id,
			Text:        text,
			Date:        date.UTC(),
			ReceivedAt:  c.now(),
		})
	})
	return msgs
}

// postID parses the "channel/123" data-post attribute.
func postID(post string) (int64, bool) {
	i := strings.LastIndex(post, "/")
	if i < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(post[i+1:], 10, 64)
	return id, err == nil
}
