package server

import (
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

type itemView struct {
	ID        int64          `json:"id"`
	Source    string         `json:"source"`
	Permalink string         `json:"permalink"`
	Text      string         `json:"text"`
	Bucket    models.Bucket  `json:"bucket"`
	Verdict   models.Verdict `json:"verdict"`
	Action    string         `json:"action,omitempty"`
	At        time.Time      `json:"at"`
}

func auditViews(entries []database.AuditEntry) []itemView {
	views := make([]itemView, 0, len(entries))
	for _, e := range entries {
		views = append(views, itemView{
			ID: e.ID, Source: e.Source, Permalink: e.Permalink, Text: e.Text,
			Bucket: e.Bucket, Verdict: e.Verdict, Action: e.Action, At: e.CreatedAt,
		})
	}
	return views
}

func batchViews(items []database.BatchItem) []itemView {
	views := make([]itemView, 0, len(items))
	for _, b := range items {
		views = append(views, itemView{
			ID: b.ID, Source: b.Source, Permalink: b.Permalink, Text: b.Text,
			Bucket: models.BucketMedium, Verdict: b.Verdict, Action: models.ActionQueuedMedium, At: b.ReceivedAt,
		})
	}
	return views
}

type postView struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	Content     string     `json:"content"`
	SourceURLs  []string   `json:"source_urls"`
	MessageRef  *int64     `json:"message_ref"`
	PublishedAt time.Time  `json:"published_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func publishedViews(posts []database.PublishedRecord) []postView {
	views := make([]postView, 0, len(posts))
	for _, p := range posts {
		views = append(views, postView{
			ID: p.ID, Type: p.PostType, Content: p.Content, SourceURLs: p.SourceURLs,
			MessageRef: p.MessageRef, PublishedAt: p.PublishedAt, UpdatedAt: p.UpdatedAt,
		})
	}
	return views
}

type sourceView struct {
	Username    string     `json:"username"`
	Title       *string    `json:"title"`
	MemberCount int        `json:"member_count"`
	Active      bool       `json:"active"`
	AddedAt     time.Time  `json:"added_at"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

func sourceViews(sources []database.Source) []sourceView {
	views := make([]sourceView, 0, len(sources))
	for _, s := range sources {
		views = append(views, sourceView{
			Username: s.Username, Title: s.Title, MemberCount: s.MemberCount,
			Active: s.IsActive, AddedAt: s.AddedAt, LastSeenAt: s.LastSeenAt,
		})
	}
	return views
}

func dailyView(d *database.DailyStats) map[string]int {
	return map[string]int{
		"high":          d.High,
		"medium":        d.Medium,
		"low":           d.Low,
		"pending_batch": d.PendingBatch,
		"published":     d.Published,
	}
}

func queueCountsView(c *database.QueueCounts) map[string]int {
	return map[string]int{
		"total":     c.Total,
		"pending":   c.Pending,
		"failed":    c.Failed,
		"processed": c.Processed,
	}
}
