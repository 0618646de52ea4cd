package database

import (
	"time"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

// QueueRecord is the durable wrapper of a message awaiting processing.
type QueueRecord struct {
	ID                  string
	Message             models.RawMessage
	ReceivedAt          time.Time
	ProcessingStartedAt *time.Time
	Processed           bool
	ProcessedAt         *time.Time
	Error               *string
}

// BatchItem is a medium-bucket item waiting for the next digest.
type BatchItem struct {
	ID          int64
	Source      string
	Permalink   string
	Text        string
	Verdict     models.Verdict
	Score       int
	ClassifyMS  int64
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
}

// AuditEntry records a terminal decision for a message.
type AuditEntry struct {
	ID         int64
	Source     string
	Permalink  string
	Text       string
	Bucket     models.Bucket
	Score      int
	Verdict    models.Verdict
	Action     string
	ClassifyMS int64
	CreatedAt  time.Time
}

// PublishedRecord is one publication in the output channel.
type PublishedRecord struct {
	ID          int64
	PostType    string
	Content     string
	SourceURLs  []string
	MessageRef  *int64
	PublishedAt time.Time
	UpdatedAt   *time.Time
}

// Source is a subscribed feed: a channel username or a feed URL.
type Source struct {
	ID          int64
	Username    string
	Title       *string
	MemberCount int
	IsActive    bool
	AddedAt     time.Time
	LastSeenAt  *time.Time
}

// QueueCounts summarizes the queue_records table.
type QueueCounts struct {
	Total     int
	Pending   int
	Failed    int
	Processed int
}

// DailyStats counts decisions since the start of the day.
type DailyStats struct {
	High         int
	Medium       int
	Low          int
	PendingBatch int
	Published    int
}
