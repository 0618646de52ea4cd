package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidMessage is returned by RawMessage.Validate.
var ErrInvalidMessage = errors.New("invalid message")

// RawMessage is an inbound item from a source feed. Permalink is its identity.
type RawMessage struct {
	Source      string    `json:"source"`
	SourceTitle string    `json:"source_title,omitempty"`
	Permalink   string    `json:"permalink"`
	MessageID   int64     `json:"message_id,omitempty"`
	Text        string    `json:"text"`
	Date        time.Time `json:"date"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Validate checks the fields every downstream stage relies on.
func (m RawMessage) Validate() error {
	switch {
	case strings.TrimSpace(m.Source) == "":
		return fmt.Errorf("%w: missing source", ErrInvalidMessage)
	case strings.TrimSpace(m.Permalink) == "":
		return fmt.Errorf("%w: missing permalink", ErrInvalidMessage)
	case strings.TrimSpace(m.Text) == "":
		return fmt.Errorf("%w: empty text for %s", ErrInvalidMessage, m.Permalink)
	case m.Date.IsZero():
		return fmt.Errorf("%w: missing date for %s", ErrInvalidMessage, m.Permalink)
	}
	return nil
}

// Bucket is the categorical importance of a message.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// ParseBucket normalizes s and reports whether it names a known bucket.
func ParseBucket(s string) (Bucket, bool) {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(s))); b {
	case BucketHigh, BucketMedium, BucketLow:
		return b, true
	default:
		return BucketLow, false
	}
}

// Verdict is the classification result for one message.
type Verdict struct {
	Bucket    Bucket   `json:"bucket"`
	Rationale string   `json:"reason"`
	Novelty   string   `json:"novelty_delta"`
	KeyPoints []string `json:"key_points"`
	Headline  string   `json:"headline,omitempty"`
}

// Actions recorded on audit log entries.
const (
	ActionPostedHigh        = "posted_high"
	ActionPostFailed        = "post_failed"
	ActionQueuedMedium      = "queued_medium"
	ActionDiscardedLow      = "discarded_low"
	ActionPromotedAndPosted = "promoted_and_posted"
	ActionPromotedToMedium  = "promoted_to_medium"
	ActionDemotedToMedium   = "demoted_to_medium"
	ActionDemotedToLow      = "demoted_to_low"
)

// Publication types.
const (
	PostTypeHigh        = "high"
	PostTypeBatchDigest = "batch_digest"
)

// Permalink builds the public URL of a channel post.
func Permalink(username string, messageID int64) string {
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(username, "@"), messageID)
}
