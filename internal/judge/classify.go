package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/llm"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

const classifyPrompt = `You are the news triage system for a Telegram news channel.

Channel voice:
%s

Current situation brief (background only, do not judge it):
%s

Decide how important the MESSAGE below is for the channel.

HIGH: breaking news that must be published now, or that will clearly matter in the near future.
MEDIUM: important news that belongs in the next periodic digest.
LOW: minor items, fragments, single sentences with no news value, opinions of the channel owner, or advertisements.

Source channel: %s
Link: %s

MESSAGE:
%s

Respond with ONLY this JSON:
{
    "bucket": "high" | "medium" | "low",
    "headline": "3-6 word headline",
    "novelty_delta": "One sentence: what is new compared to the situation brief",
    "reason": "One short sentence explaining the bucket",
    "key_points": ["point 1", "point 2"]
}`

// Classify asks the oracle for a verdict. An empty reply or one without a
// bucket is a failure; an unrecognized bucket is passed through so the
// router can apply its own default.
func (o *Oracle) Classify(ctx context.Context, in ClassifyInput) (*models.Verdict, error) {
	prompt := fmt.Sprintf(classifyPrompt, o.voice(), orNone(in.Context), in.Source, in.Permalink, in.Text)

	raw, err := o.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	parsed := llm.ParseJSONResponse(raw)
	bucket := strings.ToLower(strings.TrimSpace(llm.GetString(parsed, "bucket")))
	if parsed == nil || bucket == "" {
		o.log.Error("malformed classification response", "permalink", in.Permalink, "raw", raw)
		return nil, fmt.Errorf("classify: %w", ErrMalformedResponse)
	}

	keyPoints := llm.GetStrings(parsed, "key_points")
	if len(keyPoints) > 5 {
		keyPoints = keyPoints[:5]
	}

	return &models.Verdict{
		Bucket:    models.Bucket(bucket),
		Rationale: llm.GetString(parsed, "reason"),
		Novelty:   llm.GetString(parsed, "novelty_delta"),
		KeyPoints: keyPoints,
		Headline:  llm.GetString(parsed, "headline"),
	}, nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None yet"
	}
	return s
}
