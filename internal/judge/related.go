package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/llm"
)

const relatedPrompt = `You are a news similarity analyzer for a Telegram news channel.

Current situation:
%s

Decide whether the NEW MESSAGE is about the SAME topic or event as one of the recent posts. Answer 0 when it is a different story.

Recent published posts:
%s
NEW MESSAGE:
%s

Key points: %s
Novelty: %s

Respond with ONLY this JSON:
{
    "related_post_number": 0,
    "reason": "short reason"
}

related_post_number is the number (1-%d) of the post about the same event, or 0 for a different topic.`

const candidatePreview = 200

// FindRelated asks which candidate, if any, the message continues. Zero
// and out-of-range answers mean no match.
func (o *Oracle) FindRelated(ctx context.Context, in RelatedInput) (int, bool, error) {
	if len(in.Candidates) == 0 {
		return 0, false, nil
	}

	var posts strings.Builder
	for i, c := range in.Candidates {
		fmt.Fprintf(&posts, "%d. %s\n\n", i+1, truncate(c, candidatePreview))
	}

	prompt := fmt.Sprintf(relatedPrompt,
		orNone(in.Context), posts.String(), in.Text,
		strings.Join(in.Verdict.KeyPoints, ", "), in.Verdict.Novelty, len(in.Candidates))

	raw, err := o.generate(ctx, prompt)
	if err != nil {
		return 0, false, fmt.Errorf("find related: %w", err)
	}

	parsed := llm.ParseJSONResponse(raw)
	n, ok := llm.GetInt(parsed, "related_post_number")
	if !ok {
		o.log.Error("malformed similarity response", "raw", raw)
		return 0, false, fmt.Errorf("find related: %w", ErrMalformedResponse)
	}
	if n < 1 || n > len(in.Candidates) {
		o.log.Debug("no related post", "answer", n, "reason", llm.GetString(parsed, "reason"))
		return 0, false, nil
	}
	o.log.Info("related post found", "number", n, "reason", llm.GetString(parsed, "reason"))
	return n - 1, true, nil
}
