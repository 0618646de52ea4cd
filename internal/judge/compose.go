package judge

import (
	"context"
	"fmt"
	"strings"
)

const singlePostPrompt = `You are writing a post for a Telegram news channel.

Channel voice:
%s

Exact format (Markdown):
<2-3 emoji> **<headline, 3-6 words>**

[%s | link](%s)

<one or two sentences of explanation>

%s

Rules:
- Emoji go before the headline on the same line
- The source link goes on the line right after the headline and must use the exact URL above
- End with the signature exactly once

Current situation (background):
%s

New HIGH message:
%s

Key points:
%s

Reason: %s
Novelty: %s

Write the post. Return ONLY the post text.`

const digestPrompt = `You are writing a periodic digest for a Telegram news channel.

Channel voice:
%s

Exact format (Markdown):
🕐 **%s**

<emoji> <one short sentence per news item>
[<source> | link](<exact URL of that item>)

(3-8 items in total)

%s

Rules:
- Every item is one short factual sentence, no analysis or speculation
- The source line goes right under its item and uses that item's own URL
- Merge items about the same event

Current situation (background):
%s

Items (%d):
%s

Return ONLY the digest text.`

const contextSummaryPrompt = `You are the news analyst for a Telegram news channel.

Channel voice:
%s

Analyze ALL of the messages collected from the channel's sources over the past day and write a situation brief: the most important themes, trends and developments, written as coherent prose. Focus on themes, not individual messages.

Messages:
%s

Return ONLY the situation brief text, no JSON.`

const contextMergePrompt = `You maintain the situation brief of a news channel: a compact summary of what is currently known (at most %d characters).

Read the current brief, take the new event, and write a new brief that drops stale minor details, adds the new event, and stays compact enough to guide the next triage.

Current brief:
%s

New event (%s):
%s

Return ONLY the new brief text.`

// Compose writes text in the given mode.
func (o *Oracle) Compose(ctx context.Context, mode Mode, in ComposeInput) (string, error) {
	var prompt string
	switch mode {
	case ModeSinglePost:
		prompt = fmt.Sprintf(singlePostPrompt,
			o.voice(), in.Source, in.Permalink, o.opts.Signature,
			truncate(orNone(in.Context), 500), in.Text,
			bulletList(in.Verdict.KeyPoints), in.Verdict.Rationale, in.Verdict.Novelty)
	case ModeDigest:
		if len(in.Items) == 0 {
			return "", fmt.Errorf("compose digest: no items")
		}
		prompt = fmt.Sprintf(digestPrompt,
			o.voice(), in.WindowLabel, o.opts.Signature, orNone(in.Context),
			len(in.Items), digestItems(in.Items))
	case ModeContextSummary:
		prompt = fmt.Sprintf(contextSummaryPrompt, o.voice(), strings.Join(in.Messages, "\n\n"))
	case ModeContextMerge:
		eventType := in.EventType
		if eventType == "" {
			eventType = "event"
		}
		prompt = fmt.Sprintf(contextMergePrompt, o.opts.ContextMaxLength, orNone(in.Context), eventType, in.Event)
	default:
		return "", fmt.Errorf("compose: unknown mode %q", mode)
	}

	text, err := o.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("compose %s: %w", mode, err)
	}

	switch mode {
	case ModeSinglePost, ModeDigest:
		text = withSignature(text, o.opts.Signature)
	case ModeContextMerge:
		text = truncate(text, o.opts.ContextMaxLength)
	}
	return text, nil
}

func bulletList(points []string) string {
	if len(points) == 0 {
		return "- none"
	}
	lines := make([]string, len(points))
	for i, p := range points {
		lines[i] = "- " + p
	}
	return strings.Join(lines, "\n")
}

func digestItems(items []DigestItem) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. Source: %s\n", i+1, item.Source)
		fmt.Fprintf(&b, "   Link: %s\n", item.Permalink)
		fmt.Fprintf(&b, "   Text: %s\n", truncate(item.Text, 300))
		if len(item.KeyPoints) > 0 {
			fmt.Fprintf(&b, "   Key points: %s\n", strings.Join(item.KeyPoints, ", "))
		}
	}
	return b.String()
}

// withSignature appends sig unless the text already ends with it.
func withSignature(text, sig string) string {
	sig = strings.TrimSpace(sig)
	if sig == "" || strings.HasSuffix(strings.TrimSpace(text), sig) {
		return text
	}
	return text + "\n\n" + sig
}
