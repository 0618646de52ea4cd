package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

const minExtractedLength = 100

// Extractor fetches an article page and returns its readable text.
type Extractor struct {
	client *http.Client
}

func NewExtractor(client *http.Client) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Extractor{client: client}
}

// Extract returns the main text of the page at articleURL. Pages yielding
// less than a paragraph of text are reported as errors.
func (e *Extractor) Extract(ctx context.Context, articleURL string) (string, error) {
	parsedURL, err := url.Parse(articleURL)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "autonews/1.0 (news aggregator)")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: %s", articleURL, resp.Status)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", articleURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minExtractedLength {
		return "", fmt.Errorf("no extractable content at %s", articleURL)
	}
	return text, nil
}
