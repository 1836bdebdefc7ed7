// Package splitter chunks outbound messages for channel size limits and,
// for oversize messages, optionally publishes the full content to an
// external content host and replaces the delivered text with a short
// summary and link.
package splitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Size thresholds from the spec.
const (
	PublishThreshold  = 3000
	MaxMsgLen         = 4000
	SummaryPreviewLen = 200
)

var headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)`)

// ExtractTitle tries, in order: the first markdown heading (trimmed, max
// 100 chars); else the first non-empty line if <= 100 chars; else the
// first 60 characters followed by "...".
func ExtractTitle(message string) string {
	if m := headingRe.FindStringSubmatch(message); m != nil {
		title := strings.TrimSpace(m[1])
		if len(title) > 100 {
			title = title[:100]
		}
		return title
	}
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) <= 100 {
			return line
		}
		break
	}
	runes := []rune(message)
	n := 60
	if len(runes) < n {
		n = len(runes)
	}
	return string(runes[:n]) + "..."
}

var markdownStripRe = regexp.MustCompile("^#{1,6}\\s+|[*_~`]")

// ExtractPreview strips leading markdown heading markers and *_~` from
// message, then truncates to SummaryPreviewLen with an ellipsis.
func ExtractPreview(message string) string {
	cleaned := markdownStripRe.ReplaceAllString(message, "")
	cleaned = strings.TrimSpace(cleaned)
	runes := []rune(cleaned)
	if len(runes) <= SummaryPreviewLen {
		return cleaned
	}
	return string(runes[:SummaryPreviewLen]) + "..."
}

// Split breaks text into chunks of at most maxLen bytes, preferring to
// break on paragraph ("\n\n") then line ("\n") boundaries found in the
// trailing 70% of the window, to avoid pathologically tiny leading
// chunks. If no such boundary exists, it hard-cuts at the last UTF-8
// character boundary at or before maxLen.
func Split(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	threshold := int(0.3 * float64(maxLen))
	var chunks []string
	remaining := text

	for len(remaining) > maxLen {
		window := remaining[:maxLen]

		if idx := strings.LastIndex(window, "\n\n"); idx > threshold {
			chunks = append(chunks, strings.TrimRight(remaining[:idx], " \t\n"))
			remaining = remaining[idx+2:]
			continue
		}
		if idx := strings.LastIndex(window, "\n"); idx > threshold {
			chunks = append(chunks, strings.TrimRight(remaining[:idx], " \t\n"))
			remaining = remaining[idx+1:]
			continue
		}
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(remaining[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// PublisherConfig configures the external content publisher.
type PublisherConfig struct {
	URL       string
	Token     string
	PublicURL string
}

// Enabled reports whether oversize publishing is configured.
func (c PublisherConfig) Enabled() bool {
	return c.URL != ""
}

type publishRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

type publishResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Publisher posts oversize content to the external publisher and
// returns the short summary to deliver in its place. On any failure it
// returns ok=false and the caller should fall through to chunked
// delivery of the original message.
type Publisher struct {
	cfg    PublisherConfig
	client *http.Client
}

// NewPublisher creates a Publisher with a 10s-timeout HTTP client.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// TryPublish posts message if it exceeds PublishThreshold and a
// publisher is configured. It returns the summary text to deliver and
// true on success, or ("", false) if publishing was skipped or failed —
// in which case the caller must fall back to chunking the original
// message.
func (p *Publisher) TryPublish(ctx context.Context, message string) (string, bool) {
	if !p.cfg.Enabled() || len(message) <= PublishThreshold {
		return "", false
	}

	title := ExtractTitle(message)
	preview := ExtractPreview(message)

	reqBody, err := json.Marshal(publishRequest{
		Title:   title,
		Body:    message,
		Type:    "markdown",
		Summary: preview,
	})
	if err != nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.URL, "/")+"/api/publish", bytes.NewReader(reqBody))
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}

	var parsed publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false
	}

	publicURL := parsed.URL
	if p.cfg.PublicURL != "" {
		publicURL = strings.TrimRight(p.cfg.PublicURL, "/") + "/p/" + parsed.ID
	}

	return fmt.Sprintf("%s\n\n%s\n\nLire la suite : %s", title, preview, publicURL), true
}
