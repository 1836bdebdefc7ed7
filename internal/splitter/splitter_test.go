package splitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	text := "hello world"
	chunks := Split(text, MaxMsgLen)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("Split(short) = %v, want [%q]", chunks, text)
	}
}

func TestSplitRespectsMaxLen(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("this is a sentence. ")
	}
	text := b.String()

	chunks := Split(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d has length %d > 100", i, len(c))
		}
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("a", 50)
	para2 := strings.Repeat("b", 50)
	text := para1 + "\n\n" + para2

	chunks := Split(text, 60)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != para1 {
		t.Errorf("chunk 0 = %q, want %q", chunks[0], para1)
	}
	if chunks[1] != para2 {
		t.Errorf("chunk 1 = %q, want %q", chunks[1], para2)
	}
}

func TestSplitHardCutsWithNoBoundary(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := Split(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	joined := strings.Join(chunks, "")
	if joined != text {
		t.Errorf("joined chunks do not reconstruct original text")
	}
}

func TestExtractTitleFromHeading(t *testing.T) {
	msg := "intro line\n## My Title\nmore body"
	if got := ExtractTitle(msg); got != "My Title" {
		t.Errorf("ExtractTitle = %q, want %q", got, "My Title")
	}
}

func TestExtractTitleFromFirstLine(t *testing.T) {
	msg := "\n\nShort first line\nrest of message"
	if got := ExtractTitle(msg); got != "Short first line" {
		t.Errorf("ExtractTitle = %q, want %q", got, "Short first line")
	}
}

func TestExtractTitleFallsBackToTruncation(t *testing.T) {
	msg := strings.Repeat("w", 200)
	got := ExtractTitle(msg)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("ExtractTitle = %q, want suffix ...", got)
	}
	if len([]rune(got)) != 63 {
		t.Errorf("ExtractTitle length = %d, want 63", len([]rune(got)))
	}
}

func TestExtractPreviewStripsMarkdownAndTruncates(t *testing.T) {
	msg := "# Heading\n" + strings.Repeat("*body* ", 100)
	preview := ExtractPreview(msg)
	if strings.Contains(preview, "#") || strings.Contains(preview, "*") {
		t.Errorf("preview still contains markdown markers: %q", preview[:40])
	}
	if !strings.HasSuffix(preview, "...") {
		t.Error("expected truncated preview to end with ellipsis")
	}
}

func TestTryPublishSkippedWhenDisabled(t *testing.T) {
	p := NewPublisher(PublisherConfig{})
	msg, ok := p.TryPublish(context.Background(), strings.Repeat("a", PublishThreshold+1))
	if ok || msg != "" {
		t.Errorf("expected no publish when disabled, got ok=%v msg=%q", ok, msg)
	}
}

func TestTryPublishSkippedWhenUnderThreshold(t *testing.T) {
	p := NewPublisher(PublisherConfig{URL: "http://example.invalid"})
	msg, ok := p.TryPublish(context.Background(), "short text")
	if ok || msg != "" {
		t.Errorf("expected no publish under threshold, got ok=%v msg=%q", ok, msg)
	}
}

func TestTryPublishSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/publish" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("unexpected auth header %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(publishResponse{ID: "abc123", URL: "http://host/ignored"})
	}))
	defer srv.Close()

	p := NewPublisher(PublisherConfig{URL: srv.URL, Token: "tok", PublicURL: "http://public.example"})
	msg, ok := p.TryPublish(context.Background(), strings.Repeat("a", PublishThreshold+10))
	if !ok {
		t.Fatal("expected successful publish")
	}
	if !strings.Contains(msg, "http://public.example/p/abc123") {
		t.Errorf("summary message missing expected url: %q", msg)
	}
}

func TestTryPublishFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPublisher(PublisherConfig{URL: srv.URL, Token: "tok"})
	msg, ok := p.TryPublish(context.Background(), strings.Repeat("a", PublishThreshold+10))
	if ok || msg != "" {
		t.Errorf("expected fallback on server error, got ok=%v msg=%q", ok, msg)
	}
}
