package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lumenforge/contentbase/engine/capability"
)

func TestEmbedTextParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(srv.URL, "nomic-embed-text")
	got, err := c.EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(got) != 3 || got[0] != float32(0.1) {
		t.Fatalf("unexpected embedding: %v", got)
	}
}

func TestCompleteStreamsTokensUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		lines := []chatStreamLine{
			{Message: chatMessage{Role: "assistant", Content: "hel"}},
			{Message: chatMessage{Role: "assistant", Content: "lo"}},
			{Message: chatMessage{Role: "assistant", Content: ""}, Done: true},
		}
		for _, l := range lines {
			json.NewEncoder(w).Encode(l)
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	tokens, err := c.Complete(context.Background(), []capability.Message{
		{Role: capability.RoleUser, Content: "hi"},
	}, capability.DefaultCompletionParams)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var got string
	for tok := range tokens {
		got += tok
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestCaptionRejectsMissingFile(t *testing.T) {
	c := New("http://unused.invalid", "llava")
	if _, err := c.Caption(context.Background(), "/no/such/file.jpg"); err == nil {
		t.Fatal("expected error for missing image file")
	}
}
