package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lumenforge/contentbase/engine/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httptestBody(s string) io.Reader {
	return strings.NewReader(s)
}

func TestHealthEndpoint(t *testing.T) {
	srv := &httpServer{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8090" {
		t.Fatalf("expected default port 8090, got %s", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("expected default CORS *, got %s", cfg.CORSOrigin)
	}
	if cfg.S3 {
		t.Fatalf("expected S3 disabled by default")
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestEnvOrInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT_XYZ", "42")
	if v := envOrInt("TEST_ENV_INT_XYZ", 7); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envOrInt("NONEXISTENT_INT_ABC", 7); v != 7 {
		t.Fatalf("expected fallback 7, got %d", v)
	}
	t.Setenv("TEST_ENV_INT_BAD", "not-a-number")
	if v := envOrInt("TEST_ENV_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for unparseable value, got %d", v)
	}
}

func TestKindFromExt(t *testing.T) {
	cases := []struct {
		name string
		want domain.ContentKind
		ok   bool
	}{
		{"clip.mp4", domain.KindVideo, true},
		{"clip.MOV", domain.KindVideo, true},
		{"track.mp3", domain.KindAudio, true},
		{"photo.jpeg", domain.KindImage, true},
		{"page.html", domain.KindWebPage, true},
		{"notes.md", domain.KindRawText, true},
		{"archive.zip", "", false},
	}
	for _, c := range cases {
		got, ok := kindFromExt(c.name)
		if ok != c.ok || got != c.want {
			t.Errorf("kindFromExt(%q) = (%q, %v), want (%q, %v)", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestLeafTaskTypes_CoversEveryKind(t *testing.T) {
	for _, kind := range []domain.ContentKind{domain.KindVideo, domain.KindAudio, domain.KindImage, domain.KindRawText, domain.KindWebPage} {
		tts := leafTaskTypes(kind)
		if len(tts) == 0 {
			t.Errorf("leafTaskTypes(%s) returned no task types", kind)
		}
		for _, tt := range tts {
			if tt.Kind != kind {
				t.Errorf("leafTaskTypes(%s): task type %s has mismatched kind", kind, tt)
			}
		}
	}
}

func TestHandleIngest_MissingName(t *testing.T) {
	srv := &httpServer{logger: testLogger()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/files", nil)
	srv.handleIngest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleIngest_UnrecognizedExtension(t *testing.T) {
	srv := &httpServer{logger: testLogger()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/files?name=mystery.bin", nil)
	srv.handleIngest(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHandleQuery_EmptyText(t *testing.T) {
	srv := &httpServer{logger: testLogger()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/query", httptestBody(`{"text":""}`))
	srv.handleQuery(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
