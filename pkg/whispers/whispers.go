// Package whispers implements the Model Capability Layer's
// AudioTranscript capability against a whisper.cpp-compatible HTTP
// transcription server (the same wire shape whisper.cpp's server example
// and faster-whisper-server expose).
package whispers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lumenforge/contentbase/engine/capability"
)

// Client implements capability.AudioTranscript over HTTP multipart upload.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a whisper-server-backed transcription client.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

var _ capability.AudioTranscript = (*Client)(nil)

type segmentWire struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type transcriptionResponse struct {
	Language string        `json:"language"`
	Segments []segmentWire `json:"segments"`
}

// Transcribe implements capability.AudioTranscript by POSTing the WAV
// file's bytes as multipart/form-data and decoding the segment list.
func (c *Client) Transcribe(ctx context.Context, wavPath string) (capability.Transcript, error) {
	body, contentType, err := buildMultipartBody(wavPath)
	if err != nil {
		return capability.Transcript{}, fmt.Errorf("whispers: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return capability.Transcript{}, fmt.Errorf("whispers: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return capability.Transcript{}, fmt.Errorf("%w: whispers transcribe: %v", capability.ErrNoResult, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return capability.Transcript{}, fmt.Errorf("whispers: status %d: %s", resp.StatusCode, data)
	}

	var wire transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return capability.Transcript{}, fmt.Errorf("whispers: decode response: %w", err)
	}

	out := capability.Transcript{Language: wire.Language, Segments: make([]capability.TranscriptSegment, len(wire.Segments))}
	for i, s := range wire.Segments {
		out.Segments[i] = capability.TranscriptSegment{
			StartMS: int64(s.Start * 1000),
			EndMS:   int64(s.End * 1000),
			Text:    s.Text,
		}
	}
	return out, nil
}

func buildMultipartBody(wavPath string) (io.Reader, string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
