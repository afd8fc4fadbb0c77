// Package ollama implements the Model Capability Layer's text-embedding,
// image-captioning, and LLM chat-completion capabilities against a local
// Ollama server's HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/lumenforge/contentbase/engine/capability"
)

// Client implements capability.TextEmbedding, capability.ImageCaption, and
// capability.LLM against Ollama's HTTP API. One Client per configured
// model; the engine wires each into its own capability.BatchHandler.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// New creates an Ollama-backed client for one model.
func New(baseURL, model string) *Client {
	return &Client{baseURL: baseURL, model: model, http: &http.Client{}}
}

var (
	_ capability.TextEmbedding       = (*Client)(nil)
	_ capability.MultiModalEmbedding = (*Client)(nil)
	_ capability.ImageCaption        = (*Client)(nil)
	_ capability.LLM                 = (*Client)(nil)
)

type embedRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt,omitempty"`
	Images []string `json:"images,omitempty"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// EmbedText implements capability.TextEmbedding.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.postJSON(ctx, "/api/embeddings", embedRequest{Model: c.model, Prompt: text}, &resp); err != nil {
		return nil, fmt.Errorf("ollama: embed text: %w", err)
	}
	return toFloat32(resp.Embedding), nil
}

// EmbedImage implements capability.ImageEmbedding, the vision half of a
// multi-modal embedding model, by sending the image inline as base64.
func (c *Client) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("ollama: read image %q: %w", imagePath, err)
	}
	var resp embedResponse
	req := embedRequest{Model: c.model, Images: []string{base64.StdEncoding.EncodeToString(data)}}
	if err := c.postJSON(ctx, "/api/embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("ollama: embed image: %w", err)
	}
	return toFloat32(resp.Embedding), nil
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Caption implements capability.ImageCaption by sending the image bytes
// inline as a base64-encoded vision prompt.
func (c *Client) Caption(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("ollama: read image %q: %w", imagePath, err)
	}
	req := generateRequest{
		Model:  c.model,
		Prompt: "Describe this image in one concise sentence.",
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	}
	var resp generateResponse
	if err := c.postJSON(ctx, "/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("ollama: caption: %w", err)
	}
	return resp.Response, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	RepeatLastN int     `json:"repeat_last_n,omitempty"`
	RepeatPenalty float32 `json:"repeat_penalty,omitempty"`
	Seed        int64   `json:"seed,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatStreamLine struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Complete implements capability.LLM, streaming Ollama's NDJSON chat
// response onto a channel of content deltas. The channel closes when
// Ollama reports done, ctx is cancelled, or the HTTP body ends.
func (c *Client) Complete(ctx context.Context, history []capability.Message, params capability.CompletionParams) (<-chan string, error) {
	msgs := make([]chatMessage, len(history))
	for i, m := range history {
		msgs[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   true,
		Options: chatOptions{
			Temperature:   params.Temperature,
			TopP:          params.TopP,
			TopK:          params.TopK,
			RepeatLastN:   params.RepeatLastN,
			RepeatPenalty: params.RepeatPenalty,
			Seed:          params.Seed,
			NumPredict:    params.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama chat: %v", capability.ErrNoResult, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: chat status %d", resp.StatusCode)
	}

	tokens := make(chan string)
	go func() {
		defer resp.Body.Close()
		defer close(tokens)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var line chatStreamLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue
			}
			if line.Message.Content != "" {
				select {
				case tokens <- line.Message.Content:
				case <-ctx.Done():
					return
				}
			}
			if line.Done {
				return
			}
		}
	}()
	return tokens, nil
}

func (c *Client) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
