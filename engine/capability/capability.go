// Package capability defines the Model Capability Layer: narrow
// interfaces for the AI operations the pipeline needs (embedding,
// captioning, transcription, chat completion) plus BatchHandler, the
// single-owner mailbox that serializes and batches calls into one
// concrete model and lazily unloads it after an idle period.
package capability

import (
	"context"
	"errors"
	"time"
)

// Errors surfaced by BatchHandler.
var (
	ErrHandlerClosed = errors.New("capability: batch handler closed")
	ErrNoResult      = errors.New("capability: batch produced no result")
)

// TextEmbedding turns a string into a dense vector.
type TextEmbedding interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ImageEmbedding turns image bytes into a dense vector in the same space
// a MultiModalEmbedding model's vision side produces.
type ImageEmbedding interface {
	EmbedImage(ctx context.Context, imagePath string) ([]float32, error)
}

// MultiModalEmbedding decomposes into its two single-modality halves; most
// callers depend on one side or the other rather than this directly.
type MultiModalEmbedding interface {
	TextEmbedding
	ImageEmbedding
}

// ImageCaption describes the contents of an image in natural language.
type ImageCaption interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	StartMS int64
	EndMS   int64
	Text    string
}

// Transcript is the full result of transcribing one audio file.
type Transcript struct {
	Language string
	Segments []TranscriptSegment
}

// AudioTranscript converts speech audio into a timed transcript.
type AudioTranscript interface {
	Transcribe(ctx context.Context, wavPath string) (Transcript, error)
}

// Role tags one message in an LLM conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in an LLM conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionParams controls LLM sampling.
type CompletionParams struct {
	Temperature     float32
	TopP            float32
	TopK            int
	MaxTokens       int
	RepeatPenalty   float32
	RepeatLastN     int
	Seed            int64
}

// DefaultCompletionParams mirrors common llama.cpp/Ollama server defaults.
var DefaultCompletionParams = CompletionParams{
	Temperature:   0.8,
	TopP:          0.9,
	TopK:          40,
	MaxTokens:     512,
	RepeatPenalty: 1.1,
	RepeatLastN:   64,
}

// LLM streams a chat completion token by token. The returned channel is
// closed when the model emits an end-of-turn token, MaxTokens is reached,
// or ctx is cancelled; callers that stop reading early implicitly cancel
// the underlying request.
type LLM interface {
	Complete(ctx context.Context, history []Message, params CompletionParams) (<-chan string, error)
}

// DefaultIdleUnload is how long a BatchHandler lets its model sit idle
// before releasing it, per §4.5.
const DefaultIdleUnload = 5 * time.Second
