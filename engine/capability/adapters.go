package capability

import (
	"context"
	"time"
)

// BatchedTextEmbedder wraps a TextEmbedding model behind a BatchHandler,
// producing a value that is itself a TextEmbedding — callers never see the
// batching machinery.
type BatchedTextEmbedder struct{ h *BatchHandler[TextEmbedding, string, []float32] }

// NewBatchedTextEmbedder wires model behind a lazily-loaded, idle-unloaded
// mailbox. maxBatch caps items per underlying call (1 for today's models
// per §4.5); idle <= 0 uses DefaultIdleUnload.
func NewBatchedTextEmbedder(model TextEmbedding, maxBatch int, idle time.Duration) *BatchedTextEmbedder {
	return &BatchedTextEmbedder{h: NewBatchHandler(
		constLoader(model), noopUnloader[TextEmbedding], textEmbedRun, maxBatch, idle,
	)}
}

func (b *BatchedTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return b.h.ProcessSingle(ctx, text)
}
func (b *BatchedTextEmbedder) Close() { b.h.Close() }

// BatchedImageEmbedder is the vision-side analogue of BatchedTextEmbedder.
type BatchedImageEmbedder struct{ h *BatchHandler[ImageEmbedding, string, []float32] }

func NewBatchedImageEmbedder(model ImageEmbedding, maxBatch int, idle time.Duration) *BatchedImageEmbedder {
	return &BatchedImageEmbedder{h: NewBatchHandler(
		constLoader(model), noopUnloader[ImageEmbedding], imageEmbedRun, maxBatch, idle,
	)}
}

func (b *BatchedImageEmbedder) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	return b.h.ProcessSingle(ctx, imagePath)
}
func (b *BatchedImageEmbedder) Close() { b.h.Close() }

// BatchedCaptioner wraps an ImageCaption model.
type BatchedCaptioner struct{ h *BatchHandler[ImageCaption, string, string] }

func NewBatchedCaptioner(model ImageCaption, maxBatch int, idle time.Duration) *BatchedCaptioner {
	return &BatchedCaptioner{h: NewBatchHandler(
		constLoader(model), noopUnloader[ImageCaption], captionRun, maxBatch, idle,
	)}
}

func (b *BatchedCaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	return b.h.ProcessSingle(ctx, imagePath)
}
func (b *BatchedCaptioner) Close() { b.h.Close() }

// BatchedTranscriber wraps an AudioTranscript model.
type BatchedTranscriber struct{ h *BatchHandler[AudioTranscript, string, Transcript] }

func NewBatchedTranscriber(model AudioTranscript, maxBatch int, idle time.Duration) *BatchedTranscriber {
	return &BatchedTranscriber{h: NewBatchHandler(
		constLoader(model), noopUnloader[AudioTranscript], transcribeRun, maxBatch, idle,
	)}
}

func (b *BatchedTranscriber) Transcribe(ctx context.Context, wavPath string) (Transcript, error) {
	return b.h.ProcessSingle(ctx, wavPath)
}
func (b *BatchedTranscriber) Close() { b.h.Close() }

// BatchedLLM wraps an LLM model. Each call occupies the single worker for
// the duration of the stream, which is the same single-owner discipline
// §4.5 asks for — only one completion runs against the model at a time.
type BatchedLLM struct{ h *BatchHandler[LLM, completionRequest, <-chan string] }

type completionRequest struct {
	history []Message
	params  CompletionParams
}

func NewBatchedLLM(model LLM, idle time.Duration) *BatchedLLM {
	return &BatchedLLM{h: NewBatchHandler(
		constLoader(model), noopUnloader[LLM], llmRun, 1, idle,
	)}
}

func (b *BatchedLLM) Complete(ctx context.Context, history []Message, params CompletionParams) (<-chan string, error) {
	return b.h.ProcessSingle(ctx, completionRequest{history: history, params: params})
}
func (b *BatchedLLM) Close() { b.h.Close() }

// --- batch run functions, one per capability ---

func textEmbedRun(ctx context.Context, m TextEmbedding, items []string) []ItemResult[[]float32] {
	out := make([]ItemResult[[]float32], len(items))
	for i, text := range items {
		v, err := m.EmbedText(ctx, text)
		if err != nil {
			out[i] = Fail[[]float32](err)
			continue
		}
		out[i] = Ok(v)
	}
	return out
}

func imageEmbedRun(ctx context.Context, m ImageEmbedding, items []string) []ItemResult[[]float32] {
	out := make([]ItemResult[[]float32], len(items))
	for i, path := range items {
		v, err := m.EmbedImage(ctx, path)
		if err != nil {
			out[i] = Fail[[]float32](err)
			continue
		}
		out[i] = Ok(v)
	}
	return out
}

func captionRun(ctx context.Context, m ImageCaption, items []string) []ItemResult[string] {
	out := make([]ItemResult[string], len(items))
	for i, path := range items {
		v, err := m.Caption(ctx, path)
		if err != nil {
			out[i] = Fail[string](err)
			continue
		}
		out[i] = Ok(v)
	}
	return out
}

func transcribeRun(ctx context.Context, m AudioTranscript, items []string) []ItemResult[Transcript] {
	out := make([]ItemResult[Transcript], len(items))
	for i, path := range items {
		v, err := m.Transcribe(ctx, path)
		if err != nil {
			out[i] = Fail[Transcript](err)
			continue
		}
		out[i] = Ok(v)
	}
	return out
}

func llmRun(ctx context.Context, m LLM, items []completionRequest) []ItemResult[<-chan string] {
	out := make([]ItemResult[<-chan string], len(items))
	for i, req := range items {
		ch, err := m.Complete(ctx, req.history, req.params)
		if err != nil {
			out[i] = Fail[<-chan string](err)
			continue
		}
		out[i] = Ok(ch)
	}
	return out
}

func constLoader[M any](model M) Loader[M] {
	return func(context.Context) (M, error) { return model, nil }
}

func noopUnloader[M any](M) {}
