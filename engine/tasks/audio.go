package tasks

import (
	"context"
	"os"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
)

func audioTasks(d Deps) []Task {
	return []Task{
		audioThumbnailTask{d},
		audioWaveformTask{d},
		audioTranscriptTask{d},
		audioTransChunkTask{d},
		audioTransChunkSumTask{d},
		audioTransChunkSumEmbedTask{d},
	}
}

// --- Thumbnail (embedded cover art) ---

type audioThumbnailTask struct{ d Deps }

func (audioThumbnailTask) Type() domain.TaskType          { return taskType(domain.KindAudio, "thumbnail") }
func (audioThumbnailTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (audioThumbnailTask) Dependencies() []domain.TaskType { return nil }
func (audioThumbnailTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"format": "jpg"})
}

func (t audioThumbnailTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := os.CreateTemp("", "cover-*.jpg")
	if err != nil {
		return err
	}
	out.Close()
	defer os.Remove(out.Name())

	if err := runFFmpeg(ctx, "-y", "-i", in, "-an", "-vcodec", "copy", out.Name()); err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return uploadFile(ctx, t.d.Files, out.Name(), dest)
}

// --- Waveform ---

type audioWaveformTask struct{ d Deps }

func (audioWaveformTask) Type() domain.TaskType          { return taskType(domain.KindAudio, "waveform") }
func (audioWaveformTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (audioWaveformTask) Dependencies() []domain.TaskType { return nil }
func (audioWaveformTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]any{"width": 1200, "height": 200})
}

func (t audioWaveformTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := os.CreateTemp("", "waveform-*.png")
	if err != nil {
		return err
	}
	out.Close()
	defer os.Remove(out.Name())

	filter := "showwavespic=s=1200x200:colors=white"
	if err := runFFmpeg(ctx, "-y", "-i", in, "-filter_complex", filter, "-frames:v", "1", out.Name()); err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return uploadFile(ctx, t.d.Files, out.Name(), dest)
}

// --- Transcript / TransChunk / TransChunkSum / TransChunkSumEmbed ---
//
// Audio files have no separate "extract audio" stage — the source file
// is already a WAV-compatible stream — so these tasks operate directly
// on file.FilePath instead of depending on a prior Audio task.

type audioTranscriptTask struct{ d Deps }

func (audioTranscriptTask) Type() domain.TaskType          { return taskType(domain.KindAudio, "transcript") }
func (audioTranscriptTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (audioTranscriptTask) Dependencies() []domain.TaskType { return nil }
func (audioTranscriptTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "audio-transcript"})
}

func (t audioTranscriptTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	transcript, err := t.d.Transcriber.Transcribe(ctx, in)
	if err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return writeJSON(ctx, t.d, dest, transcript)
}

type audioTransChunkTask struct{ d Deps }

func (audioTransChunkTask) Type() domain.TaskType { return taskType(domain.KindAudio, "trans-chunk") }
func (audioTransChunkTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (audioTransChunkTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindAudio, "transcript")}
}
func (t audioTransChunkTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]int{"target_tokens": chunkTarget(t.d)})
}

func (t audioTransChunkTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runTranscriptChunk(ctx, t.d, file, run, taskType(domain.KindAudio, "transcript"), graph.KindAudio)
}

type audioTransChunkSumTask struct{ d Deps }

func (audioTransChunkSumTask) Type() domain.TaskType { return taskType(domain.KindAudio, "trans-chunk-sum") }
func (audioTransChunkSumTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (audioTransChunkSumTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindAudio, "trans-chunk")}
}
func (audioTransChunkSumTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "llm-summarize"})
}

func (t audioTransChunkSumTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runChunkSum(ctx, t.d, file, run, taskType(domain.KindAudio, "trans-chunk"))
}

type audioTransChunkSumEmbedTask struct{ d Deps }

func (audioTransChunkSumEmbedTask) Type() domain.TaskType {
	return taskType(domain.KindAudio, "trans-chunk-sum-embed")
}
func (audioTransChunkSumEmbedTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (audioTransChunkSumEmbedTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindAudio, "trans-chunk-sum")}
}
func (audioTransChunkSumEmbedTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "text-embedding"})
}

func (t audioTransChunkSumEmbedTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	return runChunkSumEmbed(ctx, t.d, file, taskType(domain.KindAudio, "trans-chunk-sum"), t.Type(), graph.KindAudio)
}
