package tasks

import (
	"context"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
)

func rawTextTasks(d Deps) []Task {
	return []Task{
		rawTextChunkTask{d},
		rawTextChunkSumTask{d},
		rawTextChunkSumEmbedTask{d},
	}
}

type rawTextChunkTask struct{ d Deps }

func (rawTextChunkTask) Type() domain.TaskType          { return taskType(domain.KindRawText, "chunk") }
func (rawTextChunkTask) Output() artifact.OutputKind     { return artifact.OutputFolder }
func (rawTextChunkTask) Dependencies() []domain.TaskType { return nil }
func (t rawTextChunkTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]int{"target_tokens": chunkTarget(t.d)})
}

func (t rawTextChunkTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	text, err := t.d.Files.ReadToString(ctx, file.FilePath)
	if err != nil {
		return err
	}
	return runTextChunk(ctx, t.d, run, text)
}

type rawTextChunkSumTask struct{ d Deps }

func (rawTextChunkSumTask) Type() domain.TaskType      { return taskType(domain.KindRawText, "chunk-sum") }
func (rawTextChunkSumTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (rawTextChunkSumTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindRawText, "chunk")}
}
func (rawTextChunkSumTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "llm-summarize"})
}

func (t rawTextChunkSumTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runTextChunkSum(ctx, t.d, file, run, taskType(domain.KindRawText, "chunk"))
}

type rawTextChunkSumEmbedTask struct{ d Deps }

func (rawTextChunkSumEmbedTask) Type() domain.TaskType {
	return taskType(domain.KindRawText, "chunk-sum-embed")
}
func (rawTextChunkSumEmbedTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (rawTextChunkSumEmbedTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindRawText, "chunk-sum")}
}
func (rawTextChunkSumEmbedTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "text-embedding"})
}

func (t rawTextChunkSumEmbedTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	return runTextChunkSumEmbed(ctx, t.d, file, taskType(domain.KindRawText, "chunk-sum"), t.Type(), graph.KindDocument)
}
