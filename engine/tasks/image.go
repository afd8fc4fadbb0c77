package tasks

import (
	"context"
	"os"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
)

func imageTasks(d Deps) []Task {
	return []Task{
		imageThumbnailTask{d},
		imageDescriptionTask{d},
		imageEmbeddingTask{d},
		imageDescEmbedTask{d},
	}
}

func imageLeafNodeID(fid domain.FileIdentifier) string {
	return groupNodeID(fid, graph.KindImage)
}

// --- Thumbnail ---

type imageThumbnailTask struct{ d Deps }

func (imageThumbnailTask) Type() domain.TaskType          { return taskType(domain.KindImage, "thumbnail") }
func (imageThumbnailTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (imageThumbnailTask) Dependencies() []domain.TaskType { return nil }
func (imageThumbnailTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]any{"max_dim": 512, "format": "jpg"})
}

func (t imageThumbnailTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := os.CreateTemp("", "thumb-*.jpg")
	if err != nil {
		return err
	}
	out.Close()
	defer os.Remove(out.Name())

	if err := runFFmpeg(ctx, "-y", "-i", in, "-vf", "scale='min(512,iw)':-1", out.Name()); err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return uploadFile(ctx, t.d.Files, out.Name(), dest)
}

// --- Description (captioning) ---

type imageDescriptionTask struct{ d Deps }

func (imageDescriptionTask) Type() domain.TaskType          { return taskType(domain.KindImage, "description") }
func (imageDescriptionTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (imageDescriptionTask) Dependencies() []domain.TaskType { return nil }
func (imageDescriptionTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "image-caption"})
}

func (t imageDescriptionTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	caption, err := t.d.Captioner.Caption(ctx, in)
	cleanup()
	if err != nil {
		return err
	}

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	if err := t.d.Files.Write(ctx, dest, []byte(caption)); err != nil {
		return err
	}

	leafID := imageLeafNodeID(file.FileIdentifier)
	if err := indexLeaf(ctx, t.d, file.FileIdentifier, t.Type(), "", leafID, leafSpec{Kind: graph.KindImage, Text: caption}); err != nil {
		return err
	}
	return ensurePayloadEdge(ctx, t.d, file.FileIdentifier, leafID)
}

// --- Embedding (vision) ---

type imageEmbeddingTask struct{ d Deps }

func (imageEmbeddingTask) Type() domain.TaskType          { return taskType(domain.KindImage, "embedding") }
func (imageEmbeddingTask) Output() artifact.OutputKind     { return artifact.OutputNone }
func (imageEmbeddingTask) Dependencies() []domain.TaskType { return nil }
func (imageEmbeddingTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "image-embedding"})
}

func (t imageEmbeddingTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	emb, err := t.d.ImageEmbedder.EmbedImage(ctx, in)
	cleanup()
	if err != nil {
		return err
	}
	leafID := imageLeafNodeID(file.FileIdentifier)
	if err := indexLeaf(ctx, t.d, file.FileIdentifier, t.Type(), "", leafID, leafSpec{
		Kind: graph.KindImage, Field: vector.FieldImageEmbedding, Embedding: emb,
	}); err != nil {
		return err
	}
	return ensurePayloadEdge(ctx, t.d, file.FileIdentifier, leafID)
}

// --- DescEmbed (text embedding of the caption) ---

type imageDescEmbedTask struct{ d Deps }

func (imageDescEmbedTask) Type() domain.TaskType { return taskType(domain.KindImage, "desc-embed") }
func (imageDescEmbedTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (imageDescEmbedTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindImage, "description")}
}
func (imageDescEmbedTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "text-embedding"})
}

func (t imageDescEmbedTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	descRun, ok, err := t.d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, taskType(domain.KindImage, "description"))
	if err != nil || !ok {
		return err
	}
	caption, err := t.d.Files.ReadToString(ctx, descRun.OutputDescriptor)
	if err != nil {
		return err
	}
	emb, err := t.d.TextEmbedder.EmbedText(ctx, caption)
	if err != nil {
		return err
	}
	leafID := imageLeafNodeID(file.FileIdentifier)
	if err := indexLeaf(ctx, t.d, file.FileIdentifier, t.Type(), "", leafID, leafSpec{
		Kind: graph.KindImage, Field: vector.FieldImageCaptionEmbedding, Embedding: emb,
	}); err != nil {
		return err
	}
	return ensurePayloadEdge(ctx, t.d, file.FileIdentifier, leafID)
}
