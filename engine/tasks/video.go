package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/capability"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
)

// frameIntervalSeconds is the sampling rate key-frame extraction uses.
const frameIntervalSeconds = 5

func videoTasks(d Deps) []Task {
	return []Task{
		videoThumbnailTask{d},
		videoFrameTask{d},
		videoFrameDescriptionTask{d},
		videoFrameEmbeddingTask{d},
		videoFrameDescEmbedTask{d},
		videoAudioTask{d},
		videoTranscriptTask{d},
		videoTransChunkTask{d},
		videoTransChunkSumTask{d},
		videoTransChunkSumEmbedTask{d},
	}
}

func frameGroupNodeID(fid domain.FileIdentifier, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s|frame-group|%d", fid, ordinal))).String()
}

func frameImageNodeID(fid domain.FileIdentifier, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s|frame-image|%d", fid, ordinal))).String()
}

// --- Thumbnail ---

type videoThumbnailTask struct{ d Deps }

func (videoThumbnailTask) Type() domain.TaskType           { return taskType(domain.KindVideo, "thumbnail") }
func (videoThumbnailTask) Output() artifact.OutputKind      { return artifact.OutputFile }
func (videoThumbnailTask) Dependencies() []domain.TaskType  { return nil }
func (videoThumbnailTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"format": "jpg", "at_second": "1"})
}

func (t videoThumbnailTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := os.CreateTemp("", "thumb-*.jpg")
	if err != nil {
		return fmt.Errorf("tasks: create temp thumbnail: %w", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	if err := runFFmpeg(ctx, "-y", "-ss", "1", "-i", in, "-frames:v", "1", "-q:v", "3", out.Name()); err != nil {
		return err
	}

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return uploadFile(ctx, t.d.Files, out.Name(), dest)
}

// --- Frame (key-frame extraction) ---

type videoFrameTask struct{ d Deps }

func (videoFrameTask) Type() domain.TaskType          { return taskType(domain.KindVideo, "frame") }
func (videoFrameTask) Output() artifact.OutputKind     { return artifact.OutputFolder }
func (videoFrameTask) Dependencies() []domain.TaskType { return nil }
func (videoFrameTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]any{"interval_seconds": frameIntervalSeconds, "format": "jpg"})
}

// frameContainerNodeID derives the id of the node that owns the full set
// of a video's extracted frame-groups, distinct from the video's own
// top-level group so re-extracting frames can purge and replace just this
// batch without disturbing sibling content (transcript chunks, etc.) that
// also hangs off the video group.
func frameContainerNodeID(fid domain.FileIdentifier) string {
	return groupNodeID(fid, graph.KindImageFrame)
}

func (t videoFrameTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	durationSec, err := probeDurationSeconds(ctx, in)
	if err != nil {
		return fmt.Errorf("tasks: probe video duration: %w", err)
	}
	durationMS := int64(durationSec * 1000)

	tmpDir, err := os.MkdirTemp("", "frames-*")
	if err != nil {
		return fmt.Errorf("tasks: create temp frame dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pattern := filepath.Join(tmpDir, "frame-%05d.jpg")
	if err := runFFmpeg(ctx, "-y", "-i", in, "-vf", fmt.Sprintf("fps=1/%d", frameIntervalSeconds), "-q:v", "4", pattern); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("tasks: list extracted frames: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	videoGroupID, err := ensureGroupWithPayload(ctx, t.d, file.FileIdentifier, graph.KindVideo, map[string]string{
		"duration_ms": strconv.FormatInt(durationMS, 10),
	})
	if err != nil {
		return err
	}

	// Collect every frame-group node up front so the whole batch is
	// written in a single UpsertGroup transaction: a crash partway
	// through extraction leaves the previous frame set intact rather than
	// a half-written one, and re-running with fewer frames than last time
	// purges the stale tail instead of leaving orphaned frame nodes.
	frameNodes := make([]graph.Node, 0, len(names))
	type frameUpload struct {
		groupID, imageID, framePath string
	}
	uploads := make([]frameUpload, 0, len(names))
	for ordinal, name := range names {
		if err := uploadFile(ctx, t.d.Files, filepath.Join(tmpDir, name), filepath.Join(dest, name)); err != nil {
			return err
		}
		startMS := int64(ordinal*frameIntervalSeconds) * 1000
		endMS := startMS + frameIntervalSeconds*1000
		if durationMS > 0 && endMS > durationMS {
			endMS = durationMS
		}

		groupID := frameGroupNodeID(file.FileIdentifier, ordinal)
		frameNodes = append(frameNodes, graph.Node{
			ID: groupID, FileIdentifier: file.FileIdentifier.String(), Kind: graph.KindImageFrame,
			TaskType: videoFrameTask{}.Type().String(), StartTimestamp: &startMS, EndTimestamp: &endMS,
		})
		uploads = append(uploads, frameUpload{
			groupID:   groupID,
			imageID:   frameImageNodeID(file.FileIdentifier, ordinal),
			framePath: filepath.Join(dest, name),
		})
	}

	containerID := frameContainerNodeID(file.FileIdentifier)
	containerNode := graph.Node{ID: containerID, FileIdentifier: file.FileIdentifier.String(), Kind: graph.KindImageFrame}
	if err := t.d.Graph.UpsertGroup(ctx, containerNode, frameNodes); err != nil {
		return fmt.Errorf("tasks: upsert frame group: %w", err)
	}
	if err := t.d.Graph.Link(ctx, graph.Edge{
		ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(videoGroupID + "|" + containerID)).String(),
		From: videoGroupID, To: containerID, Type: graph.EdgeContains,
	}); err != nil {
		return err
	}

	for _, u := range uploads {
		if err := indexLeaf(ctx, t.d, file.FileIdentifier, videoFrameTask{}.Type(), u.groupID, u.imageID, leafSpec{
			Kind: graph.KindImage, Properties: map[string]string{"frame_path": u.framePath},
		}); err != nil {
			return err
		}
	}
	return nil
}

// --- FrameDescription (captioning per frame) ---

type videoFrameDescriptionTask struct{ d Deps }

func (videoFrameDescriptionTask) Type() domain.TaskType { return taskType(domain.KindVideo, "frame-description") }
func (videoFrameDescriptionTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (videoFrameDescriptionTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindVideo, "frame")}
}
func (videoFrameDescriptionTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "image-caption"})
}

func (t videoFrameDescriptionTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	frameRun, ok, err := t.d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, taskType(domain.KindVideo, "frame"))
	if err != nil || !ok {
		return fmt.Errorf("tasks: frame-description: missing frame run: %w", err)
	}
	names, err := t.d.Files.List(ctx, frameRun.OutputDescriptor)
	if err != nil {
		return fmt.Errorf("tasks: list frame dir: %w", err)
	}
	sort.Strings(names)

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}

	for ordinal, name := range names {
		in, cleanup, err := localizeInput(ctx, t.d.Files, filepath.Join(frameRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		caption, err := t.d.Captioner.Caption(ctx, in)
		cleanup()
		if err != nil {
			return fmt.Errorf("tasks: caption frame %d: %w", ordinal, err)
		}
		if err := t.d.Files.Write(ctx, filepath.Join(dest, strconv.Itoa(ordinal)+".txt"), []byte(caption)); err != nil {
			return err
		}

		imageID := frameImageNodeID(file.FileIdentifier, ordinal)
		if err := t.d.Graph.SaveNode(ctx, graph.Node{
			ID: imageID, FileIdentifier: file.FileIdentifier.String(), Kind: graph.KindImage,
			TaskType: t.Type().String(), Text: caption,
		}); err != nil {
			return fmt.Errorf("tasks: save caption for frame %d: %w", ordinal, err)
		}
	}
	return nil
}

// --- FrameEmbedding (vision embedding per frame) ---

type videoFrameEmbeddingTask struct{ d Deps }

func (videoFrameEmbeddingTask) Type() domain.TaskType { return taskType(domain.KindVideo, "frame-embedding") }
func (videoFrameEmbeddingTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (videoFrameEmbeddingTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindVideo, "frame")}
}
func (videoFrameEmbeddingTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "image-embedding"})
}

func (t videoFrameEmbeddingTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	frameRun, ok, err := t.d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, taskType(domain.KindVideo, "frame"))
	if err != nil || !ok {
		return fmt.Errorf("tasks: frame-embedding: missing frame run: %w", err)
	}
	names, err := t.d.Files.List(ctx, frameRun.OutputDescriptor)
	if err != nil {
		return err
	}
	sort.Strings(names)

	for ordinal, name := range names {
		in, cleanup, err := localizeInput(ctx, t.d.Files, filepath.Join(frameRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		emb, err := t.d.ImageEmbedder.EmbedImage(ctx, in)
		cleanup()
		if err != nil {
			return fmt.Errorf("tasks: embed frame %d: %w", ordinal, err)
		}
		imageID := frameImageNodeID(file.FileIdentifier, ordinal)
		if err := indexLeaf(ctx, t.d, file.FileIdentifier, t.Type(), "", imageID, leafSpec{
			Kind: graph.KindImage, Field: vector.FieldImageEmbedding, Embedding: emb,
		}); err != nil {
			return err
		}
	}
	return nil
}

// --- FrameDescEmbed (text embedding of per-frame caption) ---

type videoFrameDescEmbedTask struct{ d Deps }

func (videoFrameDescEmbedTask) Type() domain.TaskType { return taskType(domain.KindVideo, "frame-desc-embed") }
func (videoFrameDescEmbedTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (videoFrameDescEmbedTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindVideo, "frame-description")}
}
func (videoFrameDescEmbedTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "text-embedding"})
}

func (t videoFrameDescEmbedTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	descRun, ok, err := t.d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, taskType(domain.KindVideo, "frame-description"))
	if err != nil || !ok {
		return fmt.Errorf("tasks: frame-desc-embed: missing frame-description run: %w", err)
	}
	names, err := t.d.Files.List(ctx, descRun.OutputDescriptor)
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		ordinalStr := strings.TrimSuffix(filepath.Base(name), ".txt")
		ordinal, err := strconv.Atoi(ordinalStr)
		if err != nil {
			continue
		}
		caption, err := t.d.Files.ReadToString(ctx, filepath.Join(descRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		emb, err := t.d.TextEmbedder.EmbedText(ctx, caption)
		if err != nil {
			return fmt.Errorf("tasks: embed caption %d: %w", ordinal, err)
		}
		imageID := frameImageNodeID(file.FileIdentifier, ordinal)
		if err := indexLeaf(ctx, t.d, file.FileIdentifier, t.Type(), "", imageID, leafSpec{
			Kind: graph.KindImage, Field: vector.FieldImageCaptionEmbedding, Embedding: emb,
		}); err != nil {
			return err
		}
	}
	return nil
}

// --- Audio (WAV extraction) ---

type videoAudioTask struct{ d Deps }

func (videoAudioTask) Type() domain.TaskType          { return taskType(domain.KindVideo, "audio") }
func (videoAudioTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (videoAudioTask) Dependencies() []domain.TaskType { return nil }
func (videoAudioTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]any{"sample_rate": 16000, "channels": 1})
}

func (t videoAudioTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	in, cleanup, err := localizeInput(ctx, t.d.Files, file.FilePath)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := os.CreateTemp("", "audio-*.wav")
	if err != nil {
		return err
	}
	out.Close()
	defer os.Remove(out.Name())

	if err := runFFmpeg(ctx, "-y", "-i", in, "-ac", "1", "-ar", "16000", "-vn", out.Name()); err != nil {
		return err
	}

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return uploadFile(ctx, t.d.Files, out.Name(), dest)
}

// --- Transcript ---

type videoTranscriptTask struct{ d Deps }

func (videoTranscriptTask) Type() domain.TaskType          { return taskType(domain.KindVideo, "transcript") }
func (videoTranscriptTask) Output() artifact.OutputKind     { return artifact.OutputFile }
func (videoTranscriptTask) Dependencies() []domain.TaskType { return []domain.TaskType{taskType(domain.KindVideo, "audio")} }
func (videoTranscriptTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "audio-transcript"})
}

func (t videoTranscriptTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runTranscript(ctx, t.d, file, run, taskType(domain.KindVideo, "audio"))
}

// --- TransChunk ---

type videoTransChunkTask struct{ d Deps }

func (videoTransChunkTask) Type() domain.TaskType { return taskType(domain.KindVideo, "trans-chunk") }
func (videoTransChunkTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (videoTransChunkTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindVideo, "transcript")}
}
func (t videoTransChunkTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]int{"target_tokens": chunkTarget(t.d)})
}

func (t videoTransChunkTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runTranscriptChunk(ctx, t.d, file, run, taskType(domain.KindVideo, "transcript"), graph.KindVideo)
}

// --- TransChunkSum ---

type videoTransChunkSumTask struct{ d Deps }

func (videoTransChunkSumTask) Type() domain.TaskType { return taskType(domain.KindVideo, "trans-chunk-sum") }
func (videoTransChunkSumTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (videoTransChunkSumTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindVideo, "trans-chunk")}
}
func (videoTransChunkSumTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "llm-summarize"})
}

func (t videoTransChunkSumTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runChunkSum(ctx, t.d, file, run, taskType(domain.KindVideo, "trans-chunk"))
}

// --- TransChunkSumEmbed ---

type videoTransChunkSumEmbedTask struct{ d Deps }

func (videoTransChunkSumEmbedTask) Type() domain.TaskType {
	return taskType(domain.KindVideo, "trans-chunk-sum-embed")
}
func (videoTransChunkSumEmbedTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (videoTransChunkSumEmbedTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindVideo, "trans-chunk-sum")}
}
func (videoTransChunkSumEmbedTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "text-embedding"})
}

func (t videoTransChunkSumEmbedTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	return runChunkSumEmbed(ctx, t.d, file, taskType(domain.KindVideo, "trans-chunk-sum"), t.Type(), graph.KindVideo)
}
