package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/capability"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
)

// chunkRecord is the on-disk shape of both a raw transcript/text chunk
// and its later summarized form — same fields, the Text meaning changes
// from "excerpt" to "summary" once TransChunkSum has run over it.
type chunkRecord struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// writeJSON marshals v and writes it to a library-relative path.
func writeJSON(ctx context.Context, d Deps, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tasks: marshal %s: %w", path, err)
	}
	return d.Files.Write(ctx, path, data)
}

func chunkTarget(d Deps) int {
	if d.ChunkTargetTokens > 0 {
		return d.ChunkTargetTokens
	}
	return defaultChunkTargetTokens
}

// runTranscript reads the WAV produced by a kind's "audio" task, runs it
// through the AudioTranscript capability, and stores the result as JSON.
func runTranscript(ctx context.Context, d Deps, file domain.FileInfo, run *artifact.Run, audioDep domain.TaskType) error {
	audioRun, ok, err := d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, audioDep)
	if err != nil || !ok {
		return fmt.Errorf("tasks: transcript: missing %s run: %w", audioDep, err)
	}
	in, cleanup, err := localizeInput(ctx, d.Files, audioRun.OutputDescriptor)
	if err != nil {
		return err
	}
	defer cleanup()

	transcript, err := d.Transcriber.Transcribe(ctx, in)
	if err != nil {
		return fmt.Errorf("tasks: transcribe: %w", err)
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	return d.Files.Write(ctx, dest, data)
}

// runTranscriptChunk packs a transcript's segments into naive
// token-budget chunks, each retaining its covering time span.
func runTranscriptChunk(ctx context.Context, d Deps, file domain.FileInfo, run *artifact.Run, transcriptDep domain.TaskType, _ graph.NodeKind) error {
	transcriptRun, ok, err := d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, transcriptDep)
	if err != nil || !ok {
		return fmt.Errorf("tasks: trans-chunk: missing %s run: %w", transcriptDep, err)
	}
	raw, err := d.Files.Read(ctx, transcriptRun.OutputDescriptor)
	if err != nil {
		return err
	}
	var transcript capability.Transcript
	if err := json.Unmarshal(raw, &transcript); err != nil {
		return fmt.Errorf("tasks: decode transcript: %w", err)
	}

	chunks, err := packSegments(transcript.Segments, chunkTarget(d))
	if err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := d.Files.Write(ctx, filepath.Join(dest, fmt.Sprintf("%04d.json", i)), data); err != nil {
			return err
		}
	}
	return nil
}

// packSegments groups consecutive transcript segments until the next one
// would overflow targetTokens, producing one chunkRecord per group.
func packSegments(segs []capability.TranscriptSegment, targetTokens int) ([]chunkRecord, error) {
	enc, err := encoding()
	if err != nil {
		return nil, err
	}

	var chunks []chunkRecord
	var text strings.Builder
	var start, end int64
	tokens := 0
	open := false

	flush := func() {
		if !open {
			return
		}
		chunks = append(chunks, chunkRecord{Text: strings.TrimSpace(text.String()), StartMS: start, EndMS: end})
		text.Reset()
		tokens = 0
		open = false
	}

	for _, seg := range segs {
		n := len(enc.Encode(seg.Text, nil, nil))
		if open && tokens+n > targetTokens {
			flush()
		}
		if !open {
			start = seg.StartMS
			open = true
		}
		text.WriteString(seg.Text)
		text.WriteString(" ")
		tokens += n
		end = seg.EndMS
	}
	flush()
	return chunks, nil
}

// runChunkSum summarizes every chunk file produced by a *Chunk task
// through the LLM capability, preserving each chunk's time span.
func runChunkSum(ctx context.Context, d Deps, file domain.FileInfo, run *artifact.Run, chunkDep domain.TaskType) error {
	chunkRun, ok, err := d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, chunkDep)
	if err != nil || !ok {
		return fmt.Errorf("tasks: chunk-sum: missing %s run: %w", chunkDep, err)
	}
	names, err := d.Files.List(ctx, chunkRun.OutputDescriptor)
	if err != nil {
		return err
	}
	sort.Strings(names)

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		raw, err := d.Files.Read(ctx, filepath.Join(chunkRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		var c chunkRecord
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		summary, err := summarize(ctx, d, c.Text)
		if err != nil {
			return fmt.Errorf("tasks: summarize %s: %w", name, err)
		}
		out, err := json.Marshal(chunkRecord{Text: summary, StartMS: c.StartMS, EndMS: c.EndMS})
		if err != nil {
			return err
		}
		if err := d.Files.Write(ctx, filepath.Join(dest, name), out); err != nil {
			return err
		}
	}
	return nil
}

func summarize(ctx context.Context, d Deps, text string) (string, error) {
	history := []capability.Message{
		{Role: capability.RoleSystem, Content: "Summarize the following excerpt in two or three sentences, preserving concrete details."},
		{Role: capability.RoleUser, Content: text},
	}
	tokens, err := d.Summarizer.Complete(ctx, history, capability.DefaultCompletionParams)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
	}
	return sb.String(), nil
}

// textChunkRecord is the index-range analogue of chunkRecord, used by
// content kinds with no time axis (raw text, web pages): position is
// tracked as a character offset range into the source text instead of a
// millisecond span.
type textChunkRecord struct {
	Text       string `json:"text"`
	StartIndex int64  `json:"start_index"`
	EndIndex   int64  `json:"end_index"`
}

// runTextChunk packs a plain-text source into naive token-budget chunks,
// tracking each chunk's covering character-offset range.
func runTextChunk(ctx context.Context, d Deps, run *artifact.Run, sourceText string) error {
	chunks, offsets, err := chunkWithOffsets(sourceText, chunkTarget(d))
	if err != nil {
		return err
	}
	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		rec := textChunkRecord{Text: c, StartIndex: offsets[i][0], EndIndex: offsets[i][1]}
		if err := writeJSON(ctx, d, filepath.Join(dest, fmt.Sprintf("%04d.json", i)), rec); err != nil {
			return err
		}
	}
	return nil
}

// chunkWithOffsets is chunkByTokenBudget plus the [start,end) byte offset
// each returned chunk occupied in text.
func chunkWithOffsets(text string, targetTokens int) ([]string, [][2]int64, error) {
	chunks, err := chunkByTokenBudget(text, targetTokens)
	if err != nil {
		return nil, nil, err
	}
	offsets := make([][2]int64, len(chunks))
	cursor := 0
	for i, c := range chunks {
		idx := strings.Index(text[cursor:], strings.TrimSpace(c))
		start := cursor
		if idx >= 0 {
			start = cursor + idx
		}
		end := start + len(c)
		offsets[i] = [2]int64{int64(start), int64(end)}
		cursor = end
	}
	return chunks, offsets, nil
}

// runTextChunkSum summarizes every chunk file produced by runTextChunk,
// preserving each chunk's character-offset range.
func runTextChunkSum(ctx context.Context, d Deps, file domain.FileInfo, run *artifact.Run, chunkDep domain.TaskType) error {
	chunkRun, ok, err := d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, chunkDep)
	if err != nil || !ok {
		return fmt.Errorf("tasks: chunk-sum: missing %s run: %w", chunkDep, err)
	}
	names, err := d.Files.List(ctx, chunkRun.OutputDescriptor)
	if err != nil {
		return err
	}
	sort.Strings(names)

	dest, err := run.OutputPath(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		raw, err := d.Files.Read(ctx, filepath.Join(chunkRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		var c textChunkRecord
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		summary, err := summarize(ctx, d, c.Text)
		if err != nil {
			return fmt.Errorf("tasks: summarize %s: %w", name, err)
		}
		out := textChunkRecord{Text: summary, StartIndex: c.StartIndex, EndIndex: c.EndIndex}
		if err := writeJSON(ctx, d, filepath.Join(dest, name), out); err != nil {
			return err
		}
	}
	return nil
}

// runTextChunkSumEmbed embeds every summarized text chunk and writes it
// as a text leaf node under the file's top-level group.
func runTextChunkSumEmbed(ctx context.Context, d Deps, file domain.FileInfo, sumDep, selfType domain.TaskType, groupKind graph.NodeKind) error {
	sumRun, ok, err := d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, sumDep)
	if err != nil || !ok {
		return fmt.Errorf("tasks: chunk-sum-embed: missing %s run: %w", sumDep, err)
	}
	names, err := d.Files.List(ctx, sumRun.OutputDescriptor)
	if err != nil {
		return err
	}
	sort.Strings(names)

	groupID, err := ensureGroupWithPayload(ctx, d, file.FileIdentifier, groupKind, nil)
	if err != nil {
		return err
	}

	for i, name := range names {
		raw, err := d.Files.Read(ctx, filepath.Join(sumRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		var c textChunkRecord
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		emb, err := d.TextEmbedder.EmbedText(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("tasks: embed chunk %s: %w", name, err)
		}
		nodeID := leafNodeID(file.FileIdentifier, selfType, strconv.Itoa(i))
		start, end := c.StartIndex, c.EndIndex
		if err := indexLeaf(ctx, d, file.FileIdentifier, selfType, groupID, nodeID, leafSpec{
			Kind: graph.KindText, Text: c.Text,
			Properties: map[string]string{"start_index": strconv.FormatInt(start, 10), "end_index": strconv.FormatInt(end, 10)},
			Field:      vector.FieldTextEmbedding, Embedding: emb,
		}); err != nil {
			return err
		}
	}
	return nil
}

// runChunkSumEmbed embeds every summarized chunk and writes it as a text
// leaf node under the file's top-level group, linked for backtrace.
func runChunkSumEmbed(ctx context.Context, d Deps, file domain.FileInfo, sumDep, selfType domain.TaskType, groupKind graph.NodeKind) error {
	sumRun, ok, err := d.Artifacts.ActiveRecord(ctx, file.FileIdentifier, sumDep)
	if err != nil || !ok {
		return fmt.Errorf("tasks: chunk-sum-embed: missing %s run: %w", sumDep, err)
	}
	names, err := d.Files.List(ctx, sumRun.OutputDescriptor)
	if err != nil {
		return err
	}
	sort.Strings(names)

	groupID, err := ensureGroupWithPayload(ctx, d, file.FileIdentifier, groupKind, nil)
	if err != nil {
		return err
	}

	for i, name := range names {
		raw, err := d.Files.Read(ctx, filepath.Join(sumRun.OutputDescriptor, name))
		if err != nil {
			return err
		}
		var c chunkRecord
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		emb, err := d.TextEmbedder.EmbedText(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("tasks: embed chunk %s: %w", name, err)
		}
		nodeID := leafNodeID(file.FileIdentifier, selfType, strconv.Itoa(i))
		start, end := c.StartMS, c.EndMS
		if err := indexLeaf(ctx, d, file.FileIdentifier, selfType, groupID, nodeID, leafSpec{
			Kind: graph.KindText, Text: c.Text, StartTimestamp: &start, EndTimestamp: &end,
			Field: vector.FieldTextEmbedding, Embedding: emb,
		}); err != nil {
			return err
		}
	}
	return nil
}
