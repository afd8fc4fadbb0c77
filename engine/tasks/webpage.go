package tasks

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
)

func webPageTasks(d Deps) []Task {
	return []Task{
		webPageChunkTask{d},
		webPageChunkSumTask{d},
		webPageChunkSumEmbedTask{d},
	}
}

// extractVisibleText walks a parsed HTML document and concatenates text
// node content, skipping <script>/<style> subtrees.
func extractVisibleText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// webPageChunkTask treats the library's stored bytes for a web_page file
// identifier as the fetched HTML (fetching happens upstream of the task
// registry, at ingestion time, the same way a video's bytes are already
// the encoded video by the time any task sees it). It strips markup down
// to visible text before applying the shared naive token-budget chunker.
type webPageChunkTask struct{ d Deps }

func (webPageChunkTask) Type() domain.TaskType          { return taskType(domain.KindWebPage, "chunk") }
func (webPageChunkTask) Output() artifact.OutputKind     { return artifact.OutputFolder }
func (webPageChunkTask) Dependencies() []domain.TaskType { return nil }
func (t webPageChunkTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]int{"target_tokens": chunkTarget(t.d)})
}

func (t webPageChunkTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	raw, err := t.d.Files.Read(ctx, file.FilePath)
	if err != nil {
		return err
	}
	doc, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	text := extractVisibleText(doc)
	return runTextChunk(ctx, t.d, run, text)
}

type webPageChunkSumTask struct{ d Deps }

func (webPageChunkSumTask) Type() domain.TaskType      { return taskType(domain.KindWebPage, "chunk-sum") }
func (webPageChunkSumTask) Output() artifact.OutputKind { return artifact.OutputFolder }
func (webPageChunkSumTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindWebPage, "chunk")}
}
func (webPageChunkSumTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "llm-summarize"})
}

func (t webPageChunkSumTask) Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error {
	return runTextChunkSum(ctx, t.d, file, run, taskType(domain.KindWebPage, "chunk"))
}

type webPageChunkSumEmbedTask struct{ d Deps }

func (webPageChunkSumEmbedTask) Type() domain.TaskType {
	return taskType(domain.KindWebPage, "chunk-sum-embed")
}
func (webPageChunkSumEmbedTask) Output() artifact.OutputKind { return artifact.OutputNone }
func (webPageChunkSumEmbedTask) Dependencies() []domain.TaskType {
	return []domain.TaskType{taskType(domain.KindWebPage, "chunk-sum")}
}
func (webPageChunkSumEmbedTask) Parameters(context.Context) (string, error) {
	return marshalParams(map[string]string{"model": "text-embedding"})
}

func (t webPageChunkSumEmbedTask) Run(ctx context.Context, file domain.FileInfo, _ *artifact.Run) error {
	return runTextChunkSumEmbed(ctx, t.d, file, taskType(domain.KindWebPage, "chunk-sum"), t.Type(), graph.KindWebPage)
}
