// Package retrieval implements the Hybrid Retrieval Engine (spec §4.10):
// dual-embedding query, parallel vector + full-text search, Reciprocal
// Rank Fusion, graph backtrace, and time-series merge-window
// consolidation, plus a RAG variant that streams an LLM answer grounded
// in the fused hits.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/capability"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/fulltext"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
	"github.com/lumenforge/contentbase/pkg/fn"
)

// Mode selects the full-text query shape (§4.9).
type Mode int

const (
	// ModeTokens issues one OR-joined query per token (the default).
	ModeTokens Mode = iota
	// ModeHighlight issues the full query as a single phrase and returns
	// bracketed snippets.
	ModeHighlight
)

// Per-kind distance range bounds on the approximate neighbor hop budget
// (§4.8): text-space fields <|10,40|>, vision-space fields <|2,20|>.
const (
	textDistanceLower, textDistanceUpper     = 10.0, 40.0
	visionDistanceLower, visionDistanceUpper = 2.0, 20.0
)

// defaultVectorTopK is the per-query cap on KNN results (§4.8).
const defaultVectorTopK = 100

// defaultTopN is how many fused ids survive into backtrace/hydrate
// unless the caller overrides it (§4.10 step 4).
const defaultTopN = 100

// mergeGapMS is the largest gap between two time-series hits on the same
// file that still counts as "adjacent" for merge-window consolidation
// (§4.10 step 6); touching or overlapping spans (gap <= 0) always merge.
const mergeGapMS = int64(2000)

// Query is one retrieval request.
type Query struct {
	Text string
	Mode Mode
	// TopN overrides defaultTopN when > 0.
	TopN int
	// ContentKind, if set, restricts full-text/vector search to nodes
	// produced by a task of this content kind.
	ContentKind *domain.ContentKind
}

// Metadata reconstructs a hit's content-kind-specific position: a
// timestamp range for audio/video, an index range for raw text/web
// pages, or neither for a standalone image.
type Metadata struct {
	ContentType    string
	StartTimestamp *int64
	EndTimestamp   *int64
	StartIndex     *int64
	EndIndex       *int64
}

// Result is one hydrated, ranked hit.
type Result struct {
	FileIdentifier string
	Metadata       Metadata
	Score          float64
	Highlight      string

	// SourceNodeIDs are the leaf node(s) this result was hydrated (and,
	// for merged time-series hits, consolidated) from. The RAG variant
	// uses these to fetch each leaf's indexed text.
	SourceNodeIDs []string
}

// Degraded reports which source, if any, failed and was dropped rather
// than failing the whole query (§7: "vector or full-text failure
// degrades to the remaining signal").
type Degraded struct {
	Vector   bool
	FullText bool
}

// Engine is the sole entry point for hybrid queries over one library's
// indices.
type Engine struct {
	Vector   *vector.Store
	FullText *fulltext.Index
	Graph    *graph.GraphStore

	// TextEmbedder produces the text-space query vector, searched against
	// text_embedding and image_caption_embedding.
	TextEmbedder capability.TextEmbedding
	// VisionTextEmbedder is the text side of a multi-modal embedding
	// model, producing a vector in the same space as image_embedding.
	VisionTextEmbedder capability.TextEmbedding

	Artifacts  *artifact.Store
	Summarizer capability.LLM
}

// Reference is one grounding source quoted in a RAG answer.
type Reference struct {
	Result Result
	Text   string
}

// Answer runs the same pipeline as Search, then fetches each of the top-K
// results' indexed text and drives a system-prompted LLM call whose
// streamed tokens the caller reads alongside the reference list (§4.10,
// "RAG variant").
func (e *Engine) Answer(ctx context.Context, q Query, topK int, systemPrompt string) (<-chan string, []Reference, Degraded, error) {
	results, degraded, err := e.Search(ctx, q)
	if err != nil {
		return nil, nil, degraded, err
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	refs := make([]Reference, 0, len(results))
	var context_ strings.Builder
	for i, r := range results {
		text := e.fetchLeafText(ctx, r.SourceNodeIDs)
		refs = append(refs, Reference{Result: r, Text: text})
		fmt.Fprintf(&context_, "[%d] %s\n\n", i+1, text)
	}

	history := []capability.Message{
		{Role: capability.RoleSystem, Content: systemPrompt},
		{Role: capability.RoleUser, Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", context_.String(), q.Text)},
	}
	tokens, err := e.Summarizer.Complete(ctx, history, capability.DefaultCompletionParams)
	if err != nil {
		return nil, refs, degraded, fmt.Errorf("retrieval: rag completion: %w", err)
	}
	return tokens, refs, degraded, nil
}

// fetchLeafText concatenates the indexed text of every leaf a (possibly
// merged) result was hydrated from.
func (e *Engine) fetchLeafText(ctx context.Context, nodeIDs []string) string {
	var sb strings.Builder
	for _, id := range nodeIDs {
		n, err := e.Graph.GetNode(ctx, id)
		if err != nil || n.Text == "" {
			continue
		}
		sb.WriteString(n.Text)
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String())
}

// New builds an Engine from its collaborators.
func New(vec *vector.Store, ft *fulltext.Index, g *graph.GraphStore, textEmb, visionEmb capability.TextEmbedding) *Engine {
	return &Engine{Vector: vec, FullText: ft, Graph: g, TextEmbedder: textEmb, VisionTextEmbedder: visionEmb}
}

// Search runs the full §4.10 pipeline and returns ranked, hydrated
// results plus a flag for any source that degraded rather than failed
// the whole query.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, Degraded, error) {
	topN := q.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	var degraded Degraded

	// Step 1: embed the query twice.
	textVec, err := e.TextEmbedder.EmbedText(ctx, q.Text)
	if err != nil {
		return nil, degraded, fmt.Errorf("retrieval: embed text query: %w", err)
	}
	visionVec, err := e.VisionTextEmbedder.EmbedText(ctx, q.Text)
	if err != nil {
		return nil, degraded, fmt.Errorf("retrieval: embed vision-side query: %w", err)
	}

	// Step 2: three KNN queries in parallel plus the full-text query.
	type vecOutcome struct {
		hits []vector.SearchResult
		err  error
	}
	outcomes := fn.FanOut(
		func() vecOutcome {
			r, err := e.Vector.Search(ctx, vector.FieldTextEmbedding, textVec, defaultVectorTopK)
			return vecOutcome{filterByDistance(r, textDistanceLower, textDistanceUpper), err}
		},
		func() vecOutcome {
			r, err := e.Vector.Search(ctx, vector.FieldImageCaptionEmbedding, textVec, defaultVectorTopK)
			return vecOutcome{filterByDistance(r, textDistanceLower, textDistanceUpper), err}
		},
		func() vecOutcome {
			r, err := e.Vector.Search(ctx, vector.FieldImageEmbedding, visionVec, defaultVectorTopK)
			return vecOutcome{filterByDistance(r, visionDistanceLower, visionDistanceUpper), err}
		},
	)

	var vecHits []vector.SearchResult
	vecFailures := 0
	for _, o := range outcomes {
		if o.err != nil {
			vecFailures++
			continue
		}
		vecHits = append(vecHits, o.hits...)
	}
	if vecFailures == len(outcomes) && len(outcomes) > 0 {
		degraded.Vector = true
	}

	ftHits, _, highlights, err := e.searchFullText(q)
	if err != nil {
		degraded.FullText = true
	}

	// Step 3: fuse the vector-source ranking and the full-text-source
	// ranking via RRF.
	vectorRanking := rankByScore(vecHits, func(r vector.SearchResult) (string, float64) {
		return r.NodeID, float64(r.Score)
	}, true) // ascending: lower distance ranks first
	fused := RRF(DefaultRRFK, vectorRanking, ftHits)
	fusedScores := RRFScores(DefaultRRFK, vectorRanking, ftHits)

	if len(fused) > topN {
		fused = fused[:topN]
	}

	// Step 5+6: backtrace, hydrate, merge adjacent time-series hits.
	raw := make([]Result, 0, len(fused))
	for _, nodeID := range fused {
		res, ok, err := e.hydrate(ctx, nodeID, fusedScores[nodeID])
		if err != nil {
			continue // IndexInconsistent: log, skip the hit, continue (§7)
		}
		if !ok {
			continue
		}
		if h, ok := highlights[nodeID]; ok {
			res.Highlight = h
		}
		if q.ContentKind != nil && res.Metadata.ContentType != contentKindTag(*q.ContentKind) {
			continue
		}
		raw = append(raw, res)
	}

	merged := mergeAdjacent(raw)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, degraded, nil
}

func (e *Engine) searchFullText(q Query) (ranking []string, scores map[string]float64, highlights map[string]string, err error) {
	tokens := strings.Fields(q.Text)
	scores = make(map[string]float64)
	highlights = make(map[string]string)

	switch q.Mode {
	case ModeHighlight:
		hits, ferr := e.FullText.SearchPhrase(q.Text, defaultVectorTopK, fulltext.HighlightMarks{})
		if ferr != nil {
			return nil, scores, highlights, ferr
		}
		ranking = make([]string, len(hits))
		for i, h := range hits {
			ranking[i] = h.NodeID
			scores[h.NodeID] = h.Score
			if len(h.Fragments) > 0 {
				highlights[h.NodeID] = strings.Join(h.Fragments, " … ")
			}
		}
	default:
		hits, ferr := e.FullText.SearchTokens(tokens, defaultVectorTopK)
		if ferr != nil {
			return nil, scores, highlights, ferr
		}
		ranking = make([]string, len(hits))
		for i, h := range hits {
			ranking[i] = h.NodeID
			scores[h.NodeID] = h.Score
		}
	}
	return ranking, scores, highlights, nil
}

// filterByDistance keeps only results whose score falls within
// [lower, upper], the "per-kind distance range" bound on the approximate
// neighbor hop budget (§4.8).
func filterByDistance(results []vector.SearchResult, lower, upper float64) []vector.SearchResult {
	out := make([]vector.SearchResult, 0, len(results))
	for _, r := range results {
		s := float64(r.Score)
		if s >= lower && s <= upper {
			out = append(out, r)
		}
	}
	return out
}

// rankByScore sorts items by score (ascending if asc, else descending)
// and returns the ids in that order — the input to RRF.
func rankByScore[T any](items []T, key func(T) (string, float64), asc bool) []string {
	type pair struct {
		id    string
		score float64
	}
	pairs := make([]pair, len(items))
	for i, it := range items {
		id, s := key(it)
		pairs[i] = pair{id, s}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if asc {
			return pairs[i].score < pairs[j].score
		}
		return pairs[i].score > pairs[j].score
	})
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// hydrate backtraces nodeID to its owning top-level group (or treats the
// node as standing alone if none exists) and reconstructs its metadata.
func (e *Engine) hydrate(ctx context.Context, nodeID string, score float64) (Result, bool, error) {
	leaf, err := e.Graph.GetNode(ctx, nodeID)
	if err != nil {
		return Result{}, false, err
	}

	fileIdentifier := leaf.FileIdentifier
	contentType := contentTypeOf(leaf.Kind)

	if root, err := e.Graph.Backtrace(ctx, nodeID); err == nil {
		fileIdentifier = root.FileIdentifier
		contentType = contentTypeOf(root.Kind)
	}

	meta := Metadata{
		ContentType:    contentType,
		StartTimestamp: leaf.StartTimestamp,
		EndTimestamp:   leaf.EndTimestamp,
	}
	if v, ok := leaf.Properties["start_index"]; ok {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			meta.StartIndex = &n
		}
	}
	if v, ok := leaf.Properties["end_index"]; ok {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			meta.EndIndex = &n
		}
	}

	return Result{FileIdentifier: fileIdentifier, Metadata: meta, Score: score, SourceNodeIDs: []string{nodeID}}, true, nil
}

// contentTypeOf maps a top-level group kind (or a standalone leaf's own
// kind) to the wire-form content_type tag used in vector payloads (§6).
func contentTypeOf(k graph.NodeKind) string {
	switch k {
	case graph.KindVideo:
		return "Video"
	case graph.KindAudio:
		return "Audio"
	case graph.KindImage:
		return "Image"
	case graph.KindDocument:
		return "RawText"
	case graph.KindWebPage:
		return "WebPage"
	default:
		return string(k)
	}
}

// contentKindTag maps a content-kind filter to the contentTypeOf tag it
// must match.
func contentKindTag(k domain.ContentKind) string {
	switch k {
	case domain.KindVideo:
		return "Video"
	case domain.KindAudio:
		return "Audio"
	case domain.KindImage:
		return "Image"
	case domain.KindRawText:
		return "RawText"
	case domain.KindWebPage:
		return "WebPage"
	default:
		return string(k)
	}
}

// mergeAdjacent consolidates hits on the same file whose time-series
// spans overlap or sit within mergeGapMS of each other: the merged span
// is (min start, max end), the merged score is max(scores). Hits with no
// timestamp range (images, or index-range hits) pass through untouched.
// No log-scaled count bonus is applied, per the spec's explicit decision
// to leave it out pending measurement.
func mergeAdjacent(results []Result) []Result {
	byFile := make(map[string][]Result)
	var order []string
	var passthrough []Result
	for _, r := range results {
		if r.Metadata.StartTimestamp == nil || r.Metadata.EndTimestamp == nil {
			passthrough = append(passthrough, r)
			continue
		}
		if _, ok := byFile[r.FileIdentifier]; !ok {
			order = append(order, r.FileIdentifier)
		}
		byFile[r.FileIdentifier] = append(byFile[r.FileIdentifier], r)
	}

	out := make([]Result, 0, len(results))
	out = append(out, passthrough...)
	for _, fid := range order {
		hits := byFile[fid]
		sort.Slice(hits, func(i, j int) bool {
			return *hits[i].Metadata.StartTimestamp < *hits[j].Metadata.StartTimestamp
		})
		cur := hits[0]
		for _, next := range hits[1:] {
			gap := *next.Metadata.StartTimestamp - *cur.Metadata.EndTimestamp
			if gap <= mergeGapMS {
				if *next.Metadata.EndTimestamp > *cur.Metadata.EndTimestamp {
					cur.Metadata.EndTimestamp = next.Metadata.EndTimestamp
				}
				if next.Score > cur.Score {
					cur.Score = next.Score
				}
				cur.SourceNodeIDs = append(cur.SourceNodeIDs, next.SourceNodeIDs...)
				continue
			}
			out = append(out, cur)
			cur = next
		}
		out = append(out, cur)
	}
	return out
}
