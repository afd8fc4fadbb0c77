package retrieval

import (
	"testing"

	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
)

func ms(n int64) *int64 { return &n }

// TestMergeAdjacentVideoChunkScenario reproduces spec scenario 2: a
// 60s lecture chunked at 10s intervals, where chunks covering 10-20s and
// 20-30s both match. Touching spans (gap == 0) must merge into one hit
// spanning 10000-30000ms, scored at the max of the two.
func TestMergeAdjacentVideoChunkScenario(t *testing.T) {
	hits := []Result{
		{FileIdentifier: "f1", Score: 0.7, Metadata: Metadata{StartTimestamp: ms(10000), EndTimestamp: ms(20000)}},
		{FileIdentifier: "f1", Score: 0.9, Metadata: Metadata{StartTimestamp: ms(20000), EndTimestamp: ms(30000)}},
	}

	merged := mergeAdjacent(hits)
	if len(merged) != 1 {
		t.Fatalf("expected a single merged hit, got %d: %+v", len(merged), merged)
	}
	got := merged[0]
	if *got.Metadata.StartTimestamp != 10000 || *got.Metadata.EndTimestamp != 30000 {
		t.Fatalf("expected span [10000,30000], got [%d,%d]", *got.Metadata.StartTimestamp, *got.Metadata.EndTimestamp)
	}
	if got.Score != 0.9 {
		t.Fatalf("expected merged score = max(0.7,0.9) = 0.9, got %v", got.Score)
	}
}

func TestMergeAdjacentDoesNotMergeDistantSpans(t *testing.T) {
	hits := []Result{
		{FileIdentifier: "f1", Score: 0.5, Metadata: Metadata{StartTimestamp: ms(0), EndTimestamp: ms(5000)}},
		{FileIdentifier: "f1", Score: 0.6, Metadata: Metadata{StartTimestamp: ms(50000), EndTimestamp: ms(55000)}},
	}
	merged := mergeAdjacent(hits)
	if len(merged) != 2 {
		t.Fatalf("expected 2 separate hits for a large gap, got %d", len(merged))
	}
}

func TestMergeAdjacentDoesNotMergeAcrossFiles(t *testing.T) {
	hits := []Result{
		{FileIdentifier: "f1", Score: 0.5, Metadata: Metadata{StartTimestamp: ms(10000), EndTimestamp: ms(20000)}},
		{FileIdentifier: "f2", Score: 0.6, Metadata: Metadata{StartTimestamp: ms(20000), EndTimestamp: ms(30000)}},
	}
	merged := mergeAdjacent(hits)
	if len(merged) != 2 {
		t.Fatalf("hits on different files must never merge, got %d", len(merged))
	}
}

func TestMergeAdjacentPassesThroughNonTimeSeriesHits(t *testing.T) {
	idx := int64(10)
	hits := []Result{
		{FileIdentifier: "f1", Score: 0.4, Metadata: Metadata{ContentType: "Image"}},
		{FileIdentifier: "f1", Score: 0.3, Metadata: Metadata{StartIndex: &idx}},
	}
	merged := mergeAdjacent(hits)
	if len(merged) != 2 {
		t.Fatalf("non-time-series hits must pass through untouched, got %d", len(merged))
	}
}

func TestFilterByDistanceKeepsOnlyInRangeTextHits(t *testing.T) {
	results := []vector.SearchResult{
		{NodeID: "below", Score: 5},
		{NodeID: "in-range", Score: 25},
		{NodeID: "above", Score: 100},
	}
	filtered := filterByDistance(results, textDistanceLower, textDistanceUpper)
	if len(filtered) != 1 || filtered[0].NodeID != "in-range" {
		t.Fatalf("expected only in-range hit to survive, got %+v", filtered)
	}
}

func TestFilterByDistanceVisionRangeIsNarrower(t *testing.T) {
	results := []vector.SearchResult{
		{NodeID: "a", Score: 5},
		{NodeID: "b", Score: 25},
	}
	filtered := filterByDistance(results, visionDistanceLower, visionDistanceUpper)
	if len(filtered) != 1 || filtered[0].NodeID != "a" {
		t.Fatalf("expected only the hit within <|2,20|>, got %+v", filtered)
	}
}

func TestRankByScoreAscendingOrdersLowestFirst(t *testing.T) {
	results := []vector.SearchResult{
		{NodeID: "far", Score: 30},
		{NodeID: "near", Score: 10},
		{NodeID: "mid", Score: 20},
	}
	ranking := rankByScore(results, func(r vector.SearchResult) (string, float64) { return r.NodeID, float64(r.Score) }, true)
	want := []string{"near", "mid", "far"}
	for i, id := range want {
		if ranking[i] != id {
			t.Fatalf("ranking[%d] = %s, want %s (full: %v)", i, ranking[i], id, ranking)
		}
	}
}

func TestContentTypeOfMapsGroupKinds(t *testing.T) {
	cases := map[graph.NodeKind]string{
		graph.KindVideo:    "Video",
		graph.KindAudio:    "Audio",
		graph.KindImage:    "Image",
		graph.KindDocument: "RawText",
		graph.KindWebPage:  "WebPage",
	}
	for kind, want := range cases {
		if got := contentTypeOf(kind); got != want {
			t.Fatalf("contentTypeOf(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestContentKindTagRoundTripsWithContentTypeOf(t *testing.T) {
	pairs := []struct {
		kind      domain.ContentKind
		nodeKind  graph.NodeKind
	}{
		{domain.KindVideo, graph.KindVideo},
		{domain.KindAudio, graph.KindAudio},
		{domain.KindImage, graph.KindImage},
		{domain.KindRawText, graph.KindDocument},
		{domain.KindWebPage, graph.KindWebPage},
	}
	for _, p := range pairs {
		if contentKindTag(p.kind) != contentTypeOf(p.nodeKind) {
			t.Fatalf("tag mismatch for %s: %s vs %s", p.kind, contentKindTag(p.kind), contentTypeOf(p.nodeKind))
		}
	}
}
