package retrieval

import (
	"reflect"
	"testing"
)

// TestRRFWorkedExample reproduces original_source/crates/content-base/
// src/query/rank.rs's test_rrt: three rankings fuse to a single order.
func TestRRFWorkedExample(t *testing.T) {
	ranking1 := []string{"doc1", "doc2", "doc3", "doc4"}
	ranking2 := []string{"doc3", "doc2", "doc1", "doc5"}
	ranking3 := []string{"doc2", "doc3", "doc5", "doc1"}

	got := RRF(DefaultRRFK, ranking1, ranking2, ranking3)
	want := []string{"doc2", "doc3", "doc1", "doc5", "doc4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RRF fusion = %v, want %v", got, want)
	}
}

func TestRRFDefaultKWhenNonPositive(t *testing.T) {
	a := RRF(0, []string{"x", "y"})
	b := RRF(DefaultRRFK, []string{"x", "y"})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("k<=0 should fall back to DefaultRRFK: got %v vs %v", a, b)
	}
}

func TestRRFIdAbsentFromOneRankingStillScores(t *testing.T) {
	// "only" appears in a single ranking; it must still surface with a
	// non-zero score rather than being dropped for lacking a rank in the
	// other list.
	got := RRF(60, []string{"only"}, []string{"other"})
	if len(got) != 2 {
		t.Fatalf("expected both ids present, got %v", got)
	}
}

func TestRRFTiesBrokenByInsertionOrder(t *testing.T) {
	// Both ids rank first in their own (disjoint) ranking, so their fused
	// scores tie; "a" was seen first (ranking order), so it must sort first.
	got := RRF(60, []string{"a"}, []string{"b"})
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tie-break = %v, want %v", got, want)
	}
}

func TestRRFScoresMatchesFormula(t *testing.T) {
	scores := RRFScores(60, []string{"a", "b"})
	wantA := 1.0 / (60.0 + 0.0 + 1.0)
	wantB := 1.0 / (60.0 + 1.0 + 1.0)
	if scores["a"] != wantA {
		t.Fatalf("score(a) = %v, want %v", scores["a"], wantA)
	}
	if scores["b"] != wantB {
		t.Fatalf("score(b) = %v, want %v", scores["b"], wantB)
	}
}
