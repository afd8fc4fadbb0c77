package bridge

import (
	"testing"

	"github.com/lumenforge/contentbase/engine/domain"
)

func TestPointIDDeterministic(t *testing.T) {
	fid := domain.NewFileIdentifier([]byte("content"))
	tt := domain.TaskType{Kind: domain.KindVideo, Variant: "trans-chunk-sum-embed"}

	a := PointID(fid, tt, "node-1")
	b := PointID(fid, tt, "node-1")
	if a != b {
		t.Fatalf("expected deterministic point ID, got %s vs %s", a, b)
	}

	c := PointID(fid, tt, "node-2")
	if a == c {
		t.Fatal("expected different node IDs to produce different point IDs")
	}
}

func TestParsePayloadRoundTrip(t *testing.T) {
	fid := domain.NewFileIdentifier([]byte("content"))
	tt := domain.TaskType{Kind: domain.KindImage, Variant: "thumbnail"}
	payload := Payload(domain.VectorPayload{FileIdentifier: fid, TaskType: tt, NodeID: "n1"})

	parsed, err := ParsePayload(payload["file_identifier"].(string), payload["task_type"].(string), payload["node_id"].(string))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.FileIdentifier != fid || parsed.TaskType != tt || parsed.NodeID != "n1" {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
}
