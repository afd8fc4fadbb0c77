package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// --- Mocks ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (r *mockResult) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *mockResult) Record() *neo4j.Record {
	if r.idx <= 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records}
}

type mockSession struct {
	runResult CypherResult
	runErr    error
	writeErr  error
	closed    bool
	writes    int
}

func (s *mockSession) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	return s.runResult, s.runErr
}

func (s *mockSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

func (s *mockSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	s.writes++
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(&mockTx{result: s.runResult, runErr: s.runErr})
}

type mockTx struct {
	result CypherResult
	runErr error
}

func (t *mockTx) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	if t.result == nil {
		return newMockResult(), t.runErr
	}
	return t.result, t.runErr
}

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(_ context.Context) CypherSession {
	return o.session
}

func makeNodeRecord(props map[string]any) *neo4j.Record {
	node := dbtype.Node{Props: props}
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{node}}
}

// --- Pure function tests ---

func TestSanitizeRelType(t *testing.T) {
	tests := []struct{ input, want string }{
		{"contains", "CONTAINS"},
		{"with", "WITH"},
		{"", "RELATED_TO"},
		{"has-wire", "HASWIRE"},
		{"ALREADY_UPPER", "ALREADY_UPPER"},
		{"---", "RELATED_TO"},
	}
	for _, tt := range tests {
		if got := sanitizeRelType(tt.input); got != tt.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNodeFromProps(t *testing.T) {
	props := map[string]any{
		"id":              "n1",
		"file_identifier": "abc123",
		"kind":            "text",
		"prop_lang":       "en",
	}
	n := nodeFromProps(props)
	if n.ID != "n1" || n.FileIdentifier != "abc123" || n.Kind != KindText {
		t.Fatalf("unexpected node: %+v", n)
	}
	if n.Properties["lang"] != "en" {
		t.Fatalf("expected prop lang=en, got %v", n.Properties)
	}
}

func TestNodeToMap(t *testing.T) {
	ts := int64(42)
	n := Node{ID: "n1", Kind: KindAudioFrame, StartTimestamp: &ts, Properties: map[string]string{"x": "y"}}
	m := nodeToMap(n)
	if m["id"] != "n1" || m["kind"] != "audio_frame" || m["start_timestamp"] != int64(42) {
		t.Fatalf("unexpected map: %+v", m)
	}
	if m["prop_x"] != "y" {
		t.Fatal("missing prop_x")
	}
}

func TestSaveNode_Success(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	gs := NewWithOpener(&mockOpener{session: sess})

	if err := gs.SaveNode(context.Background(), Node{ID: "n1", Kind: KindText}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.closed {
		t.Fatal("session not closed")
	}
}

func TestSaveNode_Error(t *testing.T) {
	sess := &mockSession{runErr: errors.New("db error")}
	gs := NewWithOpener(&mockOpener{session: sess})

	if err := gs.SaveNode(context.Background(), Node{ID: "n1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLink(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	gs := NewWithOpener(&mockOpener{session: sess})

	err := gs.Link(context.Background(), Edge{ID: "e1", From: "a", To: "b", Type: EdgeContains})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChildren(t *testing.T) {
	rec := makeNodeRecord(map[string]any{"id": "c1", "kind": "text"})
	sess := &mockSession{runResult: newMockResult(rec)}
	gs := NewWithOpener(&mockOpener{session: sess})

	nodes, err := gs.Children(context.Background(), "group1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "c1" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}

func TestBacktraceNotFound(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	gs := NewWithOpener(&mockOpener{session: sess})

	if _, err := gs.Backtrace(context.Background(), "leaf1"); err == nil {
		t.Fatal("expected error when no root found")
	}
}

func TestUpsertGroupRunsInOneTransaction(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	gs := NewWithOpener(&mockOpener{session: sess})

	group := Node{ID: "g1", Kind: KindDocument}
	children := []Node{{ID: "c1", Kind: KindText}, {ID: "c2", Kind: KindText}}
	if err := gs.UpsertGroup(context.Background(), group, children); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.writes != 1 {
		t.Fatalf("expected exactly one ExecuteWrite call, got %d", sess.writes)
	}
}

func TestPurgeFile(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	gs := NewWithOpener(&mockOpener{session: sess})

	if err := gs.PurgeFile(context.Background(), "fid123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.writes != 1 {
		t.Fatalf("expected one transaction, got %d", sess.writes)
	}
}
