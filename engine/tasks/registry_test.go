package tasks

import (
	"context"
	"reflect"
	"testing"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
)

// fakeTask is a minimal Task for registry/closure tests that don't need
// real capability or storage wiring.
type fakeTask struct {
	tt   domain.TaskType
	deps []domain.TaskType
}

func (f fakeTask) Type() domain.TaskType                                  { return f.tt }
func (f fakeTask) Output() artifact.OutputKind                            { return artifact.OutputNone }
func (f fakeTask) Parameters(context.Context) (string, error)             { return "{}", nil }
func (f fakeTask) Dependencies() []domain.TaskType                        { return f.deps }
func (f fakeTask) Run(context.Context, domain.FileInfo, *artifact.Run) error { return nil }

func tt(variant string) domain.TaskType {
	return domain.TaskType{Kind: domain.KindRawText, Variant: variant}
}

func TestDependencyClosureDedupesDiamond(t *testing.T) {
	// root depends on both a and b, which both depend on shared; the
	// closure must list shared exactly once, before a and b.
	reg := NewRegistryFromTasks([]Task{
		fakeTask{tt: tt("shared")},
		fakeTask{tt: tt("a"), deps: []domain.TaskType{tt("shared")}},
		fakeTask{tt: tt("b"), deps: []domain.TaskType{tt("shared")}},
		fakeTask{tt: tt("root"), deps: []domain.TaskType{tt("a"), tt("b")}},
	})

	closure, err := reg.DependencyClosure(tt("root"))
	if err != nil {
		t.Fatalf("DependencyClosure: %v", err)
	}

	count := 0
	for _, d := range closure {
		if d == tt("shared") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected shared dependency exactly once, got %d in %v", count, closure)
	}

	sharedIdx, aIdx := -1, -1
	for i, d := range closure {
		if d == tt("shared") {
			sharedIdx = i
		}
		if d == tt("a") {
			aIdx = i
		}
	}
	if sharedIdx == -1 || aIdx == -1 || sharedIdx > aIdx {
		t.Fatalf("expected shared before a, got order %v", closure)
	}
}

func TestDependencyClosureEmptyForLeaf(t *testing.T) {
	reg := NewRegistryFromTasks([]Task{fakeTask{tt: tt("leaf")}})
	closure, err := reg.DependencyClosure(tt("leaf"))
	if err != nil {
		t.Fatalf("DependencyClosure: %v", err)
	}
	if len(closure) != 0 {
		t.Fatalf("expected no dependencies, got %v", closure)
	}
}

func TestLookupUnknownTaskType(t *testing.T) {
	reg := NewRegistryFromTasks(nil)
	if _, err := reg.Lookup(tt("missing")); err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

func TestAllReturnsEveryRegisteredType(t *testing.T) {
	reg := NewRegistryFromTasks([]Task{fakeTask{tt: tt("a")}, fakeTask{tt: tt("b")}})
	all := reg.All()
	want := []domain.TaskType{tt("a"), tt("b")}
	got := map[domain.TaskType]bool{}
	for _, tt := range all {
		got[tt] = true
	}
	for _, w := range want {
		if !got[w] {
			t.Fatalf("missing %v in %v", w, all)
		}
	}
	if !reflect.DeepEqual(len(all), len(want)) {
		t.Fatalf("expected %d types, got %d", len(want), len(all))
	}
}
