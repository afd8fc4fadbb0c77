// Package tasks is the Task Registry: one Task implementation per
// ContentTaskType variant, each declaring its output shape, its
// fingerprint salt, its static dependency edges, and the work itself.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/capability"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/fulltext"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/vector"
	"github.com/lumenforge/contentbase/pkg/objstore"
)

// Task is one tagged variant of ContentTaskType.
type Task interface {
	Type() domain.TaskType
	Output() artifact.OutputKind
	// Parameters returns the JSON fingerprint salt — model names,
	// thresholds — that the executor compares against a run record's
	// stored fingerprint to decide whether re-execution is required.
	Parameters(ctx context.Context) (string, error)
	Dependencies() []domain.TaskType
	// Run performs the work. run.OutputPath(ctx) resolves the path or
	// directory the task must write to; it may already exist from a
	// prior partial attempt and must be overwritten, not appended to.
	Run(ctx context.Context, file domain.FileInfo, run *artifact.Run) error
}

// Deps bundles every collaborator a task implementation may need. Not
// every task uses every field; a task that doesn't need a capability
// leaves the corresponding field unused.
type Deps struct {
	Files     objstore.Store
	Artifacts *artifact.Store
	Graph     *graph.GraphStore
	Vector    *vector.Store
	FullText  *fulltext.Index

	TextEmbedder  capability.TextEmbedding
	ImageEmbedder capability.ImageEmbedding
	Captioner     capability.ImageCaption
	Transcriber   capability.AudioTranscript
	Summarizer    capability.LLM

	// ChunkTargetTokens is the naive token-budget packing size used by
	// every *Chunk task (§4.3 default: 100).
	ChunkTargetTokens int
}

// Registry maps every known TaskType to its Task implementation.
type Registry struct {
	tasks map[domain.TaskType]Task
}

// NewRegistry builds the full task registry for one library's Deps.
func NewRegistry(d Deps) *Registry {
	r := &Registry{tasks: make(map[domain.TaskType]Task)}
	for _, t := range videoTasks(d) {
		r.add(t)
	}
	for _, t := range audioTasks(d) {
		r.add(t)
	}
	for _, t := range imageTasks(d) {
		r.add(t)
	}
	for _, t := range rawTextTasks(d) {
		r.add(t)
	}
	for _, t := range webPageTasks(d) {
		r.add(t)
	}
	return r
}

func (r *Registry) add(t Task) { r.tasks[t.Type()] = t }

// NewRegistryFromTasks builds a Registry from an explicit task list,
// bypassing Deps wiring. Used by tests that exercise dependency-closure
// resolution or executor behavior against fakes instead of the full
// content-kind task sets.
func NewRegistryFromTasks(ts []Task) *Registry {
	r := &Registry{tasks: make(map[domain.TaskType]Task)}
	for _, t := range ts {
		r.add(t)
	}
	return r
}

// Lookup returns the Task for tt, or ErrInvalidInput if unknown.
func (r *Registry) Lookup(tt domain.TaskType) (Task, error) {
	t, ok := r.tasks[tt]
	if !ok {
		return nil, domain.NewValidationError("task_type", tt.String(), domain.ErrInvalidInput)
	}
	return t, nil
}

// All returns every registered TaskType, in no particular order.
func (r *Registry) All() []domain.TaskType {
	out := make([]domain.TaskType, 0, len(r.tasks))
	for tt := range r.tasks {
		out = append(out, tt)
	}
	return out
}

// DependencyClosure returns the deduplicated transitive closure of tt's
// dependencies, topologically ordered so that a dependency always
// precedes whatever depends on it. tt itself is not included. Diamond
// dependencies (two tasks both depending on a shared ancestor) appear
// exactly once, per the registry's resolved decision to dedup the
// closure rather than re-run shared ancestors once per path.
func (r *Registry) DependencyClosure(tt domain.TaskType) ([]domain.TaskType, error) {
	visited := make(map[domain.TaskType]bool)
	var order []domain.TaskType
	var visit func(domain.TaskType) error
	visit = func(cur domain.TaskType) error {
		task, err := r.Lookup(cur)
		if err != nil {
			return err
		}
		for _, dep := range task.Dependencies() {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if err := visit(dep); err != nil {
				return err
			}
			order = append(order, dep)
		}
		return nil
	}
	if err := visit(tt); err != nil {
		return nil, err
	}
	return order, nil
}

func marshalParams(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("tasks: marshal parameters: %w", err)
	}
	return string(b), nil
}

func taskType(kind domain.ContentKind, variant string) domain.TaskType {
	return domain.TaskType{Kind: kind, Variant: variant}
}
