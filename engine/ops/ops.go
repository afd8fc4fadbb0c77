// Package ops implements the Cancellation & Ops Surface (spec §4.12): the
// thin façade that wires engine/pool, engine/executor, engine/artifact,
// engine/graph, and engine/vector together behind three operator actions
// (cancel, trigger_unfinished, purge) without owning any state of its own.
package ops

import (
	"context"
	"fmt"

	"github.com/lumenforge/contentbase/engine/artifact"
	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/executor"
	"github.com/lumenforge/contentbase/engine/graph"
	"github.com/lumenforge/contentbase/engine/pool"
	"github.com/lumenforge/contentbase/engine/tasks"
	"github.com/lumenforge/contentbase/engine/vector"
	"github.com/lumenforge/contentbase/pkg/objstore"
)

// FileResolver looks up the domain.FileInfo backing a file identifier, so
// TriggerUnfinished can hand the executor a real file to re-run against.
// Libraries typically implement this as a thin wrapper deriving FilePath
// from artifact.SourceFilePath.
type FileResolver func(ctx context.Context, fid domain.FileIdentifier) (domain.FileInfo, error)

// Surface is the sole entry point for the three ops-surface actions.
type Surface struct {
	Pool      *pool.Pool
	Executor  *executor.Executor
	Registry  *tasks.Registry
	Artifacts *artifact.Store
	Graph     *graph.GraphStore
	Vector    *vector.Store
	Files     objstore.Store
	Resolve   FileResolver
}

// Cancel drops every queued task for fileIdentifier and signals the
// in-flight one, if any. An empty prefix cancels the whole file; a
// non-empty prefix only cancels task types under it (§4.6).
func (s *Surface) Cancel(fileIdentifier string, prefix string) {
	if prefix == "" {
		s.Pool.Cancel(fileIdentifier)
		return
	}
	s.Pool.CancelPrefix(fileIdentifier, prefix)
}

// TriggerUnfinished scans every pending run record with a nil exit code
// and re-enqueues it, grouped by file and ordered so a file's
// lower-stage tasks (its dependency closure) enqueue before the task
// that was actually left unfinished (§4.12).
func (s *Surface) TriggerUnfinished(ctx context.Context) (int, error) {
	unfinished, err := s.Artifacts.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("ops: list unfinished runs: %w", err)
	}

	byFile := make(map[domain.FileIdentifier][]domain.TaskType)
	var order []domain.FileIdentifier
	for _, rec := range unfinished {
		if _, ok := byFile[rec.FileIdentifier]; !ok {
			order = append(order, rec.FileIdentifier)
		}
		byFile[rec.FileIdentifier] = append(byFile[rec.FileIdentifier], rec.TaskType)
	}

	enqueued := 0
	for _, fid := range order {
		file, err := s.Resolve(ctx, fid)
		if err != nil {
			continue // StorageIO/NotFound: skip this file, keep draining the rest
		}
		for _, tt := range orderedWithDependencies(s.Registry, byFile[fid]) {
			tt := tt
			job := pool.Job{
				FileIdentifier: fid.String(),
				TaskType:       tt.String(),
				Priority:       pool.PriorityNormal,
				Run: func(ctx context.Context) error {
					_, err := s.Executor.Run(ctx, tt, file)
					return err
				},
			}
			if err := s.Pool.Submit(ctx, job); err != nil {
				return enqueued, fmt.Errorf("ops: submit %s for %s: %w", tt, fid, err)
			}
			enqueued++
		}
	}
	return enqueued, nil
}

// orderedWithDependencies expands want (the unfinished task types for one
// file) into their full dependency closures, deduplicated and
// topologically ordered so that a lower-stage task is always enqueued
// before anything that depends on it — including the unfinished tasks
// themselves, in case more than one stage crashed.
func orderedWithDependencies(reg *tasks.Registry, want []domain.TaskType) []domain.TaskType {
	seen := make(map[domain.TaskType]bool)
	var out []domain.TaskType
	add := func(tt domain.TaskType) {
		if !seen[tt] {
			seen[tt] = true
			out = append(out, tt)
		}
	}
	for _, tt := range want {
		closure, err := reg.DependencyClosure(tt)
		if err == nil {
			for _, dep := range closure {
				add(dep)
			}
		}
		add(tt)
	}
	return out
}

// Purge deletes every trace of a file: its vector points (across all
// three collections), every graph node tagged with its file identifier, its
// artifact directory and run records, and — if deleteSource is true —
// the original file bytes too (§4.12, §8 cascade-completeness).
func (s *Surface) Purge(ctx context.Context, fid domain.FileIdentifier, deleteSource bool) error {
	s.Pool.Cancel(fid.String())

	for field := range vector.Collections {
		if err := s.Vector.DeleteByFileIdentifier(ctx, field, fid.String()); err != nil {
			return fmt.Errorf("ops: purge vector points for %s: %w", fid, err)
		}
	}

	if err := s.Graph.PurgeFile(ctx, fid.String()); err != nil {
		return fmt.Errorf("ops: purge graph nodes for %s: %w", fid, err)
	}

	if err := s.Artifacts.PurgeRecords(ctx, fid); err != nil {
		return fmt.Errorf("ops: purge run records for %s: %w", fid, err)
	}
	if err := s.Files.RemoveDirRecursive(ctx, artifact.ArtifactDir(fid)); err != nil && err != objstore.ErrNotFound {
		return fmt.Errorf("ops: remove artifact dir for %s: %w", fid, err)
	}

	if deleteSource {
		if err := s.Files.RemoveFile(ctx, artifact.SourceFilePath(fid)); err != nil && err != objstore.ErrNotFound {
			return fmt.Errorf("ops: remove source file for %s: %w", fid, err)
		}
	}
	return nil
}
