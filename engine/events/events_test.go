package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/lumenforge/contentbase/engine/domain"
	"github.com/lumenforge/contentbase/engine/executor"
)

type fakeRunner struct {
	errs  []error // one entry consumed per call; last entry repeats once exhausted
	calls int
}

func (f *fakeRunner) Run(context.Context, domain.TaskType, domain.FileInfo) (executor.Result, error) {
	i := f.calls
	if i >= len(f.errs) {
		i = len(f.errs) - 1
	}
	f.calls++
	return executor.Result{}, f.errs[i]
}

func testFile() domain.FileInfo {
	return domain.FileInfo{FileIdentifier: "0123456789abcdef", FilePath: "/tmp/x"}
}

func testTaskType() domain.TaskType {
	return domain.TaskType{Kind: domain.KindRawText, Variant: "chunk"}
}

func TestRunSucceedsWithoutRetryOnFirstTry(t *testing.T) {
	runner := &fakeRunner{errs: []error{nil}}
	b := New(runner, nil, nil)

	if _, err := b.Run(context.Background(), testTaskType(), testFile()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("calls = %d, want 1", runner.calls)
	}
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	runner := &fakeRunner{errs: []error{
		fmt.Errorf("wrap: %w", domain.ErrModelTransient),
		nil,
	}}
	b := New(runner, nil, nil)

	if _, err := b.Run(context.Background(), testTaskType(), testFile()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", runner.calls)
	}
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	transient := fmt.Errorf("wrap: %w", domain.ErrModelTransient)
	runner := &fakeRunner{errs: []error{transient, transient, transient, transient, transient}}
	b := New(runner, nil, nil)

	_, err := b.Run(context.Background(), testTaskType(), testFile())
	if err == nil {
		t.Fatal("expected a transient failure to still be returned after exhausting retries")
	}
	if runner.calls != MaxRetries {
		t.Fatalf("calls = %d, want exactly MaxRetries=%d", runner.calls, MaxRetries)
	}
}

func TestRunDoesNotRetryNonTransientFailure(t *testing.T) {
	runner := &fakeRunner{errs: []error{domain.ErrInvalidInput}}
	b := New(runner, nil, nil)

	_, err := b.Run(context.Background(), testTaskType(), testFile())
	if err == nil {
		t.Fatal("expected ErrInvalidInput to propagate")
	}
	if runner.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for non-transient errors)", runner.calls)
	}
}

func TestRunWithNilNATSConnDoesNotPanic(t *testing.T) {
	runner := &fakeRunner{errs: []error{domain.ErrCancelled}}
	b := New(runner, nil, nil)

	if _, err := b.Run(context.Background(), testTaskType(), testFile()); err == nil {
		t.Fatal("expected cancellation to propagate")
	}
}
