package pool

import (
	"context"
	"sync"
	"testing"
	"time"
)

// blockedRun lets a test hold one worker busy so the rest of a batch
// queues up and its ordering becomes observable.
func blockedRun(release <-chan struct{}) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
}

func TestPriorityOrderingHighBeforeLow(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	block := make(chan struct{})
	if err := p.Submit(context.Background(), Job{FileIdentifier: "f0", TaskType: "block", Run: func(ctx context.Context) error {
		close(block)
		return blockedRun(release)(ctx)
	}}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-block // the single worker is now occupied

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	if err := p.Submit(context.Background(), Job{FileIdentifier: "f1", Priority: PriorityLow, Run: record("low")}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(context.Background(), Job{FileIdentifier: "f2", Priority: PriorityHigh, Run: record("high")}); err != nil {
		t.Fatal(err)
	}

	close(release)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both jobs to run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "high" || order[1] != "low" {
		t.Fatalf("expected [high low], got %v", order)
	}
}

func TestPriorityOrderingFIFOWithinLevel(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	block := make(chan struct{})
	if err := p.Submit(context.Background(), Job{FileIdentifier: "f0", Run: func(ctx context.Context) error {
		close(block)
		return blockedRun(release)(ctx)
	}}); err != nil {
		t.Fatal(err)
	}
	<-block

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	if err := p.Submit(context.Background(), Job{FileIdentifier: "fa", Priority: PriorityHigh, Run: record("a")}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(context.Background(), Job{FileIdentifier: "fb", Priority: PriorityHigh, Run: record("b")}); err != nil {
		t.Fatal(err)
	}

	close(release)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b] (FIFO within same priority), got %v", order)
	}
}

func TestCancelDropsQueuedJobsForFile(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	block := make(chan struct{})
	if err := p.Submit(context.Background(), Job{FileIdentifier: "busy", Run: func(ctx context.Context) error {
		close(block)
		return blockedRun(release)(ctx)
	}}); err != nil {
		t.Fatal(err)
	}
	<-block

	ran := make(chan struct{}, 1)
	if err := p.Submit(context.Background(), Job{FileIdentifier: "target", TaskType: "video-transcript", Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	p.Cancel("target")
	close(release)

	select {
	case <-ran:
		t.Fatal("cancelled job must not run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelPrefixOnlyMatchingTasks(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	block := make(chan struct{})
	if err := p.Submit(context.Background(), Job{FileIdentifier: "busy", Run: func(ctx context.Context) error {
		close(block)
		return blockedRun(release)(ctx)
	}}); err != nil {
		t.Fatal(err)
	}
	<-block

	matchRan := make(chan struct{}, 1)
	otherRan := make(chan struct{}, 1)
	if err := p.Submit(context.Background(), Job{FileIdentifier: "f", TaskType: "video-trans-chunk", Run: func(context.Context) error {
		matchRan <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(context.Background(), Job{FileIdentifier: "f", TaskType: "video-thumbnail", Run: func(context.Context) error {
		otherRan <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	p.CancelPrefix("f", "video-trans-")
	close(release)

	select {
	case <-matchRan:
		t.Fatal("prefix-matching job must not run")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-otherRan:
	case <-time.After(2 * time.Second):
		t.Fatal("non-matching job should still run")
	}
}

func TestBackpressureBlocksSubmitPastSoftCap(t *testing.T) {
	p := New(1)
	defer p.Close()
	p.softCap = 2

	release := make(chan struct{})
	block := make(chan struct{})
	if err := p.Submit(context.Background(), Job{FileIdentifier: "busy", Run: func(ctx context.Context) error {
		close(block)
		return blockedRun(release)(ctx)
	}}); err != nil {
		t.Fatal(err)
	}
	<-block

	noop := func(context.Context) error { return nil }
	if err := p.Submit(context.Background(), Job{FileIdentifier: "a", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(context.Background(), Job{FileIdentifier: "b", Run: noop}); err != nil {
		t.Fatal(err)
	}

	submitted := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), Job{FileIdentifier: "c", Run: noop})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit should block while pending is at soft cap")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("submit should unblock once a slot frees up")
	}
}
