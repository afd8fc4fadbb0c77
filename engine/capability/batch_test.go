package capability

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeModel struct{ id int }

func TestBatchHandlerLazyLoadsOnce(t *testing.T) {
	var loads int32
	load := func(context.Context) (*fakeModel, error) {
		atomic.AddInt32(&loads, 1)
		return &fakeModel{id: int(loads)}, nil
	}
	unload := func(*fakeModel) {}
	run := func(_ context.Context, m *fakeModel, items []int) []ItemResult[int] {
		out := make([]ItemResult[int], len(items))
		for i, v := range items {
			out[i] = Ok(v * m.id)
		}
		return out
	}

	h := NewBatchHandler(load, unload, run, 1, time.Hour)
	defer h.Close()

	for i := 1; i <= 3; i++ {
		got, err := h.ProcessSingle(context.Background(), i)
		if err != nil {
			t.Fatalf("ProcessSingle(%d): %v", i, err)
		}
		if got != i*1 {
			t.Fatalf("ProcessSingle(%d) = %d, want %d (model id should stay 1)", i, got, i)
		}
	}
	if atomic.LoadInt32(&loads) != 1 {
		t.Fatalf("model loaded %d times, want 1", loads)
	}
}

func TestBatchHandlerUnloadsAfterIdle(t *testing.T) {
	var loaded, unloaded int32
	load := func(context.Context) (*fakeModel, error) {
		atomic.AddInt32(&loaded, 1)
		return &fakeModel{}, nil
	}
	unload := func(*fakeModel) { atomic.AddInt32(&unloaded, 1) }
	run := func(_ context.Context, m *fakeModel, items []int) []ItemResult[int] {
		out := make([]ItemResult[int], len(items))
		for i, v := range items {
			out[i] = Ok(v)
		}
		return out
	}

	h := NewBatchHandler(load, unload, run, 1, 20*time.Millisecond)
	defer h.Close()

	if _, err := h.ProcessSingle(context.Background(), 1); err != nil {
		t.Fatalf("ProcessSingle: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&unloaded) != 1 {
		t.Fatalf("model unloaded %d times after idle, want 1", unloaded)
	}

	if _, err := h.ProcessSingle(context.Background(), 2); err != nil {
		t.Fatalf("ProcessSingle after unload: %v", err)
	}
	if atomic.LoadInt32(&loaded) != 2 {
		t.Fatalf("model reloaded %d times, want 2", loaded)
	}
}

func TestBatchHandlerPropagatesLoadError(t *testing.T) {
	wantErr := context.Canceled
	load := func(context.Context) (*fakeModel, error) { return nil, wantErr }
	unload := func(*fakeModel) {}
	run := func(_ context.Context, m *fakeModel, items []int) []ItemResult[int] {
		return []ItemResult[int]{Ok(0)}
	}

	h := NewBatchHandler(load, unload, run, 1, time.Hour)
	defer h.Close()

	_, err := h.ProcessSingle(context.Background(), 1)
	if err != wantErr {
		t.Fatalf("got err %v, want %v", err, wantErr)
	}
}

func TestBatchHandlerCancelledCallerIsSkippedCheaply(t *testing.T) {
	load := func(context.Context) (*fakeModel, error) {
		time.Sleep(50 * time.Millisecond)
		return &fakeModel{}, nil
	}
	unload := func(*fakeModel) {}
	run := func(_ context.Context, m *fakeModel, items []int) []ItemResult[int] {
		out := make([]ItemResult[int], len(items))
		for i, v := range items {
			out[i] = Ok(v)
		}
		return out
	}

	h := NewBatchHandler(load, unload, run, 1, time.Hour)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := h.ProcessSingle(ctx, 1); err == nil {
		t.Fatal("expected cancellation error")
	}
}
