package fn

import (
	"testing"
)

func TestFanOutPreservesOrder(t *testing.T) {
	got := FanOut(
		func() int { return 1 },
		func() int { return 2 },
		func() int { return 3 },
	)
	want := []int{1, 2, 3}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], v)
		}
	}
}

func TestFanOutEmpty(t *testing.T) {
	got := FanOut[int]()
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestFanOutRunsConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	block := func() int {
		started <- struct{}{}
		<-release
		return 1
	}

	done := make(chan []int, 1)
	go func() { done <- FanOut(block, block) }()

	<-started
	<-started
	close(release)

	got := <-done
	if len(got) != 2 || got[0] != 1 || got[1] != 1 {
		t.Fatalf("unexpected result: %v", got)
	}
}
