package rowring

import (
	"testing"
	"time"
)

func TestPushPop(t *testing.T) {
	r := NewRing[int](4)
	if r.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", r.Cap())
	}
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Errorf("Push(%d) failed on a non-full ring", i)
		}
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
	got := r.PopBatch(2)
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("PopBatch(2) = %v, want [0 1]", got)
	}
	// Wraparound: the freed slots are reused.
	r.Push(4)
	r.Push(5)
	got = r.PopBatch(100)
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("PopBatch(100) returned %d rows, want %d", len(got), len(want))
	}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("PopBatch(100)[%d] = %d, want %d", i, got[i], v)
		}
	}
	if got := r.PopBatch(1); got != nil {
		t.Errorf("PopBatch on empty ring = %v, want nil", got)
	}
}

func TestOverflowEdgeTriggered(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	if r.TakeOverflow() {
		t.Error("overflow armed before any discarded push")
	}
	if r.Push(3) {
		t.Error("Push succeeded on a full ring")
	}
	if r.Len() != 2 {
		t.Errorf("discarding push changed Len to %d, want 2", r.Len())
	}
	if !r.TakeOverflow() {
		t.Error("overflow flag not armed by discarded push")
	}
	if r.TakeOverflow() {
		t.Error("overflow flag did not clear on first read")
	}
	// Re-arms only after the ring fills and overflows again.
	r.PopBatch(2)
	r.Push(4)
	if r.TakeOverflow() {
		t.Error("overflow flag armed without a discarded push")
	}
}

func TestCounters(t *testing.T) {
	r := NewRing[int](3)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	if p := r.Produced(); p != 3 {
		t.Errorf("Produced() = %d, want 3", p)
	}
	r.PopBatch(2)
	if c := r.Consumed(); c != 2 {
		t.Errorf("Consumed() = %d, want 2", c)
	}
	r.Clear()
	if r.Len() != 0 || r.Produced() != 0 || r.Consumed() != 0 || r.TakeOverflow() {
		t.Error("Clear did not reset rows, counters, and overflow flag")
	}
}

// TestConcurrentProducerConsumer drains a producer goroutine through blocking
// waits on Ready, checking that no accepted row is lost or reordered.
func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 10000
	r := NewRing[int](64)
	go func() {
		for i := 0; i < total; i++ {
			for !r.Push(i) {
				select {
				case <-r.Space():
				case <-time.After(time.Millisecond):
				}
			}
		}
	}()

	next := 0
	deadline := time.After(10 * time.Second)
	for next < total {
		for _, v := range r.PopBatch(32) {
			if v != next {
				t.Fatalf("popped %d, want %d", v, next)
			}
			next++
		}
		if next < total {
			select {
			case <-r.Ready():
			case <-deadline:
				t.Fatalf("timed out after %d rows", next)
			}
		}
	}
	r.TakeOverflow() // the producer retried on full; flag state is not interesting here
}
