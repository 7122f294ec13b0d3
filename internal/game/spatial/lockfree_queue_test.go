package spatial

import (
	"sync"
	"testing"
)

func TestLockFreeQueueFIFO(t *testing.T) {
	q := NewLockFreeQueue[int](5)
	if q.Cap() != 8 {
		t.Errorf("Expected capacity rounded to 8, got %d", q.Cap())
	}

	for i := 0; i < 8; i++ {
		if !q.TryPush(i) {
			t.Fatalf("Push %d should succeed", i)
		}
	}
	if q.TryPush(99) {
		t.Error("Push into a full queue should fail")
	}

	for i := 0; i < 8; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("Expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("Pop from an empty queue should fail")
	}

	// Wrap around the ring
	buf := make([]int, q.Cap())
	for round := 0; round < 3; round++ {
		for i := 0; i < 6; i++ {
			q.TryPush(round*10 + i)
		}
		n := q.DrainTo(buf)
		if n != 6 || buf[0] != round*10 || buf[5] != round*10+5 {
			t.Fatalf("Round %d: expected 6 ordered items, got %v", round, buf[:n])
		}
	}
}

// TestLockFreeQueuePerProducerOrder verifies concurrent producers never see
// their own items reordered, which inbound message handling relies on.
func TestLockFreeQueuePerProducerOrder(t *testing.T) {
	type item struct {
		producer int
		seq      int
	}

	const producers = 8
	const perProducer = 2000
	q := NewLockFreeQueue[item](256)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.TryPush(item{producer: p, seq: i}) {
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	next := make([]int, producers)
	total := 0
	buf := make([]item, 64)
	for total < producers*perProducer {
		n := q.DrainTo(buf)
		for _, it := range buf[:n] {
			if it.seq != next[it.producer] {
				t.Fatalf("Producer %d: expected seq %d, got %d", it.producer, next[it.producer], it.seq)
			}
			next[it.producer]++
		}
		total += n
	}
	<-done
}

func TestSPSCQueue(t *testing.T) {
	q := NewSPSCQueue[string](2)
	if !q.TryPush("a") || !q.TryPush("b") {
		t.Fatal("Pushes within capacity should succeed")
	}
	if q.TryPush("c") {
		t.Error("Push into a full SPSC queue should fail")
	}
	if v, _ := q.TryPop(); v != "a" {
		t.Errorf("Expected a, got %s", v)
	}
	if q.Len() != 1 {
		t.Errorf("Expected len 1, got %d", q.Len())
	}
}
