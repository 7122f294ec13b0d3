package game

import (
	"sync"
	"testing"
)

func TestTickClockAdvance(t *testing.T) {
	clock := NewTickClock(100)
	if clock.Current() != 100 {
		t.Errorf("Expected tick 100, got %d", clock.Current())
	}
	if got := clock.Advance(); got != 101 {
		t.Errorf("Expected Advance to return 101, got %d", got)
	}
	if clock.Current() != 101 {
		t.Errorf("Expected tick 101, got %d", clock.Current())
	}
}

func TestTickClockConcurrentReaders(t *testing.T) {
	clock := NewTickClock(0)
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := uint64(0)
			for i := 0; i < 1000; i++ {
				now := clock.Current()
				if now < last {
					t.Errorf("Tick went backwards: %d after %d", now, last)
					return
				}
				last = now
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		clock.Advance()
	}
	wg.Wait()

	if clock.Current() != 1000 {
		t.Errorf("Expected tick 1000, got %d", clock.Current())
	}
}
