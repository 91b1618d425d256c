package auth

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReplayCache_Consume(t *testing.T) {
	c := NewReplayCache(10, time.Minute)
	if !c.Consume("s1") {
		t.Fatal("first use must succeed")
	}
	if c.Consume("s1") {
		t.Fatal("second use must be rejected")
	}
	if !c.Consume("s2") {
		t.Fatal("distinct state must succeed")
	}
}

func TestReplayCache_Concurrent(t *testing.T) {
	c := NewReplayCache(10, time.Minute)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Consume("shared") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("Consume succeeded %d times, want 1", wins.Load())
	}
}

func TestReplayCache_Eviction(t *testing.T) {
	c := NewReplayCache(2, time.Minute)
	for i := 0; i < 3; i++ {
		c.Consume(fmt.Sprintf("s%d", i))
	}
	// The oldest state was evicted to make room.
	if !c.Consume("s0") {
		t.Error("evicted state should be accepted again")
	}
}
