package admission

import (
	"sync"
	"testing"
)

func TestAcquireUpToCap(t *testing.T) {
	c := NewController(3)
	for i := 0; i < 3; i++ {
		if !c.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i)
		}
	}
	if c.TryAcquire() {
		t.Fatal("acquire past the cap should fail")
	}
	if c.Active() != 3 {
		t.Fatalf("expected 3 active, got %d", c.Active())
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	c := NewController(1)
	if !c.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if c.TryAcquire() {
		t.Fatal("second acquire should fail")
	}
	c.Release()
	if !c.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRejectionHasNoSideEffects(t *testing.T) {
	c := NewController(1)
	c.TryAcquire()
	for i := 0; i < 10; i++ {
		c.TryAcquire()
	}
	c.Release()
	if c.Active() != 0 {
		t.Fatalf("failed acquires must not consume slots, active=%d", c.Active())
	}
}

func TestLastSlotRace(t *testing.T) {
	c := NewController(1)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one winner for the last slot, got %d", n)
	}
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on release without acquire")
		}
	}()
	NewController(1).Release()
}

func TestDefaultCap(t *testing.T) {
	if got := NewController(0).Max(); got != 50 {
		t.Fatalf("expected default cap 50, got %d", got)
	}
}
