package gate

import (
	"sync"
	"testing"
)

func TestTryAcquireRejectsSecondCaller(t *testing.T) {
	g := New()

	release, ok := g.TryAcquire()
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := g.TryAcquire(); ok {
		t.Fatal("second acquire should be rejected while slot is held")
	}

	release()

	release2, ok := g.TryAcquire()
	if !ok {
		t.Fatal("acquire should succeed after release")
	}
	release2()
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New()

	release, ok := g.TryAcquire()
	if !ok {
		t.Fatal("acquire failed")
	}

	release()
	release()

	if g.Busy() {
		t.Fatal("gate should be free after double release")
	}
	if _, ok := g.TryAcquire(); !ok {
		t.Fatal("double release must not create an extra slot nor lose the only one")
	}
}

func TestBusy(t *testing.T) {
	g := New()
	if g.Busy() {
		t.Fatal("fresh gate should not be busy")
	}

	release, _ := g.TryAcquire()
	if !g.Busy() {
		t.Fatal("held gate should report busy")
	}

	release()
	if g.Busy() {
		t.Fatal("released gate should not be busy")
	}
}

func TestBusyPollDoesNotStealSlot(t *testing.T) {
	g := New()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				g.Busy()
			}
		}
	}()

	// With a free slot, the sole real caller must always win the gate no
	// matter how hard the status poller hammers Busy.
	for i := 0; i < 1000; i++ {
		release, ok := g.TryAcquire()
		if !ok {
			t.Fatalf("acquire %d failed while only Busy polls were running", i)
		}
		release()
	}

	close(stop)
	wg.Wait()
}
