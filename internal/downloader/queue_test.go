package downloader

import "testing"

func TestFIFOQueueOrdering(t *testing.T) {
	q := newFIFOQueue([]chunkJob{{index: 0}, {index: 1}, {index: 2}})
	for i := 0; i < 3; i++ {
		job, ok := q.take()
		if !ok || job.index != i {
			t.Fatalf("expected index %d, got %+v ok=%v", i, job, ok)
		}
	}
	if _, ok := q.take(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestPeerIteratorRoundRobin(t *testing.T) {
	it := newPeerIterator([]string{"a", "b", "c"})
	seq := []string{it.take(), it.take(), it.take(), it.take()}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("at %d: got %q want %q", i, seq[i], want[i])
		}
	}
}

func TestAttemptCounterIncrements(t *testing.T) {
	a := newAttemptCounter()
	if got := a.increment(5); got != 1 {
		t.Fatalf("got %d", got)
	}
	if got := a.increment(5); got != 2 {
		t.Fatalf("got %d", got)
	}
	if a.get(5) != 2 {
		t.Fatalf("get mismatch")
	}
}
