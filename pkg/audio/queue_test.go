package audio_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/spellcast/pkg/audio"
)

func TestQueue_FIFO(t *testing.T) {
	q := audio.NewQueue[int](0)
	for i := range 5 {
		q.Push(i)
	}
	for want := range 5 {
		got, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	q := audio.NewQueue[int](0)
	start := time.Now()
	_, err := q.Pop(20 * time.Millisecond)
	if !errors.Is(err, audio.ErrQueueTimeout) {
		t.Fatalf("err = %v, want ErrQueueTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Pop returned before the timeout elapsed")
	}
}

func TestQueue_CloseDrainsPendingFirst(t *testing.T) {
	q := audio.NewQueue[string](0)
	q.Push("a")
	q.Close()

	if q.Push("b") {
		t.Error("Push after Close should report false")
	}
	got, err := q.Pop(time.Second)
	if err != nil || got != "a" {
		t.Fatalf("Pop = (%q, %v), want (\"a\", nil)", got, err)
	}
	if _, err := q.Pop(time.Second); !errors.Is(err, audio.ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_CloseWakesBlockedConsumer(t *testing.T) {
	q := audio.NewQueue[int](0)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, audio.ErrQueueClosed) {
			t.Errorf("err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Pop did not return after Close")
	}
}

func TestQueue_BoundedDropsOldest(t *testing.T) {
	q := audio.NewQueue[int](2)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	if got := q.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if v, _ := q.TryPop(); v != 2 {
		t.Errorf("oldest surviving item = %d, want 2", v)
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const n = 10000
	q := audio.NewQueue[int](0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			q.Push(i)
		}
		q.Close()
	}()

	next := 0
	for {
		v, err := q.Pop(time.Second)
		if errors.Is(err, audio.ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if v != next {
			t.Fatalf("out of order: got %d, want %d", v, next)
		}
		next++
	}
	wg.Wait()
	if next != n {
		t.Errorf("received %d items, want %d", next, n)
	}
}
