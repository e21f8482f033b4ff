package sched

import (
	"sync"
	"testing"
)

func TestDispatchCoversEveryIndexExactlyOnce(t *testing.T) {
	p, err := NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	const n = 997 // deliberately not a multiple of the pool size
	seen := make([]int32, n)
	var mu sync.Mutex

	err = p.Dispatch(n, 4, func(threadIndex, from, to int) error {
		for i := from; i < to; i++ {
			mu.Lock()
			seen[i]++
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("index %d written %d times, want exactly 1", i, c)
		}
	}
}

func TestDispatchUsesEveryThreadIndex(t *testing.T) {
	p, err := NewPool(3)
	if err != nil {
		t.Fatal(err)
	}
	seenThreads := make(map[int]bool)
	var mu sync.Mutex

	err = p.Dispatch(300, 3, func(threadIndex, from, to int) error {
		mu.Lock()
		seenThreads[threadIndex] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if !seenThreads[i] {
			t.Fatalf("thread index %d never ran", i)
		}
	}
}

func TestDispatchManyTimesNoDeadlock(t *testing.T) {
	p, err := NewPool(4)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2000; i++ {
		if err := p.Dispatch(50, 4, func(threadIndex, from, to int) error { return nil }); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
}

func TestDispatchPropagatesError(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	want := "boom"
	err = p.Dispatch(10, 2, func(threadIndex, from, to int) error {
		if threadIndex == 1 {
			return errString(want)
		}
		return nil
	})
	if err == nil || err.Error() != want {
		t.Fatalf("err = %v, want %q", err, want)
	}
}

func TestDispatchPropagatesPanic(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	err = p.Dispatch(10, 2, func(threadIndex, from, to int) error {
		if threadIndex == 0 {
			panic("oh no")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestReentrantDispatchRejected(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatal(err)
	}
	var inner error
	outerErr := p.Dispatch(2, 2, func(threadIndex, from, to int) error {
		inner = p.Dispatch(2, 2, func(int, int, int) error { return nil })
		return nil
	})
	if outerErr != nil {
		t.Fatalf("outer dispatch failed: %v", outerErr)
	}
	if inner != ErrReentrantDispatch {
		t.Fatalf("inner dispatch error = %v, want ErrReentrantDispatch", inner)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
