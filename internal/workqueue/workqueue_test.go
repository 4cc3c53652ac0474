package workqueue

import (
	"testing"
	"time"
)

func TestPush_Deduplicates(t *testing.T) {
	q := New()
	q.Push("a")
	q.Push("b")
	q.Push("a")

	if got := q.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if got := q.Snapshot(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Snapshot() = %v, want [a b]", got)
	}
}

func TestPushPop_FIFOOrder(t *testing.T) {
	q := New()
	q.Push("first")
	q.Push("second")
	q.Push("third")

	for _, want := range []string{"first", "second", "third"} {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned ok=false, want id %q", want)
		}
		if got != want {
			t.Fatalf("Pop() = %q, want %q", got, want)
		}
	}
}

func TestPop_BlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan string, 1)

	go func() {
		id, ok := q.Pop()
		if !ok {
			done <- ""
			return
		}
		done <- id
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("late")

	select {
	case got := <-done:
		if got != "late" {
			t.Fatalf("Pop() = %q, want %q", got, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not unblock after Push")
	}
}

func TestClose_UnblocksPop(t *testing.T) {
	q := New()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop() returned ok=true after Close on an empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not unblock after Close")
	}
}

func TestRepushAfterPop_ReEnqueues(t *testing.T) {
	q := New()
	q.Push("x")
	if _, ok := q.Pop(); !ok {
		t.Fatal("expected Pop to succeed")
	}
	q.Push("x")
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}
