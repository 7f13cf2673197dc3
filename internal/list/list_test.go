package list

import (
	"testing"
	"unsafe"
)

func TestLinkedListPushPop(t *testing.T) {
	var words [4]uintptr
	addrs := make([]uintptr, len(words))
	for i := range words {
		addrs[i] = uintptr(unsafe.Pointer(&words[i]))
	}

	var l LinkedList
	if !l.Empty() {
		t.Fatal("expected empty")
	}
	for _, a := range addrs {
		l.Push(a)
	}
	// LIFO order.
	for i := len(addrs) - 1; i >= 0; i-- {
		got, ok := l.Pop()
		if !ok || got != addrs[i] {
			t.Fatalf("pop %d: got %#x ok=%v want %#x", i, got, ok, addrs[i])
		}
	}
	if !l.Empty() {
		t.Fatal("expected empty after draining")
	}
}

func TestLinkedListRemoveMiddle(t *testing.T) {
	var words [3]uintptr
	a0 := uintptr(unsafe.Pointer(&words[0]))
	a1 := uintptr(unsafe.Pointer(&words[1]))
	a2 := uintptr(unsafe.Pointer(&words[2]))

	var l LinkedList
	l.Push(a0)
	l.Push(a1)
	l.Push(a2)

	if !l.Remove(a1) {
		t.Fatal("expected to remove a1")
	}
	if l.Remove(a1) {
		t.Fatal("double remove should fail")
	}
	if l.Contains(a1) {
		t.Fatal("a1 should be gone")
	}
	if !l.Contains(a0) || !l.Contains(a2) {
		t.Fatal("a0/a2 should remain")
	}
}

type widget struct {
	tag  int
	Node DNode
}

func TestDListAndContainerOf(t *testing.T) {
	var l DList
	l.Init()

	w1 := &widget{tag: 1}
	w2 := &widget{tag: 2}

	l.PushFront(&w1.Node)
	l.PushFront(&w2.Node)

	if l.Empty() {
		t.Fatal("expected non-empty")
	}

	n := l.PopFront()
	got := ContainerOf(n, func(w *widget) *DNode { return &w.Node })
	if got.tag != 2 {
		t.Fatalf("ContainerOf: got tag %d want 2", got.tag)
	}

	n = l.PopFront()
	got = ContainerOf(n, func(w *widget) *DNode { return &w.Node })
	if got.tag != 1 {
		t.Fatalf("ContainerOf: got tag %d want 1", got.tag)
	}
	if !l.Empty() {
		t.Fatal("expected empty after draining")
	}
}

func TestDNodeUnlinkIdempotent(t *testing.T) {
	var l DList
	l.Init()
	w := &widget{}
	l.PushFront(&w.Node)
	w.Node.Unlink()
	w.Node.Unlink() // must not panic
	if !l.Empty() {
		t.Fatal("expected empty")
	}
}
