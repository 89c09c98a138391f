package lockfree

import "sync/atomic"

type snode[T any] struct {
	value T
	next  *snode[T]
}

// Stack is an unbounded multi-producer multi-consumer LIFO stack (Treiber).
// The zero value is an empty stack.
type Stack[T any] struct {
	top  atomic.Pointer[snode[T]]
	size atomic.Int64
}

// NewStack creates an empty stack.
func NewStack[T any]() *Stack[T] {
	return &Stack[T]{}
}

// Push places v on top of the stack.
func (s *Stack[T]) Push(v T) {
	n := &snode[T]{value: v}
	for {
		old := s.top.Load()
		n.next = old
		if s.top.CompareAndSwap(old, n) {
			s.size.Add(1)
			return
		}
	}
}

// Pop removes the top of the stack. ok is false when the stack is empty.
func (s *Stack[T]) Pop() (v T, ok bool) {
	for {
		old := s.top.Load()
		if old == nil {
			return v, false
		}
		if s.top.CompareAndSwap(old, old.next) {
			s.size.Add(-1)
			return old.value, true
		}
	}
}

// Peek returns the top of the stack without removing it.
func (s *Stack[T]) Peek() (v T, ok bool) {
	if top := s.top.Load(); top != nil {
		return top.value, true
	}
	return v, false
}

// Len returns an approximate number of stacked elements.
func (s *Stack[T]) Len() int {
	if n := s.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// Drain removes every element and returns them in pop order.
func (s *Stack[T]) Drain() []T {
	var out []T
	for {
		v, ok := s.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
