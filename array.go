package pdfobj

import (
	"fmt"
	"iter"
)

// Array is a structural view over an array handle.
type Array struct {
	h Handle
}

// AsArray narrows the handle to an array view.
func (h Handle) AsArray() (Array, error) {
	if h.Type() != TypeArray {
		return Array{}, typeMismatch("array", h.Type())
	}
	return Array{h: h}, nil
}

// Handle returns the underlying handle.
func (a Array) Handle() Handle { return a.h }

func (a Array) Len() int { return len(a.h.n.items) }

// Get returns the element at i; out-of-range indices report absence,
// never an error.
func (a Array) Get(i int) (Handle, bool) {
	if i < 0 || i >= len(a.h.n.items) {
		return Handle{}, false
	}
	return Handle{doc: a.h.doc, n: a.h.n.items[i]}, true
}

// Set replaces the element at i. Direct values are snapshotted,
// indirect values share their node.
func (a Array) Set(i int, v Handle) error {
	if i < 0 || i >= len(a.h.n.items) {
		return fmt.Errorf("array index %d out of range", i)
	}
	a.h.n.items[i] = childNode(v)
	return nil
}

// Push appends an element.
func (a Array) Push(v Handle) {
	a.h.n.items = append(a.h.n.items, childNode(v))
}

// Iter yields the elements in index order. The sequence is lazy and
// restartable.
func (a Array) Iter() iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		for _, c := range a.h.n.items {
			if !yield(Handle{doc: a.h.doc, n: c}) {
				return
			}
		}
	}
}
