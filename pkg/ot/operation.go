// Package ot implements the operational-transformation algebra that
// underlies the collaborative editing core: a value type for text edits
// supporting Apply, Invert, Compose and the symmetric Transform, built
// around a canonical form that keeps those operators unambiguous.
//
// This is a direct descendant of the Rust operational-transform crate by
// way of github.com/shiv248/operational-transformation-go, the library
// kolabpad imports; the construction/merge logic below is a generalized
// port of that library's OperationSeq, with Apply/Invert/Transform and the
// compact wire JSON form added per the collaborative-editing spec this
// package implements.
package ot

import (
	"errors"
	"unicode/utf8"
)

// ErrLengthMismatch is returned by Apply, Invert, Compose and Transform
// when an operation's base/target length does not match its precondition.
// It indicates a bug or state corruption, never a recoverable user error.
var ErrLengthMismatch = errors.New("ot: length mismatch")

// Component is one retain/insert/delete step of an Operation. It is
// modeled as an interface with three concrete cases to match Go idiom
// while keeping the canonical-form invariants statically checkable.
type Component interface {
	isComponent()
}

// Retain advances the cursor N characters through the base document
// without modifying it.
type Retain struct{ N int }

// Delete consumes N characters of the base document without emitting
// them to the target.
type Delete struct{ N int }

// Insert emits Text into the target document at the current position.
type Insert struct{ Text string }

func (Retain) isComponent() {}
func (Delete) isComponent() {}
func (Insert) isComponent() {}

// runeLen returns the number of Unicode codepoints in s; operations are
// indexed in codepoints, not bytes, so multi-byte text composes cleanly.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Operation is an ordered sequence of Components together with its
// derived baseLen/targetLen. Values are always in canonical form (see
// package doc): no empty components, no same-kind adjacents, and any
// Insert/Delete pair keeps the Insert first. The zero value is the empty,
// no-op operation.
type Operation struct {
	ops       []Component
	baseLen   int
	targetLen int
}

// New returns an empty operation ready to be built up with Retain/
// Insert/Delete.
func New() *Operation {
	return &Operation{}
}

// WithCapacity returns an empty operation whose backing slice is
// preallocated for the given number of components.
func WithCapacity(n int) *Operation {
	return &Operation{ops: make([]Component, 0, n)}
}

// BaseLen is the length of the document this operation expects to be
// applied to: the sum of all Retain and Delete lengths.
func (o *Operation) BaseLen() int { return o.baseLen }

// TargetLen is the length of the document this operation produces: the
// sum of all Retain lengths and Insert text lengths.
func (o *Operation) TargetLen() int { return o.targetLen }

// Ops returns the canonical component sequence. The returned slice must
// not be mutated by the caller.
func (o *Operation) Ops() []Component { return o.ops }

// IsNoop reports whether this operation has no effect on a document: it
// is either empty or a single Retain.
func (o *Operation) IsNoop() bool {
	if len(o.ops) == 0 {
		return true
	}
	if len(o.ops) == 1 {
		_, ok := o.ops[0].(Retain)
		return ok
	}
	return false
}

// Equals reports canonical-form equality: the same component sequence in
// the same order. It is not a semantic-equivalence check beyond that.
func (o *Operation) Equals(other *Operation) bool {
	if o == nil || other == nil {
		return o == other
	}
	if len(o.ops) != len(other.ops) {
		return false
	}
	for i, c := range o.ops {
		switch a := c.(type) {
		case Retain:
			b, ok := other.ops[i].(Retain)
			if !ok || a.N != b.N {
				return false
			}
		case Delete:
			b, ok := other.ops[i].(Delete)
			if !ok || a.N != b.N {
				return false
			}
		case Insert:
			b, ok := other.ops[i].(Insert)
			if !ok || a.Text != b.Text {
				return false
			}
		}
	}
	return true
}

// Retain appends a retain of n characters, merging with an adjacent
// Retain tail. It panics on negative n: builder arguments come from
// trusted call sites (local edit deltas, decoded wire ops, or other
// Operation algebra), never directly from unchecked user input.
func (o *Operation) Retain(n int) *Operation {
	if n < 0 {
		panic("ot: negative retain length")
	}
	if n == 0 {
		return o
	}
	o.baseLen += n
	o.targetLen += n

	if last := len(o.ops) - 1; last >= 0 {
		if r, ok := o.ops[last].(Retain); ok {
			o.ops[last] = Retain{N: r.N + n}
			return o
		}
	}
	o.ops = append(o.ops, Retain{N: n})
	return o
}

// Delete appends a delete of n characters, merging with an adjacent
// Delete tail. Appending after a trailing Insert needs no swap: Insert
// already precedes Delete there, which is exactly the canonical order
// (see Insert, which is the direction that does need to swap).
func (o *Operation) Delete(n int) *Operation {
	if n < 0 {
		panic("ot: negative delete length")
	}
	if n == 0 {
		return o
	}
	o.baseLen += n

	if last := len(o.ops) - 1; last >= 0 {
		if d, ok := o.ops[last].(Delete); ok {
			o.ops[last] = Delete{N: d.N + n}
			return o
		}
	}
	o.ops = append(o.ops, Delete{N: n})
	return o
}

// Insert appends s to the target. It merges into an adjacent Insert tail,
// or into an Insert immediately preceding a trailing Delete, and is a
// no-op for an empty string.
func (o *Operation) Insert(s string) *Operation {
	if s == "" {
		return o
	}
	o.targetLen += runeLen(s)

	last := len(o.ops) - 1
	if last >= 0 {
		if ins, ok := o.ops[last].(Insert); ok {
			o.ops[last] = Insert{Text: ins.Text + s}
			return o
		}
		if last-1 >= 0 {
			if _, ok := o.ops[last].(Delete); ok {
				if ins, ok := o.ops[last-1].(Insert); ok {
					o.ops[last-1] = Insert{Text: ins.Text + s}
					return o
				}
			}
		}
		if del, ok := o.ops[last].(Delete); ok {
			o.ops[last] = Insert{Text: s}
			o.ops = append(o.ops, del)
			return o
		}
	}
	o.ops = append(o.ops, Insert{Text: s})
	return o
}
