package ot

// opIterator walks a component slice head-first, letting Compose and
// Transform peel off partial components (e.g. half of a Retain) without
// mutating the underlying Operation.
type opIterator struct {
	ops []Component
	pos int
}

func newOpIterator(ops []Component) *opIterator {
	return &opIterator{ops: ops}
}

// next returns the next component, or nil once exhausted.
func (it *opIterator) next() Component {
	if it.pos >= len(it.ops) {
		return nil
	}
	c := it.ops[it.pos]
	it.pos++
	return c
}
