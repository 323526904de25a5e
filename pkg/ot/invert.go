package ot

import "fmt"

// Invert produces the operation that undoes this one when applied to the
// document this operation produced. doc must have exactly BaseLen runes
// (the document this operation was applied to, not its result). The
// returned operation has BaseLen == o.TargetLen and TargetLen == o.BaseLen,
// satisfying invert(doc).Apply(o.Apply(doc)) == doc.
func (o *Operation) Invert(doc string) (*Operation, error) {
	runes := []rune(doc)
	if len(runes) != o.baseLen {
		return nil, fmt.Errorf("%w: invert expected base length %d, got %d", ErrLengthMismatch, o.baseLen, len(runes))
	}

	inverse := WithCapacity(len(o.ops))
	i := 0
	for _, c := range o.ops {
		switch v := c.(type) {
		case Retain:
			inverse.Retain(v.N)
			i += v.N
		case Insert:
			inverse.Delete(runeLen(v.Text))
		case Delete:
			if i+v.N > len(runes) {
				return nil, fmt.Errorf("%w: delete past end of document during invert", ErrLengthMismatch)
			}
			inverse.Insert(string(runes[i : i+v.N]))
			i += v.N
		}
	}
	return inverse, nil
}
