package ot

import "fmt"

// Apply runs the operation against doc, which must have exactly BaseLen
// runes. It returns the resulting document, which has exactly TargetLen
// runes, or ErrLengthMismatch if doc's length doesn't match or a
// component would run past the end of doc.
func (o *Operation) Apply(doc string) (string, error) {
	runes := []rune(doc)
	if len(runes) != o.baseLen {
		return "", fmt.Errorf("%w: apply expected base length %d, got %d", ErrLengthMismatch, o.baseLen, len(runes))
	}

	out := make([]rune, 0, o.targetLen)
	i := 0
	for _, c := range o.ops {
		switch v := c.(type) {
		case Retain:
			if i+v.N > len(runes) {
				return "", fmt.Errorf("%w: retain past end of document", ErrLengthMismatch)
			}
			out = append(out, runes[i:i+v.N]...)
			i += v.N
		case Insert:
			out = append(out, []rune(v.Text)...)
		case Delete:
			if i+v.N > len(runes) {
				return "", fmt.Errorf("%w: delete past end of document", ErrLengthMismatch)
			}
			i += v.N
		}
	}
	if i != len(runes) {
		return "", fmt.Errorf("%w: apply did not consume entire document (%d of %d)", ErrLengthMismatch, i, len(runes))
	}
	return string(out), nil
}
