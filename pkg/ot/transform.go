package ot

import "fmt"

// Transform reconciles two operations that were both generated against
// the same base document (a.BaseLen() must equal b.BaseLen()) into a
// pair (a', b') such that a.Compose(b') and b.Compose(a') have the same
// canonical form and produce identical results when applied to any valid
// base document.
//
// When both operations insert at the same position, a's insert is placed
// first — the tie-break priority spec.md requires servers to enforce by
// always passing the incoming client op as Transform's first argument
// against historical ops.
func Transform(a, b *Operation) (aPrime, bPrime *Operation, err error) {
	if a.baseLen != b.baseLen {
		return nil, nil, fmt.Errorf("%w: transform base length mismatch (%d != %d)", ErrLengthMismatch, a.baseLen, b.baseLen)
	}

	aPrime = WithCapacity(len(a.ops) + len(b.ops))
	bPrime = WithCapacity(len(a.ops) + len(b.ops))

	itA := newOpIterator(a.ops)
	itB := newOpIterator(b.ops)

	x := itA.next()
	y := itB.next()

	for {
		if x == nil && y == nil {
			return aPrime, bPrime, nil
		}

		if ins, ok := x.(Insert); ok {
			aPrime.Insert(ins.Text)
			bPrime.Retain(runeLen(ins.Text))
			x = itA.next()
			continue
		}
		if ins, ok := y.(Insert); ok {
			aPrime.Retain(runeLen(ins.Text))
			bPrime.Insert(ins.Text)
			y = itB.next()
			continue
		}

		if x == nil || y == nil {
			return nil, nil, fmt.Errorf("%w: transform exhausted one side early", ErrLengthMismatch)
		}

		switch xv := x.(type) {
		case Retain:
			switch yv := y.(type) {
			case Retain:
				switch {
				case xv.N < yv.N:
					aPrime.Retain(xv.N)
					bPrime.Retain(xv.N)
					y = Retain{N: yv.N - xv.N}
					x = itA.next()
				case xv.N == yv.N:
					aPrime.Retain(xv.N)
					bPrime.Retain(xv.N)
					x = itA.next()
					y = itB.next()
				default:
					aPrime.Retain(yv.N)
					bPrime.Retain(yv.N)
					x = Retain{N: xv.N - yv.N}
					y = itB.next()
				}
				continue
			case Delete:
				switch {
				case xv.N < yv.N:
					bPrime.Delete(xv.N)
					y = Delete{N: yv.N - xv.N}
					x = itA.next()
				case xv.N == yv.N:
					bPrime.Delete(xv.N)
					x = itA.next()
					y = itB.next()
				default:
					bPrime.Delete(yv.N)
					x = Retain{N: xv.N - yv.N}
					y = itB.next()
				}
				continue
			}
		case Delete:
			switch yv := y.(type) {
			case Retain:
				switch {
				case xv.N < yv.N:
					aPrime.Delete(xv.N)
					y = Retain{N: yv.N - xv.N}
					x = itA.next()
				case xv.N == yv.N:
					aPrime.Delete(xv.N)
					x = itA.next()
					y = itB.next()
				default:
					aPrime.Delete(yv.N)
					x = Delete{N: xv.N - yv.N}
					y = itB.next()
				}
				continue
			case Delete:
				switch {
				case xv.N < yv.N:
					y = Delete{N: yv.N - xv.N}
					x = itA.next()
				case xv.N == yv.N:
					x = itA.next()
					y = itB.next()
				default:
					x = Delete{N: xv.N - yv.N}
					y = itB.next()
				}
				continue
			}
		}

		return nil, nil, fmt.Errorf("%w: transform hit an unexpected component pairing", ErrLengthMismatch)
	}
}

// Transform is the method form of the package-level Transform, mirroring
// the call shape kolabpad's ApplyEdit uses against its external OT
// library (transformed.Transform(histOp.Operation)).
func (o *Operation) Transform(other *Operation) (oPrime, otherPrime *Operation, err error) {
	return Transform(o, other)
}
