package ot

import "fmt"

// Compose merges two consecutive operations into one that has the same
// effect as applying them in sequence: for any doc with len(doc) ==
// o.BaseLen(), other.Apply(o.Apply(doc)) == o.Compose(other).Apply(doc).
//
// o.TargetLen() must equal other.BaseLen(). This is a direct port of the
// vendored operational-transformation-go Compose, generalized from that
// library's uint64/Operation types to this package's.
func (o *Operation) Compose(other *Operation) (*Operation, error) {
	if o.targetLen != other.baseLen {
		return nil, fmt.Errorf("%w: compose base/target mismatch (%d != %d)", ErrLengthMismatch, o.targetLen, other.baseLen)
	}

	result := WithCapacity(len(o.ops) + len(other.ops))
	itA := newOpIterator(o.ops)
	itB := newOpIterator(other.ops)

	a := itA.next()
	b := itB.next()

	for {
		if a == nil && b == nil {
			return result, nil
		}

		// A delete from the first pass takes priority: it removes
		// characters the second pass never sees.
		if del, ok := a.(Delete); ok {
			result.Delete(del.N)
			a = itA.next()
			continue
		}
		// An insert from the second pass takes priority: it injects
		// characters the first pass never produced.
		if ins, ok := b.(Insert); ok {
			result.Insert(ins.Text)
			b = itB.next()
			continue
		}

		if a == nil || b == nil {
			return nil, fmt.Errorf("%w: compose exhausted one side early", ErrLengthMismatch)
		}

		if ra, ok1 := a.(Retain); ok1 {
			if rb, ok2 := b.(Retain); ok2 {
				switch {
				case ra.N < rb.N:
					result.Retain(ra.N)
					b = Retain{N: rb.N - ra.N}
					a = itA.next()
				case ra.N == rb.N:
					result.Retain(ra.N)
					a = itA.next()
					b = itB.next()
				default:
					result.Retain(rb.N)
					a = Retain{N: ra.N - rb.N}
					b = itB.next()
				}
				continue
			}
		}

		if ins, ok1 := a.(Insert); ok1 {
			if del, ok2 := b.(Delete); ok2 {
				insLen := runeLen(ins.Text)
				switch {
				case insLen < del.N:
					b = Delete{N: del.N - insLen}
					a = itA.next()
				case insLen == del.N:
					a = itA.next()
					b = itB.next()
				default:
					runes := []rune(ins.Text)
					a = Insert{Text: string(runes[del.N:])}
					b = itB.next()
				}
				continue
			}
		}

		if ins, ok1 := a.(Insert); ok1 {
			if ret, ok2 := b.(Retain); ok2 {
				insLen := runeLen(ins.Text)
				switch {
				case insLen < ret.N:
					result.Insert(ins.Text)
					b = Retain{N: ret.N - insLen}
					a = itA.next()
				case insLen == ret.N:
					result.Insert(ins.Text)
					a = itA.next()
					b = itB.next()
				default:
					runes := []rune(ins.Text)
					result.Insert(string(runes[:ret.N]))
					a = Insert{Text: string(runes[ret.N:])}
					b = itB.next()
				}
				continue
			}
		}

		if ret, ok1 := a.(Retain); ok1 {
			if del, ok2 := b.(Delete); ok2 {
				switch {
				case ret.N < del.N:
					result.Delete(ret.N)
					b = Delete{N: del.N - ret.N}
					a = itA.next()
				case ret.N == del.N:
					result.Delete(del.N)
					a = itA.next()
					b = itB.next()
				default:
					result.Delete(del.N)
					a = Retain{N: ret.N - del.N}
					b = itB.next()
				}
				continue
			}
		}

		return nil, fmt.Errorf("%w: compose hit an unexpected component pairing", ErrLengthMismatch)
	}
}
