package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode is returned when a wire-encoded operation is malformed: an
// array element that is neither a number nor a string, or a JSON value
// that isn't even an array.
var ErrDecode = errors.New("ot: malformed wire operation")

// MarshalJSON encodes the operation in its compact wire form: an ordered
// array where a positive integer is a Retain, a negative integer is a
// Delete of |n| characters, and a string is an Insert.
func (o *Operation) MarshalJSON() ([]byte, error) {
	wire := make([]any, 0, len(o.ops))
	for _, c := range o.ops {
		switch v := c.(type) {
		case Retain:
			wire = append(wire, v.N)
		case Delete:
			wire = append(wire, -v.N)
		case Insert:
			wire = append(wire, v.Text)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the compact wire form, rebuilding the operation
// through the builder so canonical form is re-imposed and malformed
// component sequences are rejected the same way a freshly constructed
// operation would be.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var wire []any
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	built := New()
	for _, elem := range wire {
		switch v := elem.(type) {
		case float64:
			n := int(v)
			if float64(n) != v {
				return fmt.Errorf("%w: non-integer component %v", ErrDecode, v)
			}
			if n > 0 {
				built.Retain(n)
			} else if n < 0 {
				built.Delete(-n)
			}
			// n == 0 is silently dropped, matching the builder's
			// own zero-length-component rule.
		case string:
			built.Insert(v)
		default:
			return fmt.Errorf("%w: unsupported component type %T", ErrDecode, elem)
		}
	}

	*o = *built
	return nil
}
