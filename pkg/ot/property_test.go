package ot

import (
	"math/rand"
	"strings"
	"testing"
)

// randomDoc returns a random lowercase-letter string of length n.
func randomDoc(r *rand.Rand, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(byte('a' + r.Intn(26)))
	}
	return sb.String()
}

// randomOp builds a random canonical operation whose BaseLen equals
// baseLen, by repeatedly choosing retain/insert/delete steps.
func randomOp(r *rand.Rand, baseLen int) *Operation {
	op := New()
	remaining := baseLen
	for remaining > 0 {
		switch r.Intn(3) {
		case 0:
			n := 1 + r.Intn(remaining)
			op.Retain(n)
			remaining -= n
		case 1:
			n := 1 + r.Intn(remaining)
			op.Delete(n)
			remaining -= n
		case 2:
			op.Insert(randomDoc(r, 1+r.Intn(3)))
		}
	}
	if r.Intn(2) == 0 {
		op.Insert(randomDoc(r, 1+r.Intn(3)))
	}
	return op
}

func TestPropertyApplyPreservesLength(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		doc := randomDoc(r, r.Intn(20))
		op := randomOp(r, len([]rune(doc)))

		got, err := op.Apply(doc)
		if err != nil {
			t.Fatalf("Apply: %v (doc=%q op=%+v)", err, doc, op.Ops())
		}
		if len([]rune(got)) != op.TargetLen() {
			t.Fatalf("len(result)=%d, TargetLen=%d (doc=%q op=%+v)", len([]rune(got)), op.TargetLen(), doc, op.Ops())
		}
	}
}

func TestPropertyInvertRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		doc := randomDoc(r, r.Intn(20))
		op := randomOp(r, len([]rune(doc)))

		applied, err := op.Apply(doc)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		inv, err := op.Invert(doc)
		if err != nil {
			t.Fatalf("Invert: %v", err)
		}
		restored, err := inv.Apply(applied)
		if err != nil {
			t.Fatalf("Apply(inverted): %v", err)
		}
		if restored != doc {
			t.Fatalf("restore mismatch: got %q, want %q (op=%+v)", restored, doc, op.Ops())
		}
	}
}

func TestPropertyComposeEquivalence(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		doc := randomDoc(r, r.Intn(15))
		a := randomOp(r, len([]rune(doc)))
		mid, err := a.Apply(doc)
		if err != nil {
			t.Fatalf("Apply a: %v", err)
		}
		b := randomOp(r, len([]rune(mid)))

		composed, err := a.Compose(b)
		if err != nil {
			t.Fatalf("Compose: %v", err)
		}

		want, err := b.Apply(mid)
		if err != nil {
			t.Fatalf("Apply b: %v", err)
		}
		got, err := composed.Apply(doc)
		if err != nil {
			t.Fatalf("Apply composed: %v", err)
		}
		if got != want {
			t.Fatalf("compose mismatch: got %q, want %q (a=%+v b=%+v)", got, want, a.Ops(), b.Ops())
		}
	}
}

func TestPropertyTransformConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 200; i++ {
		doc := randomDoc(r, r.Intn(15))
		base := len([]rune(doc))
		a := randomOp(r, base)
		b := randomOp(r, base)

		aPrime, bPrime, err := Transform(a, b)
		if err != nil {
			t.Fatalf("Transform: %v (a=%+v b=%+v)", err, a.Ops(), b.Ops())
		}

		viaA, err := a.Compose(bPrime)
		if err != nil {
			t.Fatalf("Compose a,b': %v", err)
		}
		viaB, err := b.Compose(aPrime)
		if err != nil {
			t.Fatalf("Compose b,a': %v", err)
		}

		if !viaA.Equals(viaB) {
			t.Fatalf("structural mismatch:\na.Compose(b')=%+v\nb.Compose(a')=%+v\n(a=%+v b=%+v)",
				viaA.Ops(), viaB.Ops(), a.Ops(), b.Ops())
		}

		got1, err := viaA.Apply(doc)
		if err != nil {
			t.Fatalf("Apply viaA: %v", err)
		}
		got2, err := viaB.Apply(doc)
		if err != nil {
			t.Fatalf("Apply viaB: %v", err)
		}
		if got1 != got2 {
			t.Fatalf("convergence mismatch: %q vs %q", got1, got2)
		}
	}
}
