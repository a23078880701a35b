package ecma

import (
	"bytes"
	"testing"

	"siskin/pkg/fatal"
	"siskin/pkg/intern"
)

func TestFunctionCodeRoundTrip(t *testing.T) {
	c := newTestContext()

	lits := []intern.Ref{c.Strings().Intern("print"), c.Strings().Intern("msg")}
	params := FunctionParams{StackLimit: 10, ArgEnd: 2, RegisterEnd: 6, IdentEnd: 8}
	body := []byte{0x01, 0x42, 0x03, 0x42, 0x05}
	b := c.NewFunctionCode(params, lits, nil, body)

	if !c.IsFunctionCode(b) {
		t.Fatal("function block not recognized as one")
	}
	got := c.CodeParams(b)
	if got.StackLimit != 10 || got.ArgEnd != 2 || got.RegisterEnd != 6 || got.IdentEnd != 8 {
		t.Errorf("CodeParams = %+v", got)
	}
	if got.ConstLiteralEnd != 2 || got.LiteralEnd != 2 {
		t.Errorf("literal bounds = %d, %d, want 2, 2", got.ConstLiteralEnd, got.LiteralEnd)
	}
	cl := c.ConstLiterals(b)
	if len(cl) != 2 || cl[0] != lits[0] || cl[1] != lits[1] {
		t.Errorf("ConstLiterals = %v, want %v", cl, lits)
	}
	if n := len(c.NestedLiterals(b)); n != 0 {
		t.Errorf("NestedLiterals length = %d, want 0", n)
	}
	// The extent is granule-rounded; the body must still read back exact.
	if gotBody := c.CodeBody(b); !bytes.Equal(gotBody, body) {
		t.Errorf("CodeBody = %v, want %v", gotBody, body)
	}
}

func TestWideHeaderRoundTrip(t *testing.T) {
	c := newTestContext()

	params := FunctionParams{StackLimit: 40, ArgEnd: 3, RegisterEnd: 300, IdentEnd: 301}
	body := []byte{0xAA, 0xBB, 0xCC}
	b := c.NewFunctionCode(params, nil, nil, body)

	got := c.CodeParams(b)
	if got.StackLimit != 40 || got.ArgEnd != 3 || got.RegisterEnd != 300 || got.IdentEnd != 301 {
		t.Errorf("CodeParams = %+v", got)
	}
	if gotBody := c.CodeBody(b); !bytes.Equal(gotBody, body) {
		t.Errorf("CodeBody = %v, want %v", gotBody, body)
	}
}

func TestConstLiteralsRetained(t *testing.T) {
	c := newTestContext()

	s := c.Strings().Intern("lit")
	b := c.NewFunctionCode(FunctionParams{StackLimit: 1}, []intern.Ref{s}, nil, []byte{0})
	c.Strings().Release(s)

	if got := c.Strings().Live(); got != 1 {
		t.Fatalf("live strings = %d, want the block's reference", got)
	}
	if got := c.Strings().Value(c.ConstLiterals(b)[0]); got != "lit" {
		t.Errorf("literal text = %q, want %q", got, "lit")
	}
	c.DerefCode(b)
	if got := c.Strings().Live(); got != 0 {
		t.Errorf("live strings = %d, want 0 after teardown", got)
	}
	if got := c.Stats().CodeInUse; got != 0 {
		t.Errorf("CodeInUse = %d, want 0", got)
	}
}

func TestCodeBlockSharing(t *testing.T) {
	c := newTestContext()

	child := c.NewFunctionCode(FunctionParams{StackLimit: 1}, nil, nil, []byte{1})
	parentA := c.NewFunctionCode(FunctionParams{StackLimit: 2}, nil, []CodeRef{child}, []byte{2})
	c.RefCode(child)
	parentB := c.NewFunctionCode(FunctionParams{StackLimit: 3}, nil, []CodeRef{child}, []byte{3})

	if got := c.codeRefCount(child); got != 2 {
		t.Fatalf("child refs = %d, want one per parent", got)
	}
	c.DerefCode(parentA)
	if got := c.codeRefCount(child); got != 1 {
		t.Fatalf("child refs = %d after one parent, want 1", got)
	}
	if got := c.NestedLiterals(parentB); len(got) != 1 || got[0] != child {
		t.Errorf("NestedLiterals = %v, want [%d]", got, child)
	}
	if gotBody := c.CodeBody(child); !bytes.Equal(gotBody, []byte{1}) {
		t.Errorf("child body = %v after sibling teardown", gotBody)
	}

	c.DerefCode(parentB)
	if got := c.Stats().CodeInUse; got != 0 {
		t.Errorf("CodeInUse = %d, want 0", got)
	}
}

func TestNestedTeardownCascades(t *testing.T) {
	c := newTestContext()

	gs := c.Strings().Intern("g")
	grand := c.NewFunctionCode(FunctionParams{StackLimit: 1}, []intern.Ref{gs}, nil, []byte{1})
	cs := c.Strings().Intern("c")
	child := c.NewFunctionCode(FunctionParams{StackLimit: 2}, []intern.Ref{cs}, []CodeRef{grand}, []byte{2})
	ps := c.Strings().Intern("p")
	parent := c.NewFunctionCode(FunctionParams{StackLimit: 3}, []intern.Ref{ps}, []CodeRef{child}, []byte{3})
	c.Strings().Release(gs)
	c.Strings().Release(cs)
	c.Strings().Release(ps)

	if got := c.Strings().Live(); got != 3 {
		t.Fatalf("live strings = %d, want 3", got)
	}
	c.DerefCode(parent)
	if got := c.Stats().CodeInUse; got != 0 {
		t.Errorf("CodeInUse = %d, want 0 after the cascade", got)
	}
	if got := c.Strings().Live(); got != 0 {
		t.Errorf("live strings = %d, want 0 after the cascade", got)
	}
}

func TestSelfReferenceSingleTeardown(t *testing.T) {
	c := newTestContext()

	rec := c.NewFunctionCode(FunctionParams{StackLimit: 4}, nil, []CodeRef{NullCode}, []byte{7})
	nested := c.NestedLiterals(rec)
	if len(nested) != 1 || nested[0] != rec {
		t.Fatalf("NestedLiterals = %v, want the block itself", nested)
	}
	if got := c.codeRefCount(rec); got != 1 {
		t.Fatalf("refs = %d, want 1: the self entry must not add a count", got)
	}
	c.DerefCode(rec)
	if got := c.Stats().CodeInUse; got != 0 {
		t.Errorf("CodeInUse = %d, want 0 after one deref", got)
	}
}

func TestRefCodeSaturates(t *testing.T) {
	c := newTestContext()

	b := c.NewFunctionCode(FunctionParams{StackLimit: 1}, nil, nil, []byte{0})
	for i := 0; i < 65534; i++ {
		c.RefCode(b)
	}
	expectTrap(t, fatal.RefCountLimit, func() { c.RefCode(b) })
}

func TestCodeFlavorContracts(t *testing.T) {
	if !fatal.Checks {
		t.Skip("assertions disabled")
	}
	c := newTestContext()

	fn := c.NewFunctionCode(FunctionParams{StackLimit: 1}, nil, nil, []byte{0})
	re, err := c.NewRegExpCode("a+", 0)
	if err != nil {
		t.Fatalf("NewRegExpCode: %v", err)
	}
	expectTrap(t, fatal.FailedAssertion, func() { c.CodeParams(re) })
	expectTrap(t, fatal.FailedAssertion, func() { c.CodeBody(re) })
	expectTrap(t, fatal.FailedAssertion, func() { c.RegExpPattern(fn) })
	expectTrap(t, fatal.FailedAssertion, func() { c.RegExpFlags(fn) })
}
