// Package snapshot serializes compiled-code graphs so an embedder can build
// them once, store the bytes, and rebuild them in another context without a
// compiler on board.
//
// A snapshot is a five-byte header ("SSKC" plus a version byte) followed by
// an unsigned LEB128 block count and that many block records in bottom-up
// order; the last record is the root. Each record starts with a flavor tag.
// Function records carry their frame fields, const literal texts, nested
// block indices and bytecode body; regexp records carry the pattern text and
// flag word. Nested entries refer to earlier records by index, shared blocks
// are emitted once, and a block referring to itself uses its own index.
package snapshot

import (
	"bufio"
	"io"
	"math"

	"github.com/jcalabro/leb128"
	"github.com/pkg/errors"

	"siskin/pkg/ecma"
	"siskin/pkg/heap"
	"siskin/pkg/intern"
)

const (
	magic   = "SSKC"
	version = 1

	tagRegExp   byte = 0
	tagFunction byte = 1
)

// Write serializes the code graph rooted at root. The root keeps the
// caller's reference; writing moves no counts.
func Write(c *ecma.Context, root ecma.CodeRef, w io.Writer) error {
	bw := bufio.NewWriter(w)
	e := &encoder{c: c, w: bw, idx: make(map[ecma.CodeRef]int)}

	e.write([]byte(magic))
	e.byte(version)

	order := e.collect(root)
	e.uleb(uint64(len(order)))
	for i, b := range order {
		e.idx[b] = i
		e.emit(b)
	}
	if e.err != nil {
		return errors.Wrap(e.err, "write snapshot")
	}
	return errors.Wrap(bw.Flush(), "write snapshot")
}

// Read rebuilds a code graph and returns its root with one reference held
// by the caller. A malformed stream reclaims everything it built before
// reporting.
func Read(c *ecma.Context, r io.Reader) (ecma.CodeRef, error) {
	br := bufio.NewReader(r)

	var hdr [5]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return ecma.NullCode, errors.Wrap(err, "read snapshot header")
	}
	if string(hdr[:4]) != magic {
		return ecma.NullCode, errors.Errorf("bad snapshot magic %q", hdr[:4])
	}
	if hdr[4] != version {
		return ecma.NullCode, errors.Errorf("snapshot version %d, want %d", hdr[4], version)
	}

	d := &decoder{c: c, r: br}
	count, err := d.uleb()
	if err != nil {
		return ecma.NullCode, errors.Wrap(err, "read block count")
	}
	if count == 0 || count > heap.MaxRecords {
		return ecma.NullCode, errors.Errorf("block count %d out of range", count)
	}

	for i := 0; i < int(count); i++ {
		b, err := d.block(i)
		if err != nil {
			return d.fail(err)
		}
		d.blocks = append(d.blocks, b)
		d.owned = append(d.owned, true)
	}
	for i := 0; i < int(count)-1; i++ {
		if d.owned[i] {
			return d.fail(errors.Errorf("block %d unreferenced", i))
		}
	}
	return d.blocks[count-1], nil
}

type encoder struct {
	c   *ecma.Context
	w   *bufio.Writer
	idx map[ecma.CodeRef]int
	err error
}

func (e *encoder) write(p []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(p)
	}
}

func (e *encoder) byte(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *encoder) uleb(v uint64) {
	e.write(leb128.EncodeU64(v))
}

func (e *encoder) str(s string) {
	e.uleb(uint64(len(s)))
	if e.err == nil {
		_, e.err = e.w.WriteString(s)
	}
}

// collect orders the graph children-first so every nested index is a back
// reference. Shared blocks appear once; self links do not recurse.
func (e *encoder) collect(root ecma.CodeRef) []ecma.CodeRef {
	var order []ecma.CodeRef
	seen := make(map[ecma.CodeRef]bool)
	var visit func(ecma.CodeRef)
	visit = func(b ecma.CodeRef) {
		if seen[b] {
			return
		}
		seen[b] = true
		if e.c.IsFunctionCode(b) {
			for _, n := range e.c.NestedLiterals(b) {
				if n != b {
					visit(n)
				}
			}
		}
		order = append(order, b)
	}
	visit(root)
	return order
}

func (e *encoder) emit(b ecma.CodeRef) {
	if !e.c.IsFunctionCode(b) {
		e.byte(tagRegExp)
		e.str(e.c.Strings().Value(e.c.RegExpPattern(b)))
		e.uleb(uint64(e.c.RegExpFlags(b)))
		return
	}

	e.byte(tagFunction)
	p := e.c.CodeParams(b)
	for _, f := range [4]uint16{p.StackLimit, p.ArgEnd, p.RegisterEnd, p.IdentEnd} {
		e.uleb(uint64(f))
	}

	lits := e.c.ConstLiterals(b)
	e.uleb(uint64(len(lits)))
	for _, lit := range lits {
		e.str(e.c.Strings().Value(lit))
	}

	nested := e.c.NestedLiterals(b)
	e.uleb(uint64(len(nested)))
	for _, n := range nested {
		e.uleb(uint64(e.idx[n]))
	}

	body := e.c.CodeBody(b)
	e.uleb(uint64(len(body)))
	e.write(body)
}

type decoder struct {
	c      *ecma.Context
	r      *bufio.Reader
	blocks []ecma.CodeRef
	owned  []bool
}

// fail tears down every block whose creation count the decoder still holds.
// Counts already transferred into parent tables go away with their parents.
func (d *decoder) fail(err error) (ecma.CodeRef, error) {
	for i := len(d.blocks) - 1; i >= 0; i-- {
		if d.owned[i] {
			d.c.DerefCode(d.blocks[i])
		}
	}
	return ecma.NullCode, err
}

func (d *decoder) uleb() (uint64, error) {
	v, err := leb128.DecodeU64(d.r)
	return v, err
}

func (d *decoder) uleb16(what string) (uint16, error) {
	v, err := d.uleb()
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", what)
	}
	if v > math.MaxUint16 {
		return 0, errors.Errorf("%s %d out of range", what, v)
	}
	return uint16(v), nil
}

func (d *decoder) str(what string) (string, error) {
	n, err := d.uleb()
	if err != nil {
		return "", errors.Wrapf(err, "read %s length", what)
	}
	if n > heap.MaxArenaBytes {
		return "", errors.Errorf("%s length %d out of range", what, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", errors.Wrapf(err, "read %s", what)
	}
	return string(buf), nil
}

func (d *decoder) block(cur int) (ecma.CodeRef, error) {
	tag, err := d.r.ReadByte()
	if err != nil {
		return ecma.NullCode, errors.Wrap(err, "read block tag")
	}
	switch tag {
	case tagRegExp:
		return d.regexpBlock()
	case tagFunction:
		return d.functionBlock(cur)
	}
	return ecma.NullCode, errors.Errorf("unknown block tag %d", tag)
}

func (d *decoder) regexpBlock() (ecma.CodeRef, error) {
	pattern, err := d.str("pattern")
	if err != nil {
		return ecma.NullCode, err
	}
	flags, err := d.uleb16("regexp flags")
	if err != nil {
		return ecma.NullCode, err
	}
	b, err := d.c.NewRegExpCode(pattern, ecma.RegExpFlags(flags))
	if err != nil {
		return ecma.NullCode, errors.Wrap(err, "snapshot regexp")
	}
	return b, nil
}

func (d *decoder) functionBlock(cur int) (ecma.CodeRef, error) {
	var params ecma.FunctionParams
	for _, f := range []struct {
		what string
		dst  *uint16
	}{
		{"stack limit", &params.StackLimit},
		{"argument end", &params.ArgEnd},
		{"register end", &params.RegisterEnd},
		{"ident end", &params.IdentEnd},
	} {
		v, err := d.uleb16(f.what)
		if err != nil {
			return ecma.NullCode, err
		}
		*f.dst = v
	}

	nlits, err := d.uleb16("const literal count")
	if err != nil {
		return ecma.NullCode, err
	}
	lits := make([]intern.Ref, 0, nlits)
	defer func() {
		for _, l := range lits {
			d.c.Strings().Release(l)
		}
	}()
	for i := 0; i < int(nlits); i++ {
		s, err := d.str("const literal")
		if err != nil {
			return ecma.NullCode, err
		}
		lits = append(lits, d.c.Strings().Intern(s))
	}

	ncount, err := d.uleb16("nested block count")
	if err != nil {
		return ecma.NullCode, err
	}
	nested := make([]ecma.CodeRef, 0, ncount)
	giveBack := func() {
		for _, n := range nested {
			if n != ecma.NullCode {
				d.c.DerefCode(n)
			}
		}
	}
	for i := 0; i < int(ncount); i++ {
		n, err := d.nestedRef(cur)
		if err != nil {
			giveBack()
			return ecma.NullCode, err
		}
		nested = append(nested, n)
	}

	bodyLen, err := d.uleb()
	if err != nil {
		giveBack()
		return ecma.NullCode, errors.Wrap(err, "read body length")
	}
	if bodyLen > heap.MaxArenaBytes {
		giveBack()
		return ecma.NullCode, errors.Errorf("body length %d out of range", bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(d.r, body); err != nil {
		giveBack()
		return ecma.NullCode, errors.Wrap(err, "read body")
	}

	return d.c.NewFunctionCode(params, lits, nested, body), nil
}

// nestedRef resolves one table entry. The current index means self and maps
// to the null marker NewFunctionCode patches. A back reference hands over
// the referenced block's creation count if the decoder still holds it, and
// adds a fresh count otherwise.
func (d *decoder) nestedRef(cur int) (ecma.CodeRef, error) {
	v, err := d.uleb()
	if err != nil {
		return ecma.NullCode, errors.Wrap(err, "read nested index")
	}
	idx := int(v)
	switch {
	case idx == cur:
		return ecma.NullCode, nil
	case idx < cur:
		b := d.blocks[idx]
		if d.owned[idx] {
			d.owned[idx] = false
		} else {
			d.c.RefCode(b)
		}
		return b, nil
	}
	return ecma.NullCode, errors.Errorf("nested index %d is not a back reference", idx)
}
