package ecma

import (
	"encoding/binary"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"

	"siskin/pkg/fatal"
	"siskin/pkg/heap"
	"siskin/pkg/intern"
)

// RegExpFlags are the pattern flags a regexp block records. IgnoreCase,
// Multiline and DotAll map onto compile options; Unicode is recorded for
// the matcher but has no compile-time mapping.
type RegExpFlags uint16

const (
	RegExpIgnoreCase RegExpFlags = 1 << iota
	RegExpMultiline
	RegExpDotAll
	RegExpUnicode
)

func (f RegExpFlags) String() string {
	b := make([]byte, 0, 4)
	if f&RegExpIgnoreCase != 0 {
		b = append(b, 'i')
	}
	if f&RegExpMultiline != 0 {
		b = append(b, 'm')
	}
	if f&RegExpDotAll != 0 {
		b = append(b, 's')
	}
	if f&RegExpUnicode != 0 {
		b = append(b, 'u')
	}
	return string(b)
}

// NewRegExpCode compiles pattern in ECMAScript mode and builds a regexp
// block owning one reference on the interned pattern text, with the
// compiled program parked in the context's side table. A pattern that does
// not compile returns an error with no block allocated.
func (c *Context) NewRegExpCode(pattern string, flags RegExpFlags) (CodeRef, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	if flags&RegExpIgnoreCase != 0 {
		opts |= regexp2.IgnoreCase
	}
	if flags&RegExpMultiline != 0 {
		opts |= regexp2.Multiline
	}
	if flags&RegExpDotAll != 0 {
		opts |= regexp2.Singleline
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return NullCode, errors.Wrapf(err, "compile /%s/%s", pattern, flags)
	}

	granules := heap.Granules(regexpBlockLen)
	extent := granules << heap.AlignShift
	b := CodeRef(c.code.Alloc(regexpBlockLen))
	buf := c.code.Bytes(heap.Ref(b), extent)

	binary.LittleEndian.PutUint16(buf[codeOffRefs:], 1)
	binary.LittleEndian.PutUint16(buf[codeOffSize:], uint16(granules))
	binary.LittleEndian.PutUint16(buf[codeOffStatus:], uint16(extent-regexpBlockLen)<<codeStatusPadShift)
	binary.LittleEndian.PutUint16(buf[codeOffPattern:], uint16(c.strings.Intern(pattern)))
	binary.LittleEndian.PutUint16(buf[codeOffFlags:], uint16(flags))

	c.regexps[b] = re
	return b, nil
}

// CompiledRegExp is the compiled program behind a regexp block.
func (c *Context) CompiledRegExp(b CodeRef) *regexp2.Regexp {
	re, ok := c.regexps[b]
	fatal.Assert(ok, "code block %d has no compiled pattern", b)
	return re
}

// RegExpPattern is the interned pattern text of a regexp block.
func (c *Context) RegExpPattern(b CodeRef) intern.Ref {
	buf := c.codeBytes(b)
	fatal.Assert(binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction == 0,
		"code block %d is function bytecode", b)
	return intern.Ref(binary.LittleEndian.Uint16(buf[codeOffPattern:]))
}

// RegExpFlags reads back the recorded flag bits of a regexp block.
func (c *Context) RegExpFlags(b CodeRef) RegExpFlags {
	buf := c.codeBytes(b)
	fatal.Assert(binary.LittleEndian.Uint16(buf[codeOffStatus:])&codeStatusFunction == 0,
		"code block %d is function bytecode", b)
	return RegExpFlags(binary.LittleEndian.Uint16(buf[codeOffFlags:]))
}

func (c *Context) dropRegExp(b CodeRef) {
	delete(c.regexps, b)
}
