package snapshot_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"siskin/pkg/config"
	"siskin/pkg/ecma"
	"siskin/pkg/intern"
	"siskin/pkg/snapshot"
)

type errorWriter struct{}

func (errorWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("test error")
}

func TestFunctionRoundTrip(t *testing.T) {
	src := ecma.NewContext(config.Default())

	la := src.Strings().Intern("console")
	lb := src.Strings().Intern("log")
	params := ecma.FunctionParams{StackLimit: 12, ArgEnd: 1, RegisterEnd: 5, IdentEnd: 7}
	body := []byte{0x10, 0x00, 0x11, 0x01, 0x2A}
	root := src.NewFunctionCode(params, []intern.Ref{la, lb}, nil, body)
	src.Strings().Release(la)
	src.Strings().Release(lb)

	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(src, root, &buf))
	// Writing moves no counts; the source block still reads back.
	require.Equal(t, body, src.CodeBody(root))

	dst := ecma.NewContext(config.Default())
	out, err := snapshot.Read(dst, &buf)
	require.NoError(t, err)
	require.True(t, dst.IsFunctionCode(out))

	got := dst.CodeParams(out)
	require.Equal(t, uint16(12), got.StackLimit)
	require.Equal(t, uint16(1), got.ArgEnd)
	require.Equal(t, uint16(5), got.RegisterEnd)
	require.Equal(t, uint16(7), got.IdentEnd)
	require.Equal(t, body, dst.CodeBody(out))

	lits := dst.ConstLiterals(out)
	require.Len(t, lits, 2)
	require.Equal(t, "console", dst.Strings().Value(lits[0]))
	require.Equal(t, "log", dst.Strings().Value(lits[1]))

	dst.DerefCode(out)
	require.Equal(t, 0, dst.Stats().CodeInUse)
	require.Equal(t, 0, dst.Strings().Live())

	src.DerefCode(root)
	require.Equal(t, 0, src.Stats().CodeInUse)
}

func TestNestedGraphRoundTrip(t *testing.T) {
	src := ecma.NewContext(config.Default())

	grand := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 1}, nil, nil, []byte{0x01})
	ls := src.Strings().Intern("inner")
	child := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 2}, []intern.Ref{ls}, []ecma.CodeRef{grand}, []byte{0x02})
	src.Strings().Release(ls)
	re, err := src.NewRegExpCode("\\d+", ecma.RegExpIgnoreCase|ecma.RegExpUnicode)
	require.NoError(t, err)
	root := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 3}, nil, []ecma.CodeRef{child, re}, []byte{0x03})

	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(src, root, &buf))

	dst := ecma.NewContext(config.Default())
	out, err := snapshot.Read(dst, &buf)
	require.NoError(t, err)

	nested := dst.NestedLiterals(out)
	require.Len(t, nested, 2)

	outChild, outRe := nested[0], nested[1]
	require.True(t, dst.IsFunctionCode(outChild))
	require.Equal(t, []byte{0x02}, dst.CodeBody(outChild))
	require.Equal(t, "inner", dst.Strings().Value(dst.ConstLiterals(outChild)[0]))
	outGrand := dst.NestedLiterals(outChild)[0]
	require.Equal(t, []byte{0x01}, dst.CodeBody(outGrand))

	require.False(t, dst.IsFunctionCode(outRe))
	require.Equal(t, "\\d+", dst.Strings().Value(dst.RegExpPattern(outRe)))
	require.Equal(t, ecma.RegExpIgnoreCase|ecma.RegExpUnicode, dst.RegExpFlags(outRe))
	m, err := dst.CompiledRegExp(outRe).MatchString("version 9")
	require.NoError(t, err)
	require.True(t, m)

	dst.DerefCode(out)
	require.Equal(t, 0, dst.Stats().CodeInUse)
	require.Equal(t, 0, dst.Strings().Live())

	src.DerefCode(root)
	require.Equal(t, 0, src.Stats().CodeInUse)
	require.Equal(t, 0, src.Strings().Live())
}

func TestSharedBlockEmittedOnce(t *testing.T) {
	src := ecma.NewContext(config.Default())

	sharedBody := []byte{0xFE, 0xED, 0xFA, 0xCE}
	shared := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 1}, nil, nil, sharedBody)
	left := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 2}, nil, []ecma.CodeRef{shared}, []byte{0x0A})
	src.RefCode(shared)
	right := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 2}, nil, []ecma.CodeRef{shared}, []byte{0x0B})
	root := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 3}, nil, []ecma.CodeRef{left, right}, []byte{0x0C})

	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(src, root, &buf))
	require.Equal(t, 1, bytes.Count(buf.Bytes(), sharedBody))

	dst := ecma.NewContext(config.Default())
	out, err := snapshot.Read(dst, &buf)
	require.NoError(t, err)

	nested := dst.NestedLiterals(out)
	require.Len(t, nested, 2)
	sharedLeft := dst.NestedLiterals(nested[0])[0]
	sharedRight := dst.NestedLiterals(nested[1])[0]
	require.Equal(t, sharedLeft, sharedRight)
	require.Equal(t, sharedBody, dst.CodeBody(sharedLeft))

	dst.DerefCode(out)
	require.Equal(t, 0, dst.Stats().CodeInUse)

	src.DerefCode(root)
	require.Equal(t, 0, src.Stats().CodeInUse)
}

func TestSelfReferenceRoundTrip(t *testing.T) {
	src := ecma.NewContext(config.Default())
	rec := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 4}, nil, []ecma.CodeRef{ecma.NullCode}, []byte{0x2B})

	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(src, rec, &buf))

	dst := ecma.NewContext(config.Default())
	out, err := snapshot.Read(dst, &buf)
	require.NoError(t, err)
	require.Equal(t, []ecma.CodeRef{out}, dst.NestedLiterals(out))

	dst.DerefCode(out)
	require.Equal(t, 0, dst.Stats().CodeInUse)

	src.DerefCode(rec)
	require.Equal(t, 0, src.Stats().CodeInUse)
}

func TestRejectsCorruptHeader(t *testing.T) {
	dst := ecma.NewContext(config.Default())

	cases := [][]byte{
		{},
		[]byte("SS"),
		[]byte("XXXX\x01\x01"),
		[]byte("SSKC\x63\x01"),
	}
	for _, raw := range cases {
		_, err := snapshot.Read(dst, bytes.NewReader(raw))
		require.Error(t, err)
	}
	require.Equal(t, 0, dst.Stats().CodeInUse)
}

func TestTruncatedStreamReclaimsEverything(t *testing.T) {
	src := ecma.NewContext(config.Default())

	ls := src.Strings().Intern("shared text")
	child := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 1}, []intern.Ref{ls}, nil, []byte{0x01, 0x02})
	src.Strings().Release(ls)
	re, err := src.NewRegExpCode("a|b", 0)
	require.NoError(t, err)
	root := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 2}, nil, []ecma.CodeRef{child, re}, []byte{0x03, 0x04})

	var buf bytes.Buffer
	require.NoError(t, snapshot.Write(src, root, &buf))
	raw := buf.Bytes()

	dst := ecma.NewContext(config.Default())
	for cut := 0; cut < len(raw); cut++ {
		_, err := snapshot.Read(dst, bytes.NewReader(raw[:cut]))
		require.Errorf(t, err, "prefix of %d bytes decoded", cut)
		require.Equalf(t, 0, dst.Stats().CodeInUse, "prefix of %d bytes leaked code", cut)
		require.Equalf(t, 0, dst.Strings().Live(), "prefix of %d bytes leaked strings", cut)
	}

	src.DerefCode(root)
	require.Equal(t, 0, src.Stats().CodeInUse)
}

func TestWriteReportsSinkErrors(t *testing.T) {
	src := ecma.NewContext(config.Default())
	root := src.NewFunctionCode(ecma.FunctionParams{StackLimit: 1}, nil, nil, []byte{0x00})

	require.Error(t, snapshot.Write(src, root, errorWriter{}))
}
