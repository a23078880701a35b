package fatal

import "fmt"

// Code classifies an unrecoverable engine failure.
type Code uint8

const (
	None Code = iota
	OutOfMemory
	RefCountLimit
	FailedAssertion
	UnimplementedCase
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case OutOfMemory:
		return "out of memory"
	case RefCountLimit:
		return "reference count limit reached"
	case FailedAssertion:
		return "assertion failed"
	case UnimplementedCase:
		return "unimplemented case"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Error is the payload carried by a Trap panic. Embedders recover it at the
// context boundary; engine code never catches it.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("fatal: %s", e.Code)
	}
	return fmt.Sprintf("fatal: %s: %s", e.Code, e.Msg)
}
func (e *Error) Unwrap() error { return e.Cause }
func (e *Error) CausedBy(cause error) *Error {
	e.Cause = cause
	return e
}

// Trap aborts the engine with the given failure code. It never returns.
func Trap(code Code, format string, args ...any) {
	panic(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// Assert traps with FailedAssertion when cond is false. Assertions compile to
// nothing under the siskin_release build tag; callers must not rely on them
// for control flow.
func Assert(cond bool, format string, args ...any) {
	if Checks && !cond {
		Trap(FailedAssertion, format, args...)
	}
}

// Unreachable marks a path the caller has proven impossible. Unlike Assert it
// fires in every build.
func Unreachable(what string) {
	Trap(FailedAssertion, "unreachable: %s", what)
}
