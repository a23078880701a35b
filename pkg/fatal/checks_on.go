//go:build !siskin_release

package fatal

// Checks reports whether debug assertions are compiled in.
const Checks = true
