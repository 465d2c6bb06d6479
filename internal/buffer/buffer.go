// Package buffer implements two reusable viewer-side containers: Ring, a
// fixed-capacity append-only store of text lines, and Text, a
// byte-offset-addressed mutable text store. Both types are self-contained
// and depend on nothing else in this module.
package buffer

import "fmt"

// Window is a view request: start_line plus a count, clamped to the
// available range by the callee.
type Window struct {
	Start int
	Count int
}

// NewWindow builds a Window.
func NewWindow(start, count int) Window {
	return Window{Start: start, Count: count}
}

// OutOfRangeError reports a byte offset beyond the buffer's length.
type OutOfRangeError struct {
	Offset int
	Length int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("offset %d out of range (length %d)", e.Offset, e.Length)
}

// InvalidRangeError reports start > end.
type InvalidRangeError struct {
	Start, End int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%d, %d): start > end", e.Start, e.End)
}

// ByteRange is a half-open [Start, End) byte range.
type ByteRange struct {
	Start, End int
}
