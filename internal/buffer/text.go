package buffer

import "strings"

// Text is a mutable, byte-offset-addressed text store — a seekable buffer
// suitable for viewers that let a consumer scrub through captured output
// rather than only tailing it.
//
// This is a plain-string stand-in for a real rope, not a tree of chunks;
// a []byte backing store is enough for captured tool output at the sizes
// this bus deals with.
type Text struct {
	content []byte
}

// NewText creates an empty text store.
func NewText() *Text {
	return &Text{}
}

// NewTextWithContent creates a text store pre-populated with content.
func NewTextWithContent(content string) *Text {
	return &Text{content: []byte(content)}
}

// Len returns the length in bytes.
func (t *Text) Len() int { return len(t.content) }

// IsEmpty reports whether the store holds no bytes.
func (t *Text) IsEmpty() bool { return len(t.content) == 0 }

// Content returns the full content as a string.
func (t *Text) Content() string { return string(t.content) }

// Insert inserts text at byte offset pos. pos must be in [0, Len()].
func (t *Text) Insert(pos int, text string) error {
	if pos < 0 || pos > len(t.content) {
		return &OutOfRangeError{Offset: pos, Length: len(t.content)}
	}
	out := make([]byte, 0, len(t.content)+len(text))
	out = append(out, t.content[:pos]...)
	out = append(out, text...)
	out = append(out, t.content[pos:]...)
	t.content = out
	return nil
}

// Delete removes the bytes in r. r.End must be in [0, Len()] and
// r.Start <= r.End.
func (t *Text) Delete(r ByteRange) error {
	if r.Start > r.End {
		return &InvalidRangeError{Start: r.Start, End: r.End}
	}
	if r.End > len(t.content) {
		return &OutOfRangeError{Offset: r.End, Length: len(t.content)}
	}
	out := make([]byte, 0, len(t.content)-(r.End-r.Start))
	out = append(out, t.content[:r.Start]...)
	out = append(out, t.content[r.End:]...)
	t.content = out
	return nil
}

// Replace deletes r and inserts text at r.Start — defined as delete-then-
// insert, matching the Rust original.
func (t *Text) Replace(r ByteRange, text string) error {
	if err := t.Delete(r); err != nil {
		return err
	}
	return t.Insert(r.Start, text)
}

// Slice returns the bytes in r as a string, bounds-checked the same way
// as Delete.
func (t *Text) Slice(r ByteRange) (string, error) {
	if r.Start > r.End {
		return "", &InvalidRangeError{Start: r.Start, End: r.End}
	}
	if r.End > len(t.content) {
		return "", &OutOfRangeError{Offset: r.End, Length: len(t.content)}
	}
	return string(t.content[r.Start:r.End]), nil
}

// View returns w.Count logical lines starting at w.Start, clamped to the
// available range. Lines are LF-separated.
func (t *Text) View(w Window) []string {
	lines := t.splitLines()
	start := clamp(w.Start, 0, len(lines))
	end := clamp(w.Start+w.Count, 0, len(lines))
	if end < start {
		end = start
	}
	out := make([]string, end-start)
	copy(out, lines[start:end])
	return out
}

// LineCount returns the number of logical lines; an empty store has zero
// lines.
func (t *Text) LineCount() int {
	if len(t.content) == 0 {
		return 0
	}
	return len(t.splitLines())
}

// Line returns the 0-indexed logical line, or ("", false) if out of range.
func (t *Text) Line(n int) (string, bool) {
	lines := t.splitLines()
	if n < 0 || n >= len(lines) {
		return "", false
	}
	return lines[n], true
}

// LineToByte returns the byte offset where logical line n begins, or
// (0, false) if n is out of range.
func (t *Text) LineToByte(n int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	pos := 0
	for i, line := range t.splitLines() {
		if i == n {
			return pos, true
		}
		pos += len(line) + 1 // +1 for the LF terminator
	}
	return 0, false
}

// ByteToLine returns the logical line containing byte offset pos. pos
// must be in [0, Len()].
func (t *Text) ByteToLine(pos int) (int, bool) {
	if pos < 0 || pos > len(t.content) {
		return 0, false
	}
	lines := t.splitLines()
	byteCount := 0
	for i, line := range lines {
		if byteCount+len(line) >= pos {
			return i, true
		}
		byteCount += len(line) + 1
	}
	if len(lines) == 0 {
		return 0, true
	}
	return len(lines) - 1, true
}

// Clear empties the store.
func (t *Text) Clear() { t.content = nil }

// splitLines mirrors Rust's str::lines(): split on LF, with no trailing
// empty line for content ending in "\n".
func (t *Text) splitLines() []string {
	if len(t.content) == 0 {
		return nil
	}
	s := string(t.content)
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
