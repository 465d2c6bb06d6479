package protocol

import "regexp"

// ToolID uniquely names one tool for the lifetime of one broker process,
// shaped "<broker-pid>-<ordinal>" with a zero-padded (width 3) ordinal.
type ToolID string

// idPattern matches "<pid>-<ordinal>" with a minimum 3-digit ordinal;
// the width-3 padding is a lexicographic floor, not a bound on the
// counter's range.
var idPattern = regexp.MustCompile(`^[0-9]+-[0-9]{3,}$`)

// Valid reports whether id has the "<pid>-<ordinal>" shape.
func (id ToolID) Valid() bool {
	return idPattern.MatchString(string(id))
}

func (id ToolID) String() string { return string(id) }
