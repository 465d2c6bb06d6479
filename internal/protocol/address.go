package protocol

import (
	"fmt"
	"strings"
)

// Scheme is the only address scheme this bus understands.
const Scheme = "unix://"

// Address is an opaque `unix://<path>` string, as assigned by the broker
// or relay. Clients only ever need to strip the scheme before handing the
// path to the OS socket API.
type Address string

// NewAddress builds an Address from a filesystem path.
func NewAddress(path string) Address {
	return Address(Scheme + path)
}

// Path strips the unix:// scheme and returns the filesystem path. It
// returns an error if the address does not carry the expected scheme.
func (a Address) Path() (string, error) {
	s := string(a)
	if !strings.HasPrefix(s, Scheme) {
		return "", fmt.Errorf("address %q: missing %s prefix", s, Scheme)
	}
	return strings.TrimPrefix(s, Scheme), nil
}

func (a Address) String() string { return string(a) }
