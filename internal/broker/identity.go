package broker

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// IdentityAllocator hands out tool identities shaped "<broker-pid>-<ordinal>"
// with a zero-padded (width 3) ordinal. Width-3 padding is lexicographic
// only — it does not bound the counter's range.
type IdentityAllocator struct {
	pid int
	seq atomic.Uint64
}

// NewIdentityAllocator creates an allocator scoped to the current process.
func NewIdentityAllocator() *IdentityAllocator {
	return &IdentityAllocator{pid: os.Getpid()}
}

// Next returns the next identity in the sequence. Identities are never
// reused within this allocator's lifetime.
func (a *IdentityAllocator) Next() protocol.ToolID {
	n := a.seq.Add(1)
	return protocol.ToolID(fmt.Sprintf("%d-%03d", a.pid, n))
}

// DataAddress returns the per-tool data-listen address for id:
// "/tmp/gbe-<id>.sock".
func DataAddress(id protocol.ToolID) protocol.Address {
	return protocol.NewAddress(fmt.Sprintf("/tmp/gbe-%s.sock", id))
}

// RelayAddress returns the listen address reserved for a newly spawned
// relay: "/tmp/gbe-proxy-<broker-pid>-<ordinal>.sock".
func RelayAddress(brokerPID int, ordinal uint64) protocol.Address {
	return protocol.NewAddress(fmt.Sprintf("/tmp/gbe-proxy-%d-%03d.sock", brokerPID, ordinal))
}
