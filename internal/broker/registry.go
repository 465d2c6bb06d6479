package broker

import (
	"sync"
	"time"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// Registration is one registry entry: a live tool's identity, its
// advertised data-listen address, and its capability tags.
type Registration struct {
	ToolID            protocol.ToolID
	DataListenAddress protocol.Address
	Capabilities      []string
	RegisteredAt      time.Time
}

// Registry is the broker's live-tool table: a tool appears here iff its
// control connection is open. Guarded by its own mutex, independent of
// Subscriptions and Relays.
type Registry struct {
	mu      sync.RWMutex
	entries map[protocol.ToolID]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[protocol.ToolID]Registration)}
}

// Register adds or replaces the entry for id.
func (r *Registry) Register(id protocol.ToolID, dataAddr protocol.Address, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = Registration{
		ToolID:            id,
		DataListenAddress: dataAddr,
		Capabilities:      capabilities,
		RegisteredAt:      time.Now(),
	}
}

// Unregister removes id from the registry. Reports whether it was present.
func (r *Registry) Unregister(id protocol.ToolID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// Get returns the registration for id, if live.
func (r *Registry) Get(id protocol.ToolID) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[id]
	return reg, ok
}

// Snapshot returns every live registration, used to answer QueryTools.
func (r *Registry) Snapshot() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	return out
}
