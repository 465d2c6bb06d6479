package broker

import (
	"sync"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// Subscriptions maps a source identity to the ordered list of identities
// subscribed to it. Insertion order is preserved but not part of the
// observable contract — only membership and cardinality matter.
//
// Guarded by its own mutex, independent of Registry and Relays: never
// hold two of the three tables' locks simultaneously; the pattern is
// read-from-A-snapshot, then act-on-B.
type Subscriptions struct {
	mu   sync.Mutex
	subs map[protocol.ToolID][]protocol.ToolID
}

// NewSubscriptions creates an empty subscription table.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{subs: make(map[protocol.ToolID][]protocol.ToolID)}
}

// Add records that subscriber wants source's data stream. A subscription
// to self is permitted.
func (s *Subscriptions) Add(source, subscriber protocol.ToolID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[source] = append(s.subs[source], subscriber)
}

// Count returns the number of subscribers for source.
func (s *Subscriptions) Count(source protocol.ToolID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[source])
}

// Scrub removes id everywhere it appears: as a subscriber of any source,
// and as a source (its own subscriber list is deleted outright). Called
// at unregister time so no stale reference to a departed tool survives.
func (s *Subscriptions) Scrub(id protocol.ToolID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs, id)

	for source, subscribers := range s.subs {
		filtered := subscribers[:0:0]
		for _, sub := range subscribers {
			if sub != id {
				filtered = append(filtered, sub)
			}
		}
		if len(filtered) == 0 {
			delete(s.subs, source)
		} else {
			s.subs[source] = filtered
		}
	}
}
