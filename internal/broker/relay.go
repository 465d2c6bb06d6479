package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// relayAppearTimeout bounds how long the broker waits for a spawned
// relay's listen socket to appear before giving up and logging a warning.
const relayAppearTimeout = 5 * time.Second

const relayPollInterval = 50 * time.Millisecond

// RelayEntry is one live relay: the subprocess handle, its listen
// address, and the source identity it tees.
type RelayEntry struct {
	Source  protocol.ToolID
	Listen  protocol.Address
	Cmd     *exec.Cmd
	Spawned time.Time
}

// Relays is the broker's relay table, guarded by its own mutex,
// independent of Registry and Subscriptions.
type Relays struct {
	mu       sync.Mutex
	byTarget map[protocol.ToolID]*RelayEntry
	spawning map[protocol.ToolID]*sync.Mutex

	ordinal    atomic.Uint64
	brokerPID  int
	proxyPath  string // resolved path to the gbe-proxy binary
	routerAddr protocol.Address
}

// NewRelays creates an empty relay table. proxyPath is the resolved path
// to the gbe-proxy binary (see ResolveProxyBinary); routerAddr is passed
// to spawned relays as the advisory --router argument.
func NewRelays(proxyPath string, routerAddr protocol.Address) *Relays {
	return &Relays{
		byTarget:   make(map[protocol.ToolID]*RelayEntry),
		spawning:   make(map[protocol.ToolID]*sync.Mutex),
		brokerPID:  os.Getpid(),
		proxyPath:  proxyPath,
		routerAddr: routerAddr,
	}
}

// spawnLock returns the per-source mutex that serializes Ensure calls for
// source, creating it on first use.
func (r *Relays) spawnLock(source protocol.ToolID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.spawning[source]
	if !ok {
		m = &sync.Mutex{}
		r.spawning[source] = m
	}
	return m
}

// Get returns the relay entry for target, if one exists.
func (r *Relays) Get(target protocol.ToolID) (*RelayEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byTarget[target]
	return e, ok
}

// Remove drops the relay entry for target, if any. The relay process
// itself is not killed here: broker and relay lifecycles are independent
// after spawn, so removal from this table only stops the broker from
// handing out its address to new subscribers. The signal for the relay
// to exit is its upstream adapter socket closing, which it observes on
// its own.
func (r *Relays) Remove(target protocol.ToolID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTarget, target)
	delete(r.spawning, target)
}

// Ensure guarantees a relay exists for target, spawning one on first
// subscription regardless of subscriber count. Returns the address
// subscribers should connect to — the relay's listen address on success,
// or target's own direct data address as a best-effort fallback if the
// spawn fails (a documented degradation: serves one subscriber, cannot
// fan out).
func (r *Relays) Ensure(ctx context.Context, source protocol.ToolID, upstream protocol.Address) (protocol.Address, error) {
	if entry, ok := r.Get(source); ok {
		return entry.Listen, nil
	}

	// Serialize the whole check-then-spawn-then-insert sequence per
	// source: two concurrent first-Subscribes to the same target must
	// not both spawn a relay.
	guard := r.spawnLock(source)
	guard.Lock()
	defer guard.Unlock()

	if entry, ok := r.Get(source); ok {
		return entry.Listen, nil
	}

	ordinal := r.ordinal.Add(1)
	listen := RelayAddress(r.brokerPID, ordinal)

	listenPath, err := listen.Path()
	if err != nil {
		return upstream, fmt.Errorf("relay listen address: %w", err)
	}
	_ = os.Remove(listenPath)

	cmd := exec.CommandContext(ctx, r.proxyPath,
		"--router", string(r.routerAddr),
		"--upstream", string(upstream),
		"--listen", string(listen),
		"--mode", "framed",
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		slog.Warn("relay spawn failed, falling back to direct address",
			"source", source, "err", err)
		return upstream, nil
	}

	if !waitForSocket(listenPath, relayAppearTimeout) {
		slog.Warn("relay listen socket did not appear within timeout, advertising anyway",
			"source", source, "listen", listen, "timeout", relayAppearTimeout)
	}

	entry := &RelayEntry{Source: source, Listen: listen, Cmd: cmd, Spawned: time.Now()}
	r.mu.Lock()
	r.byTarget[source] = entry
	r.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("relay process exited", "source", source, "err", err)
		} else {
			slog.Debug("relay process exited", "source", source)
		}
	}()

	return listen, nil
}

func waitForSocket(path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		time.Sleep(relayPollInterval)
	}
	_, err := os.Stat(path)
	return err == nil
}

// ResolveProxyBinary locates the gbe-proxy executable: $GBE_PROXY_BIN,
// then a sibling file named gbe-proxy beside the current executable,
// then "gbe-proxy" on $PATH.
func ResolveProxyBinary() (string, error) {
	if p := os.Getenv("GBE_PROXY_BIN"); p != "" {
		return p, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "gbe-proxy")
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}

	if p, err := exec.LookPath("gbe-proxy"); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("gbe-proxy binary not found: set GBE_PROXY_BIN, place it beside the router binary, or add it to PATH")
}
