// Package relay implements the fan-out data-channel tee: one upstream
// adapter connection duplicated to any number of downstream subscribers.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
	"github.com/graybear-io/gbe-envoy/internal/sockutil"
)

// upstreamIdleTimeout bounds how long the relay waits for the next frame
// before treating the upstream as gone.
const upstreamIdleTimeout = 30 * time.Second

// starvationSleep is how long the relay waits between checks when it has
// no downstream connections, rather than reading (and discarding) upstream
// data with nowhere to send it.
const starvationSleep = 500 * time.Millisecond

// Relay tees one upstream data connection to N downstream subscribers.
type Relay struct {
	upstreamAddr protocol.Address
	listenAddr   protocol.Address
	routerAddr   protocol.Address // optional; empty disables FlowControl emission

	mu          sync.Mutex
	downstreams map[uint64]net.Conn
	nextID      uint64
}

// New creates a relay that will connect to upstreamAddr, listen for
// downstream subscribers on listenAddr, and optionally report backpressure
// to routerAddr (pass "" to disable).
func New(upstreamAddr, listenAddr, routerAddr protocol.Address) *Relay {
	return &Relay{
		upstreamAddr: upstreamAddr,
		listenAddr:   listenAddr,
		routerAddr:   routerAddr,
		downstreams:  make(map[uint64]net.Conn),
	}
}

// Run connects to upstream, binds the downstream listener, and relays
// frames until upstream closes, times out, or ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	listenPath, err := r.listenAddr.Path()
	if err != nil {
		return fmt.Errorf("listen address: %w", err)
	}
	ln, err := sockutil.Listen(listenPath)
	if err != nil {
		return fmt.Errorf("bind downstream listener: %w", err)
	}
	defer sockutil.Cleanup(ln, listenPath)

	upstreamPath, err := r.upstreamAddr.Path()
	if err != nil {
		return fmt.Errorf("upstream address: %w", err)
	}
	upstream, err := net.Dial("unix", upstreamPath)
	if err != nil {
		return fmt.Errorf("connect to upstream: %w", err)
	}
	defer upstream.Close()
	slog.Info("relay connected to upstream", "upstream", r.upstreamAddr, "listen", r.listenAddr)

	go r.acceptLoop(ctx, ln)

	return r.relayLoop(ctx, upstream)
}

// acceptLoop registers each downstream connection as it arrives. Abandoned
// on relayLoop return (the listener close unblocks Accept).
func (r *Relay) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("downstream accept loop ending", "err", err)
			}
			return
		}
		id := r.addDownstream(conn)
		slog.Info("downstream connected", "id", id, "conn", uuid.NewString(), "total", r.downstreamCount())
	}
}

func (r *Relay) addDownstream(conn net.Conn) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.downstreams[id] = conn
	return id
}

func (r *Relay) downstreamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.downstreams)
}

// relayLoop implements the starvation policy and the upstream read/
// broadcast cycle.
func (r *Relay) relayLoop(ctx context.Context, upstream net.Conn) error {
	reader := bufio.NewReader(upstream)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if r.downstreamCount() == 0 {
			slog.Warn("no downstream connections, waiting")
			select {
			case <-time.After(starvationSleep):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_ = upstream.SetReadDeadline(time.Now().Add(upstreamIdleTimeout))
		frame, err := protocol.ReadFrameFrom(reader)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, os.ErrClosed) {
				slog.Info("upstream idle timeout or closed, relay exiting")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				slog.Info("upstream idle timeout, relay exiting")
				return nil
			}
			slog.Info("upstream closed", "err", err)
			return nil
		}

		r.broadcastFrame(frame)
	}
}

// broadcastFrame duplicates frame to every downstream, evicting any that
// fail to write.
func (r *Relay) broadcastFrame(frame protocol.Frame) {
	r.mu.Lock()
	failed := make([]uint64, 0)
	for id, conn := range r.downstreams {
		if _, err := frame.WriteTo(conn); err != nil {
			slog.Warn("failed to write to downstream, evicting", "id", id, "err", err)
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		_ = r.downstreams[id].Close()
		delete(r.downstreams, id)
	}
	r.mu.Unlock()

	if len(failed) > 0 {
		r.reportBackpressure()
	}
}

// reportBackpressure sends an advisory FlowControl message to the
// broker's control socket; the broker logs it and never acts on it.
// Best-effort: a failure here is logged, not fatal.
func (r *Relay) reportBackpressure() {
	if r.routerAddr == "" {
		return
	}
	path, err := r.routerAddr.Path()
	if err != nil {
		return
	}
	raw, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		slog.Debug("flow control report failed", "err", err)
		return
	}
	defer raw.Close()
	conn := protocol.NewConn(raw)
	// The relay has no tool identity of its own; it reports under the
	// upstream address it tees, which is enough for the broker's log line.
	msg := protocol.NewFlowControl(protocol.ToolID(r.upstreamAddr.String()), "backpressure")
	if err := conn.WriteMessage(&msg); err != nil {
		slog.Debug("flow control report failed", "err", err)
	}
}
