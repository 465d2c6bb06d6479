// Package broker implements the control-plane coordinator: it assigns
// tool identities, tracks the registry of live producers and consumers,
// routes subscription requests, and lifecycles a fan-out relay per
// producer.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// Server is the broker's accept loop plus the three independently-locked
// tables it coordinates: one shared state object, one worker goroutine
// per accepted connection.
type Server struct {
	identities    *IdentityAllocator
	registry      *Registry
	subscriptions *Subscriptions
	relays        *Relays
}

// NewServer creates a broker server. proxyPath and routerAddr configure
// how relays are spawned; see NewRelays.
func NewServer(proxyPath string, routerAddr protocol.Address) *Server {
	return &Server{
		identities:    NewIdentityAllocator(),
		registry:      NewRegistry(),
		subscriptions: NewSubscriptions(),
		relays:        NewRelays(proxyPath, routerAddr),
	}
}

// Serve accepts control connections on ln until it returns an error or ctx
// is cancelled. Each accepted connection is handled by its own goroutine;
// workers never share state except through the server's three tables.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection runs one peer's control-channel state machine from
// accept to disconnect.
func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	conn := protocol.NewConn(raw)
	defer conn.Close()

	// Correlates this connection's log lines before a tool identity exists
	// (or when one never does, e.g. a bare FlowControl report).
	corrID := uuid.NewString()

	var (
		id         protocol.ToolID
		registered bool
	)
	defer func() {
		if registered {
			s.unregister(id)
		}
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				slog.Debug("malformed control message", "tool", id, "conn", corrID, "err", err)
				resp := protocol.NewError(protocol.ErrBadRequest, "malformed control message: %v", decodeErr)
				if err := conn.WriteMessage(&resp); err != nil {
					return
				}
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("control connection closed", "tool", id, "conn", corrID, "err", err)
			}
			return
		}

		if !registered {
			if msg.Type == protocol.TypeFlowControl {
				// Relays report backpressure over a short-lived,
				// unregistered connection: advisory only, logged and
				// dropped, no identity required.
				slog.Debug("flow control notice", "source", msg.Source, "status", msg.Status)
				continue
			}
			if msg.Type != protocol.TypeConnect {
				_ = conn.WriteMessage(errPtr(protocol.NewError(protocol.ErrProtocol,
					"expected Connect, got %s", msg.Type)))
				continue
			}
			id = s.identities.Next()
			dataAddr := DataAddress(id)
			s.registry.Register(id, dataAddr, msg.Capabilities)
			registered = true

			slog.Info("tool connected", "tool", id, "conn", corrID, "capabilities", msg.Capabilities)
			ack := protocol.ConnectAck(id, dataAddr)
			if err := conn.WriteMessage(&ack); err != nil {
				return
			}
			continue
		}

		resp, closeAfter := s.dispatch(ctx, id, msg)
		if resp != nil {
			if err := conn.WriteMessage(resp); err != nil {
				return
			}
		}
		if closeAfter {
			return
		}
	}
}

// dispatch handles one message from an already-registered peer, returning
// the reply to send (nil for none) and whether the connection should
// close afterward.
func (s *Server) dispatch(ctx context.Context, self protocol.ToolID, msg *protocol.ControlMessage) (*protocol.ControlMessage, bool) {
	switch msg.Type {
	case protocol.TypeSubscribe:
		return s.handleSubscribe(ctx, self, msg.Target), false

	case protocol.TypeUnsubscribe:
		// Logged, no state effect — reserved for a future revision.
		slog.Info("unsubscribe (advisory, no effect)", "subscriber", self, "target", msg.Target)
		return nil, false

	case protocol.TypeQueryCapabilities:
		reg, ok := s.registry.Get(msg.Target)
		if !ok {
			resp := protocol.NewError(protocol.ErrNotFound, "tool %s not found", msg.Target)
			return &resp, false
		}
		resp := protocol.CapabilitiesResponse(reg.Capabilities)
		return &resp, false

	case protocol.TypeQueryTools:
		snapshot := s.registry.Snapshot()
		tools := make([]protocol.ToolInfo, 0, len(snapshot))
		for _, reg := range snapshot {
			tools = append(tools, protocol.ToolInfo{ToolID: reg.ToolID, Capabilities: reg.Capabilities})
		}
		resp := protocol.ToolsResponse(tools)
		return &resp, false

	case protocol.TypeDisconnect:
		slog.Info("tool disconnected", "tool", self)
		return nil, true

	case protocol.TypeFlowControl:
		// Advisory only. Logged, never acted on.
		slog.Debug("flow control notice", "source", msg.Source, "status", msg.Status)
		return nil, false

	case protocol.TypeConnectAck, protocol.TypeSubscribeAck, protocol.TypeCapabilitiesResponse,
		protocol.TypeToolsResponse, protocol.TypeError:
		slog.Warn("received broker-originated message type from peer", "tool", self, "type", msg.Type)
		return nil, false

	default:
		resp := protocol.NewError(protocol.ErrBadRequest, "unknown message type %q", msg.Type)
		return &resp, false
	}
}

func (s *Server) handleSubscribe(ctx context.Context, subscriber, target protocol.ToolID) *protocol.ControlMessage {
	reg, ok := s.registry.Get(target)
	if !ok {
		slog.Warn("subscribe to unknown tool", "subscriber", subscriber, "target", target)
		resp := protocol.NewError(protocol.ErrNotFound, "tool %s not found", target)
		return &resp
	}

	s.subscriptions.Add(target, subscriber)

	relayAddr, err := s.relays.Ensure(ctx, target, reg.DataListenAddress)
	if err != nil {
		slog.Error("relay ensure failed", "target", target, "err", err)
		resp := protocol.NewError(protocol.ErrProtocol, "relay unavailable for %s", target)
		return &resp
	}

	slog.Info("subscription established", "subscriber", subscriber, "target", target, "relay", relayAddr)
	resp := protocol.SubscribeAck(relayAddr, reg.Capabilities)
	return &resp
}

// unregister removes id from the registry, scrubs subscriptions, and
// drops the relay table entry. This sequence is not atomic across the
// three tables: a concurrent Subscribe racing a disconnect can observe
// the registry entry gone and correctly reply NOT_FOUND.
func (s *Server) unregister(id protocol.ToolID) {
	s.registry.Unregister(id)
	s.subscriptions.Scrub(id)
	s.relays.Remove(id)
}

func errPtr(m protocol.ControlMessage) *protocol.ControlMessage { return &m }
