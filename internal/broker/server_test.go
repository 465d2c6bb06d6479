package broker

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// testServer starts a Server on a fresh unix socket in t.TempDir and
// returns its control address. The server is shut down by context
// cancellation registered with t.Cleanup.
func testServer(t *testing.T) protocol.Address {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	// No gbe-proxy binary is available in this test environment; relay
	// spawn failures are expected to fall back to the direct address,
	// which is exactly the path these tests exercise.
	srv := NewServer("/nonexistent/gbe-proxy", protocol.NewAddress(sockPath))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})

	return protocol.NewAddress(sockPath)
}

func dial(t *testing.T, addr protocol.Address) *protocol.Conn {
	t.Helper()
	path, err := addr.Path()
	require.NoError(t, err)

	var raw net.Conn
	var err2 error
	for i := 0; i < 50; i++ {
		raw, err2 = net.Dial("unix", path)
		if err2 == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err2)
	return protocol.NewConn(raw)
}

// TestConnectAssignsUniqueIdentity checks that a freshly connected tool
// receives a ConnectAck with a unique identity and a data-listen address
// scoped to it.
func TestConnectAssignsUniqueIdentity(t *testing.T) {
	addr := testServer(t)

	c1 := dial(t, addr)
	defer c1.Close()
	c2 := dial(t, addr)
	defer c2.Close()

	connect := protocol.Connect([]string{"text"})
	require.NoError(t, c1.WriteMessage(&connect))
	ack1, err := c1.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeConnectAck, ack1.Type)
	assert.NotEmpty(t, ack1.ToolID)

	require.NoError(t, c2.WriteMessage(&connect))
	ack2, err := c2.ReadMessage()
	require.NoError(t, err)
	assert.NotEqual(t, ack1.ToolID, ack2.ToolID)
	assert.NotEqual(t, ack1.DataListenAddress, ack2.DataListenAddress)
}

// TestPreRegisteredRejectsNonConnect covers the pre-registered state: any
// message other than Connect is rejected with a PROTOCOL error and the
// connection stays open for a retry.
func TestPreRegisteredRejectsNonConnect(t *testing.T) {
	addr := testServer(t)
	c := dial(t, addr)
	defer c.Close()

	query := protocol.QueryTools()
	require.NoError(t, c.WriteMessage(&query))
	resp, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.ErrProtocol, resp.Code)

	connect := protocol.Connect(nil)
	require.NoError(t, c.WriteMessage(&connect))
	ack, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeConnectAck, ack.Type)
}

// TestSubscribeUnknownTargetReturnsNotFound checks that subscribing to an
// identity the registry has never seen returns NOT_FOUND.
func TestSubscribeUnknownTargetReturnsNotFound(t *testing.T) {
	addr := testServer(t)
	c := dial(t, addr)
	defer c.Close()

	connect := protocol.Connect(nil)
	require.NoError(t, c.WriteMessage(&connect))
	_, err := c.ReadMessage()
	require.NoError(t, err)

	sub := protocol.Subscribe("9999-999")
	require.NoError(t, c.WriteMessage(&sub))
	resp, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.ErrNotFound, resp.Code)
}

// TestSubscribeSameTargetTwiceIsIdempotentAddress checks that two
// subscribers to the same source both get the same data-connect address.
// With no gbe-proxy binary, Relays.Ensure's spawn fails on each call and
// both acks carry the producer's direct address.
func TestSubscribeSameTargetTwiceIsIdempotentAddress(t *testing.T) {
	addr := testServer(t)

	producer := dial(t, addr)
	defer producer.Close()
	connect := protocol.Connect([]string{"bytes"})
	require.NoError(t, producer.WriteMessage(&connect))
	pAck, err := producer.ReadMessage()
	require.NoError(t, err)

	sub1 := dial(t, addr)
	defer sub1.Close()
	c1 := protocol.Connect(nil)
	require.NoError(t, sub1.WriteMessage(&c1))
	_, err = sub1.ReadMessage()
	require.NoError(t, err)

	sub2 := dial(t, addr)
	defer sub2.Close()
	c2 := protocol.Connect(nil)
	require.NoError(t, sub2.WriteMessage(&c2))
	_, err = sub2.ReadMessage()
	require.NoError(t, err)

	req := protocol.Subscribe(pAck.ToolID)
	require.NoError(t, sub1.WriteMessage(&req))
	ack1, err := sub1.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeSubscribeAck, ack1.Type)

	require.NoError(t, sub2.WriteMessage(&req))
	ack2, err := sub2.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeSubscribeAck, ack2.Type)

	assert.Equal(t, ack1.DataConnectAddress, ack2.DataConnectAddress)
	// Spawning gbe-proxy fails in this environment, so both acks fall back
	// to the producer's own direct address.
	assert.Equal(t, pAck.DataListenAddress, ack1.DataConnectAddress)
}

// TestDisconnectUnregisters checks that once a tool disconnects, a
// subsequent Subscribe to it returns NOT_FOUND.
func TestDisconnectUnregisters(t *testing.T) {
	addr := testServer(t)

	producer := dial(t, addr)
	connect := protocol.Connect(nil)
	require.NoError(t, producer.WriteMessage(&connect))
	pAck, err := producer.ReadMessage()
	require.NoError(t, err)

	disconnect := protocol.Disconnect()
	require.NoError(t, producer.WriteMessage(&disconnect))
	producer.Close()

	// Give the server goroutine a moment to process the EOF and unregister.
	time.Sleep(50 * time.Millisecond)

	subscriber := dial(t, addr)
	defer subscriber.Close()
	c := protocol.Connect(nil)
	require.NoError(t, subscriber.WriteMessage(&c))
	_, err = subscriber.ReadMessage()
	require.NoError(t, err)

	req := protocol.Subscribe(pAck.ToolID)
	require.NoError(t, subscriber.WriteMessage(&req))
	resp, err := subscriber.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.ErrNotFound, resp.Code)
}

// TestQueryToolsSnapshot checks that QueryTools returns every currently
// registered tool.
func TestQueryToolsSnapshot(t *testing.T) {
	addr := testServer(t)

	producer := dial(t, addr)
	defer producer.Close()
	connect := protocol.Connect([]string{"log"})
	require.NoError(t, producer.WriteMessage(&connect))
	_, err := producer.ReadMessage()
	require.NoError(t, err)

	querier := dial(t, addr)
	defer querier.Close()
	c := protocol.Connect(nil)
	require.NoError(t, querier.WriteMessage(&c))
	_, err = querier.ReadMessage()
	require.NoError(t, err)

	q := protocol.QueryTools()
	require.NoError(t, querier.WriteMessage(&q))
	resp, err := querier.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeToolsResponse, resp.Type)
	assert.Len(t, resp.Tools, 2) // producer + querier are both registered
}

// TestOneReplyPerMessageProperty checks that each QueryTools request in a
// sequence of one to five is answered by a ToolsResponse before the next
// request is sent.
func TestOneReplyPerMessageProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("each query gets exactly one reply", prop.ForAllNoError(
		func(n int) {
			addr := testServer(t)
			c := dial(t, addr)
			defer c.Close()

			connect := protocol.Connect(nil)
			require.NoError(t, c.WriteMessage(&connect))
			_, err := c.ReadMessage()
			require.NoError(t, err)

			for i := 0; i < n; i++ {
				q := protocol.QueryTools()
				require.NoError(t, c.WriteMessage(&q))
				resp, err := c.ReadMessage()
				require.NoError(t, err)
				assert.Equal(t, protocol.TypeToolsResponse, resp.Type)
			}
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
