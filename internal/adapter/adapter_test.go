package adapter

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
)

// fakeRouter accepts exactly one Connect and replies with a ConnectAck
// pointing at dataAddr, then keeps the connection open so the adapter's
// later Disconnect can be read without error.
func fakeRouter(t *testing.T, controlPath string, dataAddr protocol.Address) {
	t.Helper()
	ln, err := net.Listen("unix", controlPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		conn := protocol.NewConn(raw)
		defer conn.Close()

		msg, err := conn.ReadMessage()
		if err != nil || msg.Type != protocol.TypeConnect {
			return
		}
		ack := protocol.ConnectAck("1-001", dataAddr)
		if err := conn.WriteMessage(&ack); err != nil {
			return
		}
		// Drain until Disconnect or close.
		for {
			if _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func TestAdapterStreamsStdoutAndStderrAsFrames(t *testing.T) {
	dir := t.TempDir()
	controlPath := filepath.Join(dir, "control.sock")
	dataPath := filepath.Join(dir, "data.sock")
	dataAddr := protocol.NewAddress(dataPath)

	fakeRouter(t, controlPath, dataAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- Run(ctx, protocol.NewAddress(controlPath), "sh", []string{"-c", "echo out1; echo err1 1>&2; echo out2"})
	}()

	// Dial the data socket; adapter.Run's accept loop only proceeds once a
	// subscriber connects.
	var dataConn net.Conn
	var err error
	for i := 0; i < 100; i++ {
		dataConn, err = net.Dial("unix", dataPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer dataConn.Close()

	var lines []string
	for i := 0; i < 3; i++ {
		frame, err := protocol.ReadFrameFrom(dataConn)
		require.NoError(t, err)
		lines = append(lines, string(frame.Payload))
	}

	assert.Contains(t, lines, "out1\n")
	assert.Contains(t, lines, "out2\n")
	assert.Contains(t, lines, "[stderr] err1\n")

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("adapter.Run did not return in time")
	}
}
