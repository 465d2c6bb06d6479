// Package adapter wraps an arbitrary child command and bridges its
// stdout/stderr to the bus as a single data source.
package adapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/graybear-io/gbe-envoy/internal/protocol"
	"github.com/graybear-io/gbe-envoy/internal/sockutil"
)

// Run connects to the broker at routerAddr, registers as a data source,
// spawns command with args, and streams its stdout/stderr to the first
// data-channel subscriber until the child exits. It blocks until the
// child has exited and the data listener has been torn down.
func Run(ctx context.Context, routerAddr protocol.Address, command string, args []string) error {
	routerPath, err := routerAddr.Path()
	if err != nil {
		return fmt.Errorf("router address: %w", err)
	}

	rawRouter, err := net.Dial("unix", routerPath)
	if err != nil {
		return fmt.Errorf("connect to router: %w", err)
	}
	router := protocol.NewConn(rawRouter)
	defer router.Close()

	connect := protocol.Connect(nil)
	if err := router.WriteMessage(&connect); err != nil {
		return fmt.Errorf("send Connect: %w", err)
	}
	ack, err := router.ReadMessage()
	if err != nil {
		return fmt.Errorf("read ConnectAck: %w", err)
	}
	if ack.Type != protocol.TypeConnectAck {
		return fmt.Errorf("expected ConnectAck, got %s", ack.Type)
	}
	slog.Info("registered with router", "tool", ack.ToolID, "data_address", ack.DataListenAddress)

	dataPath, err := ack.DataListenAddress.Path()
	if err != nil {
		return fmt.Errorf("data listen address: %w", err)
	}
	dataListener, err := sockutil.Listen(dataPath)
	if err != nil {
		return fmt.Errorf("bind data listener: %w", err)
	}
	defer sockutil.Cleanup(dataListener, dataPath)

	cmd := exec.CommandContext(ctx, command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", command, err)
	}
	slog.Info("spawned command", "command", command, "args", args, "pid", cmd.Process.Pid)

	var seq atomic.Uint64
	dataDone := make(chan struct{})
	go streamData(dataListener, stdout, stderr, &seq, dataDone)

	waitErr := cmd.Wait()
	slog.Info("command exited", "command", command, "err", waitErr)

	// The child may exit before anyone ever subscribes; closing the
	// listener unblocks streamData's Accept so Disconnect still gets sent.
	// Already-accepted connections are unaffected by this Close.
	_ = dataListener.Close()
	<-dataDone

	disconnect := protocol.Disconnect()
	if err := router.WriteMessage(&disconnect); err != nil {
		slog.Warn("failed to send Disconnect", "err", err)
	}

	return waitErr
}

// streamData accepts exactly one data-channel subscriber and tees the
// child's stdout and stderr into it as framed lines, closing dataDone
// once both streams are exhausted or the accept itself fails.
func streamData(ln net.Listener, stdout, stderr io.Reader, seq *atomic.Uint64, dataDone chan<- struct{}) {
	defer close(dataDone)

	conn, err := ln.Accept()
	if err != nil {
		slog.Warn("data subscriber never connected", "err", err)
		// Drain both pipes so the child is never blocked on a full pipe
		// buffer even with nowhere to send the data.
		_, _ = io.Copy(io.Discard, stdout)
		_, _ = io.Copy(io.Discard, stderr)
		return
	}
	defer conn.Close()
	slog.Info("data subscriber connected")

	var wg sync.WaitGroup
	var writeMu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(conn, &writeMu, stdout, seq, "")
	}()
	go func() {
		defer wg.Done()
		streamLines(conn, &writeMu, stderr, seq, "[stderr] ")
	}()
	wg.Wait()
}

// streamLines frames each line from r as a data frame and writes it to
// conn, serialized against the sibling goroutine via writeMu since both
// stdout and stderr share one connection.
func streamLines(conn net.Conn, writeMu *sync.Mutex, r io.Reader, seq *atomic.Uint64, prefix string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		payload := append([]byte(prefix+scanner.Text()), '\n')
		frame := protocol.NewFrame(seq.Add(1)-1, payload)

		writeMu.Lock()
		_, err := frame.WriteTo(conn)
		writeMu.Unlock()
		if err != nil {
			slog.Warn("failed to write data frame, stopping stream", "err", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading child output", "err", err)
	}
}
