package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
)

// MaxMessageSize bounds a single control line (16 MiB) — a line larger
// than this is almost certainly a misbehaving peer, not a legitimate
// control message.
const MaxMessageSize = 16 * 1024 * 1024

// Conn wraps a net.Conn with buffered newline-delimited JSON framing for
// the control channel. There is no encryption or authentication layer;
// callers that need transport security must provide their own.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
}

// NewConn wraps conn for control-channel framing.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, br: bufio.NewReaderSize(conn, 64*1024)}
}

// Underlying returns the wrapped net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// WriteMessage serializes msg to JSON and writes it followed by a newline.
func (c *Conn) WriteMessage(msg *ControlMessage) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	raw = append(raw, '\n')
	_, err = c.conn.Write(raw)
	return err
}

// ReadMessage reads one newline-terminated line and deserializes it.
//
// A malformed line returns a *DecodeError — callers reply with an
// Error{Code: BAD_REQUEST} control message and keep the connection open,
// per §4.1/§7. io.EOF (or any other read error) means the connection
// itself is gone.
func (c *Conn) ReadMessage() (*ControlMessage, error) {
	line, err := c.br.ReadBytes('\n')
	if err != nil {
		// ReadBytes may still return a partial, newline-less line alongside
		// the error (typically io.EOF); it is never a complete message, so
		// surface the read error and drop it.
		return nil, err
	}
	if len(line) > MaxMessageSize {
		return nil, fmt.Errorf("control message too large (%d bytes)", len(line))
	}
	line = bytes.TrimSpace(line)
	return DecodeMessage(line)
}
