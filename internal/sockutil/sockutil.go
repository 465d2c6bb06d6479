// Package sockutil holds the stale-socket-cleanup-then-bind idiom shared by
// every Unix-socket listener in this bus: the broker's control socket, each
// adapter's data socket, and each relay's downstream listen socket.
package sockutil

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Listen removes any stale socket file at path left over from a crashed
// prior run, then binds a new Unix listener there. Filesystem-as-shared-
// state: a leftover file with no live listener behind it must never block
// a fresh bind.
//
// The socket is chmod'd to 0700 after bind: these channels carry no
// authentication of their own, so filesystem permissions are the only
// access control available and default to owner-only.
func Listen(path string) (net.Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if runtime.GOOS != "windows" {
		if err := unix.Chmod(path, 0o700); err != nil {
			_ = ln.Close()
			_ = os.Remove(path)
			return nil, fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return ln, nil
}

// Cleanup closes ln and removes its backing socket file. Safe to call
// after Listen even if the listener was never successfully used.
func Cleanup(ln net.Listener, path string) {
	_ = ln.Close()
	_ = os.Remove(path)
}
