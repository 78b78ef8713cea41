// Package namedsocket binds a filesystem-path SEQPACKET socket with
// configured owner/group/mode and lets its fd be handed over to
// another owner (C3). Adapted from gone/sd's net.go/file.go
// named-listener and fd-export idiom, narrowed from systemd socket
// activation's multi-socket registry down to this spec's
// single-socket, single-handover contract (see DESIGN.md).
package namedsocket

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/ossys"
)

// ErrReleased is returned by any operation on a NamedSocket whose fd
// has already been handed over.
var ErrReleased = errors.New("namedsocket: already released")

// NamedSocket owns one bound, listening SEQPACKET socket until its fd
// is released to a new owner.
type NamedSocket struct {
	path     string
	fd       int
	released bool
}

// Bind creates (or replaces, if the path exists) a SOCK_SEQPACKET
// socket at path, applies perm (skipping chmod/chown for zero
// values, per spec.md §6), and starts listening.
func Bind(path string, perm apptypes.SocketPermissions) (*NamedSocket, error) {
	if path == "" {
		return nil, errors.New("namedsocket: empty path")
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	// Binding over a stale socket file from a previous run is
	// expected after a crash; ignore a missing file.
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		unix.Close(fd)
		return nil, fmt.Errorf("removing stale socket %s: %w", path, rmErr)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	if !perm.IsZero() {
		if err := unix.Chmod(path, perm.Mode()); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	if perm.User != "" || perm.Group != "" {
		if err := (ossys.Real{}).Chown(path, perm.User, perm.Group); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}

	return &NamedSocket{path: path, fd: fd}, nil
}

// Fd returns the socket's current file descriptor. Invalid after
// release.
func (n *NamedSocket) Fd() int { return n.fd }

// Path returns the filesystem path the socket is bound at.
func (n *NamedSocket) Path() string { return n.path }

// BlockNewConnections stops the listening socket from accepting new
// connections while leaving the fd open and valid for handover,
// implemented as re-listening with a zero backlog (spec.md §5:
// "blocks new connections and transfers ownership").
func (n *NamedSocket) BlockNewConnections() error {
	if n.released {
		return ErrReleased
	}
	return unix.Listen(n.fd, 0)
}

// ReleaseFd hands the underlying fd to a new owner. After release,
// this NamedSocket can no longer be used to serve RPCs (spec.md §4.1
// invariant: "after release the originating app can no longer serve
// RPCs").
func (n *NamedSocket) ReleaseFd() (int, error) {
	if n.released {
		return -1, ErrReleased
	}
	n.released = true
	fd := n.fd
	n.fd = -1
	return fd, nil
}

// Close closes the socket if it hasn't already been released.
func (n *NamedSocket) Close() error {
	if n.released || n.fd < 0 {
		return nil
	}
	err := unix.Close(n.fd)
	n.fd = -1
	return err
}
