// Package ossys is the narrow OS/syscall port (C1): the only place in
// the core that touches fork/exec/socketpair/kill/waitpid/chmod/chown
// directly, so the rest of the supervisor can be exercised without a
// real child process. Adapted from gone/sd's process.go fd/env
// handling idiom and from the original C++ source's
// SessionServerApp::spawnSessionServer sequence.
package ossys

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// OS is the seam the rest of the core depends on instead of calling
// golang.org/x/sys/unix or os directly, so tests can substitute a fake.
type OS interface {
	// Socketpair creates a connected AF_UNIX/SOCK_SEQPACKET pair with
	// CLOEXEC and NONBLOCK set on both ends, returning (parentFd, childFd).
	Socketpair() (parentFd int, childFd int, err error)

	// SpawnChild forks+execs path with argv[1] set to the decimal
	// string of childFd as seen in the new process's own fd table
	// (always 3 - see spawn.go), redirecting stdin/stdout/stderr to
	// /dev/null, and returns the new process's pid. childFd is
	// duplicated into the child; the parent's copy stays open and the
	// caller closes it.
	SpawnChild(path string, childFd int, env []string) (pid int, err error)

	// Kill sends SIGKILL to pid. Safe to call more than once.
	Kill(pid int) error

	// Wait blocks until pid has exited and been reaped.
	Wait(pid int) error

	// Close closes fd.
	Close(fd int) error

	// Chmod applies mode to path.
	Chmod(path string, mode uint32) error

	// Chown resolves userName/groupName (empty = "don't change that
	// half") to uid/gid and applies them to path.
	Chown(path string, userName, groupName string) error
}

// Real is the production OS implementation.
type Real struct{}

var _ OS = Real{}

func (Real) Socketpair() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, -1, fmt.Errorf("socketpair: %w", err)
	}
	return fds[0], fds[1], nil
}

func (Real) SpawnChild(path string, childFd int, env []string) (int, error) {
	return spawnChild(path, childFd, env)
}

func (Real) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func (Real) Wait(pid int) error {
	if pid <= 0 {
		return nil
	}
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			// Already reaped (e.g. by a generic SIGCHLD handler). Not
			// an error for our purposes - the process is gone.
			return nil
		}
		return err
	}
}

func (Real) Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func (Real) Chmod(path string, mode uint32) error {
	if mode == 0 {
		return nil
	}
	return unix.Chmod(path, mode)
}

func (Real) Chown(path string, userName, groupName string) error {
	if userName == "" && groupName == "" {
		return nil
	}
	uid := -1
	gid := -1
	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf("lookup user %q: %w", userName, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return err
		}
	}
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		var err2 error
		gid, err2 = strconv.Atoi(g.Gid)
		if err2 != nil {
			return err2
		}
	}
	return unix.Chown(path, uid, gid)
}

// DevNull opens /dev/null for redirecting a child's standard streams.
func DevNull() (*os.File, error) {
	return os.OpenFile(os.DevNull, os.O_RDWR, 0)
}
