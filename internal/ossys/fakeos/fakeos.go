// Package fakeos is a deterministic, in-memory stand-in for
// ossys.OS used by the rest of the core's tests, so C7/C9 behaviour
// can be exercised without really forking child processes.
package fakeos

import (
	"sync"
)

// Fake records calls and lets tests script failures/pids.
type Fake struct {
	mu sync.Mutex

	nextPid      int
	SocketpairFn func() (int, int, error)
	SpawnFn      func(path string, childFd int, env []string) (int, error)

	Killed  []int
	Waited  []int
	Closed  []int
	Chmoded []struct {
		Path string
		Mode uint32
	}
	Chowned []struct {
		Path, User, Group string
	}

	nextFd int
}

// New returns a Fake that, by default, successfully spawns
// incrementing pids starting at 1000 and hands out incrementing
// socketpair fds starting at 100.
func New() *Fake {
	return &Fake{nextPid: 1000, nextFd: 100}
}

func (f *Fake) Socketpair() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SocketpairFn != nil {
		return f.SocketpairFn()
	}
	parent := f.nextFd
	f.nextFd++
	child := f.nextFd
	f.nextFd++
	return parent, child, nil
}

func (f *Fake) SpawnChild(path string, childFd int, env []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SpawnFn != nil {
		return f.SpawnFn(path, childFd, env)
	}
	pid := f.nextPid
	f.nextPid++
	return pid, nil
}

func (f *Fake) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Killed = append(f.Killed, pid)
	return nil
}

func (f *Fake) Wait(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Waited = append(f.Waited, pid)
	return nil
}

func (f *Fake) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = append(f.Closed, fd)
	return nil
}

func (f *Fake) Chmod(path string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mode == 0 {
		return nil
	}
	f.Chmoded = append(f.Chmoded, struct {
		Path string
		Mode uint32
	}{path, mode})
	return nil
}

func (f *Fake) Chown(path string, userName, groupName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userName == "" && groupName == "" {
		return nil
	}
	f.Chowned = append(f.Chowned, struct{ Path, User, Group string }{path, userName, groupName})
	return nil
}

// KillCount returns how many times pid was killed - used to assert
// kill() idempotence (spec.md §8 round-trip law).
func (f *Fake) KillCount(pid int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.Killed {
		if p == pid {
			n++
		}
	}
	return n
}

// FailSpawnWith makes subsequent SpawnChild calls fail.
func (f *Fake) FailSpawnWith(err error) {
	f.SpawnFn = func(string, int, []string) (int, error) {
		return 0, err
	}
}

// FailSocketpairWith makes subsequent Socketpair calls fail.
func (f *Fake) FailSocketpairWith(err error) {
	f.SocketpairFn = func() (int, int, error) {
		return -1, -1, err
	}
}
