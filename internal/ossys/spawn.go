package ossys

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// childMgmtFd is the fd number the spawned child always sees its
// management socket on, regardless of what fd number it happened to
// have in the parent. argv[1] is always this value (spec.md §6:
// "argv[1] = <management_fd_as_decimal_string>").
const childMgmtFd = 3

// spawnChild forks and execs path with a fixed argv/env contract. It
// uses unix.ForkExec rather than hand-rolled vfork+dup+execve: Go
// cannot safely run arbitrary code between a raw fork() and exec() in
// a multi-threaded runtime, so ForkExec's internal fork+dup2+exec
// sequence (restricted to async-signal-safe operations between the
// fork and the exec, per spec.md §9) is the correct primitive, not a
// stylistic substitute for one.
//
// childFd is duplicated into the new process's fd table at
// childMgmtFd; devnull is duplicated onto fd 0/1/2. The original
// childFd in the parent is left untouched - the caller closes it.
func spawnChild(path string, childFd int, env []string) (int, error) {
	devnull, err := DevNull()
	if err != nil {
		return 0, err
	}
	defer devnull.Close()

	argv := []string{path, strconv.Itoa(childMgmtFd)}

	// Files[i] becomes fd i in the child. Anything beyond len(Files)-1
	// that isn't explicitly requested is closed (CLOEXEC semantics on
	// the child's copies).
	files := []uintptr{devnull.Fd(), devnull.Fd(), devnull.Fd(), uintptr(childFd)}

	pid, err := unix.ForkExec(path, argv, &unix.ProcAttr{
		Dir:   "",
		Env:   env,
		Files: files,
		Sys:   &unix.SysProcAttr{},
	})
	if err != nil {
		return 0, err
	}
	return pid, nil
}
