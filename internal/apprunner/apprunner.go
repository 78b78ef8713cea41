// Package apprunner implements SessionServerApp (C7): spawning,
// configuring, killing and reaping one session-server child process
// and owning its parent-side management socket. Grounded on the
// original C++ source's SessionServerApp.cpp launch()/kill()/
// destructor sequence, translated from vfork+dup+execve into
// ossys.SpawnChild's safe ForkExec-based equivalent, and on
// gone/sd/process.go's argv/env construction idiom.
package apprunner

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/namedsocket"
	"github.com/rdkcentral/rialto-sub000/internal/ossys"
	"github.com/rdkcentral/rialto-sub000/internal/timer"
)

var autoSocketCounter int64

// nextAutoSocketPath returns the next "/tmp/rialto-<n>" path for an
// empty socket name (spec.md §6).
func nextAutoSocketPath() string {
	n := atomic.AddInt64(&autoSocketCounter, 1)
	return fmt.Sprintf("/tmp/rialto-%d", n)
}

// resolveSocketPath implements spec.md §4.1's three-way rule: a
// caller-supplied absolute-ish path is used as-is, a bare name is
// placed under /tmp, and an empty name is auto-generated.
func resolveSocketPath(name string) string {
	if name == "" {
		return nextAutoSocketPath()
	}
	if name[0] == '/' {
		return name
	}
	return "/tmp/" + name
}

// Params is the fixed construction data for an App: things that never
// change across configure() calls.
type Params struct {
	ID               apptypes.ServerId
	OS               ossys.OS
	ServerPath       string
	Env              []string
	StartupTimeout   time.Duration
	KillWaitTimeout  time.Duration
}

// App is the supervisor's handle on one child process.
type App struct {
	params Params

	appName       apptypes.AppName
	bound         bool
	configured    bool
	state         apptypes.SessionServerState
	expectedState apptypes.SessionServerState
	config        apptypes.AppConfig

	namedSocket *namedsocket.NamedSocket
	adoptedFd   int // set instead of namedSocket when config supplies a pre-bound fd
	hasAdopted  bool

	pid            int
	parentFd       int
	childFd        int
	launched       bool
	waited         bool
	startupTimer   *timer.Timer
	killTimer      *timer.Timer
}

// NewPreloaded constructs an unbound, warm session server. Nothing is
// created yet: the socketpair comes from Launch, and appName, config
// and the named socket are left zero until Configure is called.
func NewPreloaded(p Params) (*App, error) {
	a := &App{params: p, parentFd: -1, childFd: -1, adoptedFd: -1}
	return a, nil
}

// NewBound constructs a session server already associated with
// appName, state, and cfg. It binds (or adopts) the named
// session-management socket eagerly; Launch still has to be called to
// actually fork+exec the child.
func NewBound(p Params, appName apptypes.AppName, state apptypes.SessionServerState, cfg apptypes.AppConfig) (*App, error) {
	a := &App{params: p, parentFd: -1, childFd: -1, adoptedFd: -1}
	if err := a.bindManagementSocket(appName, cfg); err != nil {
		return nil, err
	}
	a.appName = appName
	a.bound = true
	a.configured = true
	a.state = apptypes.Uninitialized
	a.expectedState = state
	a.config = cfg
	return a, nil
}

func (a *App) bindManagementSocket(appName apptypes.AppName, cfg apptypes.AppConfig) error {
	if cfg.SessionManagementSocket.HasFd {
		a.adoptedFd = int(cfg.SessionManagementSocket.Fd)
		a.hasAdopted = true
		return nil
	}
	path := resolveSocketPath(cfg.SessionManagementSocket.Path)
	ns, err := namedsocket.Bind(path, cfg.SocketPermissions)
	if err != nil {
		return fmt.Errorf("apprunner: bind management socket: %w", err)
	}
	a.namedSocket = ns
	return nil
}

// Configure is valid only on a preloaded (not yet bound) app. It
// associates appName/state/cfg and binds the named socket. Returns
// false if the app is already bound (spec.md §4.1).
func (a *App) Configure(appName apptypes.AppName, state apptypes.SessionServerState, cfg apptypes.AppConfig) bool {
	if a.bound || a.configured {
		return false
	}
	if err := a.bindManagementSocket(appName, cfg); err != nil {
		return false
	}
	a.appName = appName
	a.bound = true
	a.configured = true
	a.expectedState = state
	a.config = cfg
	return true
}

// Launch creates the socketpair, arms the startup timer, and
// forks+execs the child. Returns false on any failure, in which case
// the App must not be registered (or must be dropped immediately).
func (a *App) Launch() bool {
	parentFd, childFd, err := a.params.OS.Socketpair()
	if err != nil {
		return false
	}

	a.startupTimer = timer.New(a.params.StartupTimeout, timer.OneShot, func() {})

	pid, err := a.params.OS.SpawnChild(a.params.ServerPath, childFd, a.params.Env)
	if err != nil {
		a.params.OS.Close(parentFd)
		a.params.OS.Close(childFd)
		if a.startupTimer != nil {
			a.startupTimer.Cancel()
		}
		return false
	}

	a.params.OS.Close(childFd)
	a.pid = pid
	a.parentFd = parentFd
	a.launched = true
	return true
}

// ArmStartupTimeout re-arms the startup timer with onTimeout as its
// callback; called once Launch has succeeded and the caller has a
// concrete action (StartupTimeout error handling) ready to run.
func (a *App) ArmStartupTimeout(onTimeout func()) {
	if a.startupTimer != nil {
		a.startupTimer.Cancel()
	}
	a.startupTimer = timer.New(a.params.StartupTimeout, timer.OneShot, onTimeout)
}

// CancelStartupTimer disarms the startup timer; invoked when the
// child first reports Uninitialized (spec.md §4.1). Idempotent.
func (a *App) CancelStartupTimer() {
	if a.startupTimer != nil {
		a.startupTimer.Cancel()
	}
}

// Kill sends SIGKILL to the child if it has a pid. Idempotent.
func (a *App) Kill() {
	if a.pid > 0 {
		a.params.OS.Kill(a.pid)
	}
}

// Wait reaps the child, bounded by the configured kill-wait timeout:
// if the child hasn't exited by then, Wait gives up without blocking
// forever (the child has already been SIGKILLed by Kill).
func (a *App) Wait() {
	if a.waited || a.pid <= 0 {
		return
	}
	a.waited = true

	done := make(chan struct{})
	go func() {
		a.params.OS.Wait(a.pid)
		close(done)
	}()

	if a.params.KillWaitTimeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(a.params.KillWaitTimeout):
	}
}

// ReleaseNamedSocket blocks new connections on the owned named
// socket and hands its fd to the caller. After release this App can
// no longer serve RPCs over that socket (spec.md §9).
func (a *App) ReleaseNamedSocket() (int, error) {
	if a.namedSocket == nil {
		return -1, fmt.Errorf("apprunner: no named socket to release")
	}
	if err := a.namedSocket.BlockNewConnections(); err != nil {
		return -1, err
	}
	return a.namedSocket.ReleaseFd()
}

// Close tears the app down: cancels timers, kills and waits for the
// child, and closes the parent-side fd and named socket. Safe to call
// more than once.
func (a *App) Close() {
	a.CancelStartupTimer()
	if a.killTimer != nil {
		a.killTimer.Cancel()
	}
	a.Kill()
	a.Wait()
	if a.parentFd >= 0 {
		a.params.OS.Close(a.parentFd)
		a.parentFd = -1
	}
	if a.namedSocket != nil {
		a.namedSocket.Close()
	}
}

// --- accessors ---

func (a *App) ID() apptypes.ServerId                    { return a.params.ID }
func (a *App) AppName() apptypes.AppName                { return a.appName }
func (a *App) IsBound() bool                            { return a.bound }
func (a *App) IsPreloaded() bool                        { return !a.bound }
func (a *App) State() apptypes.SessionServerState        { return a.state }
func (a *App) SetState(s apptypes.SessionServerState)    { a.state = s }
func (a *App) ExpectedState() apptypes.SessionServerState { return a.expectedState }
func (a *App) SetExpectedState(s apptypes.SessionServerState) { a.expectedState = s }
func (a *App) Config() apptypes.AppConfig                { return a.config }
func (a *App) ParentFd() int                             { return a.parentFd }
func (a *App) PID() int                                  { return a.pid }

// ConnectionInfo returns the bound session-management socket path, or
// a "fd:<n>" descriptor when the management socket was adopted from a
// pre-bound fd rather than a path (scenario 6: fd handover).
func (a *App) ConnectionInfo() string {
	if a.namedSocket != nil {
		return a.namedSocket.Path()
	}
	if a.hasAdopted {
		return fmt.Sprintf("fd:%d", a.adoptedFd)
	}
	return ""
}
