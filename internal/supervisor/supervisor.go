// Package supervisor implements SessionServerAppManager (C9), the
// central state machine: every public call, RPC event, and timer
// firing becomes a task on one event-loop goroutine that owns the
// app registry (internal/eventloop). Grounded on the original C++
// source's SessionServerAppManager.cpp control flow, translated from
// its ad hoc per-component mutexes into the single-funnel design
// spec.md §9 calls for.
package supervisor

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/rdkcentral/rialto-sub000/internal/apprunner"
	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/controller"
	"github.com/rdkcentral/rialto-sub000/internal/eventloop"
	"github.com/rdkcentral/rialto-sub000/internal/healthcheck"
	"github.com/rdkcentral/rialto-sub000/internal/logging"
	"github.com/rdkcentral/rialto-sub000/internal/ossys"
)

var log = logging.For(logging.ServerManager)

// StateObserver receives the sequence of states the supervisor
// believes a named app to be in (spec.md §7).
type StateObserver interface {
	OnStateChanged(name apptypes.AppName, state apptypes.SessionServerState)
}

// Config is the process-wide tuning the supervisor needs to spawn
// children; it is the Go-side image of the merged JSON configuration
// (internal/config).
type Config struct {
	ServerPath      string
	Env             []string
	StartupTimeout  time.Duration
	KillWaitTimeout time.Duration
	Healthcheck     healthcheck.Config
}

// Supervisor is the event-thread-owned registry plus its public,
// thread-safe API.
type Supervisor struct {
	loop       *eventloop.Loop
	os         ossys.OS
	controller *controller.Controller
	healthcheck *healthcheck.Service
	observer   StateObserver
	cfg        Config

	nextID    int64
	registry  map[apptypes.ServerId]*apprunner.App
	byName    map[apptypes.AppName]apptypes.ServerId
	logLevels apptypes.LoggingLevels

	shutdown int32
}

// New constructs a Supervisor. The returned value owns osImpl only
// through the apprunner/namedsocket/controller layers; callers
// provide osImpl so tests can substitute fakeos.Fake.
func New(osImpl ossys.OS, cfg Config, observer StateObserver) *Supervisor {
	s := &Supervisor{
		os:       osImpl,
		cfg:      cfg,
		observer: observer,
		registry: make(map[apptypes.ServerId]*apprunner.App),
		byName:   make(map[apptypes.AppName]apptypes.ServerId),
	}
	s.controller = controller.New()
	s.healthcheck = healthcheck.New(cfg.Healthcheck, s)
	s.loop = eventloop.New(256)
	return s
}

func (s *Supervisor) closed() bool {
	return atomic.LoadInt32(&s.shutdown) != 0
}

func (s *Supervisor) nextServerID() apptypes.ServerId {
	s.nextID++
	return apptypes.ServerId(s.nextID)
}

func (s *Supervisor) appParams(id apptypes.ServerId) apprunner.Params {
	return apprunner.Params{
		ID:              id,
		OS:              s.os,
		ServerPath:      s.cfg.ServerPath,
		Env:             s.cfg.Env,
		StartupTimeout:  s.cfg.StartupTimeout,
		KillWaitTimeout: s.cfg.KillWaitTimeout,
	}
}

func fdToConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "appmgmt")
	conn, err := net.FileConn(f)
	f.Close()
	return conn, err
}

// --- public operations (spec.md §4.5) ---

// PreloadSessionServers posts a task that spawns n preloaded apps.
// Individual failures are logged and do not abort the loop.
func (s *Supervisor) PreloadSessionServers(n int) {
	if s.closed() {
		return
	}
	s.loop.Post(func() {
		for i := 0; i < n; i++ {
			s.spawnPreloaded()
		}
	})
}

// TriggerPing forces an immediate healthcheck ping round (used by the
// control socket's "ping" command), exactly as if the healthcheck
// timer had fired early.
func (s *Supervisor) TriggerPing() {
	if s.closed() {
		return
	}
	s.healthcheck.TriggerPingRound()
}

// InitiateApplication implements spec.md §4.5.1.
func (s *Supervisor) InitiateApplication(name apptypes.AppName, state apptypes.SessionServerState, cfg apptypes.AppConfig) bool {
	if s.closed() {
		return false
	}
	return eventloop.Call(s.loop, func() bool {
		return s.initiateApplicationLocked(name, state, cfg)
	})
}

func (s *Supervisor) initiateApplicationLocked(name apptypes.AppName, state apptypes.SessionServerState, cfg apptypes.AppConfig) bool {
	if state == apptypes.NotRunning {
		return false
	}
	if _, exists := s.byName[name]; exists {
		return false
	}

	for id, app := range s.registry {
		if app.IsBound() {
			continue
		}
		return s.configurePreloaded(id, app, name, state, cfg)
	}

	return s.spawnBound(name, state, cfg)
}

func (s *Supervisor) configurePreloaded(id apptypes.ServerId, app *apprunner.App, name apptypes.AppName, state apptypes.SessionServerState, cfg apptypes.AppConfig) bool {
	if !app.Configure(name, state, cfg) {
		// failHard's Error-path (onStateChangedLocked) already spawns
		// the replacement preload for an app that's still unbound.
		s.failHard(id)
		return true
	}
	s.byName[name] = id

	ok := s.controller.PerformSetConfiguration(id, state, cfg.SessionManagementSocket, cfg.SocketPermissions, cfg.ClientDisplayName, string(name), cfg.MaxPlaybackSessions, cfg.MaxWebAudioPlayers, s.logLevels)
	if !ok {
		s.failHard(id)
		return true
	}

	s.spawnPreloaded()
	return true
}

func (s *Supervisor) spawnBound(name apptypes.AppName, state apptypes.SessionServerState, cfg apptypes.AppConfig) bool {
	id := s.nextServerID()
	app, err := apprunner.NewBound(s.appParams(id), name, state, cfg)
	if err != nil {
		log.Error("new bound app %s: %v", name, err)
		return false
	}
	if !app.Launch() {
		log.Error("launch failed for %s", name)
		return false
	}
	if !s.registerLaunched(id, app) {
		app.Close()
		return false
	}
	s.byName[name] = id
	return true
}

func (s *Supervisor) spawnPreloaded() {
	id := s.nextServerID()
	app, err := apprunner.NewPreloaded(s.appParams(id))
	if err != nil {
		log.Error("new preloaded app: %v", err)
		return
	}
	if !app.Launch() {
		log.Error("preload launch failed")
		return
	}
	if !s.registerLaunched(id, app) {
		app.Close()
		return
	}
}

func (s *Supervisor) registerLaunched(id apptypes.ServerId, app *apprunner.App) bool {
	conn, err := fdToConn(app.ParentFd())
	if err != nil {
		log.Error("wrap management fd: %v", err)
		return false
	}
	onDisc := func() { s.RestartServer(id) }
	if !s.controller.CreateClient(id, conn, onDisc, s, s) {
		conn.Close()
		return false
	}
	s.registry[id] = app
	app.ArmStartupTimeout(func() { s.onStartupTimeout(id) })
	return true
}

func (s *Supervisor) onStartupTimeout(id apptypes.ServerId) {
	s.loop.Post(func() {
		app, ok := s.registry[id]
		if !ok || app.State() != apptypes.Uninitialized {
			return
		}
		s.failHard(id)
	})
}

// failHard implements the Error -> kill -> NotRunning sequence used
// for LaunchFailure-adjacent recovery paths (configure failure on a
// preloaded app, startup timeout).
func (s *Supervisor) failHard(id apptypes.ServerId) {
	s.onStateChangedLocked(id, apptypes.Error)
	if app, ok := s.registry[id]; ok {
		app.Kill()
	}
	s.onStateChangedLocked(id, apptypes.NotRunning)
}

// SetSessionServerState implements spec.md §4.5.2.
func (s *Supervisor) SetSessionServerState(name apptypes.AppName, state apptypes.SessionServerState) bool {
	if s.closed() {
		return false
	}
	return eventloop.Call(s.loop, func() bool {
		id, ok := s.byName[name]
		if !ok {
			return false
		}
		app := s.registry[id]
		app.SetExpectedState(state)
		if s.controller.PerformSetState(id, state) {
			return true
		}
		s.handleStateChangeFailure(id, state)
		return false
	})
}

// handleStateChangeFailure is the error handling helper named in
// spec.md §4.5: force-kill and emit NotRunning if the requested state
// was itself NotRunning, otherwise just emit Error.
func (s *Supervisor) handleStateChangeFailure(id apptypes.ServerId, state apptypes.SessionServerState) {
	if state == apptypes.NotRunning {
		if app, ok := s.registry[id]; ok {
			app.Kill()
		}
		s.onStateChangedLocked(id, apptypes.NotRunning)
		return
	}
	s.onStateChangedLocked(id, apptypes.Error)
}

// GetAppConnectionInfo implements spec.md §4.5.
func (s *Supervisor) GetAppConnectionInfo(name apptypes.AppName) string {
	if s.closed() {
		return ""
	}
	return eventloop.Call(s.loop, func() string {
		id, ok := s.byName[name]
		if !ok {
			return ""
		}
		return s.registry[id].ConnectionInfo()
	})
}

// SetLogLevels implements spec.md §4.5, honoring the Unchanged
// sentinel per component.
func (s *Supervisor) SetLogLevels(levels apptypes.LoggingLevels) bool {
	if s.closed() {
		return false
	}
	return eventloop.Call(s.loop, func() bool {
		s.logLevels = mergeLevels(s.logLevels, levels)
		return s.controller.SetLogLevels(s.logLevels)
	})
}

func mergeLevels(cur, next apptypes.LoggingLevels) apptypes.LoggingLevels {
	pick := func(c, n apptypes.LogLevel) apptypes.LogLevel {
		if n == apptypes.Unchanged {
			return c
		}
		return n
	}
	return apptypes.LoggingLevels{
		Default:       pick(cur.Default, next.Default),
		Client:        pick(cur.Client, next.Client),
		SessionServer: pick(cur.SessionServer, next.SessionServer),
		IPC:           pick(cur.IPC, next.IPC),
		ServerManager: pick(cur.ServerManager, next.ServerManager),
		Common:        pick(cur.Common, next.Common),
	}
}

// SendPingEvents implements spec.md §4.5: called by the healthcheck
// service's timer, pings every registered app and reports the
// outcome back to the healthcheck service.
func (s *Supervisor) SendPingEvents(pingID uint32) {
	s.loop.Post(func() {
		for id := range s.registry {
			if s.controller.PerformPing(id, pingID) {
				s.healthcheck.OnPingSent(id, pingID)
			} else {
				s.healthcheck.OnPingFailed(id, pingID)
			}
		}
	})
}

// OnHealthcheckError is the healthcheck.Supervisor callback: it
// emits Error through the normal state-change path (which already
// handles the "preloaded app in Error" removal case).
func (s *Supervisor) OnHealthcheckError(id apptypes.ServerId) {
	s.loop.Post(func() {
		s.onStateChangedLocked(id, apptypes.Error)
	})
}

// RestartServer implements spec.md §4.5.4. Posted by the healthcheck
// service (or by a client's disconnect callback).
func (s *Supervisor) RestartServer(id apptypes.ServerId) {
	s.loop.Post(func() {
		app, ok := s.registry[id]
		if !ok {
			log.Info("restart requested for unknown server %d", id)
			return
		}
		name := app.AppName()
		expected := app.ExpectedState()
		cfg := app.Config()
		if expected != apptypes.Inactive && expected != apptypes.Active {
			return
		}
		// Hand the still-bound management socket straight to the
		// replacement instead of letting app.Close() tear it down and
		// rebinding a fresh one at the same path: the fd is already
		// live, so the restarted app adopts it by fd (spec.md §8
		// scenario 6's handover path) rather than racing a bind
		// against the just-vacated path.
		if fd, err := app.ReleaseNamedSocket(); err == nil {
			cfg.SessionManagementSocket = apptypes.SocketLocation{Fd: uintptr(fd), HasFd: true}
		}
		app.Kill()
		s.onStateChangedLocked(id, apptypes.NotRunning)
		s.initiateApplicationLocked(name, expected, cfg)
	})
}

// OnSessionServerStateChanged is the sessionserverclient.StateObserver
// callback: events arrive from a channel's reader goroutine and are
// funneled onto the event loop.
func (s *Supervisor) OnSessionServerStateChanged(id apptypes.ServerId, state apptypes.SessionServerState) {
	s.loop.Post(func() {
		s.onStateChangedLocked(id, state)
	})
}

// OnAck is the sessionserverclient.AckObserver callback: forwarded
// straight to the healthcheck service, which has its own mutex and
// does not touch the registry.
func (s *Supervisor) OnAck(id apptypes.ServerId, pingID uint32, success bool) {
	s.healthcheck.OnAckReceived(id, pingID, success)
}

// onStateChangedLocked implements spec.md §4.5.3. Must only run on
// the event-loop goroutine.
func (s *Supervisor) onStateChangedLocked(id apptypes.ServerId, newState apptypes.SessionServerState) {
	app, ok := s.registry[id]
	if !ok {
		return
	}
	app.SetState(newState)

	if app.AppName() != "" && s.observer != nil {
		s.observer.OnStateChanged(app.AppName(), newState)
	}

	switch newState {
	case apptypes.Uninitialized:
		app.CancelStartupTimer()
		if app.IsBound() {
			cfg := app.Config()
			ok := s.controller.PerformSetConfiguration(id, app.ExpectedState(), cfg.SessionManagementSocket, cfg.SocketPermissions, cfg.ClientDisplayName, string(app.AppName()), cfg.MaxPlaybackSessions, cfg.MaxWebAudioPlayers, s.logLevels)
			if !ok {
				s.onStateChangedLocked(id, apptypes.Error)
				app.Kill()
				s.onStateChangedLocked(id, apptypes.NotRunning)
			}
		}

	case apptypes.Error:
		if !app.IsBound() {
			s.controller.RemoveClient(id)
			app.Kill()
			delete(s.registry, id)
			s.healthcheck.OnServerRemoved(id)
			s.spawnPreloaded()
		}

	case apptypes.NotRunning:
		s.controller.RemoveClient(id)
		s.healthcheck.OnServerRemoved(id)
		delete(s.registry, id)
		if app.AppName() != "" {
			if existing, ok := s.byName[app.AppName()]; ok && existing == id {
				delete(s.byName, app.AppName())
			}
		}
		app.Close()

	default:
		// No additional state-machine side effect.
	}
}

// AppStatus is a point-in-time snapshot of one registry entry, used
// by the control socket's "status" command.
type AppStatus struct {
	ID            apptypes.ServerId          `yaml:"id"`
	Name          apptypes.AppName           `yaml:"name,omitempty"`
	Bound         bool                       `yaml:"bound"`
	State         string                     `yaml:"state"`
	ExpectedState string                     `yaml:"expectedState,omitempty"`
	PID           int                        `yaml:"pid"`
	Connection    string                     `yaml:"connection,omitempty"`
}

// Status returns a snapshot of every registered app, for diagnostics.
func (s *Supervisor) Status() []AppStatus {
	if s.closed() {
		return nil
	}
	return eventloop.Call(s.loop, func() []AppStatus {
		out := make([]AppStatus, 0, len(s.registry))
		for id, app := range s.registry {
			st := AppStatus{
				ID:         id,
				Name:       app.AppName(),
				Bound:      app.IsBound(),
				State:      app.State().String(),
				PID:        app.PID(),
				Connection: app.ConnectionInfo(),
			}
			if app.IsBound() {
				st.ExpectedState = app.ExpectedState().String()
			}
			out = append(out, st)
		}
		return out
	})
}

// Shutdown implements spec.md §4.5's destruction sequence: posts a
// task that kills every app and clears the registry, flushes the
// queue, then tears the event thread down. No operation posted after
// this observably mutates state.
func (s *Supervisor) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return
	}
	s.loop.Post(func() {
		for id, app := range s.registry {
			app.Close()
			s.controller.RemoveClient(id)
		}
		s.registry = make(map[apptypes.ServerId]*apprunner.App)
		s.byName = make(map[apptypes.AppName]apptypes.ServerId)
	})
	s.loop.Flush()
	s.healthcheck.Stop()
	s.loop.Stop()
}
