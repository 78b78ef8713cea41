// Package logging is a small, swappable leveled logging facade for
// the session server manager core. It is adapted from gone/daemon's
// LoggerFunc shape, widened with a logging-component axis so callers
// can ask "is this component at DEBUG" the way the RPC SetLogLevels
// call does.
package logging

import (
	"fmt"
	"sync"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
)

// Component identifies which part of the system a log line, or a
// verbosity setting, belongs to.
type Component int

const (
	Default Component = iota
	Client
	SessionServer
	IPC
	ServerManager
	Common
)

func (c Component) String() string {
	switch c {
	case Default:
		return "default"
	case Client:
		return "client"
	case SessionServer:
		return "sessionServer"
	case IPC:
		return "ipc"
	case ServerManager:
		return "serverManager"
	case Common:
		return "common"
	default:
		return "unknown"
	}
}

// LoggerFunc receives one already-formatted log line for a component
// at a level. Set with SetLogger; nil means "discard".
type LoggerFunc func(component Component, level apptypes.LogLevel, msg string)

type state struct {
	mu     sync.RWMutex
	logger LoggerFunc
	levels map[Component]apptypes.LogLevel
}

var global = &state{
	levels: map[Component]apptypes.LogLevel{
		Default:       apptypes.Milestone,
		Client:        apptypes.Milestone,
		SessionServer: apptypes.Milestone,
		IPC:           apptypes.Milestone,
		ServerManager: apptypes.Milestone,
		Common:        apptypes.Milestone,
	},
}

// SetLogger installs the function log output is delivered to.
func SetLogger(f LoggerFunc) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.logger = f
}

// SetLevel sets the minimum level a single component logs at.
// apptypes.Unchanged is a no-op, matching the RPC SetLogLevels
// contract where an unset field leaves that component alone.
func SetLevel(c Component, lvl apptypes.LogLevel) {
	if lvl == apptypes.Unchanged {
		return
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	global.levels[c] = lvl
}

// SetLevels applies a full LoggingLevels record, skipping any
// component set to Unchanged.
func SetLevels(levels apptypes.LoggingLevels) {
	SetLevel(Default, levels.Default)
	SetLevel(Client, levels.Client)
	SetLevel(SessionServer, levels.SessionServer)
	SetLevel(IPC, levels.IPC)
	SetLevel(ServerManager, levels.ServerManager)
	SetLevel(Common, levels.Common)
}

// Levels returns the currently configured level of every component.
func Levels() apptypes.LoggingLevels {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return apptypes.LoggingLevels{
		Default:       global.levels[Default],
		Client:        global.levels[Client],
		SessionServer: global.levels[SessionServer],
		IPC:           global.levels[IPC],
		ServerManager: global.levels[ServerManager],
		Common:        global.levels[Common],
	}
}

func does(c Component, lvl apptypes.LogLevel) bool {
	global.mu.RLock()
	defer global.mu.RUnlock()
	cur, ok := global.levels[c]
	if !ok {
		cur = global.levels[Default]
	}
	return lvl <= cur || lvl == apptypes.Fatal
}

func emit(c Component, lvl apptypes.LogLevel, msg string) {
	if !does(c, lvl) {
		return
	}
	global.mu.RLock()
	f := global.logger
	global.mu.RUnlock()
	if f != nil {
		f(c, lvl, msg)
	}
}

// Logger is a bound, per-component convenience wrapper, the shape
// most internal packages use: l := logging.For(logging.ServerManager).
type Logger struct {
	component Component
}

// For returns a Logger bound to a single component.
func For(c Component) Logger { return Logger{component: c} }

func (l Logger) Debug(format string, args ...interface{}) {
	emit(l.component, apptypes.Debug, fmt.Sprintf(format, args...))
}
func (l Logger) Info(format string, args ...interface{}) {
	emit(l.component, apptypes.Info, fmt.Sprintf(format, args...))
}
func (l Logger) Milestone(format string, args ...interface{}) {
	emit(l.component, apptypes.Milestone, fmt.Sprintf(format, args...))
}
func (l Logger) Warn(format string, args ...interface{}) {
	emit(l.component, apptypes.Warning, fmt.Sprintf(format, args...))
}
func (l Logger) Error(format string, args ...interface{}) {
	emit(l.component, apptypes.Error_, fmt.Sprintf(format, args...))
}
func (l Logger) Fatal(format string, args ...interface{}) {
	emit(l.component, apptypes.Fatal, fmt.Sprintf(format, args...))
}
