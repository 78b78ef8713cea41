// Package apptypes holds the value types shared across the session
// server manager's components: identities, states and configuration
// records that flow between the supervisor, the RPC layer and the
// process layer.
package apptypes

import "fmt"

// ServerId uniquely identifies a session server instance for the
// lifetime of this process. It is assigned once, monotonically, when
// the instance is created and is never reused.
type ServerId int64

// AppName is the controller-supplied name of a bound application.
// It is empty for a preloaded, unbound session server.
type AppName string

// SessionServerState is the supervisor's view of a child's state.
type SessionServerState int

const (
	Uninitialized SessionServerState = iota
	Inactive
	Active
	NotRunning
	Error
)

func (s SessionServerState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Inactive:
		return "INACTIVE"
	case Active:
		return "ACTIVE"
	case NotRunning:
		return "NOT_RUNNING"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// SocketLocation names a session-management socket either by a
// filesystem path the supervisor should bind, or by a file descriptor
// the caller has already bound (and is handing over ownership of).
type SocketLocation struct {
	// Path is used when HasFd is false. Empty means "auto-generate".
	Path string
	// Fd, when HasFd is set, takes precedence over Path: the socket is
	// already bound and the supervisor should adopt it rather than
	// create a new one.
	Fd uintptr
	// HasFd distinguishes a legitimate fd 0 from "no fd given" —
	// uintptr zero-value is ambiguous with a real (if unusual) fd.
	HasFd bool
}

// SocketPermissions describes the owner/group/mode to apply to a
// session-management socket. Zero values mean "leave the OS default
// in place" (skip chmod/chown).
type SocketPermissions struct {
	OwnerBits uint8 // 0..7
	GroupBits uint8
	OtherBits uint8
	User      string
	Group     string
}

// Mode returns the permission bits as a standard three-digit octal
// file mode, e.g. 0640.
func (p SocketPermissions) Mode() uint32 {
	return uint32(p.OwnerBits)<<6 | uint32(p.GroupBits)<<3 | uint32(p.OtherBits)
}

// IsZero reports whether the permission value is the "don't touch
// anything" sentinel (spec.md §6: special value 0 skips chmod/chown).
func (p SocketPermissions) IsZero() bool {
	return p.OwnerBits == 0 && p.GroupBits == 0 && p.OtherBits == 0
}

// AppConfig is the configuration a controller supplies for a bound
// application.
type AppConfig struct {
	ClientDisplayName        string
	SessionManagementSocket  SocketLocation
	SocketPermissions        SocketPermissions
	MaxPlaybackSessions      int
	MaxWebAudioPlayers       int
}

// LogLevel is a per-component verbosity. Unchanged is the
// original's LoggingLevel::UNCHANGED sentinel: a SetLogLevels call
// carrying Unchanged for a component leaves that component's level
// untouched.
type LogLevel int

const (
	Unchanged LogLevel = iota
	Fatal
	Error_
	Warning
	Milestone
	Info
	Debug
)

// LoggingLevels carries a verbosity per logging component, matching
// the RPC schema's SetLogLevels fields (spec.md §6).
type LoggingLevels struct {
	Default       LogLevel
	Client        LogLevel
	SessionServer LogLevel
	IPC           LogLevel
	ServerManager LogLevel
	Common        LogLevel
}
