package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/supervisor"
)

// parseState maps a control-socket argument to a SessionServerState,
// accepting both the String() spelling and a bare lowercase name.
func parseState(s string) (apptypes.SessionServerState, error) {
	switch strings.ToUpper(s) {
	case "UNINITIALIZED":
		return apptypes.Uninitialized, nil
	case "INACTIVE":
		return apptypes.Inactive, nil
	case "ACTIVE":
		return apptypes.Active, nil
	case "NOT_RUNNING", "NOTRUNNING":
		return apptypes.NotRunning, nil
	case "ERROR":
		return apptypes.Error, nil
	default:
		return 0, fmt.Errorf("unrecognised state %q (want inactive|active|not_running)", s)
	}
}

// statusCommand dumps a YAML snapshot of every registered app, the
// way the original implementation's admin TUI inspects supervisor
// state (spec.md §1's host admin/TUI boundary).
type statusCommand struct {
	sup *supervisor.Supervisor
}

func (statusCommand) ShortUsage() (string, string) {
	return "", "list every tracked session server and its state"
}

func (c *statusCommand) Invoke(_ context.Context, out io.Writer, _ []string) error {
	snapshot := c.sup.Status()
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// logLevelCommand sets every component's logging level in one shot,
// the control-socket equivalent of the RPC SetLogLevels call.
type logLevelCommand struct {
	sup *supervisor.Supervisor
}

func (logLevelCommand) ShortUsage() (string, string) {
	return "<0-6>", "set every component's log level (see apptypes.LogLevel)"
}

func (c *logLevelCommand) Invoke(_ context.Context, out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: loglevel <0-6>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid level %q: %w", args[0], err)
	}
	lvl := apptypes.LogLevel(n)
	ok := c.sup.SetLogLevels(apptypes.LoggingLevels{
		Default:       lvl,
		Client:        lvl,
		SessionServer: lvl,
		IPC:           lvl,
		ServerManager: lvl,
		Common:        lvl,
	})
	fmt.Fprintf(out, "applied=%v\n", ok)
	return nil
}

// initiateCommand drives Supervisor.InitiateApplication, the
// control-socket stand-in for the controller's "create a named,
// bound application" call (spec.md §4.5.1).
type initiateCommand struct {
	sup *supervisor.Supervisor
}

func (initiateCommand) ShortUsage() (string, string) {
	return "<name> <inactive|active> [socketPath]", "bind a name to a session server and bring it to the given state"
}

func (c *initiateCommand) Invoke(_ context.Context, out io.Writer, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: initiate <name> <inactive|active> [socketPath]")
	}
	state, err := parseState(args[1])
	if err != nil {
		return err
	}
	cfg := apptypes.AppConfig{ClientDisplayName: args[0]}
	if len(args) >= 3 {
		cfg.SessionManagementSocket = apptypes.SocketLocation{Path: args[2]}
	}
	ok := c.sup.InitiateApplication(apptypes.AppName(args[0]), state, cfg)
	fmt.Fprintf(out, "initiated=%v\n", ok)
	return nil
}

// setStateCommand drives Supervisor.SetSessionServerState (spec.md
// §4.5.2).
type setStateCommand struct {
	sup *supervisor.Supervisor
}

func (setStateCommand) ShortUsage() (string, string) {
	return "<name> <inactive|active|not_running>", "request a state change for a named session server"
}

func (c *setStateCommand) Invoke(_ context.Context, out io.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: setstate <name> <inactive|active|not_running>")
	}
	state, err := parseState(args[1])
	if err != nil {
		return err
	}
	ok := c.sup.SetSessionServerState(apptypes.AppName(args[0]), state)
	fmt.Fprintf(out, "applied=%v\n", ok)
	return nil
}

// preloadCommand drives Supervisor.PreloadSessionServers (spec.md
// §4.5, the warm-pool top-up operation).
type preloadCommand struct {
	sup *supervisor.Supervisor
}

func (preloadCommand) ShortUsage() (string, string) {
	return "<count>", "spawn additional preloaded (unbound) session servers"
}

func (c *preloadCommand) Invoke(_ context.Context, out io.Writer, args []string) error {
	n := 1
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[0], err)
		}
		n = v
	}
	c.sup.PreloadSessionServers(n)
	fmt.Fprintf(out, "preloading=%d\n", n)
	return nil
}

// pingCommand drives Supervisor.TriggerPing, forcing an immediate
// healthcheck round instead of waiting for the periodic timer
// (spec.md §8 scenario 4's ping/ack/timeout protocol).
type pingCommand struct {
	sup *supervisor.Supervisor
}

func (pingCommand) ShortUsage() (string, string) {
	return "", "force an immediate healthcheck ping round"
}

func (c *pingCommand) Invoke(_ context.Context, out io.Writer, _ []string) error {
	c.sup.TriggerPing()
	fmt.Fprintln(out, "ping round triggered")
	return nil
}
