// Command sessionservermanager is the session server manager's
// entrypoint: loads the layered JSON configuration, starts the
// control-plane supervisor, preloads its warm-worker pool, exposes a
// debug control socket, and waits for a shutdown signal. Grounded on
// gone/daemon/run.go's control-socket setup and signal-driven exit,
// simplified to this program's single long-lived supervisor instead
// of gone's hot-reloadable server ensemble.
package main

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/config"
	"github.com/rdkcentral/rialto-sub000/internal/ctrlsocket"
	"github.com/rdkcentral/rialto-sub000/internal/healthcheck"
	"github.com/rdkcentral/rialto-sub000/internal/logging"
	"github.com/rdkcentral/rialto-sub000/internal/ossys"
	"github.com/rdkcentral/rialto-sub000/internal/signals"
	"github.com/rdkcentral/rialto-sub000/internal/supervisor"
)

func main() {
	var (
		baseConfig      = pflag.String("base-config", "/etc/rialto/ssm.conf", "base configuration file")
		socConfig       = pflag.String("soc-config", "", "SoC-specific configuration file (overrides base)")
		overridesConfig = pflag.String("overrides-config", "", "final overrides configuration file")
		envFile         = pflag.String("env-file", "", "dotenv file merged into every child's environment")
		ctrlSockPath    = pflag.String("ctrl-socket", "/tmp/rialto-ssm.sock", "admin control socket path")
		verbose         = pflag.CountP("verbose", "v", "increase log verbosity (repeatable)")
	)
	pflag.Parse()

	installStderrLogger()
	if *verbose > 0 {
		applyVerbosity(*verbose)
	}

	settings, err := config.Load(*baseConfig, *socConfig, *overridesConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	env := append([]string{}, settings.EnvironmentVariables...)
	env = append(env, settings.ExtraEnvVariables...)
	if *envFile != "" {
		extra, err := config.LoadEnvFile(*envFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "env-file:", err)
			os.Exit(1)
		}
		env = append(env, extra...)
	}

	observer := &loggingObserver{}

	sup := supervisor.New(ossys.Real{}, supervisor.Config{
		ServerPath:      settings.SessionServerPath,
		Env:             env,
		StartupTimeout:  settings.StartupTimeout(),
		KillWaitTimeout: settings.StartupTimeout(),
		Healthcheck: healthcheck.Config{
			Interval:               settings.HealthcheckInterval(),
			FailuresBeforeRecovery: uint32(settings.NumOfPingsBeforeRecovery),
		},
	}, observer)

	sup.PreloadSessionServers(int(settings.NumOfPreloadedServers))

	ctrl := ctrlsocket.New(*ctrlSockPath)
	ctrl.Register("status", &statusCommand{sup: sup})
	ctrl.Register("loglevel", &logLevelCommand{sup: sup})
	ctrl.Register("initiate", &initiateCommand{sup: sup})
	ctrl.Register("setstate", &setStateCommand{sup: sup})
	ctrl.Register("preload", &preloadCommand{sup: sup})
	ctrl.Register("ping", &pingCommand{sup: sup})
	if err := ctrl.Listen(); err != nil {
		fmt.Fprintln(os.Stderr, "ctrlsocket:", err)
		os.Exit(1)
	}
	go func() {
		if err := ctrl.Serve(); err != nil {
			log.Error("control socket exited: %v", err)
		}
	}()

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			log.Milestone("shutting down")
			ctrl.Shutdown()
			sup.Shutdown()
			os.Exit(0)
		})
	}

	signals.RunSignalHandler(signals.Mappings{
		syscall.SIGINT:  shutdown,
		syscall.SIGTERM: shutdown,
	})

	select {}
}

var log = logging.For(logging.ServerManager)

// loggingObserver forwards every state change to the structured
// logger at Milestone level; a real deployment would forward these
// to whatever component asked the supervisor for the app in the
// first place.
type loggingObserver struct{}

func (loggingObserver) OnStateChanged(name apptypes.AppName, state apptypes.SessionServerState) {
	log.Milestone("%s -> %s", name, state)
}

func installStderrLogger() {
	logging.SetLogger(func(component logging.Component, level apptypes.LogLevel, msg string) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", component, msg)
	})
}

func applyVerbosity(count int) {
	lvl := apptypes.Milestone
	switch {
	case count >= 2:
		lvl = apptypes.Debug
	case count == 1:
		lvl = apptypes.Info
	}
	logging.SetLevels(apptypes.LoggingLevels{
		Default:       lvl,
		Client:        lvl,
		SessionServer: lvl,
		IPC:           lvl,
		ServerManager: lvl,
		Common:        lvl,
	})
}
