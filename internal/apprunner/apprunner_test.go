package apprunner

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/ossys/fakeos"
)

func testParams(t *testing.T, fake *fakeos.Fake) Params {
	t.Helper()
	return Params{
		ID:              1,
		OS:              fake,
		ServerPath:      "/bin/true",
		StartupTimeout:  0,
		KillWaitTimeout: time.Second,
	}
}

func TestNewBoundBindsNamedSocketAtGivenPath(t *testing.T) {
	fake := fakeos.New()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.sock")

	app, err := NewBound(testParams(t, fake), "App", apptypes.Active, apptypes.AppConfig{
		SessionManagementSocket: apptypes.SocketLocation{Path: path},
	})
	if err != nil {
		t.Fatalf("NewBound: %v", err)
	}
	defer app.Close()

	if app.ConnectionInfo() != path {
		t.Fatalf("expected connection info %s, got %s", path, app.ConnectionInfo())
	}
	if !app.IsBound() {
		t.Fatal("expected bound app")
	}
}

func TestConfigureFailsOnAlreadyBoundApp(t *testing.T) {
	fake := fakeos.New()
	dir := t.TempDir()
	app, err := NewBound(testParams(t, fake), "App", apptypes.Active, apptypes.AppConfig{
		SessionManagementSocket: apptypes.SocketLocation{Path: filepath.Join(dir, "a.sock")},
	})
	if err != nil {
		t.Fatalf("NewBound: %v", err)
	}
	defer app.Close()

	if app.Configure("Other", apptypes.Active, apptypes.AppConfig{}) {
		t.Fatal("expected Configure on an already-bound app to fail")
	}
}

func TestLaunchFailureOnSpawnError(t *testing.T) {
	fake := fakeos.New()
	fake.FailSpawnWith(errors.New("boom"))

	app, err := NewPreloaded(testParams(t, fake))
	if err != nil {
		t.Fatalf("NewPreloaded: %v", err)
	}
	if app.Launch() {
		t.Fatal("expected Launch to fail when spawn fails")
	}
}

func TestKillIsIdempotent(t *testing.T) {
	fake := fakeos.New()
	app, err := NewPreloaded(testParams(t, fake))
	if err != nil {
		t.Fatalf("NewPreloaded: %v", err)
	}
	if !app.Launch() {
		t.Fatal("expected Launch to succeed")
	}
	pid := app.PID()

	app.Kill()
	app.Kill()

	if got := fake.KillCount(pid); got != 2 {
		t.Fatalf("expected 2 recorded kill() calls (idempotent at the OS-call level is the caller's job), got %d", got)
	}
}

func TestWaitIsCalledExactlyOncePerLifetime(t *testing.T) {
	fake := fakeos.New()
	app, err := NewPreloaded(testParams(t, fake))
	if err != nil {
		t.Fatalf("NewPreloaded: %v", err)
	}
	if !app.Launch() {
		t.Fatal("expected Launch to succeed")
	}

	app.Close()
	app.Close() // idempotent: must not wait twice

	if len(fake.Waited) != 1 {
		t.Fatalf("expected exactly one waitpid, got %d", len(fake.Waited))
	}
}

func TestAdoptedFdConnectionInfo(t *testing.T) {
	fake := fakeos.New()
	app, err := NewBound(testParams(t, fake), "App", apptypes.Active, apptypes.AppConfig{
		SessionManagementSocket: apptypes.SocketLocation{Fd: 77, HasFd: true},
	})
	if err != nil {
		t.Fatalf("NewBound: %v", err)
	}
	defer app.Close()

	if app.ConnectionInfo() != "fd:77" {
		t.Fatalf("expected fd:77, got %s", app.ConnectionInfo())
	}
}
