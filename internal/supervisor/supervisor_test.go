package supervisor

import (
	"encoding/json"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/healthcheck"
	"github.com/rdkcentral/rialto-sub000/internal/ossys"
	"github.com/rdkcentral/rialto-sub000/internal/rpcchannel"
)

var _ ossys.OS = (*simulatedOS)(nil)

// simulatedOS is an ossys.OS that creates real socketpairs (so the
// supervisor's net.FileConn wrapping works) but "spawns" a child by
// running an in-process goroutine that speaks the RPC protocol,
// instead of actually fork/exec'ing a binary. This lets the
// supervisor's end-to-end scenarios (spec.md §8) be exercised without
// a real session-server executable.
type simulatedOS struct {
	mu       sync.Mutex
	nextPid  int32
	dropAcks int32 // atomic bool: spawned children accept pings but never event:Ack them
}

func newSimulatedOS() *simulatedOS {
	return &simulatedOS{nextPid: 1000}
}

// SetDropAcks controls whether children spawned from now on answer a
// Ping's RPC call (so PerformPing still succeeds) without ever
// following up with the event:Ack that the healthcheck service waits
// on — simulating a real ping timeout rather than an explicit nack.
func (s *simulatedOS) SetDropAcks(v bool) {
	val := int32(0)
	if v {
		val = 1
	}
	atomic.StoreInt32(&s.dropAcks, val)
}

func (s *simulatedOS) Socketpair() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func (s *simulatedOS) SpawnChild(path string, childFd int, env []string) (int, error) {
	s.mu.Lock()
	pid := int(atomic.AddInt32(&s.nextPid, 1))
	s.mu.Unlock()

	f := os.NewFile(uintptr(childFd), "sim-child")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return 0, err
	}
	go runSimulatedChild(conn, s)
	return pid, nil
}

func (s *simulatedOS) Kill(pid int) error                  { return nil }
func (s *simulatedOS) Wait(pid int) error                  { return nil }
func (s *simulatedOS) Close(fd int) error                  { return unix.Close(fd) }
func (s *simulatedOS) Chmod(string, uint32) error          { return nil }
func (s *simulatedOS) Chown(string, string, string) error  { return nil }

// runSimulatedChild plays the session-server side of the protocol: on
// connect it immediately reports Uninitialized, and on every
// SetConfiguration request it acks and reports the requested initial
// state. It also answers Ping requests with a successful Ack, unless
// os.dropAcks is set, in which case it accepts the ping RPC but never
// sends the follow-up event:Ack (simulating a timed-out ping).
func runSimulatedChild(conn net.Conn, os *simulatedOS) {
	send := func(kind string, payload interface{}) {
		raw, _ := json.Marshal(payload)
		out, _ := json.Marshal(rpcchannel.Envelope{Kind: kind, Payload: raw})
		conn.Write(out)
	}

	send("event:StateChanged", struct {
		State apptypes.SessionServerState `json:"state"`
	}{State: apptypes.Uninitialized})

	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		var env rpcchannel.Envelope
		if json.Unmarshal(buf[:n], &env) != nil {
			continue
		}
		switch env.Kind {
		case "req:SetConfiguration":
			var req struct {
				InitialState apptypes.SessionServerState `json:"initialState"`
			}
			json.Unmarshal(env.Payload, &req)
			reply, _ := json.Marshal(rpcchannel.Envelope{Kind: "resp:SetConfiguration", ID: env.ID})
			conn.Write(reply)
			send("event:StateChanged", struct {
				State apptypes.SessionServerState `json:"state"`
			}{State: req.InitialState})
		case "req:SetState":
			var req struct {
				State apptypes.SessionServerState `json:"state"`
			}
			json.Unmarshal(env.Payload, &req)
			reply, _ := json.Marshal(rpcchannel.Envelope{Kind: "resp:SetState", ID: env.ID})
			conn.Write(reply)
			send("event:StateChanged", struct {
				State apptypes.SessionServerState `json:"state"`
			}{State: req.State})
		case "req:Ping":
			var req struct {
				PingID uint32 `json:"pingId"`
			}
			json.Unmarshal(env.Payload, &req)
			reply, _ := json.Marshal(rpcchannel.Envelope{Kind: "resp:Ping", ID: env.ID})
			conn.Write(reply)
			if atomic.LoadInt32(&os.dropAcks) != 0 {
				continue
			}
			send("event:Ack", struct {
				PingID  uint32 `json:"pingId"`
				Success bool   `json:"success"`
			}{PingID: req.PingID, Success: true})
		case "req:SetLogLevels":
			reply, _ := json.Marshal(rpcchannel.Envelope{Kind: "resp:SetLogLevels", ID: env.ID})
			conn.Write(reply)
		}
	}
}

type collectingObserver struct {
	mu   sync.Mutex
	byApp map[apptypes.AppName][]apptypes.SessionServerState
}

func newCollectingObserver() *collectingObserver {
	return &collectingObserver{byApp: make(map[apptypes.AppName][]apptypes.SessionServerState)}
}

func (o *collectingObserver) OnStateChanged(name apptypes.AppName, state apptypes.SessionServerState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byApp[name] = append(o.byApp[name], state)
}

func (o *collectingObserver) sequence(name apptypes.AppName) []apptypes.SessionServerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]apptypes.SessionServerState, len(o.byApp[name]))
	copy(out, o.byApp[name])
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Scenario 1: cold start to Active (spec.md §8).
func TestColdStartToActive(t *testing.T) {
	observer := newCollectingObserver()
	sup := New(newSimulatedOS(), Config{ServerPath: "/bin/true", KillWaitTimeout: time.Second}, observer)
	defer sup.Shutdown()

	if !sup.InitiateApplication("YouTube", apptypes.Active, apptypes.AppConfig{ClientDisplayName: "display"}) {
		t.Fatal("expected InitiateApplication to succeed")
	}

	waitFor(t, func() bool {
		seq := observer.sequence("YouTube")
		return len(seq) >= 2
	})

	seq := observer.sequence("YouTube")
	if len(seq) < 2 || seq[0] != apptypes.Uninitialized || seq[1] != apptypes.Active {
		t.Fatalf("expected [Uninitialized, Active], got %v", seq)
	}
}

// Scenario 5: concurrent duplicate initiate — exactly one succeeds.
func TestConcurrentDuplicateInitiate(t *testing.T) {
	observer := newCollectingObserver()
	sup := New(newSimulatedOS(), Config{ServerPath: "/bin/true", KillWaitTimeout: time.Second}, observer)
	defer sup.Shutdown()

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sup.InitiateApplication("A", apptypes.Active, apptypes.AppConfig{})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d", successes)
	}
}

// A NotRunning state change, however it is triggered, removes the
// app from the registry and clears its connection info (spec.md §8
// scenario 3's end state).
func TestNotRunningRemovesAppFromRegistry(t *testing.T) {
	observer := newCollectingObserver()
	sup := New(newSimulatedOS(), Config{ServerPath: "/bin/true", KillWaitTimeout: time.Second}, observer)
	defer sup.Shutdown()

	if !sup.InitiateApplication("App", apptypes.Active, apptypes.AppConfig{}) {
		t.Fatal("expected initiate to succeed")
	}
	waitFor(t, func() bool { return len(observer.sequence("App")) >= 2 })

	sup.SetSessionServerState("App", apptypes.NotRunning)

	waitFor(t, func() bool {
		return sup.GetAppConnectionInfo("App") == ""
	})
}

// The configure-failure branch of the warm-start path (scenario 2),
// and a regression test for the double-preload bug: a configure
// failure on a preloaded app must spawn exactly one replacement, not
// two. The successful warm start is not exercised here.
func TestConfigureFailureDoesNotDoublePreload(t *testing.T) {
	observer := newCollectingObserver()
	sup := New(newSimulatedOS(), Config{ServerPath: "/bin/true", KillWaitTimeout: time.Second}, observer)
	defer sup.Shutdown()

	sup.PreloadSessionServers(1)
	waitFor(t, func() bool { return len(sup.Status()) == 1 })

	badCfg := apptypes.AppConfig{
		ClientDisplayName:       "display",
		SessionManagementSocket: apptypes.SocketLocation{Path: "/nonexistent-dir-for-ssm-tests/bad.sock"},
	}
	if !sup.InitiateApplication("Bad", apptypes.Active, badCfg) {
		t.Fatal("expected initiate to be handled (even though configure fails)")
	}

	waitFor(t, func() bool { return len(sup.Status()) == 1 })
	// Give any erroneous second spawnPreloaded a moment to show up
	// before asserting the pool settled at exactly one entry.
	time.Sleep(50 * time.Millisecond)
	if got := len(sup.Status()); got != 1 {
		t.Fatalf("expected exactly one replacement preload after a configure failure, got %d", got)
	}
}

// Scenario 4: two consecutive healthcheck timeouts trigger a restart.
// Ping rounds are driven manually via TriggerPing (the interval is an
// hour, so the periodic timer never fires during the test) instead of
// waiting on a real timer, for a deterministic test.
func TestHealthcheckTimeoutTriggersRestart(t *testing.T) {
	observer := newCollectingObserver()
	sim := newSimulatedOS()
	cfg := Config{
		ServerPath:      "/bin/true",
		KillWaitTimeout: time.Second,
		Healthcheck:     healthcheck.Config{Interval: time.Hour, FailuresBeforeRecovery: 2},
	}
	sup := New(sim, cfg, observer)
	defer sup.Shutdown()

	if !sup.InitiateApplication("App", apptypes.Active, apptypes.AppConfig{}) {
		t.Fatal("expected initiate to succeed")
	}
	waitFor(t, func() bool { return len(observer.sequence("App")) >= 2 })

	sim.SetDropAcks(true)

	sup.TriggerPing() // round 1: ping sent, nothing to time out yet
	time.Sleep(50 * time.Millisecond)

	sup.TriggerPing() // round 2: round 1's ping times out -> first Error
	waitFor(t, func() bool { return len(observer.sequence("App")) >= 3 })
	time.Sleep(50 * time.Millisecond)

	sup.TriggerPing() // round 3: round 2's ping times out -> second Error + restart
	waitFor(t, func() bool { return len(observer.sequence("App")) >= 7 })

	seq := observer.sequence("App")
	tail := seq[len(seq)-5:]
	want := []apptypes.SessionServerState{
		apptypes.Error, apptypes.Error, apptypes.NotRunning, apptypes.Uninitialized, apptypes.Active,
	}
	for i, s := range want {
		if tail[i] != s {
			t.Fatalf("expected tail %v, got %v", want, tail)
		}
	}
}

// Scenario 6: restarting a server hands its already-bound management
// socket to the replacement by fd instead of rebinding its path.
func TestRestartHandsOverManagementSocketByFd(t *testing.T) {
	observer := newCollectingObserver()
	sup := New(newSimulatedOS(), Config{ServerPath: "/bin/true", KillWaitTimeout: time.Second}, observer)
	defer sup.Shutdown()

	if !sup.InitiateApplication("App", apptypes.Active, apptypes.AppConfig{}) {
		t.Fatal("expected initiate to succeed")
	}
	waitFor(t, func() bool { return len(observer.sequence("App")) >= 2 })

	before := sup.Status()
	if len(before) != 1 {
		t.Fatalf("expected one registered app, got %d", len(before))
	}
	if !strings.HasPrefix(before[0].Connection, "/") {
		t.Fatalf("expected a path-bound connection before restart, got %q", before[0].Connection)
	}

	sup.RestartServer(before[0].ID)

	waitFor(t, func() bool { return len(observer.sequence("App")) >= 5 })

	after := sup.Status()
	if len(after) != 1 {
		t.Fatalf("expected exactly one registered app after restart, got %d", len(after))
	}
	if !strings.HasPrefix(after[0].Connection, "fd:") {
		t.Fatalf("expected the restarted app to adopt the handed-over fd, got %q", after[0].Connection)
	}
}
