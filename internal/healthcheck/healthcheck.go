// Package healthcheck implements the ping-based liveness engine (C8):
// one outstanding ping round at a time, a failure-counting recovery
// policy per server, and a callback into the supervisor to request
// restarts. Grounded on the original C++ source's
// HealthcheckService.cpp state machine, translated into a Go mutex
// guarding two maps plus one periodic timer (internal/timer), per
// spec.md §9's "implement as an interface the healthcheck holds by
// reference" cycle-breaking note.
package healthcheck

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdkcentral/rialto-sub000/internal/apptypes"
	"github.com/rdkcentral/rialto-sub000/internal/timer"
)

// Supervisor is the narrow callback surface the healthcheck service
// needs from C9. The service never holds its own mutex while calling
// into this interface.
type Supervisor interface {
	SendPingEvents(pingID uint32)
	OnHealthcheckError(id apptypes.ServerId)
	RestartServer(id apptypes.ServerId)
}

// Config is the healthcheck tuning: an interval of 0 disables pings
// entirely (spec.md §8: "no ping timer is ever created").
type Config struct {
	Interval               time.Duration
	FailuresBeforeRecovery uint32
}

// Service is the healthcheck engine.
type Service struct {
	cfg        Config
	supervisor Supervisor

	mu               sync.Mutex
	currentPingID    uint32
	remainingAcks    map[apptypes.ServerId]struct{}
	consecutiveFails map[apptypes.ServerId]uint32

	pingTimer *timer.Timer
}

// New constructs a Service. If cfg.Interval <= 0, no timer is ever
// created and the service is permanently idle until Stop is called
// (which is then a no-op).
func New(cfg Config, supervisor Supervisor) *Service {
	s := &Service{
		cfg:              cfg,
		supervisor:       supervisor,
		remainingAcks:    make(map[apptypes.ServerId]struct{}),
		consecutiveFails: make(map[apptypes.ServerId]uint32),
	}
	s.pingTimer = timer.New(cfg.Interval, timer.Periodic, s.onTimerFired)
	return s
}

// Stop cancels the ping timer. Idempotent and safe even if the
// service was constructed with interval == 0 (no-op).
func (s *Service) Stop() {
	if s.pingTimer != nil {
		s.pingTimer.Cancel()
	}
}

// TriggerPingRound forces a ping round immediately, exactly as if the
// periodic timer had just fired (used by the control socket's "ping"
// command to drive a round on demand).
func (s *Service) TriggerPingRound() {
	s.onTimerFired()
}

func (s *Service) onTimerFired() {
	s.mu.Lock()
	timedOut := make([]apptypes.ServerId, 0, len(s.remainingAcks))
	for id := range s.remainingAcks {
		timedOut = append(timedOut, id)
	}
	s.remainingAcks = make(map[apptypes.ServerId]struct{})
	newID := atomic.AddUint32(&s.currentPingID, 1)
	s.mu.Unlock()

	for _, id := range timedOut {
		s.handleError(id)
	}
	s.supervisor.SendPingEvents(newID)
}

// OnPingSent records that a ping for server id was sent as part of
// round pingID. A stale pingID (not the current round) is ignored.
func (s *Service) OnPingSent(id apptypes.ServerId, pingID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pingID != atomic.LoadUint32(&s.currentPingID) {
		return
	}
	s.remainingAcks[id] = struct{}{}
	if _, ok := s.consecutiveFails[id]; !ok {
		s.consecutiveFails[id] = 0
	}
}

// OnPingFailed records that sending a ping to id failed outright
// (i.e. the RPC layer rejected the call, as opposed to a later
// timeout).
func (s *Service) OnPingFailed(id apptypes.ServerId, pingID uint32) {
	if pingID != atomic.LoadUint32(&s.currentPingID) {
		return
	}
	s.mu.Lock()
	_, existing := s.consecutiveFails[id]
	s.mu.Unlock()
	if existing {
		s.handleError(id)
		return
	}
	s.mu.Lock()
	s.consecutiveFails[id] = 1
	s.mu.Unlock()
	s.supervisor.OnHealthcheckError(id)
}

// OnAckReceived records an ack for id/pingID. success resets the
// server's failure count; failure routes through handleError.
func (s *Service) OnAckReceived(id apptypes.ServerId, pingID uint32, success bool) {
	if pingID != atomic.LoadUint32(&s.currentPingID) {
		return
	}
	s.mu.Lock()
	delete(s.remainingAcks, id)
	s.mu.Unlock()

	if success {
		s.mu.Lock()
		s.consecutiveFails[id] = 0
		s.mu.Unlock()
		return
	}
	s.handleError(id)
}

// OnServerRemoved forgets id from both tracking maps.
func (s *Service) OnServerRemoved(id apptypes.ServerId) {
	s.mu.Lock()
	delete(s.remainingAcks, id)
	delete(s.consecutiveFails, id)
	s.mu.Unlock()
}

func (s *Service) handleError(id apptypes.ServerId) {
	s.mu.Lock()
	s.consecutiveFails[id]++
	reachedLimit := s.consecutiveFails[id] >= s.cfg.FailuresBeforeRecovery
	if reachedLimit {
		s.consecutiveFails[id] = 0
	}
	s.mu.Unlock()

	s.supervisor.OnHealthcheckError(id)
	if reachedLimit {
		s.supervisor.RestartServer(id)
	}
}
