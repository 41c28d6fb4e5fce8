package notify

import (
	"context"

	"DeepGround/service/eventbus"
	"DeepGround/tools/backoff"

	"go.uber.org/zap"
)

// monitorTick grades the stream by heartbeat staleness and replaces it when
// it has gone quiet for too long.
func (s *Service) monitorTick() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.monitorTimer = s.clk.AfterFunc(s.cfg.MonitorEvery, s.monitorTick)

	var (
		changed bool
		stale   EventStream
	)
	switch {
	case s.stream != nil:
		staleness := s.clk.Now().Sub(s.lastHeartbeat)
		q := s.cfg.Thresholds.Classify(staleness)
		if q != s.quality {
			s.quality = q
			if q == backoff.QualityGood {
				s.state = eventbus.StateConnected
			} else {
				s.state = eventbus.StateDegraded
			}
			changed = true
		}
		if staleness > s.cfg.HeartbeatTimeout || (q == backoff.QualityCritical && staleness > s.cfg.CriticalGrace) {
			s.log.Warn("notification stream stale, forcing reconnect", zap.Duration("staleness", staleness))
			stale = s.stream
			s.stream = nil
			s.gen++
			s.state = eventbus.StateDisconnected
			s.scheduleRetryLocked()
			changed = true
		}
	case !s.connecting && !s.reconnecting && !s.exhausted && !s.fatal:
		s.scheduleRetryLocked()
		changed = true
	}
	s.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	if changed {
		s.emitStatus()
	}
}

type Signal string

const (
	SignalOnline  Signal = "online"
	SignalVisible Signal = "visible"
	SignalFocus   Signal = "focus"
)

// Signal reports an environment hint that the connection may be worth
// re-checking. Bursts within SignalDebounce collapse into one check.
func (s *Service) Signal(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	if s.signalTimer != nil {
		s.signalTimer.Stop()
	}
	s.log.Debug("reconnect signal", zap.String("signal", string(sig)))
	s.signalTimer = s.clk.AfterFunc(s.cfg.SignalDebounce, s.onSignal)
}

func (s *Service) onSignal() {
	s.mu.Lock()
	s.signalTimer = nil
	healthy := s.stream != nil && s.quality != backoff.QualityCritical
	skip := !s.active || healthy || s.connecting || s.fatal || s.exhausted
	s.mu.Unlock()
	if skip {
		return
	}
	if err := s.Reconnect(context.Background()); err != nil {
		s.log.Debug("signal reconnect failed", zap.Error(err))
	}
}
