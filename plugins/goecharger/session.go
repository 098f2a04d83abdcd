package goecharger

import (
	"fmt"
	"sync"
	"time"

	"github.com/joshp123/goe-bridge/internal/devbus"
	"github.com/rs/zerolog"
)

// Session owns the published attribute set and its update bookkeeping.
type Session struct {
	bus      devbus.Bus
	identity Identity
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	updateIndex uint8
	lastUpdate  time.Time
	successes   uint64
	failures    uint64
	lastErr     error
}

// NewSession registers the attribute schema on bus and seals it.
func NewSession(bus devbus.Bus, identity Identity, logger zerolog.Logger) (*Session, error) {
	s := &Session{
		bus:      bus,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
	for _, attr := range schema(identity) {
		if attr.Writable {
			attr.OnWrite = s.handleChangedValue
		}
		if err := bus.Register(attr); err != nil {
			return nil, fmt.Errorf("register attributes: %w", err)
		}
	}
	bus.Seal()
	return s, nil
}

// Identity returns the device identity the session was built with.
func (s *Session) Identity() Identity {
	return s.identity
}

// Bus returns the bus the session publishes on.
func (s *Session) Bus() devbus.Bus {
	return s.bus
}

// External writes are accepted as-is.
func (s *Session) handleChangedValue(path string, value any) bool {
	s.logger.Debug().Str("path", path).Interface("value", value).
		Msgf("someone else updated %s to %v", path, value)
	return true
}

// Apply publishes snap, then advances the update index and stamps the update time.
func (s *Session) Apply(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pv := range snap.values() {
		if err := s.bus.Set(pv.path, pv.value); err != nil {
			return fmt.Errorf("publish %s: %w", pv.path, err)
		}
	}

	s.logger.Debug().Msgf("Wallbox Consumption (%s): %s", PathPower, s.bus.Text(PathPower))
	s.logger.Debug().Msgf("Wallbox Forward (%s): %s", PathEnergyForward, s.bus.Text(PathEnergyForward))

	next := s.updateIndex + 1
	if err := s.bus.Set(PathUpdateIndex, int(next)); err != nil {
		return fmt.Errorf("publish %s: %w", PathUpdateIndex, err)
	}
	s.updateIndex = next
	s.lastUpdate = s.now()
	s.successes++
	return nil
}

// RecordFailure notes a failed cycle. Attributes are left alone.
func (s *Session) RecordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastErr = err
}

// UpdateIndex returns the current update counter.
func (s *Session) UpdateIndex() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateIndex
}

// LastUpdate returns the time of the last successful Apply, zero if none.
func (s *Session) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// Liveness summarizes the session for the sign-of-life log.
func (s *Session) Liveness() LivenessReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	power, _ := s.bus.Get(PathPower)
	report := LivenessReport{
		LastUpdate:  s.lastUpdate,
		PowerW:      power,
		UpdateIndex: s.updateIndex,
		Successes:   s.successes,
		Failures:    s.failures,
	}
	if s.lastErr != nil {
		report.LastError = s.lastErr.Error()
	}
	return report
}
