package goecharger

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshp123/goe-bridge/internal/journal"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the fixed poll period.
const DefaultPollInterval = 250 * time.Millisecond

// Fetcher returns one raw status document.
type Fetcher interface {
	Fetch(ctx context.Context) (RawTelemetry, error)
}

// Options tunes a Scheduler. Zero values fall back to defaults; a zero
// LivenessInterval disables the sign-of-life log.
type Options struct {
	PollInterval     time.Duration
	LivenessInterval time.Duration
	RequestTimeout   time.Duration
	Journal          journal.Recorder
	RunID            uuid.UUID
}

// Stats counts cycles by outcome.
type Stats struct {
	Cycles       map[Outcome]uint64
	LastOutcome  Outcome
	LastDuration time.Duration
}

// Scheduler drives the poll and liveness tasks from a single goroutine.
type Scheduler struct {
	fetcher Fetcher
	session *Session
	logger  zerolog.Logger
	opts    Options
	now     func() time.Time

	mu    sync.Mutex
	stats Stats
}

func NewScheduler(fetcher Fetcher, session *Session, logger zerolog.Logger, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	return &Scheduler{
		fetcher: fetcher,
		session: session,
		logger:  logger.With().Str("run_id", opts.RunID.String()).Logger(),
		opts:    opts,
		now:     time.Now,
		stats:   Stats{Cycles: make(map[Outcome]uint64)},
	}
}

// Run ticks until ctx is done. Neither task can stop the other.
func (s *Scheduler) Run(ctx context.Context) {
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	var livenessC <-chan time.Time
	if s.opts.LivenessInterval > 0 {
		liveness := time.NewTicker(s.opts.LivenessInterval)
		defer liveness.Stop()
		livenessC = liveness.C
	} else {
		s.logger.Info().Msg("sign of life log disabled")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.RunCycle(ctx)
		case <-livenessC:
			s.SignOfLife()
		}
	}
}

// RunCycle performs one fetch, normalize and apply. It never panics; every
// failure is reported in the result and recorded on the session.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	result := s.cycle(ctx)
	s.finish(result)
	return result
}

func (s *Scheduler) cycle(ctx context.Context) (result CycleResult) {
	started := s.now()
	result.Started = started
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomePanic
			result.Err = fmt.Errorf("panic: %v", r)
			s.logger.Error().Str("stack", string(debug.Stack())).Msg("poll cycle panicked")
		}
		result.UpdateIndex = s.session.UpdateIndex()
		result.Duration = s.now().Sub(started)
	}()

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		result.Outcome, result.Err = outcomeFor(err), err
		return result
	}
	snap, err := Normalize(raw)
	if err != nil {
		result.Outcome, result.Err = outcomeFor(err), err
		return result
	}
	if err := s.session.Apply(snap); err != nil {
		result.Outcome, result.Err = OutcomeApplyFailed, err
		return result
	}
	result.Outcome = OutcomeOK
	result.Snapshot = snap
	return result
}

func (s *Scheduler) finish(result CycleResult) {
	s.mu.Lock()
	s.stats.Cycles[result.Outcome]++
	s.stats.LastOutcome = result.Outcome
	s.stats.LastDuration = result.Duration
	s.mu.Unlock()

	if !result.OK() {
		s.session.RecordFailure(result.Err)
		s.logger.Error().Err(result.Err).
			Str("stage", string(result.Outcome)).
			Uint8("update_index", result.UpdateIndex).
			Msg("poll cycle failed")
	}

	if s.opts.Journal != nil {
		entry := journal.Entry{
			Time:        result.Started,
			Outcome:     string(result.Outcome),
			UpdateIndex: int(result.UpdateIndex),
			DurationUS:  result.Duration.Microseconds(),
		}
		if result.OK() {
			entry.PowerW = result.Snapshot.PowerW
			entry.Status = result.Snapshot.Status
		} else if result.Err != nil {
			entry.Error = result.Err.Error()
		}
		s.opts.Journal.Record(entry)
	}
}

// SignOfLife logs the session's liveness report. A panic here is logged
// and swallowed.
func (s *Scheduler) SignOfLife() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("sign of life failed")
		}
	}()

	report := s.session.Liveness()
	event := s.logger.Info().
		Interface("power_w", report.PowerW).
		Uint8("update_index", report.UpdateIndex).
		Uint64("successes", report.Successes).
		Uint64("failures", report.Failures)
	if report.LastUpdate.IsZero() {
		event = event.Str("last_update", "never")
	} else {
		event = event.Time("last_update", report.LastUpdate)
	}
	if report.LastError != "" {
		event = event.Str("last_error", report.LastError)
	}
	event.Msg("sign of life")
}

// Stats returns a copy of the cycle counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Cycles:       make(map[Outcome]uint64, len(s.stats.Cycles)),
		LastOutcome:  s.stats.LastOutcome,
		LastDuration: s.stats.LastDuration,
	}
	for k, v := range s.stats.Cycles {
		out.Cycles[k] = v
	}
	return out
}
