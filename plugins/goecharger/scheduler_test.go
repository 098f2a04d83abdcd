package goecharger

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/goe-bridge/internal/config"
	"github.com/joshp123/goe-bridge/internal/journal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher replays steps in order, repeating the last one.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []func() (RawTelemetry, error)
	calls int
}

func (f *scriptedFetcher) Fetch(context.Context) (RawTelemetry, error) {
	f.mu.Lock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	step := f.steps[i]
	f.mu.Unlock()
	return step()
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okStep(raw RawTelemetry) func() (RawTelemetry, error) {
	return func() (RawTelemetry, error) { return raw, nil }
}

func errStep(err error) func() (RawTelemetry, error) {
	return func() (RawTelemetry, error) { return nil, err }
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memoryJournal) Record(e journal.Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func TestRunCycleOutcomes(t *testing.T) {
	good := decodeRaw(t, sampleStatus)
	short := statusWith(t, "nrg", `[1, 2, 3]`)
	transport := &FetchError{Kind: FetchTransport, URL: "http://x/status", Err: errors.New("refused")}

	fetcher := &scriptedFetcher{steps: []func() (RawTelemetry, error){
		okStep(good),
		errStep(transport),
		okStep(short),
		func() (RawTelemetry, error) { panic("boom") },
		okStep(good),
	}}
	session, bus := newTestSession(t)
	rec := &memoryJournal{}
	sched := NewScheduler(fetcher, session, zerolog.Nop(), Options{Journal: rec})

	results := make([]CycleResult, 0, 5)
	for i := 0; i < 5; i++ {
		results = append(results, sched.RunCycle(context.Background()))
	}

	assert.Equal(t, OutcomeOK, results[0].Outcome)
	assert.Equal(t, uint8(1), results[0].UpdateIndex)

	assert.Equal(t, OutcomeFetchFailed, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, transport)
	assert.Equal(t, uint8(1), results[1].UpdateIndex)

	assert.Equal(t, OutcomeNormalizeFailed, results[2].Outcome)
	assert.Equal(t, uint8(1), results[2].UpdateIndex)

	assert.Equal(t, OutcomePanic, results[3].Outcome)
	assert.Contains(t, results[3].Err.Error(), "boom")
	assert.Equal(t, uint8(1), results[3].UpdateIndex)

	assert.Equal(t, OutcomeOK, results[4].Outcome)
	assert.Equal(t, uint8(2), results[4].UpdateIndex)

	got, _ := bus.Get(PathUpdateIndex)
	assert.Equal(t, 2, got)

	stats := sched.Stats()
	assert.Equal(t, uint64(2), stats.Cycles[OutcomeOK])
	assert.Equal(t, uint64(1), stats.Cycles[OutcomeFetchFailed])
	assert.Equal(t, uint64(1), stats.Cycles[OutcomeNormalizeFailed])
	assert.Equal(t, uint64(1), stats.Cycles[OutcomePanic])
	assert.Equal(t, OutcomeOK, stats.LastOutcome)

	report := session.Liveness()
	assert.Equal(t, uint64(2), report.Successes)
	assert.Equal(t, uint64(3), report.Failures)

	require.Len(t, rec.entries, 5)
	assert.Equal(t, "ok", rec.entries[0].Outcome)
	assert.Equal(t, 15000, rec.entries[0].PowerW)
	assert.Equal(t, StatusCharging, rec.entries[0].Status)
	assert.Equal(t, "fetch", rec.entries[1].Outcome)
	assert.Contains(t, rec.entries[1].Error, "refused")
	assert.Equal(t, "normalize", rec.entries[2].Outcome)
	assert.Equal(t, "panic", rec.entries[3].Outcome)
	assert.Equal(t, 2, rec.entries[4].UpdateIndex)
}

func TestFailedCycleLeavesAttributesUnchanged(t *testing.T) {
	good := decodeRaw(t, sampleStatus)
	fetcher := &scriptedFetcher{steps: []func() (RawTelemetry, error){
		okStep(good),
		errStep(&FetchError{Kind: FetchDecode, Err: errEmptyDocument}),
		okStep(statusWith(t, "car", `"x"`)),
	}}
	session, bus := newTestSession(t)
	sched := NewScheduler(fetcher, session, zerolog.Nop(), Options{})

	require.True(t, sched.RunCycle(context.Background()).OK())
	before := bus.Entries()

	assert.False(t, sched.RunCycle(context.Background()).OK())
	assert.Equal(t, before, bus.Entries())
	assert.False(t, sched.RunCycle(context.Background()).OK())
	assert.Equal(t, before, bus.Entries())
}

func TestCounterSkipsFailedCycles(t *testing.T) {
	good := decodeRaw(t, sampleStatus)
	fail := errStep(&FetchError{Kind: FetchTransport, Err: errors.New("timeout")})

	var steps []func() (RawTelemetry, error)
	successes := 0
	for i := 0; i < 300; i++ {
		if i%7 == 3 {
			steps = append(steps, fail)
			continue
		}
		steps = append(steps, okStep(good))
		successes++
	}
	fetcher := &scriptedFetcher{steps: steps}
	session, _ := newTestSession(t)
	sched := NewScheduler(fetcher, session, zerolog.Nop(), Options{})

	for range steps {
		sched.RunCycle(context.Background())
	}
	assert.Equal(t, uint8(successes%256), session.UpdateIndex())
}

func TestRequestTimeoutBoundsFetch(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context) (RawTelemetry, error) {
		<-ctx.Done()
		return nil, &FetchError{Kind: FetchTransport, Err: ctx.Err()}
	})
	session, _ := newTestSession(t)
	sched := NewScheduler(fetcher, session, zerolog.Nop(), Options{RequestTimeout: 10 * time.Millisecond})

	result := sched.RunCycle(context.Background())
	assert.Equal(t, OutcomeFetchFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

type fetcherFunc func(ctx context.Context) (RawTelemetry, error)

func (f fetcherFunc) Fetch(ctx context.Context) (RawTelemetry, error) { return f(ctx) }

func TestRunTicksUntilCancelled(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []func() (RawTelemetry, error){okStep(decodeRaw(t, sampleStatus))}}
	session, _ := newTestSession(t)

	var logs syncBuffer
	sched := NewScheduler(fetcher, session, zerolog.New(&logs), Options{
		PollInterval:     5 * time.Millisecond,
		LivenessInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return fetcher.Calls() >= 3 && bytes.Contains(logs.Bytes(), []byte("sign of life"))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, int(session.UpdateIndex()), 3)
}

func TestRunWithoutLivenessInterval(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []func() (RawTelemetry, error){okStep(decodeRaw(t, sampleStatus))}}
	session, _ := newTestSession(t)

	var logs syncBuffer
	sched := NewScheduler(fetcher, session, zerolog.New(&logs), Options{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	assert.Contains(t, logs.String(), "sign of life log disabled")
	assert.NotContains(t, logs.String(), `"message":"sign of life"`)
	assert.Positive(t, fetcher.Calls())
}

func TestSignOfLifeLogsReport(t *testing.T) {
	session, _ := newTestSession(t)
	var logs syncBuffer
	sched := NewScheduler(&scriptedFetcher{}, session, zerolog.New(&logs), Options{})

	sched.SignOfLife()
	out := logs.String()
	assert.Contains(t, out, `"message":"sign of life"`)
	assert.Contains(t, out, `"last_update":"never"`)
	assert.Contains(t, out, `"power_w":0`)
	assert.Contains(t, out, `"run_id"`)
}

func TestSignOfLifeRecoversPanics(t *testing.T) {
	var logs syncBuffer
	sched := NewScheduler(&scriptedFetcher{}, nil, zerolog.New(&logs), Options{})

	assert.NotPanics(t, sched.SignOfLife)
	assert.Contains(t, logs.String(), "sign of life failed")
}

func TestEndToEndFirstPoll(t *testing.T) {
	_, settings := chargerServer(t, serveBody(http.StatusOK, sampleStatus))

	parsed, err := config.Parse([]byte(`
[DEFAULT]
Deviceinstance = 1
AccessType = OnPremise
SignOfLifeLog = 5

[ONPREMISE]
Host = 10.0.0.5
`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", parsed.Host)
	assert.Equal(t, 5*time.Minute, parsed.SignOfLifeInterval)

	// point the parsed settings at the fake charger
	parsed.Host = settings.Host

	plugin, err := NewPlugin(context.Background(), parsed, zerolog.Nop(), PluginOptions{})
	require.NoError(t, err)
	bus := plugin.Bus()
	assert.Equal(t, "com.victronenergy.evcharger.http_01", bus.Name())

	index, _ := bus.Get(PathUpdateIndex)
	assert.Equal(t, 0, index)

	result := plugin.Scheduler().RunCycle(context.Background())
	require.True(t, result.OK(), "cycle failed: %v", result.Err)

	status, _ := bus.Get(PathStatus)
	mode, _ := bus.Get(PathMode)
	index, _ = bus.Get(PathUpdateIndex)
	assert.Equal(t, 2, status)
	assert.Equal(t, 0, mode)
	assert.Equal(t, 1, index)
}

// syncBuffer is a bytes.Buffer safe for the scheduler goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	return string(b.Bytes())
}

func TestFailedCycleLogsAtErrorLevel(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []func() (RawTelemetry, error){
		errStep(&FetchError{Kind: FetchTransport, URL: "http://x/status", Err: errors.New("refused")}),
	}}
	session, _ := newTestSession(t)
	var logs syncBuffer
	sched := NewScheduler(fetcher, session, zerolog.New(&logs), Options{})

	sched.RunCycle(context.Background())
	out := logs.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"stage":"fetch"`)
	assert.Contains(t, out, `"message":"poll cycle failed"`)
}
