package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/garage-door-monitor/internal/gpio"
	"github.com/sweeney/garage-door-monitor/internal/logic"
)

var (
	off    = gpio.Sample{OpenHigh: true, CloseHigh: true}
	red    = gpio.Sample{OpenHigh: true, CloseHigh: false}
	green  = gpio.Sample{OpenHigh: false, CloseHigh: true}
	orange = gpio.Sample{OpenHigh: false, CloseHigh: false}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func newTestMonitor(t *testing.T, initial gpio.Sample) (*Monitor, *gpio.FakeReader, *fakeClock) {
	t.Helper()
	reader := gpio.NewFakeReader([]gpio.Sample{initial})
	clock := newFakeClock()
	m := New(reader, DefaultSettle)
	m.SetClock(clock.Now)
	m.sleep = func(time.Duration) {}
	return m, reader, clock
}

func captureAt(t *testing.T, m *Monitor, reader *gpio.FakeReader, s gpio.Sample) {
	t.Helper()
	reader.Set(s)
	ok, err := m.Capture()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCaptureRecordsDecodedColor(t *testing.T) {
	m, _, clock := newTestMonitor(t, green)

	ok, err := m.Capture()
	require.NoError(t, err)
	assert.True(t, ok)

	rec, found := m.Newest()
	require.True(t, found)
	assert.Equal(t, logic.ColorGreen, rec.Color)
	assert.Equal(t, clock.Now(), rec.Time)
	assert.Equal(t, int64(1), m.Counts().Captures)
}

func TestCaptureCollapsesRepeatedColor(t *testing.T) {
	m, reader, clock := newTestMonitor(t, red)

	captureAt(t, m, reader, red)
	first, _ := m.Newest()
	clock.Advance(500 * time.Millisecond)
	captureAt(t, m, reader, red)

	rec, _ := m.Newest()
	assert.Equal(t, first.Time, rec.Time, "repeat should not be recorded")
	assert.Equal(t, int64(2), m.Counts().Captures)
}

func TestCaptureSleepsSettleDelay(t *testing.T) {
	m, _, _ := newTestMonitor(t, off)

	var slept []time.Duration
	m.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := m.Capture()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, slept)
}

func TestCaptureDroppedWhileInFlight(t *testing.T) {
	m, reader, _ := newTestMonitor(t, green)

	entered := make(chan struct{})
	release := make(chan struct{})
	m.sleep = func(time.Duration) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Capture()
		done <- err
	}()
	<-entered

	ok, err := m.Capture()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), m.Counts().Dropped)
	assert.Equal(t, 0, reader.ReadCount(), "dropped capture must not sample")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), m.Counts().Captures)
	assert.Equal(t, 1, reader.ReadCount())
}

func TestCaptureReadErrorIsReturned(t *testing.T) {
	m, reader, _ := newTestMonitor(t, green)
	reader.SetError(errors.New("line gone"))

	ok, err := m.Capture()
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line gone")

	_, found := m.Newest()
	assert.False(t, found)

	// The capture lock is released after a failure.
	reader.SetError(nil)
	ok, err = m.Capture()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCaptureSignalsCaptured(t *testing.T) {
	m, _, _ := newTestMonitor(t, green)

	_, err := m.Capture()
	require.NoError(t, err)

	select {
	case <-m.Captured():
	default:
		t.Fatal("expected a capture signal")
	}
}

func TestDetermineStateWaitsForCapture(t *testing.T) {
	m, reader, clock := newTestMonitor(t, off)
	captureAt(t, m, reader, off)
	clock.Advance(100 * time.Millisecond)
	reader.Set(green)

	entered := make(chan struct{})
	release := make(chan struct{})
	m.sleep = func(time.Duration) {
		close(entered)
		<-release
	}

	go m.Capture()
	<-entered

	result := make(chan logic.DoorState, 1)
	go func() { result <- m.DetermineState(clock.Now()) }()

	select {
	case s := <-result:
		t.Fatalf("DetermineState returned %v before the capture finished", s)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case s := <-result:
		assert.Equal(t, logic.StateOpening, s)
	case <-time.After(time.Second):
		t.Fatal("DetermineState did not return after the capture finished")
	}
}

func TestDetermineStateEmpty(t *testing.T) {
	m, _, clock := newTestMonitor(t, off)
	assert.Equal(t, logic.StateNoInput, m.DetermineState(clock.Now()))
}

func TestOpenCycle(t *testing.T) {
	m, reader, clock := newTestMonitor(t, off)

	captureAt(t, m, reader, off)
	clock.Advance(100 * time.Millisecond)
	captureAt(t, m, reader, green)

	assert.Equal(t, logic.StateOpening, m.DetermineState(clock.Now()))
	assert.Equal(t, logic.StateOpen, m.DetermineState(clock.Advance(2400*time.Millisecond)))
}

func TestCloseCycle(t *testing.T) {
	m, reader, clock := newTestMonitor(t, off)

	captureAt(t, m, reader, off)
	clock.Advance(100 * time.Millisecond)
	captureAt(t, m, reader, red)

	assert.Equal(t, logic.StateClosing, m.DetermineState(clock.Now()))
	assert.Equal(t, logic.StateClosed, m.DetermineState(clock.Advance(3*time.Second)))
}

func TestFault(t *testing.T) {
	m, reader, clock := newTestMonitor(t, green)

	captureAt(t, m, reader, green)
	clock.Advance(5 * time.Second)
	captureAt(t, m, reader, orange)
	clock.Advance(300 * time.Millisecond)
	captureAt(t, m, reader, off)

	assert.Equal(t, logic.StateError, m.DetermineState(clock.Advance(time.Second)))
}

func TestRunCapturesOnEdges(t *testing.T) {
	m, reader, _ := newTestMonitor(t, green)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, -1) }()

	require.True(t, reader.Fire(gpio.Edge{Line: gpio.LineOpen}))
	select {
	case <-m.Captured():
	case <-time.After(time.Second):
		t.Fatal("edge did not trigger a capture")
	}

	rec, found := m.Newest()
	require.True(t, found)
	assert.Equal(t, logic.ColorGreen, rec.Color)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunStartupCapture(t *testing.T) {
	m, _, _ := newTestMonitor(t, red)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, 10*time.Millisecond)

	select {
	case <-m.Captured():
	case <-time.After(time.Second):
		t.Fatal("no startup capture")
	}

	rec, _ := m.Newest()
	assert.Equal(t, logic.ColorRed, rec.Color)
}

func TestRunStopsOnReadError(t *testing.T) {
	m, reader, _ := newTestMonitor(t, green)
	reader.SetError(errors.New("chip removed"))

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), -1) }()
	reader.Fire(gpio.Edge{Line: gpio.LineClose, Rising: true})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chip removed")
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on read error")
	}
}

func TestPollingNeverDropsCaptures(t *testing.T) {
	m, reader, clock := newTestMonitor(t, green)
	m.sleep = func(time.Duration) { time.Sleep(100 * time.Microsecond) }

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
				m.DetermineState(clock.Now())
			}
		}
	}()

	colors := []gpio.Sample{green, off}
	for i := 0; i < 200; i++ {
		reader.Set(colors[i%2])
		ok, err := m.Capture()
		require.NoError(t, err)
		require.True(t, ok, "capture %d dropped", i)
	}
	close(stop)
	<-polled

	assert.Zero(t, m.Counts().Dropped)
	assert.Equal(t, int64(200), m.Counts().Captures)
}

func TestRunReadyAfterStartupCapture(t *testing.T) {
	m, _, _ := newTestMonitor(t, green)

	select {
	case <-m.Ready():
		t.Fatal("ready before Run")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, 20*time.Millisecond)

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("not ready after the startup capture")
	}

	rec, found := m.Newest()
	require.True(t, found, "startup capture must be recorded before Ready")
	assert.Equal(t, logic.ColorGreen, rec.Color)
}

func TestRunReadyWithoutStartupCapture(t *testing.T) {
	m, reader, _ := newTestMonitor(t, green)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, -1)

	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("not ready with the startup capture disabled")
	}
	assert.Zero(t, reader.ReadCount())
}

func TestRunNotReadyOnStartupReadError(t *testing.T) {
	m, reader, _ := newTestMonitor(t, green)
	reader.SetError(errors.New("line busy"))

	err := m.Run(context.Background(), 0)
	require.Error(t, err)

	select {
	case <-m.Ready():
		t.Fatal("ready after a failed startup capture")
	default:
	}
}
