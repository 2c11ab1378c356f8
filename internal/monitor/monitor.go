// Package monitor owns the event window and feeds it from GPIO edges.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/garage-door-monitor/internal/gpio"
	"github.com/sweeney/garage-door-monitor/internal/logic"
)

// DefaultSettle is the pause between an edge and sampling both lines.
// The two LEDs reach the board on separate opto-isolated lines that can
// change a few milliseconds apart for one composite color change.
const DefaultSettle = 5 * time.Millisecond

// Monitor captures LED colors into a window and classifies it on demand.
type Monitor struct {
	reader gpio.Reader
	settle time.Duration
	now    func() time.Time
	sleep  func(time.Duration)

	// mu guards the window and the in-flight marker. It is only held for
	// bookkeeping, never across the settle delay or a line read.
	mu     sync.Mutex
	window *logic.Window
	// inflight is non-nil while a capture runs and is closed when it ends.
	inflight chan struct{}

	captures atomic.Int64
	dropped  atomic.Int64
	captured chan struct{}
	ready    chan struct{}
	readyOne sync.Once
}

// New creates a Monitor sampling reader. A settle of zero disables the delay.
func New(reader gpio.Reader, settle time.Duration) *Monitor {
	return &Monitor{
		reader:   reader,
		settle:   settle,
		now:      time.Now,
		sleep:    time.Sleep,
		window:   logic.NewWindow(),
		captured: make(chan struct{}, 1),
		ready:    make(chan struct{}),
	}
}

// SetClock replaces the time source used to stamp captures.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Capture samples both lines and records the decoded color.
// If another capture is in flight this one is dropped and returns false;
// the in-flight capture will sample the settled lines anyway.
// Read errors are returned and leave the window untouched.
func (m *Monitor) Capture() (bool, error) {
	m.mu.Lock()
	if m.inflight != nil {
		m.mu.Unlock()
		m.dropped.Add(1)
		logrus.Trace("monitor: capture in flight, dropping")
		return false, nil
	}
	done := make(chan struct{})
	m.inflight = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight = nil
		m.mu.Unlock()
		close(done)
	}()

	if m.settle > 0 {
		m.sleep(m.settle)
	}

	openHigh, closeHigh, err := m.reader.Read()
	if err != nil {
		return false, errors.Wrap(err, "capture")
	}
	color := logic.DecodeColor(openHigh, closeHigh)
	now := m.now()

	m.mu.Lock()
	added := m.window.Append(color, now)
	m.window.Trim(now, true)
	size := m.window.Len()
	m.mu.Unlock()

	m.captures.Add(1)
	if added {
		logrus.WithFields(logrus.Fields{"color": color, "window": size}).Debug("monitor: color change")
	}

	select {
	case m.captured <- struct{}{}:
	default:
	}
	return true, nil
}

// DetermineState waits for the capture in flight at the time of the call,
// if any, and classifies the window at now. It never holds up a capture,
// so polling cannot cause one to be dropped.
func (m *Monitor) DetermineState(now time.Time) logic.DoorState {
	m.waitIdle()

	m.mu.Lock()
	defer m.mu.Unlock()
	return logic.Classify(m.window, now)
}

// waitIdle blocks until the capture in flight when it was called, if any,
// has finished.
func (m *Monitor) waitIdle() {
	m.mu.Lock()
	inflight := m.inflight
	m.mu.Unlock()
	if inflight != nil {
		<-inflight
	}
}

// Newest returns the most recently recorded color.
func (m *Monitor) Newest() (logic.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window.Newest()
}

// Counts returns capture statistics. Changes is left for the reporter.
func (m *Monitor) Counts() logic.Counts {
	return logic.Counts{
		Captures: m.captures.Load(),
		Dropped:  m.dropped.Load(),
	}
}

// Captured signals after each completed capture. Signals coalesce.
func (m *Monitor) Captured() <-chan struct{} {
	return m.captured
}

// Ready is closed once Run has recorded the LEDs as they were at startup,
// or straight away when the startup capture is disabled.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

func (m *Monitor) markReady() {
	m.readyOne.Do(func() { close(m.ready) })
}

// Run performs a capture for every edge delivered by the reader until ctx is
// cancelled. Once startupDelay has elapsed it captures once regardless, to
// record the LEDs as they were when the process started, and then closes
// Ready; a negative delay skips the capture. A read error ends Run.
func (m *Monitor) Run(ctx context.Context, startupDelay time.Duration) error {
	var startup <-chan time.Time
	if startupDelay >= 0 {
		timer := time.NewTimer(startupDelay)
		defer timer.Stop()
		startup = timer.C
	} else {
		m.markReady()
	}

	edges := m.reader.Edges()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-startup:
			startup = nil
			ok, err := m.Capture()
			if err != nil {
				return err
			}
			if !ok {
				// The capture in flight samples the same lines.
				m.waitIdle()
			}
			m.markReady()
		case e, ok := <-edges:
			if !ok {
				return nil
			}
			logrus.WithFields(logrus.Fields{"line": e.Line, "rising": e.Rising}).Trace("monitor: edge")
			if _, err := m.Capture(); err != nil {
				return err
			}
		}
	}
}
