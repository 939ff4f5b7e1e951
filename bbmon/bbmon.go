// Package bbmon provides a status monitor for buck-boost converters. It
// polls the converter's status register, reports faults and operating mode
// changes, and optionally turns the output off when a fault is detected.
package bbmon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oxplot/go-buckboost"
)

// DefaultInterval is the polling interval used unless SetInterval is called.
const DefaultInterval = 100 * time.Millisecond

// Device is the part of buckboost.Converter the monitor needs.
type Device interface {
	Status() (buckboost.Status, error)
	Disable() error
}

// Event is a monitor event.
type Event string

const (
	// EventFault is fired once for each fault found in the status register.
	EventFault Event = "fault"

	// EventCleared is fired on the first poll without faults after a poll
	// with faults.
	EventCleared Event = "cleared"

	// EventModeChange is fired when the converter switches between boost,
	// buck and buck-boost operation.
	EventModeChange Event = "mode_change"

	// EventShutdown is fired after the monitor turned the output off in
	// response to a fault.
	EventShutdown Event = "shutdown"

	// EventError is fired when reading the status or turning the output off
	// failed.
	EventError Event = "error"
)

// Report carries an event along with the status it was derived from.
type Report struct {
	Event  Event
	Status buckboost.Status
	Fault  buckboost.Fault // single fault for EventFault
	Err    error           // set for EventError
}

// EventHandler is an interface that wraps the method HandleEvent.
type EventHandler interface {
	// HandleEvent is called from the monitor's goroutine and should return
	// quickly.
	HandleEvent(Report)
}

// EventHandlerFunc is an adapter to allow the use of ordinary functions as
// EventHandler.
type EventHandlerFunc func(Report)

// HandleEvent implements EventHandler interface.
func (f EventHandlerFunc) HandleEvent(r Report) {
	f(r)
}

// Monitor polls a converter's status.
type Monitor struct {
	dev Device
	log *slog.Logger

	mu              sync.Mutex
	interval        time.Duration
	shutdownOnFault bool
	maxErrors       int

	callbacks struct {
		mu           sync.Mutex
		eventHandler EventHandler
	}

	// Owned by the polling goroutine.
	last    buckboost.Status
	started bool
	errs    int
}

// New creates a new monitor for dev.
func New(dev Device) *Monitor {
	return &Monitor{
		dev:      dev,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: DefaultInterval,
	}
}

// SetLogger sets the logger faults and errors are written to.
func (m *Monitor) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

// SetInterval sets the polling interval. It may be called concurrently with
// Run and takes effect after the next poll.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// SetShutdownOnFault makes the monitor turn the output off whenever a fault
// is reported. The output is left off until the caller enables it again.
func (m *Monitor) SetShutdownOnFault(s bool) {
	m.mu.Lock()
	m.shutdownOnFault = s
	m.mu.Unlock()
}

// SetMaxErrors makes Run return after n consecutive failed polls. Zero, the
// default, retries forever.
func (m *Monitor) SetMaxErrors(n int) {
	m.mu.Lock()
	m.maxErrors = n
	m.mu.Unlock()
}

// SetEventHandler sets the event handler to send events to. Pass nil to
// remove the existing handler.
func (m *Monitor) SetEventHandler(h EventHandler) {
	m.callbacks.mu.Lock()
	m.callbacks.eventHandler = h
	m.callbacks.mu.Unlock()
}

func (m *Monitor) emit(r Report) {
	m.callbacks.mu.Lock()
	defer m.callbacks.mu.Unlock()
	if m.callbacks.eventHandler != nil {
		m.callbacks.eventHandler.HandleEvent(r)
	}
}

// Poll reads the status once and fires the resulting events. It returns the
// error of the status read, if any. Poll must not be called concurrently
// with Run.
func (m *Monitor) Poll() error {
	m.mu.Lock()
	shutdown := m.shutdownOnFault
	m.mu.Unlock()

	s, err := m.dev.Status()
	if err != nil {
		m.errs++
		m.log.Error("status read failed", "err", err, "consecutive", m.errs)
		m.emit(Report{Event: EventError, Err: err})
		return err
	}
	m.errs = 0

	if s.Faults != buckboost.FaultNone {

		// Report each fault separately, highest priority first

		for f := s.Faults; f != buckboost.FaultNone; {
			one := f.Pop()
			m.log.Warn("fault detected", "fault", one.String(), "mode", s.Mode.String())
			m.emit(Report{Event: EventFault, Status: s, Fault: one})
		}

		if shutdown {
			if err := m.dev.Disable(); err != nil {
				m.log.Error("shutdown failed", "err", err)
				m.emit(Report{Event: EventError, Status: s, Err: err})
			} else {
				m.log.Warn("output turned off", "faults", s.Faults.String())
				m.emit(Report{Event: EventShutdown, Status: s})
			}
		}

	} else if m.started && m.last.Faults != buckboost.FaultNone {
		m.emit(Report{Event: EventCleared, Status: s})
	}

	if m.started && s.Mode != m.last.Mode {
		m.log.Debug("mode change", "from", m.last.Mode.String(), "to", s.Mode.String())
		m.emit(Report{Event: EventModeChange, Status: s})
	}

	m.last = s
	m.started = true
	return nil
}

// Run polls the device until ctx is done, in which case it returns nil, or
// until the error limit set with SetMaxErrors is reached, in which case the
// last error is returned. Only one call to Run must be in progress at any
// given time.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		err := m.Poll()

		m.mu.Lock()
		interval, maxErrors := m.interval, m.maxErrors
		m.mu.Unlock()

		if err != nil && maxErrors > 0 && m.errs >= maxErrors {
			return err
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
