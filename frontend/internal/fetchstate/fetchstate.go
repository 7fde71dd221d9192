// Package fetchstate tracks one remote fetch through its lifecycle:
// idle -> loading -> success | error, with error -> loading on retry.
// Success is terminal; a new fetch needs a new Machine.
package fetchstate

import (
	"fmt"
	"sync"
)

type State string

const (
	Idle    State = "idle"
	Loading State = "loading"
	Success State = "success"
	Error   State = "error"
)

// IllegalTransitionError is returned when an event does not apply to the
// current state.
type IllegalTransitionError struct {
	From  State
	Event string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("fetchstate: cannot %s from %s", e.Event, e.From)
}

// Machine is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
	err   error
}

func New() *Machine {
	return &Machine{state: Idle}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err is the failure recorded by the last Fail, if the machine is in Error.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Machine) transition(event string, to State, allowed ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, from := range allowed {
		if m.state == from {
			m.state = to
			return nil
		}
	}
	return &IllegalTransitionError{From: m.state, Event: event}
}

// Start begins the first fetch.
func (m *Machine) Start() error {
	return m.transition("start", Loading, Idle)
}

// Retry re-issues a failed fetch.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Error {
		return &IllegalTransitionError{From: m.state, Event: "retry"}
	}
	m.state = Loading
	m.err = nil
	return nil
}

func (m *Machine) Succeed() error {
	return m.transition("succeed", Success, Loading)
}

func (m *Machine) Fail(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Loading {
		return &IllegalTransitionError{From: m.state, Event: "fail"}
	}
	m.state = Error
	m.err = cause
	return nil
}

// Run drives one attempt: Start (or Retry after an error), then fn, then
// Succeed or Fail with fn's error.
func (m *Machine) Run(fn func() error) error {
	var err error
	if m.State() == Error {
		err = m.Retry()
	} else {
		err = m.Start()
	}
	if err != nil {
		return err
	}
	if fnErr := fn(); fnErr != nil {
		if err := m.Fail(fnErr); err != nil {
			return err
		}
		return fnErr
	}
	return m.Succeed()
}
